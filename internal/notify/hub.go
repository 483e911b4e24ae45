package notify

import (
	"context"
	"fmt"
	"sync"

	"checkout-flow/internal/domain"
)

func OrderTopic(orderID int64) string { return fmt.Sprintf("order:%d", orderID) }

func TenantTopic(tenantID int64) string { return fmt.Sprintf("tenant:%d", tenantID) }

// Subscriber receives events for the topics it joined, tagged with the topic
// that matched. Deliver must not block; it reports false when the event was
// dropped.
type Subscriber interface {
	Deliver(topic string, ev domain.PaymentEvent) bool
}

// Hub is a topic-keyed registry of subscribers. Delivery is at most once:
// there is no buffering beyond each subscriber and no replay for late joiners.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[Subscriber]struct{}
}

func NewHub() *Hub {
	return &Hub{topics: make(map[string]map[Subscriber]struct{})}
}

func (h *Hub) Join(topic string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[Subscriber]struct{})
		h.topics[topic] = subs
	}
	subs[sub] = struct{}{}
}

func (h *Hub) Leave(topic string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(topic, sub)
}

func (h *Hub) LeaveAll(sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for topic := range h.topics {
		h.leaveLocked(topic, sub)
	}
}

func (h *Hub) leaveLocked(topic string, sub Subscriber) {
	subs, ok := h.topics[topic]
	if !ok {
		return
	}
	delete(subs, sub)
	if len(subs) == 0 {
		delete(h.topics, topic)
	}
}

// Publish delivers ev to every current subscriber of topic and returns how
// many accepted it.
func (h *Hub) Publish(topic string, ev domain.PaymentEvent) int {
	h.mu.RLock()
	subs := make([]Subscriber, 0, len(h.topics[topic]))
	for sub := range h.topics[topic] {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, sub := range subs {
		if sub.Deliver(topic, ev) {
			delivered++
		}
	}
	return delivered
}

func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Subscription is a channel-backed subscriber.
type Subscription struct {
	hub   *Hub
	topic string
	ch    chan domain.PaymentEvent
	once  sync.Once
}

func (h *Hub) Subscribe(topic string, buf int) *Subscription {
	if buf < 1 {
		buf = 1
	}
	s := &Subscription{hub: h, topic: topic, ch: make(chan domain.PaymentEvent, buf)}
	h.Join(topic, s)
	return s
}

func (s *Subscription) Deliver(topic string, ev domain.PaymentEvent) bool {
	select {
	case s.ch <- ev:
		return true
	default:
		return false
	}
}

func (s *Subscription) Events() <-chan domain.PaymentEvent { return s.ch }

// Close unsubscribes. The channel is left open so a concurrent Deliver can
// never panic; it simply stops receiving.
func (s *Subscription) Close() {
	s.once.Do(func() { s.hub.LeaveAll(s) })
}

// HubPublisher publishes payment decisions into a local hub, on the order
// topic and on the tenant topic.
type HubPublisher struct {
	hub *Hub
}

func NewHubPublisher(hub *Hub) *HubPublisher {
	return &HubPublisher{hub: hub}
}

func (p *HubPublisher) Publish(ctx context.Context, ev domain.PaymentEvent) error {
	p.hub.Publish(OrderTopic(ev.OrderID), ev)
	p.hub.Publish(TenantTopic(ev.TenantID), ev)
	return nil
}
