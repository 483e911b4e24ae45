package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"checkout-flow/internal/domain"
	"checkout-flow/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func event(orderID, tenantID int64, approved bool) domain.PaymentEvent {
	status := domain.OrderPaymentFailed
	if approved {
		status = domain.OrderPaymentApproved
	}
	return domain.PaymentEvent{
		OrderID:    orderID,
		TenantID:   tenantID,
		Approved:   approved,
		Status:     status,
		Source:     domain.SourceGateway,
		OccurredAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestTopics(t *testing.T) {
	assert.Equal(t, "order:12", OrderTopic(12))
	assert.Equal(t, "tenant:3", TenantTopic(3))
}

func TestHubDeliversOnlyToTopicSubscribers(t *testing.T) {
	hub := NewHub()
	order1 := hub.Subscribe(OrderTopic(1), 4)
	order2 := hub.Subscribe(OrderTopic(2), 4)
	defer order1.Close()
	defer order2.Close()

	n := hub.Publish(OrderTopic(1), event(1, 1, true))
	assert.Equal(t, 1, n)

	select {
	case ev := <-order1.Events():
		assert.Equal(t, int64(1), ev.OrderID)
		assert.True(t, ev.Approved)
	default:
		t.Fatal("expected an event for order 1")
	}
	assert.Empty(t, order2.Events())
}

func TestHubDropsWhenSubscriberIsFull(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe(OrderTopic(1), 1)
	defer sub.Close()

	assert.Equal(t, 1, hub.Publish(OrderTopic(1), event(1, 1, true)))
	assert.Equal(t, 0, hub.Publish(OrderTopic(1), event(1, 1, true)), "publish never blocks on a slow subscriber")
	assert.Len(t, sub.Events(), 1)
}

func TestHubLeave(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe(OrderTopic(1), 4)
	hub.Join(TenantTopic(1), sub)
	assert.Equal(t, 1, hub.Subscribers(TenantTopic(1)))

	hub.Leave(OrderTopic(1), sub)
	assert.Equal(t, 0, hub.Publish(OrderTopic(1), event(1, 1, true)))
	assert.Equal(t, 1, hub.Publish(TenantTopic(1), event(1, 1, true)))

	sub.Close()
	assert.Equal(t, 0, hub.Subscribers(TenantTopic(1)))
	assert.Equal(t, 0, hub.Publish(TenantTopic(1), event(1, 1, true)))
}

func TestNoReplayForLateSubscribers(t *testing.T) {
	hub := NewHub()
	assert.Equal(t, 0, hub.Publish(OrderTopic(5), event(5, 1, true)))

	late := hub.Subscribe(OrderTopic(5), 1)
	defer late.Close()
	assert.Empty(t, late.Events())
}

func TestHubPublisherUsesOrderAndTenantTopics(t *testing.T) {
	hub := NewHub()
	orderSub := hub.Subscribe(OrderTopic(7), 1)
	tenantSub := hub.Subscribe(TenantTopic(2), 1)
	defer orderSub.Close()
	defer tenantSub.Close()

	require.NoError(t, NewHubPublisher(hub).Publish(context.Background(), event(7, 2, false)))
	assert.Len(t, orderSub.Events(), 1)
	assert.Len(t, tenantSub.Events(), 1)
}

type notifierFunc func(ctx context.Context, ev domain.PaymentEvent) error

func (f notifierFunc) Publish(ctx context.Context, ev domain.PaymentEvent) error { return f(ctx, ev) }

func TestFanoutRunsEverySink(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	var calls []string
	fanout := NewFanout(m, nil,
		Sink{Name: "broken", Notifier: notifierFunc(func(context.Context, domain.PaymentEvent) error {
			calls = append(calls, "broken")
			return errors.New("unavailable")
		})},
		Sink{Name: "ok", Notifier: notifierFunc(func(context.Context, domain.PaymentEvent) error {
			calls = append(calls, "ok")
			return nil
		})},
	)

	err := fanout.Publish(context.Background(), event(1, 1, true))
	assert.Error(t, err)
	assert.Equal(t, []string{"broken", "ok"}, calls)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotifyFailures.WithLabelValues("broken")))
}
