package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"checkout-flow/internal/domain"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const channelPrefix = "payments:"

// RedisBroadcaster spreads payment events to every API instance. Each
// instance runs Relay to feed what arrives into its own hub.
type RedisBroadcaster struct {
	client *redis.Client
	logger *zap.Logger
}

func NewRedisBroadcaster(client *redis.Client, logger *zap.Logger) *RedisBroadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBroadcaster{client: client, logger: logger}
}

func (b *RedisBroadcaster) Publish(ctx context.Context, ev domain.PaymentEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	for _, topic := range []string{OrderTopic(ev.OrderID), TenantTopic(ev.TenantID)} {
		if err := b.client.Publish(ctx, channelPrefix+topic, data).Err(); err != nil {
			return fmt.Errorf("redis publish %s: %w", topic, err)
		}
	}
	return nil
}

// Relay blocks until ctx is done, republishing every event seen on Redis
// into hub under its original topic.
func (b *RedisBroadcaster) Relay(ctx context.Context, hub *Hub) error {
	ps := b.client.PSubscribe(ctx, channelPrefix+"*")
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev domain.PaymentEvent
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.logger.Warn("redis_relay_bad_payload", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			hub.Publish(strings.TrimPrefix(msg.Channel, channelPrefix), ev)
		}
	}
}
