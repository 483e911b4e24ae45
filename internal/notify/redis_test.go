package notify

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisRelayFeedsLocalHub(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	// Two instances share one Redis: one publishes, the other relays.
	publisher := NewRedisBroadcaster(client, nil)
	relay := NewRedisBroadcaster(client, nil)
	hub := NewHub()
	orderSub := hub.Subscribe(OrderTopic(11), 8)
	tenantSub := hub.Subscribe(TenantTopic(4), 8)
	defer orderSub.Close()
	defer tenantSub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	relayDone := make(chan error, 1)
	go func() { relayDone <- relay.Relay(ctx, hub) }()

	// The relay subscribes asynchronously; keep publishing until it is live.
	require.Eventually(t, func() bool {
		_ = publisher.Publish(context.Background(), event(11, 4, true))
		return len(orderSub.Events()) > 0
	}, 2*time.Second, 20*time.Millisecond)

	ev := <-orderSub.Events()
	assert.Equal(t, int64(11), ev.OrderID)
	assert.True(t, ev.Approved)
	assert.Eventually(t, func() bool { return len(tenantSub.Events()) > 0 }, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-relayDone:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop")
	}
}
