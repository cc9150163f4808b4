package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/predexchange/internal/domain"
)

// busBuffer is the per-subscription backlog in both go-redis and the
// returned channel.
const busBuffer = 128

// SignalBus implements domain.SignalBus on Redis pub/sub. The recorder
// publishes on domain.MidChannel; API servers subscribe with "mid:*".
// Delivery is at most once and subscribers that are not connected miss
// messages.
type SignalBus struct {
	rdb *redis.Client
}

// NewSignalBus creates a SignalBus backed by the given Client.
func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{rdb: c.Underlying()}
}

// Publish sends payload on channel.
func (sb *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := sb.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe listens on channel, which may be a glob such as "mid:*". It
// returns once Redis has confirmed the subscription. The returned channel is
// closed after ctx is cancelled.
func (sb *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	subscribe := sb.rdb.Subscribe
	if hasPattern(channel) {
		subscribe = sb.rdb.PSubscribe
	}
	ps := subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	// Closing the PubSub closes msgs, which ends the forwarding loop.
	stop := context.AfterFunc(ctx, func() { _ = ps.Close() })
	msgs := ps.Channel(redis.WithChannelSize(busBuffer))

	out := make(chan []byte, busBuffer)
	go func() {
		defer close(out)
		defer stop()
		for msg := range msgs {
			select {
			case out <- []byte(msg.Payload):
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// hasPattern reports whether channel needs PSUBSCRIBE.
func hasPattern(channel string) bool {
	return strings.ContainsAny(channel, "*?[")
}

var _ domain.SignalBus = (*SignalBus)(nil)
