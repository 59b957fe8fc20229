package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/polyexec/internal/domain"
)

// ProgressBus implements domain.ProgressBus using Redis Pub/Sub. Channels are
// namespaced with the client prefix; patterns are supported on subscribe.
type ProgressBus struct {
	c *Client
}

// NewProgressBus creates a ProgressBus backed by the given Client.
func NewProgressBus(c *Client) *ProgressBus {
	return &ProgressBus{c: c}
}

// Publish sends a raw byte payload to a Pub/Sub channel.
func (pb *ProgressBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := pb.c.rdb.Publish(ctx, pb.c.key(channel), payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe creates a Pub/Sub subscription and returns a read-only channel of
// payloads. The subscription and the returned channel are closed when ctx is
// cancelled.
func (pb *ProgressBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	var pubsub *redis.PubSub
	if hasPattern(channel) {
		pubsub = pb.c.rdb.PSubscribe(ctx, pb.c.key(channel))
	} else {
		pubsub = pb.c.rdb.Subscribe(ctx, pb.c.key(channel))
	}

	// Wait for the subscription confirmation.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, 128)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case out <- []byte(msg.Payload):
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// hasPattern returns true when the channel includes glob-style wildcards, in
// which case PSubscribe must be used instead of Subscribe.
func hasPattern(channel string) bool {
	return strings.ContainsAny(channel, "*?[")
}

// Compile-time interface check.
var _ domain.ProgressBus = (*ProgressBus)(nil)
