package bus

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisSink publishes events on a per-owner pub/sub channel
// (<prefix><owner>) so other instances can relay them.
type RedisSink struct {
	client *redis.Client
	prefix string
}

// NewRedisSink connects to addr lazily; the first Deliver dials.
func NewRedisSink(addr, prefix string) *RedisSink {
	if prefix == "" {
		prefix = "groupforge:events:"
	}
	return &RedisSink{client: redis.NewClient(&redis.Options{Addr: addr}), prefix: prefix}
}

func (r *RedisSink) Name() string { return "redis" }

// Channel returns the pub/sub channel for owner.
func (r *RedisSink) Channel(owner string) string { return r.prefix + owner }

func (r *RedisSink) Deliver(ctx context.Context, evt Event) error {
	payload, err := evt.Encode()
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.Channel(evt.Owner), payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (r *RedisSink) Close() error { return r.client.Close() }
