package jobqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Claimer marks jobs as being searched so redeliveries inside the window become no-ops.
type Claimer interface {
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// RedisClaimer implements Claimer with SET NX and a TTL.
type RedisClaimer struct {
	client redis.Cmdable
	prefix string
	window time.Duration
}

// NewRedisClaimer returns a claimer whose claims expire after window.
func NewRedisClaimer(client redis.Cmdable, prefix string, window time.Duration) *RedisClaimer {
	if prefix == "" {
		prefix = "comicsearch:dispatched:"
	}
	return &RedisClaimer{client: client, prefix: prefix, window: window}
}

func (c *RedisClaimer) Claim(ctx context.Context, key string) (bool, error) {
	ok, err := c.client.SetNX(ctx, c.prefix+key, time.Now().UTC().Format(time.RFC3339), c.window).Result()
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	return ok, nil
}

func (c *RedisClaimer) Release(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.prefix+key).Err(); err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	return nil
}

// NoopClaimer claims every key; used when the dedup window is disabled.
type NoopClaimer struct{}

func (NoopClaimer) Claim(context.Context, string) (bool, error) { return true, nil }
func (NoopClaimer) Release(context.Context, string) error      { return nil }
