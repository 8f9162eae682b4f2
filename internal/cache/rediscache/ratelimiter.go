package rediscache

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// RateLimiter is a fixed-window counter per key.
type RateLimiter struct {
	c      *redis.Client
	limit  int64
	window time.Duration
}

func NewRateLimiter(c *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{c: c, limit: limit, window: window}
}

// Allow increments the counter for key and reports whether it is still
// within the limit. The window starts with the first hit.
func (rl *RateLimiter) Allow(ctx context.Context, key string) (bool, int64, error) {
	key = "rl:" + key
	pipe := rl.c.TxPipeline()
	incr := pipe.Incr(ctx, key)
	ttl := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, errors.Wrap(err, "redis ratelimit")
	}
	// -1 means the key has no expiry yet
	if ttl.Val() < 0 {
		if err := rl.c.PExpire(ctx, key, rl.window).Err(); err != nil {
			return false, 0, errors.Wrap(err, "redis ratelimit expire")
		}
	}
	n := incr.Val()
	return n <= rl.limit, n, nil
}
