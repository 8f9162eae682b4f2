package rediscache

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker hands out short-lived exclusive locks.
type Locker struct {
	c   *redis.Client
	ttl time.Duration
}

func NewLocker(c *redis.Client, ttl time.Duration) *Locker {
	return &Locker{c: c, ttl: ttl}
}

// Acquire takes the lock for key. It returns an empty token and false if
// somebody else holds it.
func (l *Locker) Acquire(ctx context.Context, key string) (string, bool, error) {
	token := uuid.NewString()
	ok, err := l.c.SetNX(ctx, "lock:"+key, token, l.ttl).Result()
	if err != nil {
		return "", false, errors.Wrap(err, "redis lock")
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release frees the lock if token still owns it.
func (l *Locker) Release(ctx context.Context, key, token string) error {
	if err := releaseScript.Run(ctx, l.c, []string{"lock:" + key}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return errors.Wrap(err, "redis unlock")
	}
	return nil
}
