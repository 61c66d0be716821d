package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const lockKeyPrefix = "lock:"

// ErrLockLost means the lock expired or was taken over before release.
var ErrLockLost = errors.New("lock no longer held")

// releaseScript deletes the lock only while it still holds our token.
var releaseScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// TryLock takes the named lock for ttl without waiting. When ok is false
// another holder has it. release gives the lock up early; the lock expires
// after ttl either way.
func (c *Cache) TryLock(ctx context.Context, name string, ttl time.Duration) (release func(context.Context) error, ok bool, err error) {
	key := lockKey(name)
	token := uuid.NewString()

	ok, err = c.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to take lock %s: %w", name, err)
	}
	if !ok {
		return nil, false, nil
	}

	release = func(ctx context.Context) error {
		n, err := releaseScript.Run(ctx, c.client, []string{key}, token).Int64()
		if err != nil {
			return fmt.Errorf("failed to release lock %s: %w", name, err)
		}
		if n == 0 {
			return ErrLockLost
		}
		return nil
	}
	return release, true, nil
}

func lockKey(name string) string {
	return lockKeyPrefix + name
}
