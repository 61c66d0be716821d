package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/listsync/listsync/internal/testutil"
)

func TestLockKey(t *testing.T) {
	t.Parallel()

	if got := lockKey("resync:abc"); got != "lock:resync:abc" {
		t.Errorf("lockKey = %q", got)
	}
}

func TestTryLock_Exclusive(t *testing.T) {
	redisURL := testutil.RequireEnv(t, "REDIS_URL")
	ctx := context.Background()

	c, err := New(ctx, redisURL, Options{})
	if err != nil {
		t.Fatalf("connect redis: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	if err := testutil.FlushRedis(ctx, c.Client()); err != nil {
		t.Fatalf("flush redis: %v", err)
	}

	release, ok, err := c.TryLock(ctx, "resync:one", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first TryLock: ok=%v err=%v", ok, err)
	}

	if _, ok, err := c.TryLock(ctx, "resync:one", time.Minute); err != nil || ok {
		t.Fatalf("second TryLock should fail: ok=%v err=%v", ok, err)
	}

	if err := release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := release(ctx); !errors.Is(err, ErrLockLost) {
		t.Fatalf("second release: got %v, want ErrLockLost", err)
	}

	release2, ok, err := c.TryLock(ctx, "resync:one", time.Minute)
	if err != nil || !ok {
		t.Fatalf("TryLock after release: ok=%v err=%v", ok, err)
	}
	_ = release2(ctx)
}

func TestTryLock_Expires(t *testing.T) {
	redisURL := testutil.RequireEnv(t, "REDIS_URL")
	ctx := context.Background()

	c, err := New(ctx, redisURL, Options{})
	if err != nil {
		t.Fatalf("connect redis: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	if _, ok, err := c.TryLock(ctx, "resync:ttl", 50*time.Millisecond); err != nil || !ok {
		t.Fatalf("TryLock: ok=%v err=%v", ok, err)
	}
	time.Sleep(150 * time.Millisecond)

	release, ok, err := c.TryLock(ctx, "resync:ttl", time.Minute)
	if err != nil || !ok {
		t.Fatalf("TryLock after expiry: ok=%v err=%v", ok, err)
	}
	_ = release(ctx)
}
