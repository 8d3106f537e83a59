package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newRedisLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLocker(client, "funnel:lock:"), mr
}

func TestRedisLockerExcludesSecondHolder(t *testing.T) {
	locker, _ := newRedisLocker(t)
	ctx := context.Background()

	token, ok, err := locker.TryAcquire(ctx, "lead:seq", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expected first acquire to succeed, ok=%v err=%v", ok, err)
	}
	if _, ok, err := locker.TryAcquire(ctx, "lead:seq", time.Minute); err != nil || ok {
		t.Fatalf("expected second acquire to fail, ok=%v err=%v", ok, err)
	}
	if err := locker.Release(ctx, "lead:seq", token); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, ok, _ := locker.TryAcquire(ctx, "lead:seq", time.Minute); !ok {
		t.Fatal("expected acquire after release to succeed")
	}
}

func TestRedisLockerExpires(t *testing.T) {
	locker, mr := newRedisLocker(t)
	ctx := context.Background()

	token, ok, _ := locker.TryAcquire(ctx, "lead:seq", time.Second)
	if !ok {
		t.Fatal("expected acquire to succeed")
	}
	mr.FastForward(2 * time.Second)

	if _, ok, _ := locker.TryAcquire(ctx, "lead:seq", time.Second); !ok {
		t.Fatal("expected expired lock to be re-acquirable")
	}
	if err := locker.Release(ctx, "lead:seq", token); !errors.Is(err, ErrNotHeld) {
		t.Fatalf("expected ErrNotHeld for stale token, got %v", err)
	}
}

func TestMemoryLockerExpiry(t *testing.T) {
	locker := NewMemoryLocker()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	locker.clock = func() time.Time { return now }
	ctx := context.Background()

	if _, ok, _ := locker.TryAcquire(ctx, "k", time.Minute); !ok {
		t.Fatal("expected first acquire to succeed")
	}
	if _, ok, _ := locker.TryAcquire(ctx, "k", time.Minute); ok {
		t.Fatal("expected held lock to block")
	}
	now = now.Add(2 * time.Minute)
	if _, ok, _ := locker.TryAcquire(ctx, "k", time.Minute); !ok {
		t.Fatal("expected expired lock to be re-acquirable")
	}
}
