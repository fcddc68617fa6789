package kv

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func exerciseStore(t *testing.T, s CounterStore, advance func(time.Duration)) {
	t.Helper()
	ctx := context.Background()

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := s.Set(ctx, "session", []byte("ctx-1"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, err := s.Get(ctx, "session")
	if err != nil || string(got) != "ctx-1" {
		t.Fatalf("expected ctx-1, got %q err=%v", got, err)
	}

	if err := s.Delete(ctx, "session"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get(ctx, "session"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}

	claimed, err := s.SetNX(ctx, "claim", []byte("a"), time.Second)
	if err != nil || !claimed {
		t.Fatalf("expected first SetNX to claim, got %v err=%v", claimed, err)
	}
	claimed, err = s.SetNX(ctx, "claim", []byte("b"), time.Second)
	if err != nil || claimed {
		t.Fatalf("expected second SetNX to lose, got %v err=%v", claimed, err)
	}
	if got, _ := s.Get(ctx, "claim"); string(got) != "a" {
		t.Fatalf("expected the first value to stay, got %q", got)
	}

	for i := int64(1); i <= 3; i++ {
		n, err := s.Incr(ctx, "rl:10.0.0.1", time.Minute)
		if err != nil {
			t.Fatalf("Incr failed: %v", err)
		}
		if n != i {
			t.Fatalf("expected %d, got %d", i, n)
		}
	}

	if err := s.Set(ctx, "short", []byte("x"), time.Second); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	advance(2 * time.Minute)
	if claimed, err := s.SetNX(ctx, "claim", []byte("c"), time.Second); err != nil || !claimed {
		t.Fatalf("expected SetNX to succeed once the claim expired, got %v err=%v", claimed, err)
	}
	if _, err := s.Get(ctx, "short"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected expiry, got %v", err)
	}
	n, err := s.Incr(ctx, "rl:10.0.0.1", time.Minute)
	if err != nil || n != 1 {
		t.Fatalf("expected counter to restart after window, got %d err=%v", n, err)
	}
}

func TestMemoryStore(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 28, 9, 0, 0, 0, time.UTC)}
	m := NewMemory(clock.Now)
	exerciseStore(t, m, clock.Advance)
	if got := m.Len(); got != 2 {
		t.Fatalf("expected the restarted counter and the new claim to remain, got %d keys", got)
	}
	clock.Advance(2 * time.Minute)
	if got := m.Len(); got != 0 {
		t.Fatalf("expected expired keys to be purged, got %d", got)
	}
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	exerciseStore(t, NewRedis(rdb, "slots"), mr.FastForward)

	if err := ReadyCheck(rdb)(context.Background()); err != nil {
		t.Fatalf("ReadyCheck failed: %v", err)
	}
	if !mr.Exists("slots:rl:10.0.0.1") {
		t.Fatal("expected keys to carry the configured prefix")
	}
}
