// Package kv is a small key-value abstraction with per-key expiry. It backs
// state that must survive across requests and replicas (rate limit counters,
// idempotency replays) without living in a process-wide map.
package kv

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("kv: key not found")

// Store is the narrow get/set/delete surface callers depend on. A ttl of zero
// means the key does not expire.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetNX stores value only when key is absent and reports whether it did.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
}

// Counter increments key and returns the new value. The expiry is set only when
// the key is created, which gives fixed-window semantics.
type Counter interface {
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// CounterStore is implemented by both the memory and the redis backends.
type CounterStore interface {
	Store
	Counter
}
