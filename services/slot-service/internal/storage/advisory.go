package storage

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/md-rashed-zaman/slotkeeper/libs/db"
	"github.com/md-rashed-zaman/slotkeeper/services/slot-service/internal/lock"
)

const (
	advisoryWait  = 5 * time.Second
	advisoryRetry = 25 * time.Millisecond
	sessionQuery  = 2 * time.Second
)

// AdvisoryLocker serializes unit writers across replicas with Postgres
// session advisory locks. Every lock of the process lives on one session
// connection taken from pool, so holders and waiters never draw on the
// connections the stores use. Local contenders queue on an in-process lock
// and only the head of each queue polls Postgres with pg_try_advisory_lock.
//
// Losing the session drops every lock it held. Stores still reject
// overlapping writes on their own, so a dropped lock degrades to a conflict
// rather than a double booking.
type AdvisoryLocker struct {
	pool   *db.Pool
	local  *lock.Keyed
	logger *slog.Logger

	mu   sync.Mutex
	conn *pgxpool.Conn
	gen  uint64
}

// NewAdvisoryLocker takes a pool reserved for locking; a single connection
// is enough.
func NewAdvisoryLocker(pool *db.Pool, logger *slog.Logger) *AdvisoryLocker {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdvisoryLocker{pool: pool, local: lock.NewKeyed(), logger: logger}
}

func (l *AdvisoryLocker) Lock(ctx context.Context, key string) (func(), error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, advisoryWait)
		defer cancel()
	}
	release, err := l.local.Lock(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", lock.ErrNotAcquired, key, err)
	}

	id := advisoryKey(key)
	for {
		gen, ok, err := l.try(ctx, id)
		if err != nil {
			release()
			return nil, err
		}
		if ok {
			return l.unlockFunc(key, id, gen, release), nil
		}
		select {
		case <-ctx.Done():
			release()
			return nil, fmt.Errorf("%w: %s: %v", lock.ErrNotAcquired, key, ctx.Err())
		case <-time.After(advisoryRetry):
		}
	}
}

// try makes one non-blocking attempt on the shared session. Session queries
// run on their own deadline: a cancelled caller must not tear down a
// connection that holds other callers' locks.
func (l *AdvisoryLocker) try(ctx context.Context, id int64) (uint64, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil {
		conn, err := l.pool.Acquire(ctx)
		if err != nil {
			return 0, false, fmt.Errorf("acquire lock session: %w", err)
		}
		l.conn = conn
		l.gen++
	}

	qctx, cancel := context.WithTimeout(context.Background(), sessionQuery)
	defer cancel()
	var ok bool
	if err := l.conn.QueryRow(qctx, `SELECT pg_try_advisory_lock($1)`, id).Scan(&ok); err != nil {
		l.dropLocked(err)
		return 0, false, fmt.Errorf("advisory lock: %w", err)
	}
	return l.gen, ok, nil
}

func (l *AdvisoryLocker) unlockFunc(key string, id int64, gen uint64, release func()) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			defer release()
			l.mu.Lock()
			defer l.mu.Unlock()
			if l.conn == nil || l.gen != gen {
				// The session that held the lock is gone, and the lock with it.
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), sessionQuery)
			defer cancel()
			if _, err := l.conn.Exec(ctx, `SELECT pg_advisory_unlock($1)`, id); err != nil {
				l.logger.Warn("advisory unlock failed, resetting lock session", "key", key, "err", err)
				l.dropLocked(err)
			}
		})
	}
}

// dropLocked closes the session so that Postgres releases whatever it held.
func (l *AdvisoryLocker) dropLocked(cause error) {
	if l.conn == nil {
		return
	}
	l.logger.Warn("advisory lock session dropped", "err", cause)
	ctx, cancel := context.WithTimeout(context.Background(), sessionQuery)
	defer cancel()
	_ = l.conn.Conn().Close(ctx)
	l.conn.Release()
	l.conn = nil
}

// Close ends the lock session. Locks still held are released by Postgres.
func (l *AdvisoryLocker) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		ctx, cancel := context.WithTimeout(context.Background(), sessionQuery)
		defer cancel()
		_ = l.conn.Conn().Close(ctx)
		l.conn.Release()
		l.conn = nil
	}
}

func advisoryKey(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte("slots:" + key))
	return int64(h.Sum64())
}
