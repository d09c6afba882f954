package store

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// AdvisoryLock is a session-level pg_try_advisory_lock held on a dedicated
// pool connection. The server drops it when the session ends.
type AdvisoryLock struct {
	key  int64
	pool func(ctx context.Context) (*pgxpool.Pool, error)

	mu   sync.Mutex
	conn *pgxpool.Conn
}

// TryAcquire takes the advisory lock without waiting
func (l *AdvisoryLock) TryAcquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn != nil {
		return false, fmt.Errorf("advisory lock %d already held by this process", l.key)
	}

	pool, err := l.pool(ctx)
	if err != nil {
		return false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to acquire connection for run lock: %w", err)
	}

	var ok bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, l.key).Scan(&ok); err != nil {
		conn.Release()
		return false, fmt.Errorf("pg_try_advisory_lock failed: %w", err)
	}
	if !ok {
		conn.Release()
		return false, nil
	}

	l.conn = conn
	return true, nil
}

// Release unlocks and returns the connection to the pool
func (l *AdvisoryLock) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil {
		return nil
	}

	conn := l.conn
	l.conn = nil

	var ok bool
	if err := conn.QueryRow(ctx, `SELECT pg_advisory_unlock($1)`, l.key).Scan(&ok); err != nil {
		// Closing the session drops the lock on the server side
		_ = conn.Conn().Close(ctx)
		conn.Release()
		return fmt.Errorf("pg_advisory_unlock failed: %w", err)
	}
	conn.Release()

	if !ok {
		log.Warn().Int64("lock_key", l.key).Msg("Advisory lock was not held at release")
	}
	return nil
}

// advisoryKey maps a parser namespace to a stable 64-bit lock key
func advisoryKey(parser string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte("editlog:" + parser))
	return int64(h.Sum64())
}
