package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// SweeperLockKey is the advisory lock key held by the active sweeper.
const SweeperLockKey int64 = 42

// AdvisoryLock is a session-level pg_try_advisory_lock held on one dedicated
// pooled connection. The lock lives as long as that connection does.
type AdvisoryLock struct {
	pool *pgxpool.Pool
	key  int64

	mu   sync.Mutex
	conn *pgxpool.Conn
}

func NewAdvisoryLock(pool *pgxpool.Pool, key int64) *AdvisoryLock {
	return &AdvisoryLock{pool: pool, key: key}
}

// TryLock reports whether this process holds the lock, acquiring it if free.
func (l *AdvisoryLock) TryLock(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn != nil {
		if err := l.conn.Ping(ctx); err == nil {
			return true, nil
		}
		// session gone, and the lock with it
		l.conn.Release()
		l.conn = nil
	}

	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("storage: acquire lock conn: %w", err)
	}
	var ok bool
	if err := conn.QueryRow(ctx, `select pg_try_advisory_lock($1)`, l.key).Scan(&ok); err != nil {
		conn.Release()
		return false, fmt.Errorf("storage: try advisory lock: %w", err)
	}
	if !ok {
		conn.Release()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

func (l *AdvisoryLock) Unlock(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.conn == nil {
		return nil
	}
	defer func() {
		l.conn.Release()
		l.conn = nil
	}()
	if _, err := l.conn.Exec(ctx, `select pg_advisory_unlock($1)`, l.key); err != nil {
		return fmt.Errorf("storage: advisory unlock: %w", err)
	}
	return nil
}
