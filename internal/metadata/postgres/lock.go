package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sapflux-io/pipeline/internal/metadata"
)

// lockGuard holds the single pooled connection that took the session-level
// advisory lock. The lock must be tied to this connection's
// lifetime: it is acquired and released on the SAME *pgx.Conn, and that
// connection is never returned to the pool while the lock is held. Release
// always runs via defer at the call site, including on panic, so a pooled
// connection is never recycled with the lock still outstanding.
type lockGuard struct {
	conn *pgxpool.Conn
}

// AcquireQueueLock blocks (pg_advisory_lock, not the _try_ variant) until the
// process-wide advisory lock is held, serializing transaction execution
// across the whole pipeline.
func (s *Store) AcquireQueueLock(ctx context.Context) (metadata.LockGuard, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: acquire connection for advisory lock: %w", err)
	}
	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, QueueLockKey); err != nil {
		conn.Release()
		return nil, fmt.Errorf("postgres: pg_advisory_lock: %w", err)
	}
	return &lockGuard{conn: conn}, nil
}

// Release unlocks and returns the connection to the pool. Safe to call more
// than once; subsequent calls are no-ops.
func (g *lockGuard) Release(ctx context.Context) error {
	if g.conn == nil {
		return nil
	}
	conn := g.conn
	g.conn = nil
	_, err := conn.Exec(ctx, `SELECT pg_advisory_unlock($1)`, QueueLockKey)
	conn.Release()
	if err != nil {
		return fmt.Errorf("postgres: pg_advisory_unlock: %w", err)
	}
	return nil
}
