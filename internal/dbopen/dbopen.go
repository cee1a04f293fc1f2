// Package dbopen opens the metadata store's Postgres connection pool with
// production-safe defaults over pgx's pool API.
//
// Usage:
//
//	pool, err := dbopen.Open(ctx, dsn, dbopen.WithMaxConns(20))
//
// In tests:
//
//	pool := dbopen.OpenTest(t, dsn)
package dbopen

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type config struct {
	maxConns          int32
	minConns          int32
	maxConnLifetime   time.Duration
	maxConnIdleTime   time.Duration
	healthCheckPeriod time.Duration
	ping              bool
}

func defaults() config {
	return config{
		maxConns:          10,
		minConns:          0,
		maxConnLifetime:   time.Hour,
		maxConnIdleTime:   30 * time.Minute,
		healthCheckPeriod: time.Minute,
		ping:              true,
	}
}

// Option customizes Open behaviour.
type Option func(*config)

// WithMaxConns sets the pool's maximum open connections. Default: 10.
func WithMaxConns(n int32) Option { return func(c *config) { c.maxConns = n } }

// WithMinConns sets the pool's minimum idle connections. Default: 0.
func WithMinConns(n int32) Option { return func(c *config) { c.minConns = n } }

// WithoutPing skips the connectivity check after the pool is constructed.
func WithoutPing() Option { return func(c *config) { c.ping = false } }

// Open opens a pgx connection pool against dsn with the pool tuning above
// applied, and verifies connectivity with a Ping unless WithoutPing is set.
func Open(ctx context.Context, dsn string, opts ...Option) (*pgxpool.Pool, error) {
	cfg := defaults()
	for _, o := range opts {
		o(&cfg)
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("dbopen: parse dsn: %w", err)
	}
	poolCfg.MaxConns = cfg.maxConns
	poolCfg.MinConns = cfg.minConns
	poolCfg.MaxConnLifetime = cfg.maxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.maxConnIdleTime
	poolCfg.HealthCheckPeriod = cfg.healthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("dbopen: new pool: %w", err)
	}

	if cfg.ping {
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("dbopen: ping: %w", err)
		}
	}

	return pool, nil
}

// OpenTest opens a pool for integration tests and registers t.Cleanup to
// close it. Tests that need Postgres-specific behaviour (advisory locks,
// exclusion constraints) are expected to run against a real test database
// reachable via dsn; there is no in-memory Postgres equivalent to sqlite's
// ":memory:", so dsn must point at a disposable test instance/schema.
func OpenTest(t testing.TB, dsn string, opts ...Option) *pgxpool.Pool {
	t.Helper()
	pool, err := Open(context.Background(), dsn, opts...)
	if err != nil {
		t.Fatalf("dbopen.OpenTest: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}
