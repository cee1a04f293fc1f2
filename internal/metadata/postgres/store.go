// Package postgres implements metadata.Store against Postgres via pgx,
// providing the advisory locks and range-exclusion constraints the
// metadata store requires (see internal/dbopen for pool construction).
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sapflux-io/pipeline/internal/idgen"
	"github.com/sapflux-io/pipeline/internal/metadata"
)

// Store is the pgx-backed metadata.Store implementation.
type Store struct {
	pool  *pgxpool.Pool
	newID idgen.Generator
}

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator overrides the UUIDv7 generator the Store holds. No Store
// or Tx method calls it: ledger rows and entity rows arrive with IDs their
// callers assigned.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(s *Store) { s.newID = gen }
}

// Open wraps an already-open pool with migrations applied.
func Open(ctx context.Context, pool *pgxpool.Pool, opts ...Option) (*Store, error) {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return nil, fmt.Errorf("postgres: apply schema: %w", err)
	}
	s := &Store{pool: pool, newID: idgen.Default}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Close releases the pool.
func (s *Store) Close() { s.pool.Close() }

// Begin opens a new storage transaction (metadata.Tx).
func (s *Store) Begin(ctx context.Context) (metadata.Tx, error) {
	pgxTx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("postgres: begin: %w", err)
	}
	return &tx{pgx: pgxTx, store: s}, nil
}

// InsertLedgerRow inserts a PENDING row outside any explicit Tx so the ID is
// immediately durable.
func (s *Store) InsertLedgerRow(ctx context.Context, t *metadata.Transaction) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO transactions (id, message, outcome, receipt)
		VALUES ($1, $2, $3, $4)`,
		t.ID, t.Message, string(t.Outcome), t.Receipt)
	if err != nil {
		return fmt.Errorf("postgres: insert ledger row: %w", err)
	}
	return nil
}

// FinalizeLedgerRow updates an existing ledger row's outcome and receipt.
func (s *Store) FinalizeLedgerRow(ctx context.Context, id string, outcome metadata.TransactionOutcome, receipt []byte) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE transactions SET outcome = $2, receipt = $3 WHERE id = $1`,
		id, string(outcome), receipt)
	if err != nil {
		return fmt.Errorf("postgres: finalize ledger row: %w", err)
	}
	return nil
}
