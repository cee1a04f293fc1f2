package postgres

import (
	"context"
	"time"

	"github.com/sapflux-io/pipeline/internal/metadata"
)

// ResolveDatalogger implements metadata.Resolver against committed state.
func (s *Store) ResolveDatalogger(ctx context.Context, rawLoggerID string, timestamp time.Time) (string, error) {
	return resolveDatalogger(ctx, s.pool, rawLoggerID, timestamp)
}

// LoadExecutionContext implements metadata.Resolver against committed state.
func (s *Store) LoadExecutionContext(ctx context.Context) (*metadata.ExecutionContext, error) {
	return loadExecutionContext(ctx, s.pool)
}
