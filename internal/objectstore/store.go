// Package objectstore implements the content-addressed blob interface the
// pipeline stores raw files and published artifacts behind, with
// S3-compatible (aws-sdk-go-v2) and local-directory backends.
package objectstore

import (
	"context"
	"io"
	"time"
)

// Store is the minimal content-addressed blob interface the pipeline needs.
// Implementations must be safe for concurrent use.
type Store interface {
	// Put uploads content at key. Idempotent: succeeds without error when
	// an object already exists at key.
	Put(ctx context.Context, key string, content []byte) error

	// Get fetches the full content at key.
	Get(ctx context.Context, key string) ([]byte, error)

	// PresignGet returns a time-limited download URL for key.
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)

	// List returns every key under prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// LastModified returns when key was written, so the garbage collector
	// can apply an age floor before deleting.
	LastModified(ctx context.Context, key string) (time.Time, error)

	// Delete removes the object at key. Not an error if key is already
	// absent (garbage collection retries safely).
	Delete(ctx context.Context, key string) error
}

// Fixed key-layout helpers.
func RawFileKey(hash string) string       { return "raw-files/" + hash }
func OutputParquetKey(outputID string) string { return "outputs/" + outputID + ".parquet" }
func CartridgeKey(outputID string) string     { return "repro-cartridges/" + outputID + ".zip" }

// readAll is a small helper shared by backends that accept an io.Reader
// from the underlying SDK but expose []byte at the Store boundary.
func readAll(r io.Reader) ([]byte, error) {
	return io.ReadAll(r)
}
