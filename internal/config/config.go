// Package config loads the environment-driven process configuration:
// storage connection, blob store selection, the source-code revision
// embedded in runs, and pipeline tuning knobs.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// BlobStoreKind selects the object store backend.
type BlobStoreKind string

const (
	BlobStoreS3    BlobStoreKind = "s3"
	BlobStoreLocal BlobStoreKind = "local"
)

// Config is the full process configuration, assembled from environment
// variables at startup.
type Config struct {
	// Metadata store (C3).
	PostgresDSN string

	// Object store (C2).
	BlobStoreKind     BlobStoreKind
	S3Endpoint        string
	S3Region          string
	S3Bucket          string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3ForcePathStyle  bool
	LocalBlobRoot     string

	// Audit/metrics side-store (ambient observability, independent of the
	// Postgres metadata store).
	ObservabilityDBPath string

	// Embedded in every run row.
	SourceRevision string

	// Tuning.
	WorkerPoolSize    int
	UploadMaxAttempts int
	ReceiptMaxEntries int
	LogLevel          string
}

// Load reads configuration from the process environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		PostgresDSN:       env("DATABASE_URL", "postgres://localhost:5432/sapflux?sslmode=disable"),
		BlobStoreKind:     BlobStoreKind(env("BLOB_STORE_KIND", "local")),
		S3Endpoint:        env("S3_ENDPOINT", ""),
		S3Region:          env("S3_REGION", "us-east-1"),
		S3Bucket:          env("S3_BUCKET", "sapflux"),
		S3AccessKeyID:     env("S3_ACCESS_KEY_ID", ""),
		S3SecretAccessKey: env("S3_SECRET_ACCESS_KEY", ""),
		S3ForcePathStyle:  envBool("S3_FORCE_PATH_STYLE", true),
		LocalBlobRoot:     env("LOCAL_BLOB_ROOT", "data/blobs"),
		ObservabilityDBPath: env("OBSERVABILITY_DB_PATH", "data/observability.db"),
		SourceRevision:    env("SOURCE_REVISION", "unknown"),
		WorkerPoolSize:    envInt("WORKER_POOL_SIZE", 4),
		UploadMaxAttempts: envInt("UPLOAD_MAX_ATTEMPTS", 4),
		ReceiptMaxEntries: envInt("RECEIPT_MAX_ENTRIES", 200),
		LogLevel:          env("LOG_LEVEL", "info"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that required fields are present and sane.
func (c *Config) Validate() error {
	if c.PostgresDSN == "" {
		return fmt.Errorf("config: DATABASE_URL is required")
	}
	switch c.BlobStoreKind {
	case BlobStoreS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("config: S3_BUCKET is required when BLOB_STORE_KIND=s3")
		}
	case BlobStoreLocal:
		if c.LocalBlobRoot == "" {
			return fmt.Errorf("config: LOCAL_BLOB_ROOT is required when BLOB_STORE_KIND=local")
		}
	default:
		return fmt.Errorf("config: unsupported BLOB_STORE_KIND %q (use s3 or local)", c.BlobStoreKind)
	}
	if c.WorkerPoolSize <= 0 {
		return fmt.Errorf("config: WORKER_POOL_SIZE must be > 0")
	}
	if c.UploadMaxAttempts <= 0 {
		return fmt.Errorf("config: UPLOAD_MAX_ATTEMPTS must be > 0")
	}
	if c.ReceiptMaxEntries <= 0 {
		return fmt.Errorf("config: RECEIPT_MAX_ENTRIES must be > 0")
	}
	return nil
}

func env(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
