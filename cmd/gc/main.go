// Command gc reconciles the blob store against the metadata store. Defaults to dry-run; pass -confirm to actually delete.
//
// Usage:
//
//	gc                       # report orphaned blobs
//	gc -confirm              # delete them
//	gc -confirm -min-age 24h # only delete orphans older than 24h
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sapflux-io/pipeline/internal/config"
	"github.com/sapflux-io/pipeline/internal/dbopen"
	"github.com/sapflux-io/pipeline/internal/gc"
	"github.com/sapflux-io/pipeline/internal/metadata/postgres"
	"github.com/sapflux-io/pipeline/internal/objectstore"
	"github.com/sapflux-io/pipeline/internal/observability"
)

func main() {
	confirm := flag.Bool("confirm", false, "delete orphaned blobs instead of only reporting them")
	minAge := flag.Duration("min-age", 0, "only delete orphans older than this duration")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(*logLevel)}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *confirm, *minAge); err != nil {
		logger.Error("gc: fatal", "error", err)
		os.Exit(3)
	}
}

func run(ctx context.Context, logger *slog.Logger, confirm bool, minAge time.Duration) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	pool, err := dbopen.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("open postgres pool: %w", err)
	}
	defer pool.Close()

	store, err := postgres.Open(ctx, pool)
	if err != nil {
		return fmt.Errorf("open metadata store: %w", err)
	}
	defer store.Close()

	blobs, err := openBlobStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}

	collector := gc.New(blobs, store, logger)
	collector.AgeFloor = minAge

	obsDB, err := sql.Open("sqlite", cfg.ObservabilityDBPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return fmt.Errorf("open observability db: %w", err)
	}
	defer obsDB.Close()
	if err := observability.Init(obsDB); err != nil {
		return fmt.Errorf("observability schema: %w", err)
	}
	events := observability.NewEventLogger(obsDB)

	report, err := collector.Reconcile(ctx, confirm)
	events.LogEvent(ctx, observability.PipelineEvent{
		EventType:     "gc_reconcile",
		ComponentName: "gc",
		EntityType:    "blob_store",
		Action:        reconcileAction(confirm),
		Success:       err == nil,
	})

	heartbeat := observability.NewHeartbeatWriter(obsDB, "gc", 0)
	if herr := heartbeat.WriteHeartbeat(observability.PipelineStatus{LastOutcome: reconcileAction(confirm)}); herr != nil {
		logger.WarnContext(ctx, "gc: heartbeat write failed", "error", herr)
	}
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func reconcileAction(confirm bool) string {
	if confirm {
		return "delete"
	}
	return "report"
}

func openBlobStore(ctx context.Context, cfg *config.Config) (objectstore.Store, error) {
	switch cfg.BlobStoreKind {
	case config.BlobStoreLocal:
		return objectstore.NewLocalStore(cfg.LocalBlobRoot)
	case config.BlobStoreS3:
		return objectstore.NewS3Store(ctx, objectstore.S3Config{
			Endpoint:        cfg.S3Endpoint,
			Region:          cfg.S3Region,
			Bucket:          cfg.S3Bucket,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
			ForcePathStyle:  cfg.S3ForcePathStyle,
		})
	default:
		return nil, fmt.Errorf("unsupported blob store kind %q", cfg.BlobStoreKind)
	}
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
