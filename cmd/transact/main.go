// Command transact submits one manifest-plus-files transaction to the
// pipeline. It is the CLI surface an HTTP wrapper would call into; exit
// codes: 0 accepted, 1 rejected validation, 2 rejected pipeline, 3
// infrastructure failure.
//
// Usage:
//
//	transact -manifest manifest.toml -file a.dat -file b.dat
//	transact -manifest manifest.toml -dry-run
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
	"path/filepath"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sapflux-io/pipeline/internal/config"
	"github.com/sapflux-io/pipeline/internal/dbopen"
	"github.com/sapflux-io/pipeline/internal/idgen"
	"github.com/sapflux-io/pipeline/internal/metadata/postgres"
	"github.com/sapflux-io/pipeline/internal/objectstore"
	"github.com/sapflux-io/pipeline/internal/observability"
	"github.com/sapflux-io/pipeline/internal/parser"
	"github.com/sapflux-io/pipeline/internal/publisher"
	"github.com/sapflux-io/pipeline/internal/txn"
)

type fileFlags []string

func (f *fileFlags) String() string { return fmt.Sprint([]string(*f)) }
func (f *fileFlags) Set(v string) error {
	*f = append(*f, v)
	return nil
}

func main() {
	manifestPath := flag.String("manifest", "", "path to the manifest TOML file")
	dryRun := flag.Bool("dry-run", false, "preflight only, never mutate state")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	var files fileFlags
	flag.Var(&files, "file", "path to a raw data file; may be repeated")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(*logLevel)}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	code, err := run(ctx, logger, *manifestPath, files, *dryRun)
	if err != nil {
		logger.Error("transact: fatal", "error", err)
		os.Exit(3)
	}
	os.Exit(code)
}

func run(ctx context.Context, logger *slog.Logger, manifestPath string, filePaths []string, dryRun bool) (int, error) {
	if manifestPath == "" {
		return 0, fmt.Errorf("transact: -manifest is required")
	}

	cfg, err := config.Load()
	if err != nil {
		return 0, fmt.Errorf("load config: %w", err)
	}

	manifestText, err := os.ReadFile(manifestPath)
	if err != nil {
		return 0, fmt.Errorf("read manifest: %w", err)
	}

	var submitted []txn.SubmittedFile
	for _, p := range filePaths {
		content, err := os.ReadFile(p)
		if err != nil {
			return 0, fmt.Errorf("read file %s: %w", p, err)
		}
		submitted = append(submitted, txn.SubmittedFile{Filename: filepath.Base(p), Content: content})
	}

	pool, err := dbopen.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		return 0, fmt.Errorf("open postgres pool: %w", err)
	}
	defer pool.Close()

	store, err := postgres.Open(ctx, pool)
	if err != nil {
		return 0, fmt.Errorf("open metadata store: %w", err)
	}
	defer store.Close()

	blobs, err := openBlobStore(ctx, cfg)
	if err != nil {
		return 0, fmt.Errorf("open blob store: %w", err)
	}

	registry := parser.NewRegistry()
	registry.Register(parser.NewTOA5Parser())

	pub := publisher.New(blobs, idgen.OutputID(), cfg.SourceRevision)
	orch := txn.New(store, blobs, registry, pub, idgen.TransactionID(), logger, cfg)

	obsDB, err := sql.Open("sqlite", cfg.ObservabilityDBPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return 0, fmt.Errorf("open observability db: %w", err)
	}
	defer obsDB.Close()
	if err := observability.Init(obsDB); err != nil {
		return 0, fmt.Errorf("observability schema: %w", err)
	}
	audit := observability.NewAuditLogger(obsDB, 100)
	defer audit.Close()
	metrics := observability.NewMetricsManager(obsDB, 10, 5*time.Second)
	defer metrics.Close()
	heartbeat := observability.NewHeartbeatWriter(obsDB, "transact", 0)

	submitStarted := time.Now()
	rec, err := orch.Submit(ctx, txn.Request{ManifestText: manifestText, Files: submitted, DryRun: dryRun})
	transactionID := ""
	outcome := ""
	if rec != nil {
		transactionID = rec.TransactionID
		outcome = string(rec.Outcome)
	}
	audit.LogAsync(audit.NewAuditEntry("transact", "submit", transactionID, "submit", map[string]any{
		"dry_run":    dryRun,
		"file_count": len(submitted),
	}, rec, err, time.Since(submitStarted)))
	if herr := heartbeat.WriteHeartbeat(observability.PipelineStatus{LastOperationID: transactionID, LastOutcome: outcome}); herr != nil {
		logger.WarnContext(ctx, "transact: heartbeat write failed", "error", herr)
	}
	if err != nil {
		return 0, fmt.Errorf("submit: %w", err)
	}
	if rec.Summary.PipelineRowCount > 0 {
		metrics.RecordSimple(observability.MetricRowsPublished, float64(rec.Summary.PipelineRowCount), "rows")
	}
	metrics.RecordSimple(observability.MetricTransactionDuration, float64(time.Since(submitStarted).Milliseconds()), "milliseconds")

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rec); err != nil {
		return 0, fmt.Errorf("encode receipt: %w", err)
	}

	return txn.ExitCode(rec), nil
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
