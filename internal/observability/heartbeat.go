package observability

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"

	"database/sql"
)

// RuntimeMetrics captures Go process health at a point in time.
type RuntimeMetrics struct {
	GoroutinesCount int
	MemoryAllocMB   float64
	MemorySysMB     float64
	GCCount         uint32
}

// CollectRuntimeMetrics reads current Go runtime stats (~10µs overhead).
func CollectRuntimeMetrics() RuntimeMetrics {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return RuntimeMetrics{
		GoroutinesCount: runtime.NumGoroutine(),
		MemoryAllocMB:   float64(mem.Alloc) / 1024 / 1024,
		MemorySysMB:     float64(mem.Sys) / 1024 / 1024,
		GCCount:         mem.NumGC,
	}
}

// PipelineStatus is the domain-specific payload a heartbeat carries
// alongside process health: the last transaction (cmd/transact) or
// reconcile pass (cmd/gc) this component completed, so a reader of
// pipeline_heartbeats doesn't need to cross-reference the ledger to know
// whether the component is merely alive or actually making progress.
type PipelineStatus struct {
	// LastOperationID is the transaction id for cmd/transact, or empty for
	// cmd/gc (which has no per-run id of its own).
	LastOperationID string
	// LastOutcome is one of metadata.TransactionOutcome's string values for
	// cmd/transact, or "report"/"delete" for cmd/gc's reconcile mode.
	LastOutcome string
}

// HeartbeatWriter writes periodic liveness probes to the
// pipeline_heartbeats table.
type HeartbeatWriter struct {
	db            *sql.DB
	componentName string
	hostname      string
	processPID    int
	interval      time.Duration
	stop          chan struct{}
	done          chan struct{}
}

// NewHeartbeatWriter creates a writer for the given component ("transact" or
// "gc"). Recommended interval for a long-running loop: 15s; one-shot CLI
// invocations call WriteHeartbeat directly instead of Start.
func NewHeartbeatWriter(db *sql.DB, componentName string, interval time.Duration) *HeartbeatWriter {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return &HeartbeatWriter{
		db:            db,
		componentName: componentName,
		hostname:      hostname,
		processPID:    os.Getpid(),
		interval:      interval,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Start launches the heartbeat goroutine. It writes one heartbeat immediately,
// then repeats at the configured interval until Stop or context cancellation.
// status is captured once at Start time; long-running callers that need to
// refresh it between beats should use WriteHeartbeat directly instead.
func (hw *HeartbeatWriter) Start(ctx context.Context, status PipelineStatus) {
	go hw.loop(ctx, status)
}

// WriteHeartbeat writes a single heartbeat row with current runtime metrics
// and the given pipeline status.
func (hw *HeartbeatWriter) WriteHeartbeat(status PipelineStatus) error {
	m := CollectRuntimeMetrics()
	_, err := hw.db.Exec(`
		INSERT INTO pipeline_heartbeats (
			component_name, hostname, process_pid, timestamp,
			last_operation_id, last_outcome,
			goroutines_count, memory_alloc_mb, memory_sys_mb, gc_count
		) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		hw.componentName, hw.hostname, hw.processPID, time.Now().Unix(),
		nullIfEmpty(status.LastOperationID), nullIfEmpty(status.LastOutcome),
		m.GoroutinesCount, m.MemoryAllocMB, m.MemorySysMB, m.GCCount)
	if err != nil {
		return fmt.Errorf("insert heartbeat: %w", err)
	}
	return nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// Stop signals the heartbeat goroutine to exit and waits for it.
func (hw *HeartbeatWriter) Stop() {
	close(hw.stop)
	<-hw.done
}

func (hw *HeartbeatWriter) loop(ctx context.Context, status PipelineStatus) {
	defer close(hw.done)
	ticker := time.NewTicker(hw.interval)
	defer ticker.Stop()

	if err := hw.WriteHeartbeat(status); err != nil {
		slog.Error("heartbeat write failed", "error", err, "component", hw.componentName)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-hw.stop:
			return
		case <-ticker.C:
			if err := hw.WriteHeartbeat(status); err != nil {
				slog.Error("heartbeat write failed", "error", err, "component", hw.componentName)
			}
		}
	}
}

// HeartbeatStatus is the latest heartbeat for a component, enriched with a
// staleness check so callers don't have to compute it themselves.
type HeartbeatStatus struct {
	ComponentName   string         `json:"component_name"`
	Hostname        string         `json:"hostname"`
	PID             int            `json:"pid"`
	Timestamp       time.Time      `json:"timestamp"`
	LastOperationID string         `json:"last_operation_id,omitempty"`
	LastOutcome     string         `json:"last_outcome,omitempty"`
	GoroutinesCount int            `json:"goroutines_count"`
	MemoryAllocMB   float64        `json:"memory_alloc_mb"`
	MemorySysMB     float64        `json:"memory_sys_mb"`
	GCCount         int            `json:"gc_count"`
	Alive           bool           `json:"alive"` // true if last beat is within staleness threshold
	StaleSince      *time.Duration `json:"stale_since,omitempty"`
}

// LatestHeartbeat returns the most recent heartbeat for the given
// component. stalenessThreshold controls the alive/stale boundary
// (typically 3x the heartbeat interval). Returns nil, nil if no heartbeat
// has been recorded yet.
func LatestHeartbeat(ctx context.Context, db *sql.DB, componentName string, stalenessThreshold time.Duration) (*HeartbeatStatus, error) {
	row := db.QueryRowContext(ctx, `
		SELECT component_name, hostname, process_pid, timestamp,
		       last_operation_id, last_outcome,
		       goroutines_count, memory_alloc_mb, memory_sys_mb, gc_count
		FROM pipeline_heartbeats
		WHERE component_name = ?
		ORDER BY timestamp DESC LIMIT 1`, componentName)

	var hs HeartbeatStatus
	var ts int64
	var lastOperationID, lastOutcome sql.NullString
	err := row.Scan(&hs.ComponentName, &hs.Hostname, &hs.PID, &ts,
		&lastOperationID, &lastOutcome,
		&hs.GoroutinesCount, &hs.MemoryAllocMB, &hs.MemorySysMB, &hs.GCCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query latest heartbeat: %w", err)
	}
	if lastOperationID.Valid {
		hs.LastOperationID = lastOperationID.String
	}
	if lastOutcome.Valid {
		hs.LastOutcome = lastOutcome.String
	}

	hs.Timestamp = time.Unix(ts, 0)
	age := time.Since(hs.Timestamp)
	if age <= stalenessThreshold {
		hs.Alive = true
	} else {
		hs.Alive = false
		stale := age - stalenessThreshold
		hs.StaleSince = &stale
	}
	return &hs, nil
}

// CleanupHeartbeats deletes heartbeats older than retentionDays.
func CleanupHeartbeats(ctx context.Context, db *sql.DB, retentionDays int) (int64, error) {
	threshold := time.Now().AddDate(0, 0, -retentionDays).Unix()
	result, err := db.ExecContext(ctx, "DELETE FROM pipeline_heartbeats WHERE timestamp < ?", threshold)
	if err != nil {
		return 0, fmt.Errorf("cleanup heartbeats: %w", err)
	}
	return result.RowsAffected()
}
