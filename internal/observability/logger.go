package observability

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/sapflux-io/pipeline/internal/idgen"
)

// PipelineEvent represents a domain-level event to record: a manifest
// apply, an output publish, a GC reconcile pass. TransactionID is set
// whenever the event happened inside a transaction's lifecycle; it is empty for events with no owning transaction (e.g. GC).
type PipelineEvent struct {
	EventType     string
	ComponentName string
	TransactionID string
	EntityType    string
	EntityID      string
	Action        string
	Details       string // optional JSON
	Success       bool
}

// EventLogger writes pipeline events and manages retention cleanup.
type EventLogger struct {
	db    *sql.DB
	newID idgen.Generator
}

// EventLoggerOption configures an EventLogger.
type EventLoggerOption func(*EventLogger)

// WithEventIDGenerator sets a custom ID generator for event IDs.
func WithEventIDGenerator(gen idgen.Generator) EventLoggerOption {
	return func(l *EventLogger) { l.newID = gen }
}

// NewEventLogger creates a logger backed by the given observability database.
func NewEventLogger(db *sql.DB, opts ...EventLoggerOption) *EventLogger {
	l := &EventLogger{
		db:    db,
		newID: idgen.EventID(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// LogEvent records a pipeline event. Non-blocking: errors are logged via
// slog but do not propagate, so a failing observability store never blocks
// the app.
func (l *EventLogger) LogEvent(ctx context.Context, event PipelineEvent) {
	eventID := l.newID()
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO pipeline_event_logs (
			event_id, event_type, component_name, transaction_id,
			entity_type, entity_id, action, details, success, created_at
		) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		eventID, event.EventType, event.ComponentName, nullIfEmpty(event.TransactionID),
		event.EntityType, event.EntityID, event.Action, event.Details, event.Success, time.Now().Unix())
	if err != nil {
		slog.Error("observability event log failed", "error", err, "event_type", event.EventType)
	}
}

// ForTransaction returns every logged event tied to one transaction id, in
// the order they were recorded.
func (l *EventLogger) ForTransaction(ctx context.Context, transactionID string) ([]PipelineEvent, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT event_type, component_name, entity_type, entity_id, action, details, success
		FROM pipeline_event_logs
		WHERE transaction_id = ?
		ORDER BY created_at ASC`, transactionID)
	if err != nil {
		return nil, fmt.Errorf("query events for transaction: %w", err)
	}
	defer rows.Close()

	var events []PipelineEvent
	for rows.Next() {
		e := PipelineEvent{TransactionID: transactionID}
		var entityType, entityID, details sql.NullString
		if err := rows.Scan(&e.EventType, &e.ComponentName, &entityType, &entityID, &e.Action, &details, &e.Success); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.EntityType = entityType.String
		e.EntityID = entityID.String
		e.Details = details.String
		events = append(events, e)
	}
	return events, rows.Err()
}

// RetentionConfig specifies per-table retention in days. Zero means no
// cleanup for that table.
type RetentionConfig struct {
	EventLogsDays  int
	HeartbeatsDays int
	RunVacuumAfter bool
}

// Cleanup deletes records exceeding the retention thresholds.
func Cleanup(ctx context.Context, db *sql.DB, cfg RetentionConfig) error {
	now := time.Now().Unix()

	// allowedTables and allowedColumns are whitelists to prevent SQL injection
	// if this pattern is ever refactored to accept external input.
	allowedTables := map[string]bool{
		"pipeline_event_logs": true,
		"pipeline_heartbeats": true,
	}
	allowedColumns := map[string]bool{
		"created_at": true,
		"timestamp":  true,
	}

	type cleanupTarget struct {
		table  string
		column string
		days   int
	}
	targets := []cleanupTarget{
		{"pipeline_event_logs", "created_at", cfg.EventLogsDays},
		{"pipeline_heartbeats", "timestamp", cfg.HeartbeatsDays},
	}

	for _, t := range targets {
		if t.days <= 0 {
			continue
		}
		if !allowedTables[t.table] || !allowedColumns[t.column] {
			return fmt.Errorf("cleanup: invalid table/column %s/%s", t.table, t.column)
		}
		cutoff := now - int64(t.days*86400)
		q := fmt.Sprintf("DELETE FROM %s WHERE %s < ?", t.table, t.column)
		if _, err := db.ExecContext(ctx, q, cutoff); err != nil {
			return fmt.Errorf("cleanup %s: %w", t.table, err)
		}
	}

	if cfg.RunVacuumAfter {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			return fmt.Errorf("vacuum: %w", err)
		}
	}
	return nil
}
