package observability

import "database/sql"

// Schema contains the complete DDL for the observability side-store: the
// sqlite database each of cmd/transact and cmd/gc opens independently of
// the Postgres metadata store.
// Call Init(db) to apply it.
const Schema = `
-- Pipeline heartbeats: one row per CLI invocation's liveness probe,
-- carrying the last transaction/reconcile outcome alongside process health.
CREATE TABLE IF NOT EXISTS pipeline_heartbeats (
    heartbeat_id TEXT PRIMARY KEY DEFAULT ('hb_' || hex(randomblob(16))),
    component_name TEXT NOT NULL,
    hostname TEXT NOT NULL,
    process_pid INTEGER NOT NULL,
    timestamp INTEGER NOT NULL,
    last_operation_id TEXT,
    last_outcome TEXT,
    goroutines_count INTEGER,
    memory_alloc_mb REAL,
    memory_sys_mb REAL,
    gc_count INTEGER,
    created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_heartbeats_component_time
    ON pipeline_heartbeats(component_name, timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_heartbeats_timestamp
    ON pipeline_heartbeats(timestamp DESC);

-- Metrics timeseries: pipeline-stage durations, row counts, upload retries
-- (internal/observability/metrics.go's Metric* constants).
CREATE TABLE IF NOT EXISTS metrics_timeseries (
    metric_id TEXT PRIMARY KEY DEFAULT ('met_' || hex(randomblob(16))),
    metric_name TEXT NOT NULL,
    timestamp INTEGER NOT NULL,
    value REAL NOT NULL,
    labels TEXT,
    unit TEXT,
    created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_metrics_name_time
    ON metrics_timeseries(metric_name, timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_metrics_timestamp
    ON metrics_timeseries(timestamp DESC);

CREATE TABLE IF NOT EXISTS metrics_metadata (
    metric_name TEXT PRIMARY KEY,
    metric_type TEXT NOT NULL,
    description TEXT,
    first_seen INTEGER NOT NULL,
    last_seen INTEGER NOT NULL
);

-- Transaction audit log: one row per internal/txn stage attempt
--, keyed by the
-- transaction id so an operator can pull the full trace of one submission.
CREATE TABLE IF NOT EXISTS transaction_audit_log (
    entry_id TEXT PRIMARY KEY,
    timestamp INTEGER NOT NULL,
    component_name TEXT NOT NULL,
    operation_type TEXT NOT NULL,
    transaction_id TEXT,
    stage TEXT,
    parameters TEXT NOT NULL DEFAULT '{}',
    result TEXT,
    error_code TEXT,
    error_message TEXT,
    duration_ms INTEGER,
    status TEXT NOT NULL,
    metadata TEXT,
    created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON transaction_audit_log(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_audit_transaction ON transaction_audit_log(transaction_id);
CREATE INDEX IF NOT EXISTS idx_audit_component ON transaction_audit_log(component_name, operation_type);
CREATE INDEX IF NOT EXISTS idx_audit_status ON transaction_audit_log(status);

-- Pipeline event logs: one row per domain-level event (a manifest apply,
-- a publish, a GC reconcile pass), distinct from the structured receipt
-- because it's a running trail across many transactions.
CREATE TABLE IF NOT EXISTS pipeline_event_logs (
    event_id TEXT PRIMARY KEY,
    event_type TEXT NOT NULL,
    component_name TEXT NOT NULL,
    transaction_id TEXT,
    entity_type TEXT,
    entity_id TEXT,
    action TEXT NOT NULL,
    details TEXT,
    success INTEGER NOT NULL DEFAULT 1,
    created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_event_logs_type ON pipeline_event_logs(event_type, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_event_logs_transaction ON pipeline_event_logs(transaction_id);

-- System alerts: automated anomaly detection, e.g. a stale heartbeat or a
-- GC pass that found an unexpectedly large orphan set.
CREATE TABLE IF NOT EXISTS system_alerts (
    alert_id TEXT PRIMARY KEY DEFAULT ('alert_' || hex(randomblob(16))),
    alert_type TEXT NOT NULL,
    severity TEXT NOT NULL,
    component_id TEXT,
    detected_at INTEGER NOT NULL,
    resolved_at INTEGER,
    title TEXT NOT NULL,
    description TEXT,
    context_data TEXT,
    created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_alerts_severity_time
    ON system_alerts(severity, detected_at DESC);
CREATE INDEX IF NOT EXISTS idx_alerts_unresolved
    ON system_alerts(resolved_at) WHERE resolved_at IS NULL;

-- Metadata registry
CREATE TABLE IF NOT EXISTS _observability_metadata (
    table_name TEXT PRIMARY KEY,
    created_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now')),
    description TEXT
);
INSERT OR IGNORE INTO _observability_metadata (table_name, description) VALUES
    ('pipeline_heartbeats', 'cmd/transact and cmd/gc liveness probes with last-operation outcome'),
    ('metrics_timeseries', 'Pipeline stage/row/retry timeseries datapoints'),
    ('metrics_metadata', 'Metric type definitions'),
    ('transaction_audit_log', 'Per-stage audit trail for each transaction'),
    ('pipeline_event_logs', 'Domain-level events: manifest apply, publish, GC reconcile'),
    ('system_alerts', 'Automated anomaly alerts');
`

// Init applies the observability schema to the given database.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
