package observability

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func setupObsDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA foreign_keys=ON")
	if err := Init(db); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestInit_CreatesAllTables(t *testing.T) {
	db := setupObsDB(t)
	tables := []string{
		"pipeline_heartbeats", "metrics_timeseries", "metrics_metadata",
		"transaction_audit_log", "pipeline_event_logs", "system_alerts",
		"_observability_metadata",
	}
	for _, table := range tables {
		var count int
		db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		if count != 1 {
			t.Fatalf("table %s not found", table)
		}
	}
}

// --- MetricsManager ---

func TestMetricsManager_RecordAndQuery(t *testing.T) {
	db := setupObsDB(t)
	mm := NewMetricsManager(db, 100, time.Hour)

	mm.Record(&Metric{
		Name:      MetricStageDuration,
		Timestamp: time.Now(),
		Value:     42.5,
		Unit:      "milliseconds",
		Labels:    map[string]string{"stage": "calculate"},
	})
	mm.RecordSimple(MetricGoroutinesCount, 10, "count")

	// Close flushes the buffer (single call, no defer to avoid double-close).
	mm.Close()

	// Re-create for query (Close stops the flush loop).
	mm2 := NewMetricsManager(db, 100, time.Hour)
	defer mm2.Close()

	metrics, err := mm2.Query(MetricStageDuration, nil, nil, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(metrics) != 1 {
		t.Fatalf("%s count: got %d", MetricStageDuration, len(metrics))
	}
	if metrics[0].Value != 42.5 {
		t.Fatalf("value: got %f", metrics[0].Value)
	}
	if metrics[0].Labels["stage"] != "calculate" {
		t.Fatalf("labels: got %v", metrics[0].Labels)
	}

	all, err := mm2.Query("", nil, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("all metrics count: got %d", len(all))
	}
}

func TestMetricsManager_QueryWithTimeRange(t *testing.T) {
	db := setupObsDB(t)
	mm := NewMetricsManager(db, 100, time.Hour)

	now := time.Now()
	mm.Record(&Metric{Name: MetricRowsPublished, Timestamp: now.Add(-2 * time.Hour), Value: 1, Unit: "rows"})
	mm.Record(&Metric{Name: MetricRowsPublished, Timestamp: now, Value: 2, Unit: "rows"})
	mm.Close() // flushes

	mm2 := NewMetricsManager(db, 100, time.Hour)
	defer mm2.Close()

	start := now.Add(-time.Hour)
	metrics, err := mm2.Query(MetricRowsPublished, &start, nil, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(metrics) != 1 {
		t.Fatalf("time-filtered count: got %d", len(metrics))
	}
}

func TestMetricsManager_Cleanup(t *testing.T) {
	db := setupObsDB(t)
	mm := NewMetricsManager(db, 100, time.Hour)

	old := time.Now().Add(-40 * 24 * time.Hour)
	mm.Record(&Metric{Name: MetricUploadRetries, Timestamp: old, Value: 1, Unit: "count"})
	mm.Record(&Metric{Name: MetricUploadRetries, Timestamp: time.Now(), Value: 2, Unit: "count"})
	mm.Close() // flushes

	mm2 := NewMetricsManager(db, 100, time.Hour)
	defer mm2.Close()

	deleted, err := mm2.Cleanup(context.Background(), 30)
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 1 {
		t.Fatalf("deleted: got %d", deleted)
	}
}

// --- HeartbeatWriter ---

func TestCollectRuntimeMetrics(t *testing.T) {
	m := CollectRuntimeMetrics()
	if m.GoroutinesCount <= 0 {
		t.Fatal("goroutines should be > 0")
	}
	if m.MemoryAllocMB <= 0 {
		t.Fatal("memory alloc should be > 0")
	}
}

func TestHeartbeatWriter_WriteHeartbeat(t *testing.T) {
	db := setupObsDB(t)
	hw := NewHeartbeatWriter(db, "transact", time.Minute)

	if err := hw.WriteHeartbeat(PipelineStatus{LastOperationID: "txn_abc123", LastOutcome: "ACCEPTED"}); err != nil {
		t.Fatal(err)
	}

	var componentName, lastOperationID, lastOutcome string
	var goroutines int
	db.QueryRow("SELECT component_name, last_operation_id, last_outcome, goroutines_count FROM pipeline_heartbeats LIMIT 1").
		Scan(&componentName, &lastOperationID, &lastOutcome, &goroutines)
	if componentName != "transact" {
		t.Fatalf("component_name: got %q", componentName)
	}
	if lastOperationID != "txn_abc123" {
		t.Fatalf("last_operation_id: got %q", lastOperationID)
	}
	if lastOutcome != "ACCEPTED" {
		t.Fatalf("last_outcome: got %q", lastOutcome)
	}
	if goroutines <= 0 {
		t.Fatal("goroutines should be > 0")
	}
}

func TestHeartbeatWriter_WriteHeartbeat_NoOperation(t *testing.T) {
	db := setupObsDB(t)
	hw := NewHeartbeatWriter(db, "gc", time.Minute)

	if err := hw.WriteHeartbeat(PipelineStatus{LastOutcome: "report"}); err != nil {
		t.Fatal(err)
	}

	var lastOperationID sql.NullString
	db.QueryRow("SELECT last_operation_id FROM pipeline_heartbeats LIMIT 1").Scan(&lastOperationID)
	if lastOperationID.Valid {
		t.Fatalf("last_operation_id: expected NULL for gc, got %q", lastOperationID.String)
	}
}

func TestHeartbeatWriter_StartStop(t *testing.T) {
	db := setupObsDB(t)
	hw := NewHeartbeatWriter(db, "loop_component", 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	hw.Start(ctx, PipelineStatus{LastOutcome: "ACCEPTED"})

	// Let a few heartbeats fire.
	time.Sleep(200 * time.Millisecond)
	cancel()
	hw.Stop()

	var count int
	db.QueryRow("SELECT COUNT(*) FROM pipeline_heartbeats WHERE component_name='loop_component'").Scan(&count)
	if count < 2 {
		t.Fatalf("heartbeat count: got %d, want >= 2", count)
	}
}

func TestLatestHeartbeat(t *testing.T) {
	db := setupObsDB(t)
	hw := NewHeartbeatWriter(db, "transact", time.Minute)
	if err := hw.WriteHeartbeat(PipelineStatus{LastOperationID: "txn_1", LastOutcome: "ACCEPTED"}); err != nil {
		t.Fatal(err)
	}

	status, err := LatestHeartbeat(context.Background(), db, "transact", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if status == nil {
		t.Fatal("expected a heartbeat status, got nil")
	}
	if !status.Alive {
		t.Fatal("expected Alive=true within staleness threshold")
	}
	if status.LastOperationID != "txn_1" {
		t.Fatalf("last_operation_id: got %q", status.LastOperationID)
	}
}

func TestLatestHeartbeat_NoneRecorded(t *testing.T) {
	db := setupObsDB(t)
	status, err := LatestHeartbeat(context.Background(), db, "nobody", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if status != nil {
		t.Fatalf("expected nil status, got %+v", status)
	}
}

func TestCleanupHeartbeats(t *testing.T) {
	db := setupObsDB(t)

	oldTs := time.Now().Add(-40 * 24 * time.Hour).Unix()
	db.Exec(`INSERT INTO pipeline_heartbeats (component_name, hostname, process_pid, timestamp,
		goroutines_count, memory_alloc_mb, memory_sys_mb, gc_count)
		VALUES ('old', 'host', 1, ?, 1, 1.0, 1.0, 1)`, oldTs)

	deleted, err := CleanupHeartbeats(context.Background(), db, 30)
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 1 {
		t.Fatalf("deleted: got %d", deleted)
	}
}

// --- AuditLogger ---

func TestAuditLogger_LogSync(t *testing.T) {
	db := setupObsDB(t)
	al := NewAuditLogger(db, 100)
	defer al.Close()

	ctx := context.Background()
	entry := &AuditEntry{
		ComponentName: "transact",
		OperationType: "submit",
		TransactionID: "txn_1",
		Stage:         "apply",
		Status:        "success",
		DurationMs:    42,
	}
	if err := al.Log(ctx, entry); err != nil {
		t.Fatal(err)
	}

	if entry.EntryID == "" {
		t.Fatal("entry_id not generated")
	}

	var component, stage string
	db.QueryRow("SELECT component_name, stage FROM transaction_audit_log WHERE entry_id=?", entry.EntryID).Scan(&component, &stage)
	if component != "transact" {
		t.Fatalf("component: got %q", component)
	}
	if stage != "apply" {
		t.Fatalf("stage: got %q", stage)
	}
}

func TestAuditLogger_LogAsync(t *testing.T) {
	db := setupObsDB(t)
	al := NewAuditLogger(db, 100)

	al.LogAsync(&AuditEntry{
		ComponentName: "transact",
		OperationType: "submit",
		TransactionID: "txn_async",
	})
	al.Close()

	var count int
	db.QueryRow("SELECT COUNT(*) FROM transaction_audit_log WHERE transaction_id='txn_async'").Scan(&count)
	if count != 1 {
		t.Fatalf("async count: got %d", count)
	}
}

func TestAuditLogger_NewAuditEntry_Success(t *testing.T) {
	db := setupObsDB(t)
	al := NewAuditLogger(db, 100)
	defer al.Close()

	entry := al.NewAuditEntry("transact", "submit", "txn_1", "preflight", map[string]string{"k": "v"}, "result", nil, 100*time.Millisecond)
	if entry.Status != "success" {
		t.Fatalf("status: got %q", entry.Status)
	}
	if entry.TransactionID != "txn_1" {
		t.Fatalf("transaction_id: got %q", entry.TransactionID)
	}
	if entry.Stage != "preflight" {
		t.Fatalf("stage: got %q", entry.Stage)
	}
	if entry.Parameters == "" {
		t.Fatal("parameters not marshalled")
	}
	if entry.Result == "" {
		t.Fatal("result not marshalled")
	}
	if entry.DurationMs != 100 {
		t.Fatalf("duration_ms: got %d", entry.DurationMs)
	}
}

func TestAuditLogger_NewAuditEntry_Error(t *testing.T) {
	db := setupObsDB(t)
	al := NewAuditLogger(db, 100)
	defer al.Close()

	entry := al.NewAuditEntry("transact", "submit", "txn_1", "publish", nil, nil, errors.New("boom"), 50*time.Millisecond)
	if entry.Status != "error" {
		t.Fatalf("status: got %q", entry.Status)
	}
	if entry.ErrorMessage != "boom" {
		t.Fatalf("error_message: got %q", entry.ErrorMessage)
	}
}

func TestAuditLogger_Query(t *testing.T) {
	db := setupObsDB(t)
	al := NewAuditLogger(db, 100)

	al.Log(context.Background(), &AuditEntry{ComponentName: "transact", OperationType: "submit", TransactionID: "txn_a", Status: "success"})
	al.Log(context.Background(), &AuditEntry{ComponentName: "gc", OperationType: "reconcile", Status: "error"})

	comp := "transact"
	entries, err := al.Query(context.Background(), &AuditFilter{ComponentName: &comp, Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("filtered count: got %d", len(entries))
	}
	if entries[0].ComponentName != "transact" {
		t.Fatalf("component: got %q", entries[0].ComponentName)
	}

	al.Close()
}

func TestAuditLogger_ForTransaction(t *testing.T) {
	db := setupObsDB(t)
	al := NewAuditLogger(db, 100)

	al.Log(context.Background(), &AuditEntry{ComponentName: "transact", OperationType: "submit", TransactionID: "txn_x", Stage: "preflight", Status: "success"})
	al.Log(context.Background(), &AuditEntry{ComponentName: "transact", OperationType: "submit", TransactionID: "txn_x", Stage: "publish", Status: "success"})
	al.Log(context.Background(), &AuditEntry{ComponentName: "transact", OperationType: "submit", TransactionID: "txn_y", Stage: "preflight", Status: "success"})

	entries, err := al.ForTransaction(context.Background(), "txn_x")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("txn_x entries: got %d", len(entries))
	}
	if entries[0].Stage != "preflight" || entries[1].Stage != "publish" {
		t.Fatalf("expected preflight before publish, got %q then %q", entries[0].Stage, entries[1].Stage)
	}

	al.Close()
}

func TestAuditLogger_Cleanup(t *testing.T) {
	db := setupObsDB(t)
	al := NewAuditLogger(db, 100)

	oldTs := time.Now().Add(-40 * 24 * time.Hour)
	al.Log(context.Background(), &AuditEntry{
		ComponentName: "transact",
		OperationType: "submit",
		TransactionID: "txn_old",
		Timestamp:     oldTs,
	})
	al.Log(context.Background(), &AuditEntry{
		ComponentName: "transact",
		OperationType: "submit",
		TransactionID: "txn_new",
	})

	deleted, err := al.Cleanup(context.Background(), 30)
	if err != nil {
		t.Fatal(err)
	}
	if deleted != 1 {
		t.Fatalf("deleted: got %d", deleted)
	}

	al.Close()
}

func TestAuditLogger_WithIDGenerator(t *testing.T) {
	db := setupObsDB(t)
	gen := func() string { return "fixed_id" }
	al := NewAuditLogger(db, 100, WithAuditIDGenerator(gen))
	defer al.Close()

	entry := &AuditEntry{ComponentName: "transact", OperationType: "submit"}
	al.Log(context.Background(), entry)
	if entry.EntryID != "fixed_id" {
		t.Fatalf("custom ID: got %q", entry.EntryID)
	}
}

// --- EventLogger ---

func TestEventLogger_LogEvent(t *testing.T) {
	db := setupObsDB(t)
	el := NewEventLogger(db)

	el.LogEvent(context.Background(), PipelineEvent{
		EventType:     "manifest_applied",
		ComponentName: "transact",
		TransactionID: "txn_1",
		EntityType:    "deployment",
		EntityID:      "dep_1",
		Action:        "apply",
		Success:       true,
	})

	var eventType, action, transactionID string
	db.QueryRow("SELECT event_type, action, transaction_id FROM pipeline_event_logs LIMIT 1").Scan(&eventType, &action, &transactionID)
	if eventType != "manifest_applied" {
		t.Fatalf("event_type: got %q", eventType)
	}
	if action != "apply" {
		t.Fatalf("action: got %q", action)
	}
	if transactionID != "txn_1" {
		t.Fatalf("transaction_id: got %q", transactionID)
	}
}

func TestEventLogger_LogEvent_NoTransaction(t *testing.T) {
	db := setupObsDB(t)
	el := NewEventLogger(db)

	el.LogEvent(context.Background(), PipelineEvent{
		EventType:     "gc_reconcile",
		ComponentName: "gc",
		EntityType:    "blob_store",
		Action:        "report",
		Success:       true,
	})

	var transactionID sql.NullString
	db.QueryRow("SELECT transaction_id FROM pipeline_event_logs LIMIT 1").Scan(&transactionID)
	if transactionID.Valid {
		t.Fatalf("transaction_id: expected NULL for gc, got %q", transactionID.String)
	}
}

func TestEventLogger_ForTransaction(t *testing.T) {
	db := setupObsDB(t)
	el := NewEventLogger(db)

	el.LogEvent(context.Background(), PipelineEvent{EventType: "manifest_applied", ComponentName: "transact", TransactionID: "txn_z", Action: "apply", Success: true})
	el.LogEvent(context.Background(), PipelineEvent{EventType: "output_published", ComponentName: "transact", TransactionID: "txn_z", Action: "publish", Success: true})
	el.LogEvent(context.Background(), PipelineEvent{EventType: "manifest_applied", ComponentName: "transact", TransactionID: "txn_other", Action: "apply", Success: true})

	events, err := el.ForTransaction(context.Background(), "txn_z")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("txn_z events: got %d", len(events))
	}
}

func TestEventLogger_WithIDGenerator(t *testing.T) {
	db := setupObsDB(t)
	gen := func() string { return "evt_custom" }
	el := NewEventLogger(db, WithEventIDGenerator(gen))

	el.LogEvent(context.Background(), PipelineEvent{
		EventType:     "test",
		ComponentName: "test",
		Action:        "test",
		Success:       true,
	})

	var eventID string
	db.QueryRow("SELECT event_id FROM pipeline_event_logs LIMIT 1").Scan(&eventID)
	if eventID != "evt_custom" {
		t.Fatalf("custom event_id: got %q", eventID)
	}
}

// --- Retention Cleanup ---

func TestCleanup_Retention(t *testing.T) {
	db := setupObsDB(t)

	oldTs := time.Now().Add(-40 * 24 * time.Hour).Unix()
	db.Exec("INSERT INTO pipeline_event_logs (event_id, event_type, component_name, action, success, created_at) VALUES ('e1', 'test', 'transact', 'apply', 1, ?)", oldTs)
	db.Exec(`INSERT INTO pipeline_heartbeats (component_name, hostname, process_pid, timestamp) VALUES ('transact', 'host', 1, ?)`, oldTs)

	err := Cleanup(context.Background(), db, RetentionConfig{
		EventLogsDays:  30,
		HeartbeatsDays: 30,
	})
	if err != nil {
		t.Fatal(err)
	}

	var eventCount, heartbeatCount int
	db.QueryRow("SELECT COUNT(*) FROM pipeline_event_logs").Scan(&eventCount)
	db.QueryRow("SELECT COUNT(*) FROM pipeline_heartbeats").Scan(&heartbeatCount)
	if eventCount != 0 {
		t.Fatalf("pipeline_event_logs: got %d", eventCount)
	}
	if heartbeatCount != 0 {
		t.Fatalf("pipeline_heartbeats: got %d", heartbeatCount)
	}
}

func TestCleanup_SkipsZeroDays(t *testing.T) {
	db := setupObsDB(t)

	oldTs := time.Now().Add(-40 * 24 * time.Hour).Unix()
	db.Exec("INSERT INTO pipeline_event_logs (event_id, event_type, component_name, action, success, created_at) VALUES ('e1', 'test', 'transact', 'apply', 1, ?)", oldTs)

	err := Cleanup(context.Background(), db, RetentionConfig{
		EventLogsDays: 0, // disabled
	})
	if err != nil {
		t.Fatal(err)
	}

	var count int
	db.QueryRow("SELECT COUNT(*) FROM pipeline_event_logs").Scan(&count)
	if count != 1 {
		t.Fatalf("should not clean when days=0: got %d", count)
	}
}
