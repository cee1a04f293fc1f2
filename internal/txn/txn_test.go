package txn

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/sapflux-io/pipeline/internal/blake3hash"
	"github.com/sapflux-io/pipeline/internal/idgen"
	"github.com/sapflux-io/pipeline/internal/metadata"
	"github.com/sapflux-io/pipeline/internal/objectstore"
	"github.com/sapflux-io/pipeline/internal/parser"
	"github.com/sapflux-io/pipeline/internal/publisher"
	"github.com/sapflux-io/pipeline/internal/receipt"
)

const sampleTOA5 = `"TOA5","sapflux_420","CR1000","12345","CR1000.Std.32","SapfluxProgram","CPU:Sapflux.CR1","Table1"
"TIMESTAMP","RECORD","Batt_volt","PTemp_C","Alpha_0_inner","Beta_0_inner","Tmax_0_inner","TempPre_0_inner","TempPost_0_inner"
"TS","RN","Volts","Deg C","","","sec","Deg C","Deg C"
"","","Smp","Smp","Avg","Avg","Avg","Avg","Avg"
"2025-07-28 00:00:00",1,12.8,22.1,0.45,0.9,62.0,20.1,24.3
`

// fakeTx is a minimal in-memory metadata.Tx; every Insert/Update is a no-op
// except the few the orchestrator actually reads back.
type fakeTx struct {
	runs    []*metadata.Run
	outputs []*metadata.Output
	ec      *metadata.ExecutionContext
}

func (f *fakeTx) Commit(ctx context.Context) error   { return nil }
func (f *fakeTx) Rollback(ctx context.Context) error { return nil }

func (f *fakeTx) InsertProject(ctx context.Context, p *metadata.Project) error             { return nil }
func (f *fakeTx) InsertSite(ctx context.Context, s *metadata.Site) error                   { return nil }
func (f *fakeTx) InsertZone(ctx context.Context, z *metadata.Zone) error                   { return nil }
func (f *fakeTx) InsertPlot(ctx context.Context, p *metadata.Plot) error                   { return nil }
func (f *fakeTx) InsertSpecies(ctx context.Context, s *metadata.Species) error             { return nil }
func (f *fakeTx) InsertPlant(ctx context.Context, p *metadata.Plant) error                 { return nil }
func (f *fakeTx) InsertStem(ctx context.Context, s *metadata.Stem) error                   { return nil }
func (f *fakeTx) InsertDataloggerType(ctx context.Context, d *metadata.DataloggerType) error { return nil }
func (f *fakeTx) InsertDatalogger(ctx context.Context, d *metadata.Datalogger) error        { return nil }
func (f *fakeTx) InsertDataloggerAlias(ctx context.Context, a *metadata.DataloggerAlias) error {
	return nil
}
func (f *fakeTx) InsertSensorType(ctx context.Context, s *metadata.SensorType) error { return nil }
func (f *fakeTx) InsertSensorThermistorPair(ctx context.Context, p *metadata.SensorThermistorPair) error {
	return nil
}
func (f *fakeTx) InsertDeployment(ctx context.Context, d *metadata.Deployment) error { return nil }
func (f *fakeTx) InsertParameterOverride(ctx context.Context, o *metadata.ParameterOverride) error {
	return nil
}

func (f *fakeTx) UpdateProject(ctx context.Context, id string, patch map[string]any) error  { return nil }
func (f *fakeTx) UpdateSite(ctx context.Context, id string, patch map[string]any) error     { return nil }
func (f *fakeTx) UpdateZone(ctx context.Context, id string, patch map[string]any) error     { return nil }
func (f *fakeTx) UpdatePlot(ctx context.Context, id string, patch map[string]any) error     { return nil }
func (f *fakeTx) UpdateSpecies(ctx context.Context, id string, patch map[string]any) error  { return nil }
func (f *fakeTx) UpdatePlant(ctx context.Context, id string, patch map[string]any) error    { return nil }
func (f *fakeTx) UpdateStem(ctx context.Context, id string, patch map[string]any) error     { return nil }
func (f *fakeTx) UpdateDataloggerType(ctx context.Context, id string, patch map[string]any) error {
	return nil
}
func (f *fakeTx) UpdateDatalogger(ctx context.Context, id string, patch map[string]any) error { return nil }
func (f *fakeTx) UpdateDataloggerAlias(ctx context.Context, id string, patch map[string]any) error {
	return nil
}
func (f *fakeTx) UpdateSensorType(ctx context.Context, id string, patch map[string]any) error { return nil }
func (f *fakeTx) UpdateSensorThermistorPair(ctx context.Context, id string, patch map[string]any) error {
	return nil
}
func (f *fakeTx) UpdateDeployment(ctx context.Context, id string, patch map[string]any) error { return nil }
func (f *fakeTx) UpdateParameterOverride(ctx context.Context, id string, patch map[string]any) error {
	return nil
}

func (f *fakeTx) InsertRawFile(ctx context.Context, r *metadata.RawFile) error { return nil }
func (f *fakeTx) InsertRun(ctx context.Context, r *metadata.Run) error {
	f.runs = append(f.runs, r)
	return nil
}
func (f *fakeTx) InsertOutput(ctx context.Context, o *metadata.Output) error {
	f.outputs = append(f.outputs, o)
	return nil
}
func (f *fakeTx) ClearLatest(ctx context.Context) error { return nil }

func (f *fakeTx) ResolveDatalogger(ctx context.Context, rawLoggerID string, ts time.Time) (string, error) {
	return rawLoggerID, nil
}
func (f *fakeTx) LoadExecutionContext(ctx context.Context) (*metadata.ExecutionContext, error) {
	return f.ec, nil
}

// fakeStore is a minimal in-memory metadata.Store for orchestrator tests.
type fakeStore struct {
	ledger    []*metadata.Transaction
	finalized map[string]metadata.TransactionOutcome
	tx        *fakeTx
	snapshot  *metadata.StoreSnapshot
}

func (s *fakeStore) ResolveDatalogger(ctx context.Context, rawLoggerID string, ts time.Time) (string, error) {
	return rawLoggerID, nil
}
func (s *fakeStore) LoadExecutionContext(ctx context.Context) (*metadata.ExecutionContext, error) {
	return &metadata.ExecutionContext{}, nil
}
func (s *fakeStore) Begin(ctx context.Context) (metadata.Tx, error) { return s.tx, nil }
func (s *fakeStore) AcquireQueueLock(ctx context.Context) (metadata.LockGuard, error) {
	return fakeLockGuard{}, nil
}
func (s *fakeStore) InsertLedgerRow(ctx context.Context, t *metadata.Transaction) error {
	s.ledger = append(s.ledger, t)
	return nil
}
func (s *fakeStore) FinalizeLedgerRow(ctx context.Context, id string, outcome metadata.TransactionOutcome, receipt []byte) error {
	if s.finalized == nil {
		s.finalized = map[string]metadata.TransactionOutcome{}
	}
	s.finalized[id] = outcome
	return nil
}
func (s *fakeStore) Snapshot(ctx context.Context) (*metadata.StoreSnapshot, error) {
	if s.snapshot != nil {
		return s.snapshot, nil
	}
	return &metadata.StoreSnapshot{}, nil
}
func (s *fakeStore) ReferencedBlobKeys(ctx context.Context) ([]string, []string, error) {
	return nil, nil, nil
}
func (s *fakeStore) Close() {}

type fakeLockGuard struct{}

func (fakeLockGuard) Release(ctx context.Context) error { return nil }

func newOrchestrator(t *testing.T) (*Orchestrator, *fakeStore) {
	t.Helper()
	dir := t.TempDir()
	blobs, err := objectstore.NewLocalStore(dir)
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	registry := parser.NewRegistry()
	registry.Register(parser.NewTOA5Parser())
	// A context covering sampleTOA5's logger, sdi12 address, and July 2025
	// timestamps, so the timestamp fixer and enrichment resolve.
	depEnd := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ec := &metadata.ExecutionContext{
		Dataloggers: []metadata.Datalogger{{ID: "dl-420", Code: "420"}},
		Deployments: []metadata.DeploymentContext{{
			Deployment: metadata.Deployment{
				ID: "dep-1", DataloggerID: "dl-420", SDI12Address: "0",
				Interval:          metadata.Interval{Start: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), End: &depEnd},
				IncludeInPipeline: true,
			},
			StemID:   "stem-1",
			Timezone: "UTC",
		}},
	}
	store := &fakeStore{tx: &fakeTx{ec: ec}}
	pub := publisher.New(blobs, idgen.NanoID(8), "test-revision")
	orch := New(store, blobs, registry, pub, idgen.NanoID(8), slog.Default(), nil)
	return orch, store
}

func TestSubmit_DryRunInsertsNoLedgerRow(t *testing.T) {
	orch, store := newOrchestrator(t)
	req := Request{
		ManifestText: []byte(`message = "dry run check"`),
		Files:        []SubmittedFile{{Filename: "a.dat", Content: []byte(sampleTOA5)}},
		DryRun:       true,
	}
	rec, err := orch.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if rec.Outcome != metadata.OutcomeDryRun {
		t.Fatalf("outcome = %v, want DRY_RUN", rec.Outcome)
	}
	if len(store.ledger) != 0 {
		t.Fatalf("expected no ledger row for a dry run, got %d", len(store.ledger))
	}
	if len(rec.IngestionSummary) != 1 || rec.IngestionSummary[0].ChosenParser != "toa5_sdi12_thermistor_v1" {
		t.Fatalf("expected one accepted file summary choosing the TOA5 parser, got %+v", rec.IngestionSummary)
	}
}

func TestSubmit_AcceptedInsertsLedgerRowAndRun(t *testing.T) {
	orch, store := newOrchestrator(t)
	req := Request{
		ManifestText: []byte(`message = "first load"`),
		Files:        []SubmittedFile{{Filename: "a.dat", Content: []byte(sampleTOA5)}},
	}
	rec, err := orch.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if rec.Outcome != metadata.OutcomeAccepted {
		t.Fatalf("outcome = %v, want ACCEPTED: %+v", rec.Outcome, rec.Error)
	}
	if len(store.ledger) != 1 {
		t.Fatalf("expected exactly one ledger row, got %d", len(store.ledger))
	}
	if store.finalized[rec.TransactionID] != metadata.OutcomeAccepted {
		t.Fatalf("ledger row not finalized as ACCEPTED")
	}
	if len(store.tx.runs) != 1 || len(store.tx.outputs) != 1 {
		t.Fatalf("expected exactly one run and one output inserted, got %d runs %d outputs", len(store.tx.runs), len(store.tx.outputs))
	}
	if rec.Artifacts == nil || rec.Artifacts.OutputID == "" {
		t.Fatalf("expected artifacts populated on an accepted receipt")
	}
}

func TestSubmit_ManifestSyntaxErrorNeverInsertsLedgerRow(t *testing.T) {
	orch, store := newOrchestrator(t)
	req := Request{ManifestText: []byte(`not valid toml =`)}
	rec, err := orch.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if rec.Outcome != metadata.OutcomeRejected {
		t.Fatalf("outcome = %v, want REJECTED", rec.Outcome)
	}
	if len(store.ledger) != 0 {
		t.Fatalf("a manifest syntax failure must never insert a ledger row, got %d", len(store.ledger))
	}
	if ExitCode(rec) != 1 {
		t.Fatalf("ExitCode = %d, want 1 for ManifestSyntax rejection", ExitCode(rec))
	}
}

func TestExitCode(t *testing.T) {
	cases := []struct {
		rec  *receipt.Receipt
		want int
	}{
		{&receipt.Receipt{Outcome: metadata.OutcomeAccepted}, 0},
		{&receipt.Receipt{Outcome: metadata.OutcomeDryRun}, 0},
		{&receipt.Receipt{Outcome: metadata.OutcomeRejected, Error: &receipt.ErrorDetail{Type: "ManifestValidation"}}, 1},
		{&receipt.Receipt{Outcome: metadata.OutcomeRejected, Error: &receipt.ErrorDetail{Type: "PipelineError"}}, 2},
		{&receipt.Receipt{Outcome: metadata.OutcomePending}, 3},
	}
	for _, c := range cases {
		if got := ExitCode(c.rec); got != c.want {
			t.Fatalf("ExitCode(%+v) = %d, want %d", c.rec, got, c.want)
		}
	}
}

func TestSubmit_ResubmittedFileReportedDuplicate(t *testing.T) {
	orch, store := newOrchestrator(t)
	store.snapshot = &metadata.StoreSnapshot{
		RawFileHashes: []string{blake3hash.SumBytes([]byte(sampleTOA5))},
	}
	req := Request{
		ManifestText: []byte(`message = "resubmission"`),
		Files:        []SubmittedFile{{Filename: "a.dat", Content: []byte(sampleTOA5)}},
	}
	rec, err := orch.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if rec.Outcome != metadata.OutcomeAccepted {
		t.Fatalf("outcome = %v, want ACCEPTED (duplicates are not an error)", rec.Outcome)
	}
	if rec.Summary.FilesDuplicate != 1 || rec.Summary.FilesAccepted != 0 {
		t.Fatalf("summary = %+v, want exactly one duplicate and zero accepted", rec.Summary)
	}
	if !rec.IngestionSummary[0].Duplicate {
		t.Fatalf("file summary not marked duplicate: %+v", rec.IngestionSummary[0])
	}
}
