package metadata

import (
	"context"
	"time"
)

// Tx is an open storage transaction. The manifest engine (C4) and the
// transaction orchestrator (C6) apply all mutating effects of one attempt
// through a single Tx so they commit or roll back atomically.
type Tx interface {
	// Commit finalizes the transaction.
	Commit(ctx context.Context) error
	// Rollback discards the transaction. Safe to call after Commit (no-op).
	Rollback(ctx context.Context) error

	InsertProject(ctx context.Context, p *Project) error
	InsertSite(ctx context.Context, s *Site) error
	InsertZone(ctx context.Context, z *Zone) error
	InsertPlot(ctx context.Context, p *Plot) error
	InsertSpecies(ctx context.Context, s *Species) error
	InsertPlant(ctx context.Context, p *Plant) error
	InsertStem(ctx context.Context, s *Stem) error
	InsertDataloggerType(ctx context.Context, d *DataloggerType) error
	InsertDatalogger(ctx context.Context, d *Datalogger) error
	InsertDataloggerAlias(ctx context.Context, a *DataloggerAlias) error
	InsertSensorType(ctx context.Context, s *SensorType) error
	InsertSensorThermistorPair(ctx context.Context, p *SensorThermistorPair) error
	InsertDeployment(ctx context.Context, d *Deployment) error
	InsertParameterOverride(ctx context.Context, o *ParameterOverride) error

	UpdateProject(ctx context.Context, id string, patch map[string]any) error
	UpdateSite(ctx context.Context, id string, patch map[string]any) error
	UpdateZone(ctx context.Context, id string, patch map[string]any) error
	UpdatePlot(ctx context.Context, id string, patch map[string]any) error
	UpdateSpecies(ctx context.Context, id string, patch map[string]any) error
	UpdatePlant(ctx context.Context, id string, patch map[string]any) error
	UpdateStem(ctx context.Context, id string, patch map[string]any) error
	UpdateDataloggerType(ctx context.Context, id string, patch map[string]any) error
	UpdateDatalogger(ctx context.Context, id string, patch map[string]any) error
	UpdateDataloggerAlias(ctx context.Context, id string, patch map[string]any) error
	UpdateSensorType(ctx context.Context, id string, patch map[string]any) error
	UpdateSensorThermistorPair(ctx context.Context, id string, patch map[string]any) error
	UpdateDeployment(ctx context.Context, id string, patch map[string]any) error
	UpdateParameterOverride(ctx context.Context, id string, patch map[string]any) error

	InsertRawFile(ctx context.Context, f *RawFile) error
	InsertRun(ctx context.Context, r *Run) error
	InsertOutput(ctx context.Context, o *Output) error
	// ClearLatest unsets is_latest on every prior output for the same
	// logical dataset before the new output is inserted with is_latest=true,
	// so the flip is atomic within this Tx.
	ClearLatest(ctx context.Context) error

	// Resolver reads used mid-transaction during C5.
	Resolver
}

// Resolver exposes the read queries the pipeline (C5) needs, available both
// inside an open Tx (fresh reads of just-applied metadata) and on the
// top-level Store (reads against committed state only).
type Resolver interface {
	// ResolveDatalogger returns the canonical datalogger ID for a raw
	// logger identifier at a given instant: either code itself (direct
	// match) or, failing that, a DataloggerAlias whose interval contains
	// timestamp. Ambiguity (alias AND direct code both present, or more
	// than one alias match) is a hard error.
	ResolveDatalogger(ctx context.Context, rawLoggerID string, timestamp time.Time) (string, error)

	// LoadExecutionContext loads everything the batch pipeline needs in
	// one pass: active deployments joined to their hierarchy, alias
	// intervals, site timezones, and parameter overrides.
	LoadExecutionContext(ctx context.Context) (*ExecutionContext, error)
}

// Store is the top-level handle: it opens Tx instances and exposes
// read-only queries plus the advisory lock used to serialize transactions.
type Store interface {
	Resolver

	// Begin opens a new storage transaction.
	Begin(ctx context.Context) (Tx, error)

	// AcquireQueueLock blocks until the process-wide advisory lock keyed
	// by a constant is held, and returns a guard that releases it on
	// Release — including on panic, per the scoped-lock
	// requirement. Callers must defer guard.Release(ctx).
	AcquireQueueLock(ctx context.Context) (LockGuard, error)

	// InsertLedgerRow inserts a PENDING transaction row outside any
	// explicit Tx, so the ID is immediately
	// durable even if the mutating phase never runs.
	InsertLedgerRow(ctx context.Context, t *Transaction) error
	// FinalizeLedgerRow updates outcome and receipt for an existing row.
	FinalizeLedgerRow(ctx context.Context, id string, outcome TransactionOutcome, receipt []byte) error

	// Snapshot returns a point-in-time export of every metadata entity,
	// used by the cartridge (C7) to capture store state immediately
	// before a transaction is applied.
	Snapshot(ctx context.Context) (*StoreSnapshot, error)

	// ReferencedBlobKeys returns the raw-file hashes and output IDs the
	// store currently references, for the garbage collector (C8) to expand
	// into blob keys via the objectstore key-layout helpers.
	ReferencedBlobKeys(ctx context.Context) (rawFileHashes []string, outputIDs []string, err error)

	Close()
}

// LockGuard releases the advisory lock it holds exactly once.
type LockGuard interface {
	Release(ctx context.Context) error
}

// ExecutionContext is everything the batch pipeline (C5) needs, loaded
// fresh at the start of every transaction.
type ExecutionContext struct {
	Deployments []DeploymentContext
	Aliases     []DataloggerAlias
	Dataloggers []Datalogger
	Sites       []Site
	Overrides   []ParameterOverride
}

// DeploymentContext is a Deployment pre-joined to its full hierarchy, as
// stage 3 (enrichment) needs it.
type DeploymentContext struct {
	Deployment Deployment
	StemID     string
	PlantID    string
	PlotID     string
	ZoneID     string
	SiteID     string
	SpeciesID  string
	ProjectID  string
	Timezone   string
}

// StoreSnapshot is a full export of every metadata entity, for the
// reproducibility cartridge (C7).
type StoreSnapshot struct {
	Projects         []Project
	Sites            []Site
	Zones            []Zone
	Plots            []Plot
	Species          []Species
	Plants           []Plant
	Stems            []Stem
	DataloggerTypes  []DataloggerType
	Dataloggers      []Datalogger
	DataloggerAliases []DataloggerAlias
	SensorTypes      []SensorType
	ThermistorPairs  []SensorThermistorPair
	Deployments      []Deployment
	Overrides        []ParameterOverride

	// RawFileHashes is the set of already-ingested raw-file content hashes,
	// so preflight can report a re-submitted file as a duplicate without
	// attempting a second insert, and so the
	// cartridge records the full raw-file inventory the output built on.
	RawFileHashes []string
}
