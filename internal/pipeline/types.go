// Package pipeline implements the batch pipeline: flatten, timestamp-fix,
// enrich, resolve parameters, calculate, and quality-filter a batch of
// parsed files into one published frame. Each stage consumes the previous
// stage's output and nothing else; fan-out across independent groups uses
// golang.org/x/sync/errgroup.
package pipeline

// Row is one observation: one (timestamp, logger, sdi12, thermistor depth,
// record) tuple carrying every metric and, once later stages run, every
// enrichment/resolution/calculation/quality column. Representing a batch as
// []Row rather than a struct-of-slices keeps each stage a straightforward
// map/filter/sort over a single type; stages 3-6 run sequentially, and only
// stage 2 resolves independent loggers concurrently via errgroup.
type Row struct {
	FileHash        string
	RawLoggerID     string
	Record          int64
	SDI12Address    string
	ThermistorDepth string // "inner" or "outer"

	RawTimestamp string // unresolved text, consumed by stage 2
	TimestampUTC int64  // unix nanoseconds UTC, set by stage 2; 0 until then

	BatteryVoltage *float64
	PanelTempC     *float64

	Alpha          *float64
	Beta           *float64
	TimeToMaxS     *float64
	TempPrePulseC  *float64
	TempPostPulseC *float64

	FileSetSignature string // diagnostic, retained through publication

	// Stage 3 enrichment.
	CanonicalDataloggerID string
	DeploymentID          string
	StemID                string
	PlantID               string
	PlotID                string
	ZoneID                string
	SiteID                string
	SpeciesID             string
	ProjectID             string
	InstallationMetadata  map[string]string
	EnrichmentMissing     bool
	EnrichmentAmbiguous   bool

	// Stage 4 parameter resolution.
	Parameters      map[string]ParamValue // resolved scalar per code
	ParameterSource map[string]string     // code -> provenance label

	// Stage 5 calculation.
	CalculationMethodUsed string // "HRM" or "Tmax"
	HeatVelocityCmHr      *float64
	SapFluxDensityCmHr    *float64

	// Stage 6 quality.
	Quality            string // "" (good) or "SUSPECT"
	QualityExplanation string
}

// Frame is a batch of rows; the execution context is passed to stages
// separately.
type Frame struct {
	Rows []Row
}

// ParamValue is a typed scalar resolved by stage 4, matching the catalogue
// entry's declared kind (metadata.ParameterValueKind).
type ParamValue struct {
	Float *float64
	Int   *int64
	Str   *string
}

// Result is the final frame plus summary counters the receipt (C9) reports.
type Result struct {
	Frame
	RowCount      int
	SuspectCount  int
	AmbiguousDrop int
}
