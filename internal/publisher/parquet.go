// Package publisher implements the output publisher: deterministic
// columnar serialization via github.com/parquet-go/parquet-go, artifact
// upload, the is_latest flip, and reproducibility cartridge assembly.
package publisher

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/parquet-go/parquet-go"

	"github.com/sapflux-io/pipeline/internal/pipeline"
)

// parquetRow is the fixed, declared column order of the published output.
// Per-catalogue-code parameter values and their provenance are compile-time
// unbounded (the catalogue can grow) so they are carried as two ordered
// JSON object columns rather than one Go struct field per code; row order
// and every other column are still pinned.
type parquetRow struct {
	TimestampUTC         int64   `parquet:"timestamp_utc"`
	CanonicalDataloggerID string `parquet:"canonical_datalogger_id"`
	SDI12Address         string  `parquet:"sdi12_address"`
	ThermistorDepth      string  `parquet:"thermistor_depth"`
	Record               int64   `parquet:"record"`

	FileHash         string `parquet:"file_hash"`
	FileSetSignature string `parquet:"file_set_signature"`

	DeploymentID string `parquet:"deployment_id,optional"`
	StemID       string `parquet:"stem_id,optional"`
	PlantID      string `parquet:"plant_id,optional"`
	PlotID       string `parquet:"plot_id,optional"`
	ZoneID       string `parquet:"zone_id,optional"`
	SiteID       string `parquet:"site_id,optional"`
	SpeciesID    string `parquet:"species_id,optional"`
	ProjectID    string `parquet:"project_id,optional"`

	BatteryVoltage *float64 `parquet:"battery_voltage,optional"`
	PanelTempC     *float64 `parquet:"panel_temp_c,optional"`

	Alpha          *float64 `parquet:"alpha,optional"`
	Beta           *float64 `parquet:"beta,optional"`
	TimeToMaxS     *float64 `parquet:"time_to_max_s,optional"`
	TempPrePulseC  *float64 `parquet:"temp_pre_pulse_c,optional"`
	TempPostPulseC *float64 `parquet:"temp_post_pulse_c,optional"`

	CalculationMethodUsed string   `parquet:"calculation_method_used,optional"`
	HeatVelocityCmHr      *float64 `parquet:"heat_velocity_cm_hr,optional"`
	SapFluxDensityCmHr    *float64 `parquet:"sap_flux_density_j_dma_cm_hr,optional"`

	Quality            string `parquet:"quality,optional"`
	QualityExplanation string `parquet:"quality_explanation,optional"`

	InstallationMetadataJSON string `parquet:"installation_metadata_json,optional"`
	ParametersJSON           string `parquet:"parameters_json"`
	ParameterSourcesJSON     string `parquet:"parameter_sources_json"`
}

// SerializeParquet implements the determinism contract: rows
// sorted by (timestamp_utc, canonical_datalogger_id, sdi12_address,
// thermistor_depth, record), columns in a fixed declared order, and no
// run-varying writer metadata (parquet-go does not stamp created-by/
// timestamp fields by default, so no further stripping is needed).
func SerializeParquet(result pipeline.Result) ([]byte, error) {
	rows := make([]Row, len(result.Rows))
	copy(rows, result.Rows)
	sortRowsForPublication(rows)

	out := make([]parquetRow, len(rows))
	for i, r := range rows {
		pr, err := toParquetRow(r)
		if err != nil {
			return nil, fmt.Errorf("publisher: row %d: %w", i, err)
		}
		out[i] = pr
	}

	var buf bytes.Buffer
	writer := parquet.NewGenericWriter[parquetRow](&buf, parquet.Compression(&parquet.Uncompressed))
	if _, err := writer.Write(out); err != nil {
		return nil, fmt.Errorf("publisher: write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("publisher: close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

// Row is an alias so this file doesn't need to import pipeline twice under
// two names; kept private to the package.
type Row = pipeline.Row

func sortRowsForPublication(rows []Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.TimestampUTC != b.TimestampUTC {
			return a.TimestampUTC < b.TimestampUTC
		}
		if a.CanonicalDataloggerID != b.CanonicalDataloggerID {
			return a.CanonicalDataloggerID < b.CanonicalDataloggerID
		}
		if a.SDI12Address != b.SDI12Address {
			return a.SDI12Address < b.SDI12Address
		}
		if a.ThermistorDepth != b.ThermistorDepth {
			return a.ThermistorDepth < b.ThermistorDepth
		}
		return a.Record < b.Record
	})
}

func toParquetRow(r Row) (parquetRow, error) {
	paramsJSON, err := marshalParams(r.Parameters)
	if err != nil {
		return parquetRow{}, err
	}
	sourcesJSON, err := marshalSources(r.ParameterSource)
	if err != nil {
		return parquetRow{}, err
	}
	var instJSON string
	if len(r.InstallationMetadata) > 0 {
		b, err := json.Marshal(r.InstallationMetadata)
		if err != nil {
			return parquetRow{}, fmt.Errorf("marshal installation_metadata: %w", err)
		}
		instJSON = string(b)
	}

	return parquetRow{
		TimestampUTC:          r.TimestampUTC,
		CanonicalDataloggerID: r.CanonicalDataloggerID,
		SDI12Address:          r.SDI12Address,
		ThermistorDepth:       r.ThermistorDepth,
		Record:                r.Record,
		FileHash:              r.FileHash,
		FileSetSignature:      r.FileSetSignature,
		DeploymentID:          r.DeploymentID,
		StemID:                r.StemID,
		PlantID:               r.PlantID,
		PlotID:                r.PlotID,
		ZoneID:                r.ZoneID,
		SiteID:                r.SiteID,
		SpeciesID:             r.SpeciesID,
		ProjectID:             r.ProjectID,
		BatteryVoltage:        r.BatteryVoltage,
		PanelTempC:            r.PanelTempC,
		Alpha:                 r.Alpha,
		Beta:                  r.Beta,
		TimeToMaxS:            r.TimeToMaxS,
		TempPrePulseC:         r.TempPrePulseC,
		TempPostPulseC:        r.TempPostPulseC,
		CalculationMethodUsed: r.CalculationMethodUsed,
		HeatVelocityCmHr:      r.HeatVelocityCmHr,
		SapFluxDensityCmHr:    r.SapFluxDensityCmHr,
		Quality:               r.Quality,
		QualityExplanation:    r.QualityExplanation,
		InstallationMetadataJSON: instJSON,
		ParametersJSON:           paramsJSON,
		ParameterSourcesJSON:     sourcesJSON,
	}, nil
}

// marshalParams renders the resolved parameter map as a JSON object with
// keys in sorted order, so byte-identity does
// not depend on Go's randomized map iteration order.
func marshalParams(params map[string]pipeline.ParamValue) (string, error) {
	if len(params) == 0 {
		return "{}", nil
	}
	codes := make([]string, 0, len(params))
	for code := range params {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, code := range codes {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyJSON, _ := json.Marshal(code)
		buf.Write(keyJSON)
		buf.WriteByte(':')
		valJSON, err := json.Marshal(scalarOf(params[code]))
		if err != nil {
			return "", fmt.Errorf("marshal parameter %q: %w", code, err)
		}
		buf.Write(valJSON)
	}
	buf.WriteByte('}')
	return buf.String(), nil
}

func marshalSources(sources map[string]string) (string, error) {
	if len(sources) == 0 {
		return "{}", nil
	}
	codes := make([]string, 0, len(sources))
	for code := range sources {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, code := range codes {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyJSON, _ := json.Marshal(code)
		buf.Write(keyJSON)
		buf.WriteByte(':')
		valJSON, _ := json.Marshal(sources[code])
		buf.Write(valJSON)
	}
	buf.WriteByte('}')
	return buf.String(), nil
}

func scalarOf(v pipeline.ParamValue) any {
	switch {
	case v.Float != nil:
		return *v.Float
	case v.Int != nil:
		return *v.Int
	case v.Str != nil:
		return *v.Str
	default:
		return nil
	}
}
