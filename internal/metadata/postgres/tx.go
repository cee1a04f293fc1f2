package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sapflux-io/pipeline/internal/metadata"
)

// tx wraps an open pgx.Tx. Every Insert/Update method runs against pgxTx
// directly, so either all of them land or none do when the caller commits
// or rolls back.
type tx struct {
	pgx   pgx.Tx
	store *Store
}

func (t *tx) Commit(ctx context.Context) error {
	if err := t.pgx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

func (t *tx) Rollback(ctx context.Context) error {
	err := t.pgx.Rollback(ctx)
	if err != nil && err != pgx.ErrTxClosed {
		return fmt.Errorf("postgres: rollback: %w", err)
	}
	return nil
}

func (t *tx) ResolveDatalogger(ctx context.Context, rawLoggerID string, ts time.Time) (string, error) {
	return resolveDatalogger(ctx, t.pgx, rawLoggerID, ts)
}

func (t *tx) LoadExecutionContext(ctx context.Context) (*metadata.ExecutionContext, error) {
	return loadExecutionContext(ctx, t.pgx)
}

func (t *tx) InsertProject(ctx context.Context, p *metadata.Project) error {
	_, err := t.pgx.Exec(ctx, `INSERT INTO projects (id, name) VALUES ($1, $2)`, p.ID, p.Name)
	return wrapInsert("project", err)
}

func (t *tx) InsertSite(ctx context.Context, s *metadata.Site) error {
	_, err := t.pgx.Exec(ctx, `
		INSERT INTO sites (id, project_id, name, timezone, boundary_gj)
		VALUES ($1, $2, $3, $4, $5)`,
		s.ID, s.ProjectID, s.Name, s.Timezone, nullJSON(s.BoundaryGJ))
	return wrapInsert("site", err)
}

func (t *tx) InsertZone(ctx context.Context, z *metadata.Zone) error {
	_, err := t.pgx.Exec(ctx, `
		INSERT INTO zones (id, site_id, name, boundary_gj) VALUES ($1, $2, $3, $4)`,
		z.ID, z.SiteID, z.Name, nullJSON(z.BoundaryGJ))
	return wrapInsert("zone", err)
}

func (t *tx) InsertPlot(ctx context.Context, p *metadata.Plot) error {
	_, err := t.pgx.Exec(ctx, `
		INSERT INTO plots (id, zone_id, name, boundary_gj) VALUES ($1, $2, $3, $4)`,
		p.ID, p.ZoneID, p.Name, nullJSON(p.BoundaryGJ))
	return wrapInsert("plot", err)
}

func (t *tx) InsertSpecies(ctx context.Context, s *metadata.Species) error {
	_, err := t.pgx.Exec(ctx, `
		INSERT INTO species (id, scientific_name, common_name) VALUES ($1, $2, $3)`,
		s.ID, s.ScientificName, s.CommonName)
	return wrapInsert("species", err)
}

func (t *tx) InsertPlant(ctx context.Context, p *metadata.Plant) error {
	_, err := t.pgx.Exec(ctx, `
		INSERT INTO plants (id, plot_id, species_id, code) VALUES ($1, $2, $3, $4)`,
		p.ID, p.PlotID, p.SpeciesID, p.Code)
	return wrapInsert("plant", err)
}

func (t *tx) InsertStem(ctx context.Context, s *metadata.Stem) error {
	_, err := t.pgx.Exec(ctx, `
		INSERT INTO stems (id, plant_id, code, diameter_mm) VALUES ($1, $2, $3, $4)`,
		s.ID, s.PlantID, s.Code, s.Diameter)
	return wrapInsert("stem", err)
}

func (t *tx) InsertDataloggerType(ctx context.Context, d *metadata.DataloggerType) error {
	_, err := t.pgx.Exec(ctx, `INSERT INTO datalogger_types (id, model) VALUES ($1, $2)`, d.ID, d.Model)
	return wrapInsert("datalogger type", err)
}

func (t *tx) InsertDatalogger(ctx context.Context, d *metadata.Datalogger) error {
	_, err := t.pgx.Exec(ctx, `
		INSERT INTO dataloggers (id, datalogger_type_id, code) VALUES ($1, $2, $3)`,
		d.ID, d.DataloggerTypeID, d.Code)
	return wrapInsert("datalogger", err)
}

func (t *tx) InsertDataloggerAlias(ctx context.Context, a *metadata.DataloggerAlias) error {
	_, err := t.pgx.Exec(ctx, `
		INSERT INTO datalogger_aliases (id, alias, datalogger_id, start_utc, end_utc)
		VALUES ($1, $2, $3, $4, $5)`,
		a.ID, a.Alias, a.DataloggerID, a.Interval.Start, a.Interval.End)
	return wrapInsert("datalogger alias", err)
}

func (t *tx) InsertSensorType(ctx context.Context, s *metadata.SensorType) error {
	_, err := t.pgx.Exec(ctx, `INSERT INTO sensor_types (id, name) VALUES ($1, $2)`, s.ID, s.Name)
	return wrapInsert("sensor type", err)
}

func (t *tx) InsertSensorThermistorPair(ctx context.Context, p *metadata.SensorThermistorPair) error {
	_, err := t.pgx.Exec(ctx, `
		INSERT INTO sensor_thermistor_pairs (id, sensor_type_id, name, depth_mm)
		VALUES ($1, $2, $3, $4)`,
		p.ID, p.SensorTypeID, p.Name, p.DepthMM)
	return wrapInsert("sensor thermistor pair", err)
}

func (t *tx) InsertDeployment(ctx context.Context, d *metadata.Deployment) error {
	installJSON, err := json.Marshal(d.InstallationMetadata)
	if err != nil {
		return fmt.Errorf("postgres: marshal deployment installation metadata: %w", err)
	}
	_, err = t.pgx.Exec(ctx, `
		INSERT INTO deployments
			(id, stem_id, datalogger_id, sensor_type_id, sdi12_address,
			 start_utc, end_utc, notes, installation_metadata, include_in_pipeline)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		d.ID, d.StemID, d.DataloggerID, d.SensorTypeID, d.SDI12Address,
		d.Interval.Start, d.Interval.End, d.Notes, installJSON, d.IncludeInPipeline)
	return wrapInsert("deployment", err)
}

func (t *tx) InsertParameterOverride(ctx context.Context, o *metadata.ParameterOverride) error {
	_, err := t.pgx.Exec(ctx, `
		INSERT INTO parameter_overrides
			(id, parameter_code, scope, scope_entity_id, value_float, value_int, value_string, effective_transaction_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		o.ID, o.ParameterCode, string(o.Scope), o.ScopeEntityID,
		o.ValueFloat, o.ValueInt, o.ValueString, o.EffectiveTransactionID)
	return wrapInsert("parameter override", err)
}

func (t *tx) InsertRawFile(ctx context.Context, f *metadata.RawFile) error {
	_, err := t.pgx.Exec(ctx, `
		INSERT INTO raw_files (hash, original_upload_path, ingesting_transaction_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (hash) DO NOTHING`,
		f.Hash, f.OriginalUploadPath, f.IngestingTransactionID)
	return wrapInsert("raw file", err)
}

func (t *tx) InsertRun(ctx context.Context, r *metadata.Run) error {
	_, err := t.pgx.Exec(ctx, `
		INSERT INTO runs
			(id, transaction_id, pipeline_code_identifier, status, started_at, finished_at, source_revision, summary)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.ID, r.TransactionID, r.PipelineCodeIdentifier, string(r.Status),
		r.StartedAt, r.FinishedAt, r.SourceRevision, r.Summary)
	return wrapInsert("run", err)
}

func (t *tx) InsertOutput(ctx context.Context, o *metadata.Output) error {
	_, err := t.pgx.Exec(ctx, `
		INSERT INTO outputs (id, run_id, parquet_key, cartridge_key, is_latest)
		VALUES ($1, $2, $3, $4, $5)`,
		o.ID, o.RunID, o.ParquetKey, o.CartridgeKey, o.IsLatest)
	return wrapInsert("output", err)
}

// ClearLatest unsets is_latest on every existing output row so the new
// output's is_latest=true insert never collides with outputs_one_latest.
func (t *tx) ClearLatest(ctx context.Context) error {
	_, err := t.pgx.Exec(ctx, `UPDATE outputs SET is_latest = FALSE WHERE is_latest`)
	if err != nil {
		return fmt.Errorf("postgres: clear latest output: %w", err)
	}
	return nil
}

func (t *tx) UpdateProject(ctx context.Context, id string, patch map[string]any) error {
	return runPatch(ctx, t.pgx, "projects", id, patch)
}

func (t *tx) UpdateSite(ctx context.Context, id string, patch map[string]any) error {
	return runPatch(ctx, t.pgx, "sites", id, patch)
}

func (t *tx) UpdateZone(ctx context.Context, id string, patch map[string]any) error {
	return runPatch(ctx, t.pgx, "zones", id, patch)
}

func (t *tx) UpdatePlot(ctx context.Context, id string, patch map[string]any) error {
	return runPatch(ctx, t.pgx, "plots", id, patch)
}

func (t *tx) UpdateSpecies(ctx context.Context, id string, patch map[string]any) error {
	return runPatch(ctx, t.pgx, "species", id, patch)
}

func (t *tx) UpdatePlant(ctx context.Context, id string, patch map[string]any) error {
	return runPatch(ctx, t.pgx, "plants", id, patch)
}

func (t *tx) UpdateStem(ctx context.Context, id string, patch map[string]any) error {
	return runPatch(ctx, t.pgx, "stems", id, patch)
}

func (t *tx) UpdateDataloggerType(ctx context.Context, id string, patch map[string]any) error {
	return runPatch(ctx, t.pgx, "datalogger_types", id, patch)
}

func (t *tx) UpdateDatalogger(ctx context.Context, id string, patch map[string]any) error {
	return runPatch(ctx, t.pgx, "dataloggers", id, patch)
}

func (t *tx) UpdateDataloggerAlias(ctx context.Context, id string, patch map[string]any) error {
	return runPatch(ctx, t.pgx, "datalogger_aliases", id, patch)
}

func (t *tx) UpdateSensorType(ctx context.Context, id string, patch map[string]any) error {
	return runPatch(ctx, t.pgx, "sensor_types", id, patch)
}

func (t *tx) UpdateSensorThermistorPair(ctx context.Context, id string, patch map[string]any) error {
	return runPatch(ctx, t.pgx, "sensor_thermistor_pairs", id, patch)
}

func (t *tx) UpdateDeployment(ctx context.Context, id string, patch map[string]any) error {
	return runPatch(ctx, t.pgx, "deployments", id, patch)
}

func (t *tx) UpdateParameterOverride(ctx context.Context, id string, patch map[string]any) error {
	return runPatch(ctx, t.pgx, "parameter_overrides", id, patch)
}

func wrapInsert(entity string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("postgres: insert %s: %w", entity, err)
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
