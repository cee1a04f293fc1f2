package postgres

import (
	"context"
	"fmt"

	"github.com/sapflux-io/pipeline/internal/metadata"
)

// Snapshot exports every metadata entity for the reproducibility cartridge,
// taken immediately before a transaction mutates the store.
func (s *Store) Snapshot(ctx context.Context) (*metadata.StoreSnapshot, error) {
	snap := &metadata.StoreSnapshot{}

	if err := scanAll(ctx, s.pool, `SELECT id, name FROM projects`, func(rows rowScanner) error {
		var p metadata.Project
		if err := rows.Scan(&p.ID, &p.Name); err != nil {
			return err
		}
		snap.Projects = append(snap.Projects, p)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("postgres: snapshot projects: %w", err)
	}

	if err := scanAll(ctx, s.pool, `SELECT id, project_id, name, timezone, boundary_gj FROM sites`, func(rows rowScanner) error {
		var v metadata.Site
		if err := rows.Scan(&v.ID, &v.ProjectID, &v.Name, &v.Timezone, &v.BoundaryGJ); err != nil {
			return err
		}
		snap.Sites = append(snap.Sites, v)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("postgres: snapshot sites: %w", err)
	}

	if err := scanAll(ctx, s.pool, `SELECT id, site_id, name, boundary_gj FROM zones`, func(rows rowScanner) error {
		var v metadata.Zone
		if err := rows.Scan(&v.ID, &v.SiteID, &v.Name, &v.BoundaryGJ); err != nil {
			return err
		}
		snap.Zones = append(snap.Zones, v)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("postgres: snapshot zones: %w", err)
	}

	if err := scanAll(ctx, s.pool, `SELECT id, zone_id, name, boundary_gj FROM plots`, func(rows rowScanner) error {
		var v metadata.Plot
		if err := rows.Scan(&v.ID, &v.ZoneID, &v.Name, &v.BoundaryGJ); err != nil {
			return err
		}
		snap.Plots = append(snap.Plots, v)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("postgres: snapshot plots: %w", err)
	}

	if err := scanAll(ctx, s.pool, `SELECT id, scientific_name, common_name FROM species`, func(rows rowScanner) error {
		var v metadata.Species
		if err := rows.Scan(&v.ID, &v.ScientificName, &v.CommonName); err != nil {
			return err
		}
		snap.Species = append(snap.Species, v)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("postgres: snapshot species: %w", err)
	}

	if err := scanAll(ctx, s.pool, `SELECT id, plot_id, species_id, code FROM plants`, func(rows rowScanner) error {
		var v metadata.Plant
		if err := rows.Scan(&v.ID, &v.PlotID, &v.SpeciesID, &v.Code); err != nil {
			return err
		}
		snap.Plants = append(snap.Plants, v)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("postgres: snapshot plants: %w", err)
	}

	if err := scanAll(ctx, s.pool, `SELECT id, plant_id, code, diameter_mm FROM stems`, func(rows rowScanner) error {
		var v metadata.Stem
		if err := rows.Scan(&v.ID, &v.PlantID, &v.Code, &v.Diameter); err != nil {
			return err
		}
		snap.Stems = append(snap.Stems, v)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("postgres: snapshot stems: %w", err)
	}

	if err := scanAll(ctx, s.pool, `SELECT id, model FROM datalogger_types`, func(rows rowScanner) error {
		var v metadata.DataloggerType
		if err := rows.Scan(&v.ID, &v.Model); err != nil {
			return err
		}
		snap.DataloggerTypes = append(snap.DataloggerTypes, v)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("postgres: snapshot datalogger types: %w", err)
	}

	if err := scanAll(ctx, s.pool, `SELECT id, datalogger_type_id, code FROM dataloggers`, func(rows rowScanner) error {
		var v metadata.Datalogger
		if err := rows.Scan(&v.ID, &v.DataloggerTypeID, &v.Code); err != nil {
			return err
		}
		snap.Dataloggers = append(snap.Dataloggers, v)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("postgres: snapshot dataloggers: %w", err)
	}

	if err := scanAll(ctx, s.pool, `SELECT id, alias, datalogger_id, start_utc, end_utc FROM datalogger_aliases`, func(rows rowScanner) error {
		var v metadata.DataloggerAlias
		if err := rows.Scan(&v.ID, &v.Alias, &v.DataloggerID, &v.Interval.Start, &v.Interval.End); err != nil {
			return err
		}
		snap.DataloggerAliases = append(snap.DataloggerAliases, v)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("postgres: snapshot datalogger aliases: %w", err)
	}

	if err := scanAll(ctx, s.pool, `SELECT id, name FROM sensor_types`, func(rows rowScanner) error {
		var v metadata.SensorType
		if err := rows.Scan(&v.ID, &v.Name); err != nil {
			return err
		}
		snap.SensorTypes = append(snap.SensorTypes, v)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("postgres: snapshot sensor types: %w", err)
	}

	if err := scanAll(ctx, s.pool, `SELECT id, sensor_type_id, name, depth_mm FROM sensor_thermistor_pairs`, func(rows rowScanner) error {
		var v metadata.SensorThermistorPair
		if err := rows.Scan(&v.ID, &v.SensorTypeID, &v.Name, &v.DepthMM); err != nil {
			return err
		}
		snap.ThermistorPairs = append(snap.ThermistorPairs, v)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("postgres: snapshot thermistor pairs: %w", err)
	}

	if err := scanAll(ctx, s.pool, `
		SELECT id, stem_id, datalogger_id, sensor_type_id, sdi12_address,
		       start_utc, end_utc, notes, include_in_pipeline
		FROM deployments`, func(rows rowScanner) error {
		var v metadata.Deployment
		if err := rows.Scan(&v.ID, &v.StemID, &v.DataloggerID, &v.SensorTypeID, &v.SDI12Address,
			&v.Interval.Start, &v.Interval.End, &v.Notes, &v.IncludeInPipeline); err != nil {
			return err
		}
		snap.Deployments = append(snap.Deployments, v)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("postgres: snapshot deployments: %w", err)
	}

	overrides, err := loadOverrides(ctx, s.pool)
	if err != nil {
		return nil, fmt.Errorf("postgres: snapshot overrides: %w", err)
	}
	snap.Overrides = overrides

	if err := scanAll(ctx, s.pool, `SELECT hash FROM raw_files`, func(rows rowScanner) error {
		var h string
		if err := rows.Scan(&h); err != nil {
			return err
		}
		snap.RawFileHashes = append(snap.RawFileHashes, h)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("postgres: snapshot raw file hashes: %w", err)
	}

	return snap, nil
}

// ReferencedBlobKeys returns every blob key the committed store currently
// points to, for the garbage collector to reconcile against
// the object store's actual key listing.
func (s *Store) ReferencedBlobKeys(ctx context.Context) ([]string, []string, error) {
	var rawHashes []string
	if err := scanAll(ctx, s.pool, `SELECT hash FROM raw_files`, func(rows rowScanner) error {
		var h string
		if err := rows.Scan(&h); err != nil {
			return err
		}
		rawHashes = append(rawHashes, h)
		return nil
	}); err != nil {
		return nil, nil, fmt.Errorf("postgres: list referenced raw files: %w", err)
	}

	var outputIDs []string
	if err := scanAll(ctx, s.pool, `SELECT id FROM outputs`, func(rows rowScanner) error {
		var id string
		if err := rows.Scan(&id); err != nil {
			return err
		}
		outputIDs = append(outputIDs, id)
		return nil
	}); err != nil {
		return nil, nil, fmt.Errorf("postgres: list referenced outputs: %w", err)
	}

	return rawHashes, outputIDs, nil
}

// rowScanner is the subset of pgx.Rows that scanAll's callback needs.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanAll runs query and calls scan once per row, closing rows and
// propagating both scan errors and the final rows.Err().
func scanAll(ctx context.Context, q querier, query string, scan func(rowScanner) error) error {
	rows, err := q.Query(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}
