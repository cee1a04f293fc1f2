package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sapflux-io/pipeline/internal/metadata"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, so read queries
// (the Resolver methods) work identically whether called on the top-level
// Store (committed state) or inside an open Tx (mid-transaction reads of
// just-applied metadata), per metadata.Resolver's contract.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// resolveDatalogger implements metadata.Resolver.ResolveDatalogger against
// any querier: direct code match first, else exactly one alias interval
// containing timestamp.
func resolveDatalogger(ctx context.Context, q querier, rawLoggerID string, timestamp time.Time) (string, error) {
	var directID string
	err := q.QueryRow(ctx, `SELECT id FROM dataloggers WHERE code = $1`, rawLoggerID).Scan(&directID)
	if err == nil {
		// A direct code match still must not simultaneously be claimed by an
		// alias at this instant — that would be an unresolvable ambiguity.
		var aliasCount int
		if err := q.QueryRow(ctx, `
			SELECT count(*) FROM datalogger_aliases
			WHERE alias = $1 AND span @> $2::timestamptz`,
			rawLoggerID, timestamp).Scan(&aliasCount); err != nil {
			return "", fmt.Errorf("postgres: check alias conflict: %w", err)
		}
		if aliasCount > 0 {
			return "", fmt.Errorf("postgres: ambiguous datalogger resolution for %q at %s: both a direct code and an alias match", rawLoggerID, timestamp)
		}
		return directID, nil
	}
	if err != pgx.ErrNoRows {
		return "", fmt.Errorf("postgres: resolve datalogger code: %w", err)
	}

	rows, err := q.Query(ctx, `
		SELECT datalogger_id FROM datalogger_aliases
		WHERE alias = $1 AND span @> $2::timestamptz`,
		rawLoggerID, timestamp)
	if err != nil {
		return "", fmt.Errorf("postgres: resolve datalogger alias: %w", err)
	}
	defer rows.Close()

	var matches []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return "", fmt.Errorf("postgres: scan alias match: %w", err)
		}
		matches = append(matches, id)
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("postgres: iterate alias matches: %w", err)
	}

	switch len(matches) {
	case 0:
		return "", fmt.Errorf("postgres: no datalogger code or alias %q resolves at %s", rawLoggerID, timestamp)
	case 1:
		return matches[0], nil
	default:
		return "", fmt.Errorf("postgres: ambiguous alias %q at %s: %d candidate dataloggers", rawLoggerID, timestamp, len(matches))
	}
}

// loadExecutionContext implements metadata.Resolver.LoadExecutionContext.
func loadExecutionContext(ctx context.Context, q querier) (*metadata.ExecutionContext, error) {
	ec := &metadata.ExecutionContext{}

	depRows, err := q.Query(ctx, `
		SELECT d.id, d.stem_id, d.datalogger_id, d.sensor_type_id, d.sdi12_address,
		       d.start_utc, d.end_utc, d.notes, d.installation_metadata, d.include_in_pipeline,
		       st.plant_id, pl.plot_id, po.zone_id, zo.site_id, si.project_id, pl.species_id, si.timezone
		FROM deployments d
		JOIN stems st ON st.id = d.stem_id
		JOIN plants pl ON pl.id = st.plant_id
		JOIN plots po ON po.id = pl.plot_id
		JOIN zones zo ON zo.id = po.zone_id
		JOIN sites si ON si.id = zo.site_id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load deployments: %w", err)
	}
	defer depRows.Close()

	for depRows.Next() {
		var dc metadata.DeploymentContext
		var dep metadata.Deployment
		var installJSON []byte
		if err := depRows.Scan(
			&dep.ID, &dep.StemID, &dep.DataloggerID, &dep.SensorTypeID, &dep.SDI12Address,
			&dep.Interval.Start, &dep.Interval.End, &dep.Notes, &installJSON, &dep.IncludeInPipeline,
			&dc.PlantID, &dc.PlotID, &dc.ZoneID, &dc.SiteID, &dc.ProjectID, &dc.SpeciesID, &dc.Timezone,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan deployment context: %w", err)
		}
		if len(installJSON) > 0 {
			_ = json.Unmarshal(installJSON, &dep.InstallationMetadata)
		}
		dc.Deployment = dep
		dc.StemID = dep.StemID
		ec.Deployments = append(ec.Deployments, dc)
	}
	if err := depRows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate deployments: %w", err)
	}

	aliasRows, err := q.Query(ctx, `SELECT id, alias, datalogger_id, start_utc, end_utc FROM datalogger_aliases`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load aliases: %w", err)
	}
	defer aliasRows.Close()
	for aliasRows.Next() {
		var a metadata.DataloggerAlias
		if err := aliasRows.Scan(&a.ID, &a.Alias, &a.DataloggerID, &a.Interval.Start, &a.Interval.End); err != nil {
			return nil, fmt.Errorf("postgres: scan alias: %w", err)
		}
		ec.Aliases = append(ec.Aliases, a)
	}
	if err := aliasRows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate aliases: %w", err)
	}

	dlRows, err := q.Query(ctx, `SELECT id, datalogger_type_id, code FROM dataloggers`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load dataloggers: %w", err)
	}
	defer dlRows.Close()
	for dlRows.Next() {
		var d metadata.Datalogger
		if err := dlRows.Scan(&d.ID, &d.DataloggerTypeID, &d.Code); err != nil {
			return nil, fmt.Errorf("postgres: scan datalogger: %w", err)
		}
		ec.Dataloggers = append(ec.Dataloggers, d)
	}
	if err := dlRows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate dataloggers: %w", err)
	}

	siteRows, err := q.Query(ctx, `SELECT id, project_id, name, timezone, boundary_gj FROM sites`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load sites: %w", err)
	}
	defer siteRows.Close()
	for siteRows.Next() {
		var s metadata.Site
		if err := siteRows.Scan(&s.ID, &s.ProjectID, &s.Name, &s.Timezone, &s.BoundaryGJ); err != nil {
			return nil, fmt.Errorf("postgres: scan site: %w", err)
		}
		ec.Sites = append(ec.Sites, s)
	}
	if err := siteRows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate sites: %w", err)
	}

	overrides, err := loadOverrides(ctx, q)
	if err != nil {
		return nil, err
	}
	ec.Overrides = overrides

	return ec, nil
}

func loadOverrides(ctx context.Context, q querier) ([]metadata.ParameterOverride, error) {
	rows, err := q.Query(ctx, `
		SELECT id, parameter_code, scope, scope_entity_id, value_float, value_int, value_string, effective_transaction_id
		FROM parameter_overrides`)
	if err != nil {
		return nil, fmt.Errorf("postgres: load parameter overrides: %w", err)
	}
	defer rows.Close()

	var out []metadata.ParameterOverride
	for rows.Next() {
		var o metadata.ParameterOverride
		var scope string
		if err := rows.Scan(&o.ID, &o.ParameterCode, &scope, &o.ScopeEntityID,
			&o.ValueFloat, &o.ValueInt, &o.ValueString, &o.EffectiveTransactionID); err != nil {
			return nil, fmt.Errorf("postgres: scan parameter override: %w", err)
		}
		o.Scope = metadata.ParameterScope(scope)
		out = append(out, o)
	}
	return out, rows.Err()
}
