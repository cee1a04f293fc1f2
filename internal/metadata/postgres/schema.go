package postgres

// Schema is the full DDL for the metadata store. Postgres specifically:
// range-exclusion constraints (btree_gist) and advisory locks are native
// here, and both are load-bearing for alias/deployment intervals and the
// transaction queue.
const Schema = `
CREATE EXTENSION IF NOT EXISTS btree_gist;

CREATE TABLE IF NOT EXISTS projects (
    id   TEXT PRIMARY KEY,
    name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS sites (
    id         TEXT PRIMARY KEY,
    project_id TEXT NOT NULL REFERENCES projects(id),
    name       TEXT NOT NULL,
    timezone   TEXT NOT NULL,
    boundary_gj JSONB,
    UNIQUE (project_id, name)
);

CREATE TABLE IF NOT EXISTS zones (
    id      TEXT PRIMARY KEY,
    site_id TEXT NOT NULL REFERENCES sites(id),
    name    TEXT NOT NULL,
    boundary_gj JSONB,
    UNIQUE (site_id, name)
);

CREATE TABLE IF NOT EXISTS plots (
    id      TEXT PRIMARY KEY,
    zone_id TEXT NOT NULL REFERENCES zones(id),
    name    TEXT NOT NULL,
    boundary_gj JSONB,
    UNIQUE (zone_id, name)
);

CREATE TABLE IF NOT EXISTS species (
    id              TEXT PRIMARY KEY,
    scientific_name TEXT NOT NULL UNIQUE,
    common_name     TEXT
);

CREATE TABLE IF NOT EXISTS plants (
    id         TEXT PRIMARY KEY,
    plot_id    TEXT NOT NULL REFERENCES plots(id),
    species_id TEXT NOT NULL REFERENCES species(id),
    code       TEXT NOT NULL,
    UNIQUE (plot_id, code)
);

CREATE TABLE IF NOT EXISTS stems (
    id       TEXT PRIMARY KEY,
    plant_id TEXT NOT NULL REFERENCES plants(id),
    code     TEXT NOT NULL,
    diameter_mm DOUBLE PRECISION,
    UNIQUE (plant_id, code)
);

CREATE TABLE IF NOT EXISTS datalogger_types (
    id    TEXT PRIMARY KEY,
    model TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS dataloggers (
    id                  TEXT PRIMARY KEY,
    datalogger_type_id  TEXT NOT NULL REFERENCES datalogger_types(id),
    code                TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS datalogger_aliases (
    id            TEXT PRIMARY KEY,
    alias         TEXT NOT NULL,
    datalogger_id TEXT NOT NULL REFERENCES dataloggers(id),
    start_utc     TIMESTAMPTZ NOT NULL,
    end_utc       TIMESTAMPTZ,
    span          TSTZRANGE NOT NULL GENERATED ALWAYS AS (
                      tstzrange(start_utc, end_utc, '[)')
                  ) STORED,
    -- Non-overlapping AND non-adjacent per alias string: the
    -- canonicalized range type already forbids touching boundaries being
    -- treated as "no conflict", because tstzrange with '[)' bounds that
    -- share an edge are adjacent-but-disjoint in the math sense yet must
    -- still be rejected here, so adjacency is checked explicitly in Go
    -- (preflight) before this constraint is ever exercised at apply time;
    -- the constraint below is the storage-layer backstop for overlap.
    CONSTRAINT datalogger_aliases_no_overlap
        EXCLUDE USING gist (alias WITH =, span WITH &&)
);

CREATE TABLE IF NOT EXISTS sensor_types (
    id   TEXT PRIMARY KEY,
    name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS sensor_thermistor_pairs (
    id             TEXT PRIMARY KEY,
    sensor_type_id TEXT NOT NULL REFERENCES sensor_types(id),
    name           TEXT NOT NULL,
    depth_mm       DOUBLE PRECISION NOT NULL,
    UNIQUE (sensor_type_id, name)
);

CREATE TABLE IF NOT EXISTS deployments (
    id              TEXT PRIMARY KEY,
    stem_id         TEXT NOT NULL REFERENCES stems(id),
    datalogger_id   TEXT NOT NULL REFERENCES dataloggers(id),
    sensor_type_id  TEXT NOT NULL REFERENCES sensor_types(id),
    sdi12_address   CHAR(1) NOT NULL,
    start_utc       TIMESTAMPTZ NOT NULL,
    end_utc         TIMESTAMPTZ,
    span            TSTZRANGE NOT NULL GENERATED ALWAYS AS (
                         tstzrange(start_utc, end_utc, '[)')
                     ) STORED,
    notes           TEXT,
    installation_metadata JSONB,
    include_in_pipeline   BOOLEAN NOT NULL DEFAULT TRUE,
    CONSTRAINT deployments_sdi12_alnum CHECK (sdi12_address ~ '^[0-9A-Za-z]$'),
    -- Non-overlapping per (datalogger, sdi12); adjacency permitted.
    CONSTRAINT deployments_no_overlap
        EXCLUDE USING gist (datalogger_id WITH =, sdi12_address WITH =, span WITH &&)
);

CREATE TABLE IF NOT EXISTS parameter_overrides (
    id              TEXT PRIMARY KEY,
    parameter_code  TEXT NOT NULL,
    scope           TEXT NOT NULL,
    scope_entity_id TEXT NOT NULL DEFAULT '',
    value_float     DOUBLE PRECISION,
    value_int       BIGINT,
    value_string    TEXT,
    effective_transaction_id TEXT NOT NULL,
    UNIQUE (parameter_code, scope, scope_entity_id)
);

CREATE TABLE IF NOT EXISTS raw_files (
    hash                     TEXT PRIMARY KEY,
    original_upload_path     TEXT NOT NULL,
    ingesting_transaction_id TEXT NOT NULL,
    created_at               TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS transactions (
    id         TEXT PRIMARY KEY,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    message    TEXT NOT NULL,
    outcome    TEXT NOT NULL CHECK (outcome IN ('PENDING','ACCEPTED','REJECTED')),
    receipt    JSONB NOT NULL DEFAULT '{}'::jsonb
);

CREATE TABLE IF NOT EXISTS runs (
    id                        TEXT PRIMARY KEY,
    transaction_id            TEXT NOT NULL REFERENCES transactions(id),
    pipeline_code_identifier  TEXT NOT NULL,
    status                    TEXT NOT NULL CHECK (status IN ('SUCCESS','FAILED')),
    started_at                TIMESTAMPTZ NOT NULL,
    finished_at               TIMESTAMPTZ NOT NULL,
    source_revision           TEXT NOT NULL,
    summary                   JSONB NOT NULL DEFAULT '{}'::jsonb
);

CREATE TABLE IF NOT EXISTS outputs (
    id            TEXT PRIMARY KEY,
    run_id        TEXT NOT NULL REFERENCES runs(id),
    parquet_key   TEXT NOT NULL,
    cartridge_key TEXT NOT NULL,
    is_latest     BOOLEAN NOT NULL DEFAULT FALSE
);

-- At most one output has is_latest = true.
CREATE UNIQUE INDEX IF NOT EXISTS outputs_one_latest
    ON outputs ((is_latest)) WHERE is_latest;
`

// QueueLockKey is the constant advisory-lock key serializing transaction
// execution. Picked arbitrarily but fixed.
const QueueLockKey int64 = 0x5350465578 // "SPFUx" in hex, distinctive and stable
