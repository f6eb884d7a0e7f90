package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"
)

const (
	// CurrentSchemaVersion tracks the database schema version
	CurrentSchemaVersion = "1.1.0"
)

// Migration represents a database schema migration
type Migration struct {
	Version string
	Up      string
	Down    string
}

// SQLiteMigrations contains the SQLite schema migrations in order
var SQLiteMigrations = []Migration{
	{
		Version: "1.0.0",
		Up:      sqliteCatalogUp,
		Down:    sqliteCatalogDown,
	},
	{
		Version: "1.1.0",
		Up:      sqliteFeedbackUp,
		Down:    sqliteFeedbackDown,
	},
}

const sqliteCatalogUp = `
-- Products table
CREATE TABLE IF NOT EXISTS products (
    headcode TEXT PRIMARY KEY,
    product_name TEXT NOT NULL,
    category TEXT,
    sub_category TEXT,
    material_primary TEXT,
    project TEXT,
    project_id TEXT,
    unit TEXT,
    image_url TEXT,
    description_embedding BLOB,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_products_category ON products(category);

-- Materials table
CREATE TABLE IF NOT EXISTS materials (
    id_sap TEXT PRIMARY KEY,
    material_name TEXT NOT NULL,
    material_group TEXT,
    material_subgroup TEXT,
    unit TEXT,
    image_url TEXT,
    material_subprice TEXT,
    description_embedding BLOB,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_materials_group ON materials(material_group);

-- Product to material association with quantities
CREATE TABLE IF NOT EXISTS product_materials (
    product_headcode TEXT NOT NULL,
    material_id_sap TEXT NOT NULL,
    quantity REAL NOT NULL DEFAULT 0,
    unit TEXT,
    PRIMARY KEY (product_headcode, material_id_sap),
    FOREIGN KEY (product_headcode) REFERENCES products(headcode) ON DELETE CASCADE,
    FOREIGN KEY (material_id_sap) REFERENCES materials(id_sap) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_product_materials_material ON product_materials(material_id_sap);
`

const sqliteCatalogDown = `
DROP TABLE IF EXISTS product_materials;
DROP TABLE IF EXISTS materials;
DROP TABLE IF EXISTS products;
`

const sqliteFeedbackUp = `
-- Interaction history used for personalization
CREATE TABLE IF NOT EXISTS user_preferences (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    session_id TEXT NOT NULL,
    entity_kind TEXT NOT NULL,
    entity_code TEXT NOT NULL,
    product_vector BLOB,
    interaction_type TEXT NOT NULL,
    weight REAL NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_user_preferences_session ON user_preferences(session_id, created_at);

-- Explicit selections keyed by query embedding
CREATE TABLE IF NOT EXISTS user_feedback (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    query TEXT NOT NULL,
    query_embedding BLOB,
    search_type TEXT NOT NULL,
    selected_items TEXT NOT NULL DEFAULT '[]',
    rejected_items TEXT NOT NULL DEFAULT '[]',
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_user_feedback_type ON user_feedback(search_type);
`

const sqliteFeedbackDown = `
DROP TABLE IF EXISTS user_feedback;
DROP TABLE IF EXISTS user_preferences;
`

// PostgresMigrations returns the pgvector schema for the given dimension
func PostgresMigrations(dimension int) []Migration {
	return []Migration{
		{
			Version: "1.0.0",
			Up: fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS products (
    headcode TEXT PRIMARY KEY,
    product_name TEXT NOT NULL,
    category TEXT,
    sub_category TEXT,
    material_primary TEXT,
    project TEXT,
    project_id TEXT,
    unit TEXT,
    image_url TEXT,
    description_embedding vector(%[1]d),
    created_at TIMESTAMPTZ DEFAULT NOW(),
    updated_at TIMESTAMPTZ DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS materials (
    id_sap TEXT PRIMARY KEY,
    material_name TEXT NOT NULL,
    material_group TEXT,
    material_subgroup TEXT,
    unit TEXT,
    image_url TEXT,
    material_subprice TEXT,
    description_embedding vector(%[1]d),
    created_at TIMESTAMPTZ DEFAULT NOW(),
    updated_at TIMESTAMPTZ DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS product_materials (
    product_headcode TEXT NOT NULL REFERENCES products(headcode) ON DELETE CASCADE,
    material_id_sap TEXT NOT NULL REFERENCES materials(id_sap) ON DELETE CASCADE,
    quantity DOUBLE PRECISION NOT NULL DEFAULT 0,
    unit TEXT,
    PRIMARY KEY (product_headcode, material_id_sap)
);

CREATE INDEX IF NOT EXISTS idx_product_materials_material ON product_materials(material_id_sap);
`, dimension),
			Down: `
DROP TABLE IF EXISTS product_materials;
DROP TABLE IF EXISTS materials;
DROP TABLE IF EXISTS products;
`,
		},
		{
			Version: "1.1.0",
			Up: fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS user_preferences (
    seq BIGSERIAL PRIMARY KEY,
    id TEXT NOT NULL UNIQUE,
    session_id TEXT NOT NULL,
    entity_kind TEXT NOT NULL,
    entity_code TEXT NOT NULL,
    product_vector vector(%[1]d),
    interaction_type TEXT NOT NULL,
    weight DOUBLE PRECISION NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_user_preferences_session ON user_preferences(session_id, created_at DESC);

CREATE TABLE IF NOT EXISTS user_feedback (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    query TEXT NOT NULL,
    query_embedding vector(%[1]d),
    search_type TEXT NOT NULL,
    selected_items TEXT NOT NULL DEFAULT '[]',
    rejected_items TEXT NOT NULL DEFAULT '[]',
    created_at TIMESTAMPTZ NOT NULL
);
`, dimension),
			Down: `
DROP TABLE IF EXISTS user_feedback;
DROP TABLE IF EXISTS user_preferences;
`,
		},
	}
}

const createVersionTable = `
CREATE TABLE IF NOT EXISTS schema_version (
    version TEXT PRIMARY KEY,
    applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`

// appliedVersions returns the recorded versions in ascending semver order
func appliedVersions(ctx context.Context, q querier) ([]*semver.Version, error) {
	rows, err := q.QueryContext(ctx, "SELECT version FROM schema_version")
	if err != nil {
		return nil, fmt.Errorf("failed to read schema_version: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var versions []*semver.Version
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		v, err := semver.NewVersion(s)
		if err != nil {
			return nil, fmt.Errorf("invalid recorded schema version %s: %w", s, err)
		}
		versions = append(versions, v)
	}
	sort.Sort(semver.Collection(versions))
	return versions, rows.Err()
}

// currentVersion returns the newest applied version, or "" when unknown
func currentVersion(ctx context.Context, q querier) string {
	versions, err := appliedVersions(ctx, q)
	if err != nil || len(versions) == 0 {
		return ""
	}
	return versions[len(versions)-1].Original()
}

// applyMigrations runs all pending migrations
func applyMigrations(ctx context.Context, db *sql.DB, d dialect, migrations []Migration) error {
	if _, err := db.ExecContext(ctx, createVersionTable); err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return err
	}
	current := semver.MustParse("0.0.0")
	if len(applied) > 0 {
		current = applied[len(applied)-1]
	}

	for _, migration := range migrations {
		migrationVersion, err := semver.NewVersion(migration.Version)
		if err != nil {
			return fmt.Errorf("invalid migration version %s: %w", migration.Version, err)
		}

		if !current.LessThan(migrationVersion) {
			continue
		}

		if _, err := db.ExecContext(ctx, migration.Up); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}

		if _, err := db.ExecContext(ctx, d.rebind("INSERT INTO schema_version (version) VALUES (?)"), migration.Version); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", migration.Version, err)
		}

		current = migrationVersion
	}

	return nil
}

// rollbackMigration rolls back the most recent migration
func rollbackMigration(ctx context.Context, db *sql.DB, d dialect, migrations []Migration) (string, error) {
	version := currentVersion(ctx, db)
	if version == "" {
		return "", fmt.Errorf("no migrations to rollback")
	}

	var migration *Migration
	for i := range migrations {
		if migrations[i].Version == version {
			migration = &migrations[i]
			break
		}
	}
	if migration == nil {
		return "", fmt.Errorf("migration %s not found", version)
	}

	if _, err := db.ExecContext(ctx, migration.Down); err != nil {
		return "", fmt.Errorf("failed to rollback migration %s: %w", version, err)
	}

	if _, err := db.ExecContext(ctx, d.rebind("DELETE FROM schema_version WHERE version = ?"), version); err != nil {
		return "", fmt.Errorf("failed to remove migration record %s: %w", version, err)
	}

	return version, nil
}
