package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

const (
	// IndexSchemaVersion is the latest index database schema version
	IndexSchemaVersion = "1.1.0"
	// SourceSchemaVersion is the latest record database schema version
	SourceSchemaVersion = "1.0.0"
)

// Migration represents a database schema migration
type Migration struct {
	Version string
	Up      string
	Down    string
}

// IndexMigrations contains the index database migrations in order
var IndexMigrations = []Migration{
	{
		Version: "1.0.0",
		Up:      indexV1Up,
		Down:    indexV1Down,
	},
	{
		Version: "1.1.0",
		Up:      indexV11Up,
		Down:    indexV11Down,
	},
}

// SourceMigrations contains the record database migrations in order
var SourceMigrations = []Migration{
	{
		Version: "1.0.0",
		Up:      sourceV1Up,
		Down:    sourceV1Down,
	},
}

const schemaVersionTable = `
CREATE TABLE IF NOT EXISTS schema_version (
    version TEXT PRIMARY KEY,
    applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

const indexV1Up = `
-- Indexed documents; the FTS table below reads its content from here
CREATE TABLE IF NOT EXISTS documents (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    type_name TEXT NOT NULL,
    doc_id TEXT NOT NULL,
    title TEXT NOT NULL DEFAULT '',
    body TEXT NOT NULL DEFAULT '',
    content_hash INTEGER NOT NULL,
    indexed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(type_name, doc_id)
);

CREATE INDEX IF NOT EXISTS idx_documents_type ON documents(type_name);

-- External content FTS5 table, only rebuilt on commit so that documents
-- become searchable all at once
CREATE VIRTUAL TABLE IF NOT EXISTS documents_fts USING fts5(
    title,
    body,
    content='documents',
    content_rowid='id'
);
`

const indexV1Down = `
DROP TABLE IF EXISTS documents_fts;
DROP TABLE IF EXISTS documents;
`

const indexV11Up = `
-- Commit log
CREATE TABLE IF NOT EXISTS commits (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    documents INTEGER NOT NULL,
    committed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

const indexV11Down = `
DROP TABLE IF EXISTS commits;
`

const sourceV1Up = `
-- System of record
CREATE TABLE IF NOT EXISTS records (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    type_name TEXT NOT NULL,
    title TEXT NOT NULL DEFAULT '',
    body TEXT NOT NULL DEFAULT '',
    attrs TEXT NOT NULL DEFAULT '{}',
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_records_type ON records(type_name, id);
`

const sourceV1Down = `
DROP TABLE IF EXISTS records;
`

// currentVersion returns the latest applied version, 0.0.0 when none.
func currentVersion(ctx context.Context, db *sql.DB) (*semver.Version, error) {
	if _, err := db.ExecContext(ctx, schemaVersionTable); err != nil {
		return nil, fmt.Errorf("failed to create schema_version table: %w", err)
	}

	var v string
	err := db.QueryRowContext(ctx, "SELECT version FROM schema_version ORDER BY rowid DESC LIMIT 1").Scan(&v)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && v == "") {
		return semver.MustParse("0.0.0"), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read schema_version: %w", err)
	}

	version, err := semver.NewVersion(v)
	if err != nil {
		return nil, fmt.Errorf("invalid current schema version %s: %w", v, err)
	}
	return version, nil
}

// SchemaVersion returns the latest applied migration version.
func SchemaVersion(ctx context.Context, db *sql.DB) (string, error) {
	v, err := currentVersion(ctx, db)
	if err != nil {
		return "", err
	}
	return v.String(), nil
}

// ApplyMigrations runs every migration newer than the applied version
func ApplyMigrations(ctx context.Context, db *sql.DB, migrations []Migration) error {
	current, err := currentVersion(ctx, db)
	if err != nil {
		return err
	}

	for _, migration := range migrations {
		version, err := semver.NewVersion(migration.Version)
		if err != nil {
			return fmt.Errorf("invalid migration version %s: %w", migration.Version, err)
		}
		if !current.LessThan(version) {
			continue // Already applied
		}

		if _, err := db.ExecContext(ctx, migration.Up); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Version, err)
		}
		if _, err := db.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", migration.Version); err != nil {
			return fmt.Errorf("failed to record migration %s: %w", migration.Version, err)
		}
		current = version
	}

	return nil
}

// RollbackMigration rolls back the most recent migration. It returns
// sql.ErrNoRows when nothing is applied.
func RollbackMigration(ctx context.Context, db *sql.DB, migrations []Migration) error {
	var version string
	err := db.QueryRowContext(ctx, "SELECT version FROM schema_version ORDER BY rowid DESC LIMIT 1").Scan(&version)
	if err != nil {
		return fmt.Errorf("no migrations to rollback: %w", err)
	}

	var migration *Migration
	for i := range migrations {
		if migrations[i].Version == version {
			migration = &migrations[i]
			break
		}
	}
	if migration == nil {
		return fmt.Errorf("migration %s not found", version)
	}

	if _, err := db.ExecContext(ctx, migration.Down); err != nil {
		return fmt.Errorf("failed to rollback migration %s: %w", version, err)
	}
	if _, err := db.ExecContext(ctx, "DELETE FROM schema_version WHERE version = ?", version); err != nil {
		return fmt.Errorf("failed to remove migration record %s: %w", version, err)
	}
	return nil
}

// ResetSchema rolls back every applied migration and applies them again.
func ResetSchema(ctx context.Context, db *sql.DB, migrations []Migration) error {
	if _, err := currentVersion(ctx, db); err != nil {
		return err
	}
	for {
		err := RollbackMigration(ctx, db, migrations)
		if errors.Is(err, sql.ErrNoRows) {
			break
		}
		if err != nil {
			return err
		}
	}
	return ApplyMigrations(ctx, db, migrations)
}
