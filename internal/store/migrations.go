package store

import (
	"database/sql"
	"fmt"
)

// Migration is a single versioned schema change.
type Migration struct {
	Version     int
	Description string
	Up          string
}

// Migrations is the ordered, append-only list of schema migrations.
// Never modify an existing entry; always append with the next version.
var Migrations = []Migration{
	{
		Version:     1,
		Description: "Initial schema: repositories, parameters, deployments",
		Up: `
CREATE TABLE IF NOT EXISTS repositories (
	name TEXT PRIMARY KEY,
	url TEXT NOT NULL,
	branch TEXT NOT NULL,
	public_key TEXT NOT NULL,
	private_key BLOB NOT NULL,
	last_commit TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL DEFAULT (CAST(strftime('%s','now') AS INTEGER))
);

CREATE TABLE IF NOT EXISTS parameters (
	deployment TEXT NOT NULL,
	name TEXT NOT NULL,
	value BLOB NOT NULL,
	updated_at INTEGER NOT NULL DEFAULT (CAST(strftime('%s','now') AS INTEGER)),
	PRIMARY KEY (deployment, name),
	FOREIGN KEY (deployment) REFERENCES repositories(name) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS deployments (
	name TEXT PRIMARY KEY,
	content_hash TEXT NOT NULL DEFAULT '',
	container_id TEXT NOT NULL DEFAULT '',
	health TEXT NOT NULL DEFAULT 'unknown',
	created_at INTEGER NOT NULL DEFAULT (CAST(strftime('%s','now') AS INTEGER)),
	updated_at INTEGER NOT NULL DEFAULT (CAST(strftime('%s','now') AS INTEGER)),
	FOREIGN KEY (name) REFERENCES repositories(name) ON DELETE CASCADE
);
`,
	},
	{
		Version:     2,
		Description: "Track last reconcile error per deployment",
		Up: `
ALTER TABLE deployments ADD COLUMN last_error TEXT;
ALTER TABLE deployments ADD COLUMN last_error_at INTEGER;
`,
	},
}

// CurrentSchemaVersion returns the latest migration version.
func CurrentSchemaVersion() int {
	if len(Migrations) == 0 {
		return 0
	}
	return Migrations[len(Migrations)-1].Version
}

// migrateDB applies all pending migrations, each in its own transaction.
func migrateDB(db *sql.DB) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at INTEGER NOT NULL DEFAULT (CAST(strftime('%s','now') AS INTEGER))
		);
	`); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	var currentVersion int
	if err := db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations;`).Scan(&currentVersion); err != nil {
		return fmt.Errorf("get current schema version: %w", err)
	}

	for _, m := range Migrations {
		if m.Version <= currentVersion {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction for migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.Up); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			`INSERT INTO schema_migrations (version, description) VALUES (?, ?);`,
			m.Version, m.Description,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the schema version recorded in the database, or 0
// for a database that has never been migrated.
func (s *Store) SchemaVersion() (int, error) {
	var exists int
	err := s.db.QueryRow(
		`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_migrations';`,
	).Scan(&exists)
	if err != nil {
		return 0, err
	}
	if exists == 0 {
		return 0, nil
	}

	var version int
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_migrations;`).Scan(&version); err != nil {
		return 0, err
	}
	return version, nil
}
