package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// UpsertParameter writes a sealed parameter value. The deployment must be
// a registered repository name; an unknown deployment fails with
// ErrNotFound via the foreign-key constraint.
func UpsertParameter(tx *sql.Tx, deployment, name string, sealed []byte) error {
	_, err := tx.Exec(
		`INSERT INTO parameters (deployment, name, value, updated_at)
		 VALUES (?, ?, ?, CAST(strftime('%s','now') AS INTEGER))
		 ON CONFLICT(deployment, name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at;`,
		deployment, name, sealed,
	)
	if err != nil && isForeignKeyError(err) {
		return fmt.Errorf("deployment %q %w (run: dockhand repo add ...)", deployment, ErrNotFound)
	}
	return err
}

// GetParameterValue returns the sealed value for a parameter.
func (s *Store) GetParameterValue(ctx context.Context, deployment, name string) ([]byte, error) {
	var sealed []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM parameters WHERE deployment = ? AND name = ?;`,
		deployment, name,
	).Scan(&sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("parameter %s/%s %w", deployment, name, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return sealed, nil
}

// ListParameterNames returns parameter names for a deployment, ordered.
func (s *Store) ListParameterNames(ctx context.Context, deployment string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM parameters WHERE deployment = ? ORDER BY name;`, deployment)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func isForeignKeyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
