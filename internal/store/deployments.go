package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Health is the reconciliation health of a deployment.
type Health string

const (
	HealthUnknown   Health = "unknown"
	HealthHealthy   Health = "healthy"
	HealthUnhealthy Health = "unhealthy"
	HealthFailed    Health = "failed"
)

// Deployment tracks the reconciled state of one repository: the commit it
// was last deployed at, the container backing it, and its health.
type Deployment struct {
	Name        string
	ContentHash string
	ContainerID string
	Health      Health
	LastError   string
	LastErrorAt time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// UpsertDeployment creates or updates a deployment row after a
// reconciliation cycle, clearing any recorded error.
func UpsertDeployment(tx *sql.Tx, d *Deployment) error {
	_, err := tx.Exec(`
		INSERT INTO deployments (name, content_hash, container_id, health, updated_at)
		VALUES (?, ?, ?, ?, CAST(strftime('%s','now') AS INTEGER))
		ON CONFLICT(name) DO UPDATE SET
			content_hash = excluded.content_hash,
			container_id = excluded.container_id,
			health = excluded.health,
			updated_at = excluded.updated_at,
			last_error = NULL,
			last_error_at = NULL;`,
		d.Name, d.ContentHash, d.ContainerID, string(d.Health),
	)
	return err
}

// SetDeploymentHealth updates only the health column.
func SetDeploymentHealth(tx *sql.Tx, name string, health Health) error {
	_, err := tx.Exec(`
		UPDATE deployments SET health = ?, updated_at = CAST(strftime('%s','now') AS INTEGER)
		WHERE name = ?;`, string(health), name)
	return err
}

// RecordDeployError stores the last reconcile error for a deployment,
// creating the row if the deployment has never succeeded. The observed
// commit and content hash are left untouched.
func RecordDeployError(tx *sql.Tx, name string, deployErr error) error {
	msg := ""
	if deployErr != nil {
		msg = deployErr.Error()
	}

	_, err := tx.Exec(`
		INSERT INTO deployments (name, health, last_error, last_error_at)
		VALUES (?, ?, ?, CAST(strftime('%s','now') AS INTEGER))
		ON CONFLICT(name) DO UPDATE SET
			last_error = excluded.last_error,
			last_error_at = excluded.last_error_at;`,
		name, string(HealthFailed), msg,
	)
	if err != nil && isForeignKeyError(err) {
		// Repository was removed while the cycle ran; nothing to record.
		return nil
	}
	return err
}

// GetDeployment loads a deployment row by name.
func (s *Store) GetDeployment(ctx context.Context, name string) (*Deployment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT name, content_hash, container_id, health, last_error, last_error_at, created_at, updated_at
		FROM deployments WHERE name = ?;`, name)
	return scanDeployment(row)
}

// ListDeployments returns all deployment rows ordered by name.
func (s *Store) ListDeployments(ctx context.Context) ([]Deployment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, content_hash, container_id, health, last_error, last_error_at, created_at, updated_at
		FROM deployments ORDER BY name;`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var deployments []Deployment
	for rows.Next() {
		d, err := scanDeployment(rows)
		if err != nil {
			return nil, err
		}
		deployments = append(deployments, *d)
	}
	return deployments, rows.Err()
}

func scanDeployment(row rowScanner) (*Deployment, error) {
	var d Deployment
	var health string
	var lastError sql.NullString
	var lastErrorAt sql.NullInt64
	var createdAt, updatedAt int64

	err := row.Scan(&d.Name, &d.ContentHash, &d.ContainerID, &health, &lastError, &lastErrorAt, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	d.Health = Health(health)
	if lastError.Valid {
		d.LastError = lastError.String
	}
	if lastErrorAt.Valid {
		d.LastErrorAt = time.Unix(lastErrorAt.Int64, 0).UTC()
	}
	d.CreatedAt = time.Unix(createdAt, 0).UTC()
	d.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &d, nil
}
