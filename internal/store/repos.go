package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Repository is a registered git repository. The private key blob is
// sealed by the record cipher before it reaches this layer; the store
// never sees plaintext key material.
type Repository struct {
	Name       string
	URL        string
	Branch     string
	PublicKey  string
	PrivateKey []byte // sealed
	LastCommit string
	CreatedAt  time.Time
}

// InsertRepository inserts a new repository row. Fails with ErrConflict
// when the name is already registered.
func InsertRepository(tx *sql.Tx, r *Repository) error {
	var exists int
	if err := tx.QueryRow(`SELECT count(*) FROM repositories WHERE name = ?;`, r.Name).Scan(&exists); err != nil {
		return err
	}
	if exists > 0 {
		return fmt.Errorf("repository %q %w", r.Name, ErrConflict)
	}

	_, err := tx.Exec(
		`INSERT INTO repositories (name, url, branch, public_key, private_key)
		 VALUES (?, ?, ?, ?, ?);`,
		r.Name, r.URL, r.Branch, r.PublicKey, r.PrivateKey,
	)
	return err
}

// DeleteRepository removes a repository row; parameters and the deployment
// row are removed by foreign-key cascade. Fails with ErrNotFound when the
// repository does not exist.
func DeleteRepository(tx *sql.Tx, name string) error {
	res, err := tx.Exec(`DELETE FROM repositories WHERE name = ?;`, name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("repository %q %w", name, ErrNotFound)
	}
	return nil
}

// SetObservedCommit records the last-observed commit hash. Fails with
// ErrNotFound when the repository was removed concurrently.
func SetObservedCommit(tx *sql.Tx, name, commit string) error {
	res, err := tx.Exec(`UPDATE repositories SET last_commit = ? WHERE name = ?;`, commit, name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("repository %q %w", name, ErrNotFound)
	}
	return nil
}

// GetRepository loads a repository by name.
func (s *Store) GetRepository(ctx context.Context, name string) (*Repository, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT name, url, branch, public_key, private_key, last_commit, created_at
		FROM repositories WHERE name = ?;`, name)
	return scanRepository(row)
}

// ListRepositories returns all repositories ordered by name.
func (s *Store) ListRepositories(ctx context.Context) ([]Repository, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, url, branch, public_key, private_key, last_commit, created_at
		FROM repositories ORDER BY name;`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var repos []Repository
	for rows.Next() {
		var r Repository
		var createdAt int64
		if err := rows.Scan(&r.Name, &r.URL, &r.Branch, &r.PublicKey, &r.PrivateKey, &r.LastCommit, &createdAt); err != nil {
			return nil, err
		}
		r.CreatedAt = time.Unix(createdAt, 0).UTC()
		repos = append(repos, r)
	}
	return repos, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRepository(row rowScanner) (*Repository, error) {
	var r Repository
	var createdAt int64
	err := row.Scan(&r.Name, &r.URL, &r.Branch, &r.PublicKey, &r.PrivateKey, &r.LastCommit, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	r.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &r, nil
}
