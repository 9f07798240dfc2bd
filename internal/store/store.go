// Package store is the encrypted state store: a single SQLCipher database
// file under the state root holding repositories, parameters, and
// deployment metadata. All writes happen inside transactions; a wrong key
// is detected deterministically at open and surfaces as ErrKeyInvalid.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mutecomm/go-sqlcipher/v4"

	"dockhand/internal/fsutil"
)

// DBFileName is the single database file under <root>/system.
const DBFileName = "dockhand.db"

// Store wraps the encrypted database.
type Store struct {
	db   *sql.DB
	root string
}

// DBPath returns the database file location under the state root.
func DBPath(root string) string {
	return filepath.Join(root, "system", DBFileName)
}

// Open opens (creating if necessary) the encrypted store and applies any
// pending migrations. It fails with ErrKeyInvalid when the key material
// does not match an existing database.
func Open(root, keyMaterial string) (*Store, error) {
	s, err := open(root, keyMaterial)
	if err != nil {
		return nil, err
	}

	if err := migrateDB(s.db); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

// OpenForInspection opens the store without applying migrations. Used by
// diagnostics, which must not mutate anything.
func OpenForInspection(root, keyMaterial string) (*Store, error) {
	return open(root, keyMaterial)
}

func open(root, keyMaterial string) (*Store, error) {
	if strings.TrimSpace(keyMaterial) == "" {
		return nil, ErrKeyMissing
	}

	path := DBPath(root)
	if err := ensureDBFile(path); err != nil {
		return nil, err
	}

	dsn := fmt.Sprintf("file:%s?_pragma_key=%s", path, url.QueryEscape(keyMaterial))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if err := configureDB(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	// Probe the schema table. With a mismatched key SQLCipher cannot read
	// the first page and reports SQLITE_NOTADB instead of returning data.
	var n int
	if err := db.QueryRow(`SELECT count(*) FROM sqlite_master;`).Scan(&n); err != nil {
		_ = db.Close()
		if isNotADBError(err) {
			return nil, fmt.Errorf("%w: cannot decrypt %s", ErrKeyInvalid, path)
		}
		return nil, err
	}

	return &Store{db: db, root: root}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Root returns the state root this store was opened under.
func (s *Store) Root() string {
	return s.root
}

// WithTx executes fn with exclusive read/write access, committing on nil
// and rolling back entirely on any error or panic from fn.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}

	return tx.Commit()
}

func ensureDBFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	if err := fsutil.EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, fsutil.SecretFilePermissions) // #nosec G304 -- fixed location under the state root
	if err != nil {
		return err
	}
	return f.Close()
}

func configureDB(db *sql.DB) error {
	for _, stmt := range []string{
		"PRAGMA foreign_keys = ON;",
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA busy_timeout = 5000;",
	} {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func isNotADBError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "file is not a database") ||
		strings.Contains(msg, "file is encrypted") ||
		strings.Contains(msg, "NOTADB")
}
