package store

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testKey = "0123456789abcdef0123456789abcdef"

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	root := t.TempDir()
	s, err := Open(root, testKey)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, root
}

func addTestRepo(t *testing.T, s *Store, name string) {
	t.Helper()
	err := s.WithTx(context.Background(), func(tx *sql.Tx) error {
		return InsertRepository(tx, &Repository{
			Name:       name,
			URL:        "git@example.com:demo/" + name + ".git",
			Branch:     "main",
			PublicKey:  "ssh-ed25519 AAAA test",
			PrivateKey: []byte("sealed"),
		})
	})
	if err != nil {
		t.Fatalf("InsertRepository failed: %v", err)
	}
}

func TestOpenCreatesSingleDatabaseFile(t *testing.T) {
	_, root := openTestStore(t)

	if _, err := os.Stat(DBPath(root)); err != nil {
		t.Fatalf("Expected database file: %v", err)
	}

	info, _ := os.Stat(DBPath(root))
	if info.Mode().Perm() != 0o600 {
		t.Errorf("Expected database permissions 600, got %o", info.Mode().Perm())
	}
}

func TestOpenAppliesMigrations(t *testing.T) {
	s, _ := openTestStore(t)

	version, err := s.SchemaVersion()
	if err != nil {
		t.Fatalf("SchemaVersion failed: %v", err)
	}
	if version != CurrentSchemaVersion() {
		t.Errorf("Expected schema version %d, got %d", CurrentSchemaVersion(), version)
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	root := t.TempDir()

	for i := 0; i < 2; i++ {
		s, err := Open(root, testKey)
		if err != nil {
			t.Fatalf("Open #%d failed: %v", i+1, err)
		}
		_ = s.Close()
	}
}

func TestOpenWithWrongKeyFailsClosed(t *testing.T) {
	root := t.TempDir()

	s, err := Open(root, testKey)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	addTestRepo(t, s, "demo")
	_ = s.Close()

	if _, err := Open(root, "wrong-key"); !errors.Is(err, ErrKeyInvalid) {
		t.Errorf("Expected ErrKeyInvalid, got %v", err)
	}
}

func TestOpenWithEmptyKeyFails(t *testing.T) {
	if _, err := Open(t.TempDir(), "  "); !errors.Is(err, ErrKeyMissing) {
		t.Errorf("Expected ErrKeyMissing, got %v", err)
	}
}

func TestLoadKeyMaterial(t *testing.T) {
	t.Run("missing key file", func(t *testing.T) {
		root := t.TempDir()
		_, err := LoadKeyMaterial(root)
		if !errors.Is(err, ErrKeyMissing) {
			t.Fatalf("Expected ErrKeyMissing, got %v", err)
		}
		if got := err.Error(); got == "" || !errors.Is(err, ErrKeyMissing) {
			t.Errorf("Expected remediation message, got %q", got)
		}
	})

	t.Run("key file present", func(t *testing.T) {
		root := t.TempDir()
		path := KeyPath(root)
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(testKey+"\n"), 0o600); err != nil {
			t.Fatal(err)
		}

		material, err := LoadKeyMaterial(root)
		if err != nil {
			t.Fatalf("LoadKeyMaterial failed: %v", err)
		}
		if material != testKey {
			t.Errorf("Expected trimmed key material, got %q", material)
		}
	})

	t.Run("env override wins", func(t *testing.T) {
		t.Setenv("DOCKHAND_DB_KEY", "env-material")
		material, err := LoadKeyMaterial(t.TempDir())
		if err != nil {
			t.Fatalf("LoadKeyMaterial failed: %v", err)
		}
		if material != "env-material" {
			t.Errorf("Expected env override, got %q", material)
		}
	})
}

func TestProvisionKey(t *testing.T) {
	root := t.TempDir()

	key, err := ProvisionKey(root)
	if err != nil {
		t.Fatalf("ProvisionKey failed: %v", err)
	}
	if len(key) != 64 {
		t.Errorf("Expected 64 hex characters of key material, got %d", len(key))
	}

	info, err := os.Stat(KeyPath(root))
	if err != nil {
		t.Fatalf("Key file not written: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("Key file mode = %o, want 0600", info.Mode().Perm())
	}

	loaded, err := LoadKeyMaterial(root)
	if err != nil {
		t.Fatalf("LoadKeyMaterial after provisioning: %v", err)
	}
	if loaded != key {
		t.Error("Loaded key material differs from provisioned material")
	}

	// Re-provisioning must refuse to clobber the key.
	_, err = ProvisionKey(root)
	if !errors.Is(err, ErrConflict) {
		t.Errorf("Expected ErrConflict on second provisioning, got %v", err)
	}
	if got := strings.Count(err.Error(), "already exists"); got != 1 {
		t.Errorf("Conflict message should state the condition once, got %q", err.Error())
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		if err := InsertRepository(tx, &Repository{
			Name: "demo", URL: "git@example.com:d/demo.git", Branch: "main",
			PublicKey: "ssh-ed25519 AAAA", PrivateKey: []byte("sealed"),
		}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected boom, got %v", err)
	}

	if _, err := s.GetRepository(ctx, "demo"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected rollback to discard insert, got %v", err)
	}
}

func TestInsertRepositoryConflict(t *testing.T) {
	s, _ := openTestStore(t)
	addTestRepo(t, s, "demo")

	err := s.WithTx(context.Background(), func(tx *sql.Tx) error {
		return InsertRepository(tx, &Repository{
			Name: "demo", URL: "git@example.com:d/other.git", Branch: "main",
			PublicKey: "ssh-ed25519 BBBB", PrivateKey: []byte("sealed"),
		})
	})
	if !errors.Is(err, ErrConflict) {
		t.Errorf("Expected ErrConflict, got %v", err)
	}
}

func TestDeleteRepositoryCascades(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	addTestRepo(t, s, "demo")

	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		if err := UpsertParameter(tx, "demo", "DATABASE_URL", []byte("sealed-value")); err != nil {
			return err
		}
		return UpsertDeployment(tx, &Deployment{Name: "demo", ContentHash: "abc", Health: HealthHealthy})
	})
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}

	if err := s.WithTx(ctx, func(tx *sql.Tx) error {
		return DeleteRepository(tx, "demo")
	}); err != nil {
		t.Fatalf("DeleteRepository failed: %v", err)
	}

	if _, err := s.GetParameterValue(ctx, "demo", "DATABASE_URL"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected parameters to cascade, got %v", err)
	}
	if _, err := s.GetDeployment(ctx, "demo"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected deployment row to cascade, got %v", err)
	}
}

func TestDeleteRepositoryNotFound(t *testing.T) {
	s, _ := openTestStore(t)

	err := s.WithTx(context.Background(), func(tx *sql.Tx) error {
		return DeleteRepository(tx, "ghost")
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSetObservedCommit(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	addTestRepo(t, s, "demo")

	if err := s.WithTx(ctx, func(tx *sql.Tx) error {
		return SetObservedCommit(tx, "demo", "deadbeef")
	}); err != nil {
		t.Fatalf("SetObservedCommit failed: %v", err)
	}

	repo, err := s.GetRepository(ctx, "demo")
	if err != nil {
		t.Fatalf("GetRepository failed: %v", err)
	}
	if repo.LastCommit != "deadbeef" {
		t.Errorf("Expected last commit deadbeef, got %q", repo.LastCommit)
	}

	err = s.WithTx(ctx, func(tx *sql.Tx) error {
		return SetObservedCommit(tx, "removed", "deadbeef")
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for removed repository, got %v", err)
	}
}

func TestParameterUnknownDeployment(t *testing.T) {
	s, _ := openTestStore(t)

	err := s.WithTx(context.Background(), func(tx *sql.Tx) error {
		return UpsertParameter(tx, "ghost", "KEY", []byte("sealed"))
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestListRepositoriesOrdered(t *testing.T) {
	s, _ := openTestStore(t)
	for _, name := range []string{"zeta", "alpha", "mid"} {
		addTestRepo(t, s, name)
	}

	repos, err := s.ListRepositories(context.Background())
	if err != nil {
		t.Fatalf("ListRepositories failed: %v", err)
	}

	want := []string{"alpha", "mid", "zeta"}
	if len(repos) != len(want) {
		t.Fatalf("Expected %d repositories, got %d", len(want), len(repos))
	}
	for i, name := range want {
		if repos[i].Name != name {
			t.Errorf("Expected repos[%d] = %q, got %q", i, name, repos[i].Name)
		}
	}
}

func TestRecordDeployErrorAndClear(t *testing.T) {
	s, _ := openTestStore(t)
	ctx := context.Background()
	addTestRepo(t, s, "demo")

	if err := s.WithTx(ctx, func(tx *sql.Tx) error {
		return RecordDeployError(tx, "demo", errors.New("image build failed"))
	}); err != nil {
		t.Fatalf("RecordDeployError failed: %v", err)
	}

	d, err := s.GetDeployment(ctx, "demo")
	if err != nil {
		t.Fatalf("GetDeployment failed: %v", err)
	}
	if d.Health != HealthFailed {
		t.Errorf("Expected health failed, got %q", d.Health)
	}
	if d.LastError != "image build failed" {
		t.Errorf("Expected recorded error, got %q", d.LastError)
	}

	// A successful reconcile clears the error.
	if err := s.WithTx(ctx, func(tx *sql.Tx) error {
		return UpsertDeployment(tx, &Deployment{
			Name: "demo", ContentHash: "abc", ContainerID: "c1", Health: HealthHealthy,
		})
	}); err != nil {
		t.Fatalf("UpsertDeployment failed: %v", err)
	}

	d, _ = s.GetDeployment(ctx, "demo")
	if d.LastError != "" {
		t.Errorf("Expected error cleared, got %q", d.LastError)
	}
	if d.Health != HealthHealthy {
		t.Errorf("Expected health healthy, got %q", d.Health)
	}
}

func TestRecordDeployErrorForRemovedRepository(t *testing.T) {
	s, _ := openTestStore(t)

	// No repository row: the FK violation is swallowed on purpose.
	if err := s.WithTx(context.Background(), func(tx *sql.Tx) error {
		return RecordDeployError(tx, "ghost", errors.New("late failure"))
	}); err != nil {
		t.Errorf("Expected nil for removed repository, got %v", err)
	}
}
