package fsutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRootDir(t *testing.T) {
	tests := []struct {
		name       string
		envValue   string
		defaultDir string
		want       string
	}{
		{
			name:       "uses environment variable",
			envValue:   "/custom/root",
			defaultDir: "/default/root",
			want:       "/custom/root",
		},
		{
			name:       "uses default when env not set",
			envValue:   "",
			defaultDir: "/default/root",
			want:       "/default/root",
		},
		{
			name:       "falls back to built-in default",
			envValue:   "",
			defaultDir: "",
			want:       DefaultRoot,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv("DOCKHAND_ROOT", tt.envValue)
			} else {
				t.Setenv("DOCKHAND_ROOT", "")
				_ = os.Unsetenv("DOCKHAND_ROOT")
			}

			if got := RootDir(tt.defaultDir); got != tt.want {
				t.Errorf("RootDir(%q) = %q, want %q", tt.defaultDir, got, tt.want)
			}
		})
	}
}

func TestEnsureDir(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "a", "b", "c")

	if err := EnsureDir(target); err != nil {
		t.Fatalf("EnsureDir failed: %v", err)
	}

	info, err := os.Stat(target)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if !info.IsDir() {
		t.Error("Expected directory")
	}

	// Idempotent
	if err := EnsureDir(target); err != nil {
		t.Errorf("EnsureDir on existing directory failed: %v", err)
	}
}

func TestAtomicWriteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.yaml")

	if err := AtomicWriteFile(path, []byte("first"), 0o600, nil); err != nil {
		t.Fatalf("AtomicWriteFile failed: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(content) != "first" {
		t.Errorf("Expected %q, got %q", "first", string(content))
	}

	// Overwrite must not leave a temp file behind
	if err := AtomicWriteFile(path, []byte("second"), 0o600, nil); err != nil {
		t.Fatalf("AtomicWriteFile overwrite failed: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("Expected temp file to be removed")
	}

	content, _ = os.ReadFile(path)
	if string(content) != "second" {
		t.Errorf("Expected %q, got %q", "second", string(content))
	}
}
