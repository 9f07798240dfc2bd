// Package fsutil holds filesystem helpers shared across dockhand: state
// root resolution, atomic writes, and permission constants for secret
// material.
package fsutil

import (
	"fmt"
	"os"
	"path/filepath"

	"dockhand/internal/logging"
)

const (
	// DefaultRoot is the default state root holding the encrypted database,
	// the key file, and fetched repository content.
	DefaultRoot = "/var/lib/dockhand"
	// DefaultDirPermissions is the default permission for state directories
	DefaultDirPermissions = 0o750
	// SecretFilePermissions is the permission for files holding key material
	SecretFilePermissions = 0o600
)

// RootDir returns the state root from DOCKHAND_ROOT or the provided default.
// It returns an absolute path when possible.
func RootDir(defaultDir string) string {
	if env := os.Getenv("DOCKHAND_ROOT"); env != "" {
		if abs, err := filepath.Abs(env); err == nil {
			return abs
		}
		return env
	}
	if defaultDir == "" {
		return DefaultRoot
	}
	return defaultDir
}

// EnsureDir creates a directory (and parents) with DefaultDirPermissions.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, DefaultDirPermissions); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return nil
}

// AtomicWriteFile writes data to a file atomically by first writing to a temp
// file and then renaming it to the target path. The file is never observed
// partially written.
func AtomicWriteFile(path string, data []byte, perm os.FileMode, logger *logging.Logger) error {
	tmpPath := path + ".tmp"

	if err := os.WriteFile(tmpPath, data, perm); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		if removeErr := os.Remove(tmpPath); removeErr != nil && !os.IsNotExist(removeErr) {
			if logger != nil {
				logger.Warn("fsutil.cleanup_failed", "Failed to remove temp file", map[string]interface{}{
					"path":  tmpPath,
					"error": removeErr.Error(),
				})
			}
		}
		return fmt.Errorf("failed to rename file: %w", err)
	}

	return nil
}
