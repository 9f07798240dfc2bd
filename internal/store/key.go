package store

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"dockhand/internal/fsutil"
)

// KeyFileName is the key file consumed once at startup. It lives next to
// the database but is never stored inside it.
const KeyFileName = "db.key"

// KeyPath returns the location of the key file under the state root.
func KeyPath(root string) string {
	return filepath.Join(root, "system", KeyFileName)
}

// LoadKeyMaterial resolves the database key material. Precedence:
// DOCKHAND_DB_KEY, DOCKHAND_DB_KEY_FILE, then the key file under the state
// root. A missing or empty key fails with ErrKeyMissing; there is no
// fallback to an unencrypted store.
func LoadKeyMaterial(root string) (string, error) {
	if v := strings.TrimSpace(os.Getenv("DOCKHAND_DB_KEY")); v != "" {
		return v, nil
	}

	if keyFile := strings.TrimSpace(os.Getenv("DOCKHAND_DB_KEY_FILE")); keyFile != "" {
		b, err := os.ReadFile(keyFile) // #nosec G304 -- operator-provided override
		if err != nil {
			return "", fmt.Errorf("read DOCKHAND_DB_KEY_FILE: %w", err)
		}
		key := strings.TrimSpace(string(b))
		if key == "" {
			return "", fmt.Errorf("empty DOCKHAND_DB_KEY_FILE %s: %w", keyFile, ErrKeyMissing)
		}
		return key, nil
	}

	path := KeyPath(root)
	b, err := os.ReadFile(path) // #nosec G304 -- fixed location under the state root
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w (expected %s); run: dockhand init", ErrKeyMissing, path)
		}
		return "", err
	}

	key := strings.TrimSpace(string(b))
	if key == "" {
		return "", fmt.Errorf("%w (key file %s is empty)", ErrKeyMissing, path)
	}

	return key, nil
}

// ProvisionKey generates fresh key material and writes it to the key
// file. Refuses to overwrite an existing file: replacing the key would
// make the database and every sealed record unreadable.
func ProvisionKey(root string) (string, error) {
	path := KeyPath(root)
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("key file %s %w", path, ErrConflict)
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", err
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate key material: %w", err)
	}
	key := hex.EncodeToString(raw)

	if err := fsutil.EnsureDir(filepath.Dir(path)); err != nil {
		return "", err
	}
	if err := fsutil.AtomicWriteFile(path, []byte(key+"\n"), fsutil.SecretFilePermissions, nil); err != nil {
		return "", err
	}
	return key, nil
}
