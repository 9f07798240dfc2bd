// Package configdir resolves the system configuration directory.
package configdir

import "os"

// DefaultConfigDir is the system-wide configuration directory.
const DefaultConfigDir = "/etc/dockhand"

// ConfigDir returns the configuration directory, honoring the
// DOCKHAND_CONFIG_DIR override used by tests and packaging.
func ConfigDir() string {
	if env := os.Getenv("DOCKHAND_CONFIG_DIR"); env != "" {
		return env
	}
	return DefaultConfigDir
}
