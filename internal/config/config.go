// Package config loads and merges the dockhand configuration from YAML
// files and environment overrides.
//
// Priority: defaults < system config < user config < environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"dockhand/internal/configdir"
	"dockhand/internal/fsutil"
)

const (
	systemConfigFile = "config.yaml"
	userConfigDir    = ".dockhand"
	userConfigFile   = "config.yaml"
)

// Load loads and merges configuration from system and user files, then
// applies environment overrides.
func Load() (Config, error) {
	cfg := DefaultConfig()

	if err := mergeConfigFile(&cfg, SystemConfigPath()); err != nil {
		if !os.IsNotExist(err) {
			return cfg, fmt.Errorf("failed to load system config: %w", err)
		}
	}

	homeDir, err := os.UserHomeDir()
	if err == nil {
		userPath := filepath.Join(homeDir, userConfigDir, userConfigFile)
		if err := mergeConfigFile(&cfg, userPath); err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("failed to load user config: %w", err)
			}
		}
	}

	applyEnv(&cfg)

	if validationErrors := cfg.Validate(); len(validationErrors) > 0 {
		return cfg, fmt.Errorf("invalid configuration: %v", formatValidationErrors(validationErrors))
	}

	return cfg, nil
}

// LoadFrom loads configuration from a specific file path, applying
// environment overrides on top.
func LoadFrom(path string) (Config, error) {
	cfg := DefaultConfig()
	if err := mergeConfigFile(&cfg, path); err != nil {
		return cfg, fmt.Errorf("failed to load config from %s: %w", path, err)
	}

	applyEnv(&cfg)

	if validationErrors := cfg.Validate(); len(validationErrors) > 0 {
		return cfg, fmt.Errorf("invalid configuration: %v", formatValidationErrors(validationErrors))
	}

	return cfg, nil
}

// mergeConfigFile reads a YAML file and merges it into the existing config
func mergeConfigFile(cfg *Config, path string) error {
	data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 -- path is constructed from trusted sources
	if err != nil {
		return err
	}

	var overlay Config
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	mergeConfig(cfg, &overlay)
	return nil
}

// mergeConfig merges non-zero values from src into dst
func mergeConfig(dst, src *Config) {
	if src.Root != "" {
		dst.Root = src.Root
	}
	if src.Runtime != "" {
		dst.Runtime = src.Runtime
	}
	if src.ContainerPrefix != "" {
		dst.ContainerPrefix = src.ContainerPrefix
	}
	if src.DefaultImage != "" {
		dst.DefaultImage = src.DefaultImage
	}
	if src.AllowUpstream {
		dst.AllowUpstream = true
	}
	if src.AssumeYes {
		dst.AssumeYes = true
	}

	if src.Poll.IntervalSeconds != 0 {
		dst.Poll.IntervalSeconds = src.Poll.IntervalSeconds
	}
	if src.Poll.MaxConcurrent != 0 {
		dst.Poll.MaxConcurrent = src.Poll.MaxConcurrent
	}

	if src.Deploy.FetchTimeoutSeconds != 0 {
		dst.Deploy.FetchTimeoutSeconds = src.Deploy.FetchTimeoutSeconds
	}
	if src.Deploy.DeployTimeoutSeconds != 0 {
		dst.Deploy.DeployTimeoutSeconds = src.Deploy.DeployTimeoutSeconds
	}
	if src.Deploy.HealthTimeoutSeconds != 0 {
		dst.Deploy.HealthTimeoutSeconds = src.Deploy.HealthTimeoutSeconds
	}
	if src.Deploy.StopTimeoutSeconds != 0 {
		dst.Deploy.StopTimeoutSeconds = src.Deploy.StopTimeoutSeconds
	}

	if src.Daemon.ShutdownGraceSeconds != 0 {
		dst.Daemon.ShutdownGraceSeconds = src.Daemon.ShutdownGraceSeconds
	}

	if src.Logging.Level != "" {
		dst.Logging.Level = src.Logging.Level
	}
	if src.Logging.File != "" {
		dst.Logging.File = src.Logging.File
	}
}

// applyEnv applies environment variable overrides.
func applyEnv(cfg *Config) {
	cfg.Root = fsutil.RootDir(cfg.Root)
	if v := os.Getenv("DOCKHAND_RUNTIME"); v != "" {
		cfg.Runtime = v
	}
	if v := os.Getenv("DOCKHAND_IMAGE"); v != "" {
		cfg.DefaultImage = v
	}
	if v := os.Getenv("DOCKHAND_POLL_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Poll.IntervalSeconds = n
		}
	}
	if envBool("DOCKHAND_ALLOW_UPSTREAM") {
		cfg.AllowUpstream = true
	}
	if envBool("DOCKHAND_ASSUME_YES") {
		cfg.AssumeYes = true
	}
}

func envBool(name string) bool {
	switch os.Getenv(name) {
	case "1", "true", "yes":
		return true
	}
	return false
}

// formatValidationErrors formats validation errors for display
func formatValidationErrors(errors []ValidationError) string {
	if len(errors) == 0 {
		return ""
	}
	if len(errors) == 1 {
		return errors[0].Error()
	}
	result := fmt.Sprintf("%d validation errors:\n", len(errors))
	for _, err := range errors {
		result += "  - " + err.Error() + "\n"
	}
	return result
}

// SystemConfigPath returns the path to the system configuration file
func SystemConfigPath() string {
	return filepath.Join(configdir.ConfigDir(), systemConfigFile)
}
