package config

// Config is the merged daemon configuration.
type Config struct {
	// Root is the state root holding the encrypted database, key file,
	// and fetched repository content.
	Root string `yaml:"root"`

	// Runtime is the container engine binary ("docker" or "podman").
	Runtime string `yaml:"runtime"`

	// ContainerPrefix is prepended to managed container names.
	ContainerPrefix string `yaml:"container_prefix"`

	// DefaultImage is the image used when a repository ships no Dockerfile.
	// Empty means a Dockerfile is required.
	DefaultImage string `yaml:"default_image"`

	// AllowUpstream permits tracking non-default upstream sources without
	// the fork warning.
	AllowUpstream bool `yaml:"allow_upstream"`

	// AssumeYes suppresses interactive confirmation prompts.
	AssumeYes bool `yaml:"assume_yes"`

	Poll    PollConfig    `yaml:"poll"`
	Deploy  DeployConfig  `yaml:"deploy"`
	Daemon  DaemonConfig  `yaml:"daemon"`
	Logging LoggingConfig `yaml:"logging"`
}

// PollConfig controls the change-detection loop.
type PollConfig struct {
	// IntervalSeconds is the time between poll cycles.
	IntervalSeconds int `yaml:"interval_seconds"`
	// MaxConcurrent bounds how many repositories are polled at once.
	MaxConcurrent int `yaml:"max_concurrent"`
}

// DeployConfig controls reconciliation timeouts.
type DeployConfig struct {
	// FetchTimeoutSeconds bounds git operations.
	FetchTimeoutSeconds int `yaml:"fetch_timeout_seconds"`
	// DeployTimeoutSeconds bounds a full reconciliation.
	DeployTimeoutSeconds int `yaml:"deploy_timeout_seconds"`
	// HealthTimeoutSeconds bounds the post-start health gate.
	HealthTimeoutSeconds int `yaml:"health_timeout_seconds"`
	// StopTimeoutSeconds is passed to the engine when stopping a container.
	StopTimeoutSeconds int `yaml:"stop_timeout_seconds"`
}

// DaemonConfig controls daemon lifecycle behavior.
type DaemonConfig struct {
	// ShutdownGraceSeconds is how long in-flight reconciliations may settle
	// after a shutdown signal before they are abandoned.
	ShutdownGraceSeconds int `yaml:"shutdown_grace_seconds"`
}

// LoggingConfig controls the structured logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}
