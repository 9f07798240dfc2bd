package config

import "dockhand/internal/fsutil"

// DefaultConfig returns the built-in configuration defaults.
func DefaultConfig() Config {
	return Config{
		Root:            fsutil.DefaultRoot,
		Runtime:         "docker",
		ContainerPrefix: "dockhand-",
		Poll: PollConfig{
			IntervalSeconds: 300,
			MaxConcurrent:   2,
		},
		Deploy: DeployConfig{
			FetchTimeoutSeconds:  300,
			DeployTimeoutSeconds: 600,
			HealthTimeoutSeconds: 120,
			StopTimeoutSeconds:   10,
		},
		Daemon: DaemonConfig{
			ShutdownGraceSeconds: 30,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
