package config

import "fmt"

// ValidationError describes a single invalid configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the merged configuration and returns all violations.
func (c Config) Validate() []ValidationError {
	var errs []ValidationError

	if c.Root == "" {
		errs = append(errs, ValidationError{"root", "state root must not be empty"})
	}

	switch c.Runtime {
	case "docker", "podman", "auto":
	default:
		errs = append(errs, ValidationError{"runtime", fmt.Sprintf("unsupported container runtime %q (expected docker, podman, or auto)", c.Runtime)})
	}

	if c.Poll.IntervalSeconds < 10 || c.Poll.IntervalSeconds > 86400 {
		errs = append(errs, ValidationError{"poll.interval_seconds", fmt.Sprintf("must be between 10 and 86400, got %d", c.Poll.IntervalSeconds)})
	}
	if c.Poll.MaxConcurrent < 1 || c.Poll.MaxConcurrent > 16 {
		errs = append(errs, ValidationError{"poll.max_concurrent", fmt.Sprintf("must be between 1 and 16, got %d", c.Poll.MaxConcurrent)})
	}

	if c.Deploy.FetchTimeoutSeconds < 1 {
		errs = append(errs, ValidationError{"deploy.fetch_timeout_seconds", "must be positive"})
	}
	if c.Deploy.DeployTimeoutSeconds < 1 {
		errs = append(errs, ValidationError{"deploy.deploy_timeout_seconds", "must be positive"})
	}
	if c.Deploy.HealthTimeoutSeconds < 1 {
		errs = append(errs, ValidationError{"deploy.health_timeout_seconds", "must be positive"})
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, ValidationError{"logging.level", fmt.Sprintf("unknown level %q", c.Logging.Level)})
	}

	return errs
}
