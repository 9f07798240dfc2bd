package orchestrator

import "fmt"

// FetchError wraps failures to reach or sync the git remote.
type FetchError struct {
	Repo string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch failed for %s: %v", e.Repo, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ParameterError wraps failures to resolve deployment parameters.
type ParameterError struct {
	Repo string
	Err  error
}

func (e *ParameterError) Error() string {
	return fmt.Sprintf("parameter resolution failed for %s: %v", e.Repo, e.Err)
}

func (e *ParameterError) Unwrap() error { return e.Err }

// ContainerError wraps container runtime failures. Stage names the step
// that failed: build, pull, run, health, promote.
type ContainerError struct {
	Repo  string
	Stage string
	Err   error
}

func (e *ContainerError) Error() string {
	return fmt.Sprintf("container %s failed for %s: %v", e.Stage, e.Repo, e.Err)
}

func (e *ContainerError) Unwrap() error { return e.Err }
