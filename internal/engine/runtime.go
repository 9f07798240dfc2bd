// Package engine wraps the container runtime binary (Docker or Podman).
// Everything goes through the CLI; no daemon socket API is used, which
// keeps the same code path working for both runtimes.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// ManagedLabel marks every container dockhand creates.
const ManagedLabel = "net.dockhand.managed"

// RepoLabel carries the owning repository name on managed containers.
const RepoLabel = "net.dockhand.repo"

// RunSpec describes a container to start. Env values are passed through
// the process environment of the runtime invocation, never on argv, so
// secrets stay out of the host process table.
type RunSpec struct {
	Name   string
	Image  string
	Env    map[string]string
	Labels map[string]string
}

// ContainerState summarizes inspect output for one container.
type ContainerState struct {
	ID      string
	Running bool
	Status  string // created, running, exited, ...
	Health  string // healthy, unhealthy, starting, none
}

// Runtime is the container engine surface the orchestrator needs.
type Runtime interface {
	IsRunning() bool
	BuildImage(ctx context.Context, dir, tag string) error
	PullImage(ctx context.Context, image string) error
	RunContainer(ctx context.Context, spec RunSpec) (string, error)
	InspectContainer(ctx context.Context, name string) (*ContainerState, error)
	StopContainer(ctx context.Context, name string, timeout time.Duration) error
	RemoveContainer(ctx context.Context, name string) error
	RenameContainer(ctx context.Context, oldName, newName string) error
	ListManaged(ctx context.Context) ([]string, error)
}

// CLIRuntime implements Runtime by shelling out to docker or podman.
type CLIRuntime struct {
	binary string
}

// NewCLIRuntime wraps the given binary ("docker" or "podman").
func NewCLIRuntime(binary string) *CLIRuntime {
	return &CLIRuntime{binary: binary}
}

// Detect returns the runtime named in the configuration, or autodetects
// by probing docker then podman when the value is empty or "auto".
func Detect(configured string) (Runtime, error) {
	switch strings.ToLower(strings.TrimSpace(configured)) {
	case "docker":
		rt := NewCLIRuntime("docker")
		if !rt.IsRunning() {
			return nil, fmt.Errorf("docker configured but not reachable")
		}
		return rt, nil
	case "podman":
		rt := NewCLIRuntime("podman")
		if !rt.IsRunning() {
			return nil, fmt.Errorf("podman configured but not reachable")
		}
		return rt, nil
	case "", "auto":
		for _, binary := range []string{"docker", "podman"} {
			rt := NewCLIRuntime(binary)
			if rt.IsRunning() {
				return rt, nil
			}
		}
		return nil, fmt.Errorf("no container runtime detected (Docker or Podman required)")
	default:
		return nil, fmt.Errorf("unknown container runtime %q (expected docker|podman|auto)", configured)
	}
}

// IsRunning checks whether the runtime daemon answers.
func (r *CLIRuntime) IsRunning() bool {
	cmd := exec.Command(r.binary, "info")
	return cmd.Run() == nil
}

// BuildImage builds dir (which must contain a Dockerfile) into tag.
func (r *CLIRuntime) BuildImage(ctx context.Context, dir, tag string) error {
	// #nosec G204 -- dir is under the state root and tag is derived from validated names
	cmd := exec.CommandContext(ctx, r.binary, "build", "-t", tag, dir)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s build failed: %w, stderr: %s", r.binary, err, tail(stderr.String(), 2048))
	}
	return nil
}

// PullImage pulls a container image.
func (r *CLIRuntime) PullImage(ctx context.Context, image string) error {
	// #nosec G204 -- image reference comes from validated configuration
	cmd := exec.CommandContext(ctx, r.binary, "pull", image)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s pull %s failed: %w, stderr: %s", r.binary, image, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// RunContainer starts a detached container. Env vars appear on the
// command line as bare names (-e KEY); their values travel only in the
// environment of the runtime process.
func (r *CLIRuntime) RunContainer(ctx context.Context, spec RunSpec) (string, error) {
	args := []string{"run", "-d", "--name", spec.Name, "--restart", "unless-stopped"}
	for k, v := range spec.Labels {
		args = append(args, "--label", k+"="+v)
	}

	env := os.Environ()
	for k, v := range spec.Env {
		args = append(args, "-e", k)
		env = append(env, k+"="+v)
	}
	args = append(args, spec.Image)

	// #nosec G204 -- container name, labels and image are validated upstream
	cmd := exec.CommandContext(ctx, r.binary, args...)
	cmd.Env = env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s run %s failed: %w, stderr: %s", r.binary, spec.Name, err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

// inspectResult mirrors the fields of `inspect` output we consume.
type inspectResult struct {
	ID    string `json:"Id"`
	State struct {
		Status  string `json:"Status"`
		Running bool   `json:"Running"`
		Health  *struct {
			Status string `json:"Status"`
		} `json:"Health"`
	} `json:"State"`
}

// InspectContainer returns container state, or nil when the container
// does not exist.
func (r *CLIRuntime) InspectContainer(ctx context.Context, name string) (*ContainerState, error) {
	// #nosec G204 -- container name is validated upstream
	cmd := exec.CommandContext(ctx, r.binary, "inspect", "--type", "container", name)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if isNoSuchContainer(stderr.String()) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s inspect %s failed: %w, stderr: %s", r.binary, name, err, strings.TrimSpace(stderr.String()))
	}

	return parseInspectOutput(stdout.Bytes())
}

// StopContainer stops a container with the given grace period.
func (r *CLIRuntime) StopContainer(ctx context.Context, name string, timeout time.Duration) error {
	seconds := int(timeout.Seconds())
	if seconds < 1 {
		seconds = 1
	}
	// #nosec G204 -- container name is validated upstream
	cmd := exec.CommandContext(ctx, r.binary, "stop", "-t", strconv.Itoa(seconds), name)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if isNoSuchContainer(stderr.String()) {
			return nil
		}
		return fmt.Errorf("%s stop %s failed: %w, stderr: %s", r.binary, name, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// RemoveContainer force-removes a container. Removing a container that
// does not exist is not an error.
func (r *CLIRuntime) RemoveContainer(ctx context.Context, name string) error {
	// #nosec G204 -- container name is validated upstream
	cmd := exec.CommandContext(ctx, r.binary, "rm", "-f", name)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if isNoSuchContainer(stderr.String()) {
			return nil
		}
		return fmt.Errorf("%s rm %s failed: %w, stderr: %s", r.binary, name, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// RenameContainer renames a container.
func (r *CLIRuntime) RenameContainer(ctx context.Context, oldName, newName string) error {
	// #nosec G204 -- container names are validated upstream
	cmd := exec.CommandContext(ctx, r.binary, "rename", oldName, newName)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s rename %s failed: %w, stderr: %s", r.binary, oldName, err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// ListManaged returns the names of all containers carrying the managed
// label, running or not.
func (r *CLIRuntime) ListManaged(ctx context.Context) ([]string, error) {
	cmd := exec.CommandContext(ctx, r.binary, "ps", "-a", "--filter", "label="+ManagedLabel+"=true", "--format", "{{.Names}}")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s ps failed: %w, stderr: %s", r.binary, err, strings.TrimSpace(stderr.String()))
	}

	var names []string
	for _, line := range strings.Split(stdout.String(), "\n") {
		if name := strings.TrimSpace(line); name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

// parseInspectOutput decodes the JSON array emitted by inspect and maps
// it onto ContainerState. A container without a HEALTHCHECK reports
// health "none".
func parseInspectOutput(data []byte) (*ContainerState, error) {
	var results []inspectResult
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, fmt.Errorf("failed to parse inspect output: %w", err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	res := results[0]
	state := &ContainerState{
		ID:      res.ID,
		Running: res.State.Running,
		Status:  res.State.Status,
		Health:  "none",
	}
	if res.State.Health != nil && res.State.Health.Status != "" {
		state.Health = strings.ToLower(res.State.Health.Status)
	}
	return state, nil
}

func isNoSuchContainer(stderr string) bool {
	s := strings.ToLower(stderr)
	return strings.Contains(s, "no such container") ||
		strings.Contains(s, "no such object") ||
		strings.Contains(s, "no container with name")
}

// tail returns at most n trailing bytes of s. Build logs can be huge;
// the useful part for an error message is the end.
func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
