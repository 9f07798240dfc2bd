// Package gitops runs the git operations behind change detection and
// content sync. All remote access goes over SSH with the repository's
// deploy key; the key is materialized only for the duration of a call.
package gitops

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"dockhand/internal/keys"
	"dockhand/internal/logging"
	"dockhand/internal/store"
)

// Client executes git against registered repositories.
type Client struct {
	keys   *keys.Manager
	logger *logging.Logger
}

// NewClient creates a git client backed by the deploy-key manager.
func NewClient(km *keys.Manager, logger *logging.Logger) *Client {
	return &Client{keys: km, logger: logger}
}

// sshCommand builds the GIT_SSH_COMMAND value for a materialized key.
// accept-new pins a host key on first contact and rejects changes after;
// IdentitiesOnly keeps the agent from offering unrelated keys.
func sshCommand(keyPath string) string {
	return fmt.Sprintf("ssh -o StrictHostKeyChecking=accept-new -o IdentitiesOnly=yes -i %s", keyPath)
}

// ResolveHead returns the commit hash at the tip of the tracked branch
// without touching the working tree. This is the cheap poll primitive.
func (c *Client) ResolveHead(ctx context.Context, repo *store.Repository) (string, error) {
	keyPath, cleanup, err := c.keys.Materialize(ctx, repo.Name)
	if err != nil {
		return "", err
	}
	defer cleanup()

	out, err := c.runGit(ctx, keyPath, "", "ls-remote", repo.URL, "refs/heads/"+repo.Branch)
	if err != nil {
		return "", err
	}

	commit, err := parseLsRemote(out, repo.Branch)
	if err != nil {
		return "", fmt.Errorf("%s: %w", repo.URL, err)
	}
	return commit, nil
}

// Sync brings dir to the current tip of the tracked branch and returns
// the commit hash that is now checked out. Local modifications in dir are
// discarded; the repository content is the single source of truth.
func (c *Client) Sync(ctx context.Context, repo *store.Repository, dir string) (string, error) {
	keyPath, cleanup, err := c.keys.Materialize(ctx, repo.Name)
	if err != nil {
		return "", err
	}
	defer cleanup()

	if hasCheckout(dir) {
		if _, err := c.runGit(ctx, keyPath, dir, "fetch", "--depth", "1", "origin", repo.Branch); err != nil {
			return "", err
		}
		if _, err := c.runGit(ctx, keyPath, dir, "reset", "--hard", "FETCH_HEAD"); err != nil {
			return "", err
		}
		if _, err := c.runGit(ctx, keyPath, dir, "clean", "-fd"); err != nil {
			return "", err
		}
	} else {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return "", fmt.Errorf("failed to create content directory: %w", err)
		}
		if _, err := c.runGit(ctx, keyPath, "", "clone", "--branch", repo.Branch, "--depth", "1", "--single-branch", repo.URL, dir); err != nil {
			return "", err
		}
	}

	out, err := c.runGit(ctx, keyPath, dir, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	commit := strings.TrimSpace(out)

	c.logger.Debug("gitops.synced", "Repository content synced", map[string]interface{}{
		"name":   repo.Name,
		"branch": repo.Branch,
		"commit": commit,
	})
	return commit, nil
}

// runGit executes git with the deploy-key SSH command in the environment.
// workDir == "" runs without -C for commands that take explicit targets.
func (c *Client) runGit(ctx context.Context, keyPath, workDir string, args ...string) (string, error) {
	gitArgs := args
	if workDir != "" {
		gitArgs = append([]string{"-C", workDir}, args...)
	}

	// #nosec G204 -- repository fields are validated at registration
	cmd := exec.CommandContext(ctx, "git", gitArgs...)
	cmd.Env = append(os.Environ(), "GIT_SSH_COMMAND="+sshCommand(keyPath))

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s failed: %w, stderr: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// parseLsRemote extracts the commit hash from ls-remote output. Empty
// output means the branch does not exist on the remote.
func parseLsRemote(out, branch string) (string, error) {
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		if fields[1] == "refs/heads/"+branch {
			return fields[0], nil
		}
	}
	return "", fmt.Errorf("branch %q not found on remote", branch)
}

func hasCheckout(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, ".git"))
	return err == nil && info.IsDir()
}
