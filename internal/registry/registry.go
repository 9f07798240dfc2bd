// Package registry implements CRUD over registered repositories. Adding a
// repository generates its deploy keypair in the same transaction; removal
// cascades to parameters, deployment state, and fetched content.
package registry

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"dockhand/internal/keys"
	"dockhand/internal/logging"
	"dockhand/internal/secrets"
	"dockhand/internal/store"
)

// DefaultBranch is tracked when no branch is given at registration.
const DefaultBranch = "main"

// scp-like remote: git@github.com:owner/repo.git
var scpLikeRe = regexp.MustCompile(`^[A-Za-z0-9._-]+@[A-Za-z0-9._-]+:[^\s]+$`)

// Registry manages repository records.
type Registry struct {
	store  *store.Store
	cipher secrets.Cipher
	logger *logging.Logger
}

// New creates a registry bound to the store and record cipher.
func New(s *store.Store, cipher secrets.Cipher, logger *logging.Logger) *Registry {
	return &Registry{store: s, cipher: cipher, logger: logger}
}

// ValidateRemoteURL accepts the two git-over-SSH forms and nothing else.
// HTTPS remotes cannot use deploy keys, so they are rejected up front.
func ValidateRemoteURL(remote string) error {
	remote = strings.TrimSpace(remote)
	if remote == "" {
		return fmt.Errorf("%w: repository URL is required", store.ErrInvalidInput)
	}

	if scpLikeRe.MatchString(remote) && !strings.Contains(remote, "://") {
		return nil
	}

	if strings.HasPrefix(remote, "ssh://") {
		u, err := url.Parse(remote)
		if err != nil || u.Host == "" || u.Path == "" || u.Path == "/" {
			return fmt.Errorf("%w: malformed ssh:// URL %q", store.ErrInvalidInput, remote)
		}
		return nil
	}

	return fmt.Errorf("%w: %q is not a git-over-SSH remote (expected git@host:path or ssh://host/path)", store.ErrInvalidInput, remote)
}

// Add registers a repository and generates its deploy keypair. The
// returned record carries the public key for installation on the remote;
// the private key never leaves the store unsealed.
func (r *Registry) Add(ctx context.Context, name, remoteURL, branch string) (*store.Repository, error) {
	if err := store.ValidateRepoName(name); err != nil {
		return nil, err
	}
	if err := ValidateRemoteURL(remoteURL); err != nil {
		return nil, err
	}
	if branch == "" {
		branch = DefaultBranch
	}
	if strings.ContainsAny(branch, " \t~^:?*[\\") {
		return nil, fmt.Errorf("%w: invalid branch name %q", store.ErrInvalidInput, branch)
	}

	pair, err := keys.Generate(r.cipher, name)
	if err != nil {
		return nil, err
	}

	repo := &store.Repository{
		Name:       name,
		URL:        strings.TrimSpace(remoteURL),
		Branch:     branch,
		PublicKey:  pair.PublicKey,
		PrivateKey: pair.SealedPrivateKey,
	}

	err = r.store.WithTx(ctx, func(tx *sql.Tx) error {
		return store.InsertRepository(tx, repo)
	})
	if err != nil {
		return nil, err
	}

	r.logger.Info("registry.added", "Repository registered", map[string]interface{}{
		"name":   name,
		"branch": branch,
	})

	return repo, nil
}

// Get loads a repository by name.
func (r *Registry) Get(ctx context.Context, name string) (*store.Repository, error) {
	if err := store.ValidateRepoName(name); err != nil {
		return nil, err
	}
	return r.store.GetRepository(ctx, name)
}

// List returns all repositories ordered by name.
func (r *Registry) List(ctx context.Context) ([]store.Repository, error) {
	return r.store.ListRepositories(ctx)
}

// Remove deletes a repository and everything hanging off it: the deploy
// key, parameters, deployment row (all by cascade), and the fetched
// content directory. Stopping the running container is the caller's job,
// under the deployment lock.
func (r *Registry) Remove(ctx context.Context, name string) error {
	if err := store.ValidateRepoName(name); err != nil {
		return err
	}

	err := r.store.WithTx(ctx, func(tx *sql.Tx) error {
		return store.DeleteRepository(tx, name)
	})
	if err != nil {
		return err
	}

	contentDir := ContentDir(r.store.Root(), name)
	if err := os.RemoveAll(contentDir); err != nil {
		r.logger.Warn("registry.content_cleanup_failed", "Failed to remove fetched content", map[string]interface{}{
			"name":  name,
			"path":  contentDir,
			"error": err.Error(),
		})
	}

	r.logger.Info("registry.removed", "Repository removed", map[string]interface{}{
		"name": name,
	})
	return nil
}

// UpdateObservedCommit records the commit hash the poller last reconciled.
// Called only by the poller, only after a successful reconciliation.
func (r *Registry) UpdateObservedCommit(ctx context.Context, name, commitHash string) error {
	if err := store.ValidateRepoName(name); err != nil {
		return err
	}
	return r.store.WithTx(ctx, func(tx *sql.Tx) error {
		return store.SetObservedCommit(tx, name, commitHash)
	})
}

// ContentDir is where a repository's fetched tree lives under the root.
func ContentDir(root, name string) string {
	return filepath.Join(root, "deployments", name, "git")
}
