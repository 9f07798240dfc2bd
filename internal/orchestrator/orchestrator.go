// Package orchestrator turns an observed commit into a running container.
// Each reconciliation builds or pulls an image, starts a candidate
// container next to the current one, gates on health, and only then swaps
// it into place. The previous container survives every failure before the
// swap, so a bad commit never takes a working deployment down.
package orchestrator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"dockhand/internal/config"
	"dockhand/internal/engine"
	"dockhand/internal/logging"
	"dockhand/internal/registry"
	"dockhand/internal/store"
)

// candidateSuffix marks the container being health-gated before the swap.
const candidateSuffix = "-next"

// ContentSyncer is the gitops surface the orchestrator needs.
type ContentSyncer interface {
	Sync(ctx context.Context, repo *store.Repository, dir string) (string, error)
}

// ParamSource resolves the decrypted parameter set for a deployment.
type ParamSource interface {
	ResolveAll(ctx context.Context, deployment string) (map[string]string, error)
}

// Orchestrator reconciles repositories into containers.
type Orchestrator struct {
	store   *store.Store
	git     ContentSyncer
	params  ParamSource
	runtime engine.Runtime
	logger  *logging.Logger

	prefix       string
	defaultImage string
	deploy       config.DeployConfig

	// healthPoll is how often the health gate re-inspects the candidate.
	healthPoll time.Duration

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates an orchestrator. The container prefix and default image
// come from configuration; timeouts from its deploy section.
func New(s *store.Store, git ContentSyncer, params ParamSource, runtime engine.Runtime, cfg *config.Config, logger *logging.Logger) *Orchestrator {
	return &Orchestrator{
		store:        s,
		git:          git,
		params:       params,
		runtime:      runtime,
		logger:       logger,
		prefix:       cfg.ContainerPrefix,
		defaultImage: cfg.DefaultImage,
		deploy:       cfg.Deploy,
		healthPoll:   2 * time.Second,
		locks:        make(map[string]*sync.Mutex),
	}
}

// ContainerName returns the canonical container name for a repository.
func (o *Orchestrator) ContainerName(repo string) string {
	return o.prefix + repo
}

// lockFor returns the per-repository mutex, creating it on first use.
// The lock is held across the whole reconciliation so a manual deploy and
// the poller can never race on the same repository.
func (o *Orchestrator) lockFor(name string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()

	l, ok := o.locks[name]
	if !ok {
		l = &sync.Mutex{}
		o.locks[name] = l
	}
	return l
}

// Reconcile deploys the given commit of a repository. On success the
// deployment row records the new commit, container and health; on failure
// the row records the error and the previous container keeps running.
func (o *Orchestrator) Reconcile(ctx context.Context, repo *store.Repository, commit string) error {
	lock := o.lockFor(repo.Name)
	lock.Lock()
	defer lock.Unlock()

	ctx, cancel := context.WithTimeout(ctx, time.Duration(o.deploy.DeployTimeoutSeconds)*time.Second)
	defer cancel()

	err := o.reconcile(ctx, repo, commit)
	if err != nil {
		o.recordFailure(repo.Name, err)
		o.logger.Error("orchestrator.reconcile_failed", "Reconciliation failed", map[string]interface{}{
			"name":   repo.Name,
			"commit": commit,
			"error":  err.Error(),
		})
	}
	return err
}

func (o *Orchestrator) reconcile(ctx context.Context, repo *store.Repository, commit string) error {
	dir := registry.ContentDir(o.store.Root(), repo.Name)

	fetchCtx, cancel := context.WithTimeout(ctx, time.Duration(o.deploy.FetchTimeoutSeconds)*time.Second)
	synced, err := o.git.Sync(fetchCtx, repo, dir)
	cancel()
	if err != nil {
		return &FetchError{Repo: repo.Name, Err: err}
	}
	if commit == "" {
		commit = synced
	}

	image, err := o.prepareImage(ctx, repo.Name, dir, commit)
	if err != nil {
		return err
	}

	env, err := o.params.ResolveAll(ctx, repo.Name)
	if err != nil {
		return &ParameterError{Repo: repo.Name, Err: err}
	}

	canonical := o.ContainerName(repo.Name)
	candidate := canonical + candidateSuffix

	// A stale candidate means a previous cycle died mid-swap.
	if err := o.runtime.RemoveContainer(ctx, candidate); err != nil {
		return &ContainerError{Repo: repo.Name, Stage: "run", Err: err}
	}

	containerID, err := o.runtime.RunContainer(ctx, engine.RunSpec{
		Name:  candidate,
		Image: image,
		Env:   env,
		Labels: map[string]string{
			engine.ManagedLabel: "true",
			engine.RepoLabel:    repo.Name,
		},
	})
	if err != nil {
		return &ContainerError{Repo: repo.Name, Stage: "run", Err: err}
	}

	health, err := o.awaitHealth(ctx, candidate)
	if err != nil {
		// The candidate never became viable. Remove it; the previous
		// container was never touched.
		_ = o.runtime.RemoveContainer(context.WithoutCancel(ctx), candidate)
		return &ContainerError{Repo: repo.Name, Stage: "health", Err: err}
	}

	if err := o.promote(ctx, canonical, candidate); err != nil {
		return &ContainerError{Repo: repo.Name, Stage: "promote", Err: err}
	}

	dbErr := o.store.WithTx(ctx, func(tx *sql.Tx) error {
		return store.UpsertDeployment(tx, &store.Deployment{
			Name:        repo.Name,
			ContentHash: commit,
			ContainerID: containerID,
			Health:      health,
		})
	})
	if dbErr != nil {
		return dbErr
	}

	o.logger.Info("orchestrator.deployed", "Deployment reconciled", map[string]interface{}{
		"name":   repo.Name,
		"commit": commit,
		"health": string(health),
	})
	return nil
}

// prepareImage builds the repository's Dockerfile when it ships one,
// otherwise pulls the configured default image.
func (o *Orchestrator) prepareImage(ctx context.Context, name, dir, commit string) (string, error) {
	if _, err := os.Stat(filepath.Join(dir, "Dockerfile")); err == nil {
		tag := fmt.Sprintf("dockhand/%s:%s", name, shortCommit(commit))
		if err := o.runtime.BuildImage(ctx, dir, tag); err != nil {
			return "", &ContainerError{Repo: name, Stage: "build", Err: err}
		}
		return tag, nil
	}

	if o.defaultImage == "" {
		return "", &ContainerError{Repo: name, Stage: "build",
			Err: errors.New("repository has no Dockerfile and no default image is configured")}
	}
	if err := o.runtime.PullImage(ctx, o.defaultImage); err != nil {
		return "", &ContainerError{Repo: name, Stage: "pull", Err: err}
	}
	return o.defaultImage, nil
}

// awaitHealth watches the candidate until it is viable or provably dead.
// A container without a HEALTHCHECK counts as healthy once running. A
// candidate still in "starting" when the gate times out is allowed
// through as unhealthy rather than rolled back: a slow first boot should
// not wedge the deployment forever, and the next cycle re-evaluates it.
func (o *Orchestrator) awaitHealth(ctx context.Context, name string) (store.Health, error) {
	deadline := time.After(time.Duration(o.deploy.HealthTimeoutSeconds) * time.Second)
	ticker := time.NewTicker(o.healthPoll)
	defer ticker.Stop()

	for {
		state, err := o.runtime.InspectContainer(ctx, name)
		if err != nil {
			return "", err
		}
		if state == nil {
			return "", errors.New("candidate container disappeared during health gate")
		}
		if !state.Running {
			return "", fmt.Errorf("candidate container exited during health gate (status %s)", state.Status)
		}

		switch state.Health {
		case "healthy", "none":
			return store.HealthHealthy, nil
		case "unhealthy":
			return "", errors.New("candidate container reported unhealthy")
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-deadline:
			return store.HealthUnhealthy, nil
		case <-ticker.C:
		}
	}
}

// promote retires the current container and moves the candidate into its
// place. The old container is stopped with the configured grace period
// before removal.
func (o *Orchestrator) promote(ctx context.Context, canonical, candidate string) error {
	stopTimeout := time.Duration(o.deploy.StopTimeoutSeconds) * time.Second
	if err := o.runtime.StopContainer(ctx, canonical, stopTimeout); err != nil {
		return err
	}
	if err := o.runtime.RemoveContainer(ctx, canonical); err != nil {
		return err
	}
	return o.runtime.RenameContainer(ctx, candidate, canonical)
}

// Teardown stops and removes the containers backing a repository. Called
// on repository removal, after the registry row is gone.
func (o *Orchestrator) Teardown(ctx context.Context, name string) error {
	lock := o.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	canonical := o.ContainerName(name)
	stopTimeout := time.Duration(o.deploy.StopTimeoutSeconds) * time.Second

	if err := o.runtime.StopContainer(ctx, canonical, stopTimeout); err != nil {
		return err
	}
	if err := o.runtime.RemoveContainer(ctx, canonical); err != nil {
		return err
	}
	return o.runtime.RemoveContainer(ctx, canonical+candidateSuffix)
}

// recordFailure persists the reconcile error on the deployment row. Uses
// a fresh context so a canceled reconciliation can still be recorded.
func (o *Orchestrator) recordFailure(name string, reconcileErr error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := o.store.WithTx(ctx, func(tx *sql.Tx) error {
		return store.RecordDeployError(tx, name, reconcileErr)
	})
	if err != nil {
		o.logger.Warn("orchestrator.record_failed", "Failed to persist deploy error", map[string]interface{}{
			"name":  name,
			"error": err.Error(),
		})
	}
}

func shortCommit(commit string) string {
	if len(commit) > 12 {
		return commit[:12]
	}
	return commit
}
