// Package poller runs the change-detection loop: on every tick it asks
// each registered repository's remote for its branch tip and hands
// changed repositories to the orchestrator. The observed commit is only
// advanced after a successful reconciliation, so a failed deploy is
// retried on the next cycle.
package poller

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"dockhand/internal/config"
	"dockhand/internal/logging"
	"dockhand/internal/store"
)

// RepoSource lists repositories and records reconciled commits.
type RepoSource interface {
	List(ctx context.Context) ([]store.Repository, error)
	UpdateObservedCommit(ctx context.Context, name, commit string) error
}

// HeadResolver returns the commit at the tip of a repository's branch.
type HeadResolver interface {
	ResolveHead(ctx context.Context, repo *store.Repository) (string, error)
}

// Reconciler deploys a repository at a commit.
type Reconciler interface {
	Reconcile(ctx context.Context, repo *store.Repository, commit string) error
}

// Poller drives periodic reconciliation.
type Poller struct {
	repos      RepoSource
	heads      HeadResolver
	reconciler Reconciler
	logger     *logging.Logger

	interval time.Duration
	sem      *semaphore.Weighted

	// active guards against overlapping work on one repository when a
	// reconciliation outlives the poll interval.
	mu     sync.Mutex
	active map[string]bool

	wg sync.WaitGroup
}

// New creates a poller from the poll section of the configuration.
func New(repos RepoSource, heads HeadResolver, reconciler Reconciler, cfg config.PollConfig, logger *logging.Logger) *Poller {
	return &Poller{
		repos:      repos,
		heads:      heads,
		reconciler: reconciler,
		logger:     logger,
		interval:   time.Duration(cfg.IntervalSeconds) * time.Second,
		sem:        semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		active:     make(map[string]bool),
	}
}

// Run polls until ctx is canceled. The first cycle starts immediately;
// Run returns once in-flight reconciliations have drained.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			p.wg.Wait()
			return
		case <-ticker.C:
			p.cycle(ctx)
		}
	}
}

// cycle checks every registered repository once. Repositories still being
// reconciled from an earlier cycle are skipped; the semaphore bounds how
// many run at once.
func (p *Poller) cycle(ctx context.Context) {
	repos, err := p.repos.List(ctx)
	if err != nil {
		p.logger.Error("poller.list_failed", "Failed to list repositories", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	for i := range repos {
		if ctx.Err() != nil {
			return
		}
		repo := repos[i]

		if !p.claim(repo.Name) {
			continue
		}
		if err := p.sem.Acquire(ctx, 1); err != nil {
			p.release(repo.Name)
			return
		}

		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			defer p.sem.Release(1)
			defer p.release(repo.Name)
			p.check(ctx, &repo)
		}()
	}
}

// check polls one repository and reconciles it when the remote tip moved.
func (p *Poller) check(ctx context.Context, repo *store.Repository) {
	head, err := p.heads.ResolveHead(ctx, repo)
	if err != nil {
		// Remote unreachable is a normal condition in a homelab; log and
		// let the next cycle retry.
		p.logger.Warn("poller.head_failed", "Failed to resolve remote head", map[string]interface{}{
			"name":  repo.Name,
			"error": err.Error(),
		})
		return
	}

	if head == repo.LastCommit {
		return
	}

	p.logger.Info("poller.change_detected", "Remote branch moved", map[string]interface{}{
		"name": repo.Name,
		"from": repo.LastCommit,
		"to":   head,
	})

	if err := p.reconciler.Reconcile(ctx, repo, head); err != nil {
		// The orchestrator already recorded the failure on the
		// deployment row. Leaving the observed commit untouched makes
		// the next cycle retry this head.
		return
	}

	if err := p.repos.UpdateObservedCommit(ctx, repo.Name, head); err != nil {
		p.logger.Warn("poller.record_failed", "Failed to record observed commit", map[string]interface{}{
			"name":  repo.Name,
			"error": err.Error(),
		})
	}
}

func (p *Poller) claim(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active[name] {
		return false
	}
	p.active[name] = true
	return true
}

func (p *Poller) release(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.active, name)
}
