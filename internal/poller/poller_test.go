package poller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"dockhand/internal/config"
	"dockhand/internal/logging"
	"dockhand/internal/store"
)

type fakeRepos struct {
	mu       sync.Mutex
	repos    []store.Repository
	listErr  error
	observed map[string]string
}

func (f *fakeRepos) List(ctx context.Context) ([]store.Repository, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]store.Repository, len(f.repos))
	copy(out, f.repos)
	return out, nil
}

func (f *fakeRepos) UpdateObservedCommit(ctx context.Context, name, commit string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.observed == nil {
		f.observed = make(map[string]string)
	}
	f.observed[name] = commit
	return nil
}

func (f *fakeRepos) observedCommit(name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.observed[name]
}

type fakeHeads struct {
	heads map[string]string
	err   error
}

func (f *fakeHeads) ResolveHead(ctx context.Context, repo *store.Repository) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.heads[repo.Name], nil
}

type fakeReconciler struct {
	mu      sync.Mutex
	calls   []string
	err     error
	block   chan struct{} // when set, Reconcile waits on it
	inUse   atomic.Int32
	maxSeen atomic.Int32
}

func (f *fakeReconciler) Reconcile(ctx context.Context, repo *store.Repository, commit string) error {
	n := f.inUse.Add(1)
	for {
		max := f.maxSeen.Load()
		if n <= max || f.maxSeen.CompareAndSwap(max, n) {
			break
		}
	}
	defer f.inUse.Add(-1)

	if f.block != nil {
		<-f.block
	}

	f.mu.Lock()
	f.calls = append(f.calls, repo.Name+"@"+commit)
	f.mu.Unlock()
	return f.err
}

func (f *fakeReconciler) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func testPoller(repos *fakeRepos, heads *fakeHeads, rec *fakeReconciler, maxConcurrent int) *Poller {
	cfg := config.PollConfig{IntervalSeconds: 3600, MaxConcurrent: maxConcurrent}
	logger := logging.NewWriterLogger(logging.LevelError, io.Discard)
	return New(repos, heads, rec, cfg, logger)
}

func repo(name, lastCommit string) store.Repository {
	return store.Repository{
		Name:       name,
		URL:        "git@gitea.lan:homelab/" + name + ".git",
		Branch:     "main",
		LastCommit: lastCommit,
	}
}

func TestCycleReconcilesChangedRepo(t *testing.T) {
	repos := &fakeRepos{repos: []store.Repository{repo("blog", "old")}}
	heads := &fakeHeads{heads: map[string]string{"blog": "new"}}
	rec := &fakeReconciler{}
	p := testPoller(repos, heads, rec, 2)

	p.cycle(context.Background())
	p.wg.Wait()

	if got := rec.callCount(); got != 1 {
		t.Fatalf("reconcile calls = %d, want 1", got)
	}
	if rec.calls[0] != "blog@new" {
		t.Errorf("reconciled %q, want blog@new", rec.calls[0])
	}
	if repos.observedCommit("blog") != "new" {
		t.Errorf("observed commit = %q, want new", repos.observedCommit("blog"))
	}
}

func TestCycleSkipsUnchangedRepo(t *testing.T) {
	repos := &fakeRepos{repos: []store.Repository{repo("blog", "same")}}
	heads := &fakeHeads{heads: map[string]string{"blog": "same"}}
	rec := &fakeReconciler{}
	p := testPoller(repos, heads, rec, 2)

	p.cycle(context.Background())
	p.wg.Wait()

	if got := rec.callCount(); got != 0 {
		t.Errorf("reconcile calls = %d, want 0", got)
	}
}

func TestCycleKeepsObservedCommitOnFailure(t *testing.T) {
	repos := &fakeRepos{repos: []store.Repository{repo("blog", "old")}}
	heads := &fakeHeads{heads: map[string]string{"blog": "new"}}
	rec := &fakeReconciler{err: errors.New("deploy failed")}
	p := testPoller(repos, heads, rec, 2)

	p.cycle(context.Background())
	p.wg.Wait()

	if repos.observedCommit("blog") != "" {
		t.Error("observed commit advanced despite failed reconcile")
	}

	// The unchanged observed commit makes the next cycle retry.
	p.cycle(context.Background())
	p.wg.Wait()
	if got := rec.callCount(); got != 2 {
		t.Errorf("reconcile calls = %d, want 2 (retry)", got)
	}
}

func TestCycleSkipsOnHeadFailure(t *testing.T) {
	repos := &fakeRepos{repos: []store.Repository{repo("blog", "old")}}
	heads := &fakeHeads{err: errors.New("remote unreachable")}
	rec := &fakeReconciler{}
	p := testPoller(repos, heads, rec, 2)

	p.cycle(context.Background())
	p.wg.Wait()

	if got := rec.callCount(); got != 0 {
		t.Errorf("reconcile calls = %d, want 0", got)
	}
	if repos.observedCommit("blog") != "" {
		t.Error("observed commit recorded despite head failure")
	}
}

func TestCycleSkipsActiveRepo(t *testing.T) {
	repos := &fakeRepos{repos: []store.Repository{repo("blog", "old")}}
	heads := &fakeHeads{heads: map[string]string{"blog": "new"}}
	rec := &fakeReconciler{block: make(chan struct{})}
	p := testPoller(repos, heads, rec, 2)

	p.cycle(context.Background())

	// Wait until the first reconciliation is actually in flight.
	deadline := time.Now().Add(time.Second)
	for rec.inUse.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	p.cycle(context.Background())
	close(rec.block)
	p.wg.Wait()

	if got := rec.callCount(); got != 1 {
		t.Errorf("reconcile calls = %d, want 1 (second cycle must skip active repo)", got)
	}
}

func TestCycleBoundsConcurrency(t *testing.T) {
	var repoList []store.Repository
	heads := map[string]string{}
	for i := 0; i < 5; i++ {
		name := fmt.Sprintf("svc%d", i)
		repoList = append(repoList, repo(name, "old"))
		heads[name] = "new"
	}
	repos := &fakeRepos{repos: repoList}
	rec := &fakeReconciler{}
	p := testPoller(repos, &fakeHeads{heads: heads}, rec, 2)

	p.cycle(context.Background())
	p.wg.Wait()

	if got := rec.callCount(); got != 5 {
		t.Fatalf("reconcile calls = %d, want 5", got)
	}
	if max := rec.maxSeen.Load(); max > 2 {
		t.Errorf("max concurrent reconciliations = %d, want <= 2", max)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	repos := &fakeRepos{repos: []store.Repository{repo("blog", "same")}}
	heads := &fakeHeads{heads: map[string]string{"blog": "same"}}
	p := testPoller(repos, heads, &fakeReconciler{}, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
