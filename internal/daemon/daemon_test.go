package daemon

import (
	"context"
	"io"
	"testing"
	"time"

	"dockhand/internal/config"
	"dockhand/internal/engine"
	"dockhand/internal/logging"
	"dockhand/internal/poller"
	"dockhand/internal/store"
)

type idleRepos struct{}

func (idleRepos) List(ctx context.Context) ([]store.Repository, error) { return nil, nil }
func (idleRepos) UpdateObservedCommit(ctx context.Context, name, commit string) error {
	return nil
}

type idleHeads struct{}

func (idleHeads) ResolveHead(ctx context.Context, repo *store.Repository) (string, error) {
	return "", nil
}

type idleReconciler struct{}

func (idleReconciler) Reconcile(ctx context.Context, repo *store.Repository, commit string) error {
	return nil
}

type fakeRuntime struct {
	engine.Runtime
	up bool
}

func (f fakeRuntime) IsRunning() bool { return f.up }

func testDaemon(up bool) *Daemon {
	cfg := config.DefaultConfig()
	cfg.Poll.IntervalSeconds = 3600
	cfg.Daemon.ShutdownGraceSeconds = 5

	logger := logging.NewWriterLogger(logging.LevelError, io.Discard)
	p := poller.New(idleRepos{}, idleHeads{}, idleReconciler{}, cfg.Poll, logger)
	return New(p, fakeRuntime{up: up}, &cfg, logger)
}

func TestRunFailsWhenEngineDown(t *testing.T) {
	d := testDaemon(false)
	if err := d.Run(context.Background()); err == nil {
		t.Fatal("Run succeeded with engine down")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	d := testDaemon(true)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx) }()

	// Give the poller a moment to start before canceling.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("Run = %v, want nil after clean shutdown", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after context cancel")
	}
}
