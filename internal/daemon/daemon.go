// Package daemon runs the long-lived agent process: it verifies the
// store and runtime are usable, then drives the poller until a shutdown
// signal arrives.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dockhand/internal/config"
	"dockhand/internal/engine"
	"dockhand/internal/logging"
	"dockhand/internal/poller"
)

// Daemon owns the poll loop lifecycle.
type Daemon struct {
	poller  *poller.Poller
	runtime engine.Runtime
	cfg     *config.Config
	logger  *logging.Logger
}

// New creates a daemon around an assembled poller.
func New(p *poller.Poller, runtime engine.Runtime, cfg *config.Config, logger *logging.Logger) *Daemon {
	return &Daemon{poller: p, runtime: runtime, cfg: cfg, logger: logger}
}

// Run blocks until SIGINT or SIGTERM, then gives in-flight
// reconciliations the configured grace period to settle before
// returning. The store must already be open; a dead container engine is
// fatal here rather than on the first deploy.
func (d *Daemon) Run(ctx context.Context) error {
	if !d.runtime.IsRunning() {
		return fmt.Errorf("container runtime is not reachable; run: dockhand doctor")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	d.logger.Info("daemon.started", "Daemon started", map[string]interface{}{
		"pid":           os.Getpid(),
		"poll_interval": d.cfg.Poll.IntervalSeconds,
	})

	done := make(chan struct{})
	go func() {
		d.poller.Run(ctx)
		close(done)
	}()

	select {
	case sig := <-sigCh:
		d.logger.Info("daemon.signal", "Shutdown signal received", map[string]interface{}{
			"signal": sig.String(),
		})
	case <-ctx.Done():
	}

	cancel()

	grace := time.Duration(d.cfg.Daemon.ShutdownGraceSeconds) * time.Second
	select {
	case <-done:
		d.logger.Info("daemon.stopped", "Daemon stopped cleanly", nil)
		return nil
	case <-time.After(grace):
		d.logger.Warn("daemon.shutdown_timeout", "Reconciliations did not settle within grace period", map[string]interface{}{
			"grace_seconds": d.cfg.Daemon.ShutdownGraceSeconds,
		})
		return fmt.Errorf("shutdown grace period of %s exceeded", grace)
	}
}
