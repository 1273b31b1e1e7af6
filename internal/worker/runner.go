package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prxgr4mmer/crypto-history-service/internal/ports"
)

// Runner invokes the fetch orchestrator's entry point at regular intervals,
// fetching the previous day's observations for a fixed coin set. It plays
// the role of an external timer: the orchestrator itself has no internal
// scheduling loop.
type Runner struct {
	runner      ports.FetchRunner
	coins       []string
	concurrency int
	interval    time.Duration
	logger      *slog.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewRunner creates a new interval runner
func NewRunner(runner ports.FetchRunner, coins []string, concurrency int, interval time.Duration, logger *slog.Logger) *Runner {
	return &Runner{
		runner:      runner,
		coins:       coins,
		concurrency: concurrency,
		interval:    interval,
		logger:      logger.With("component", "runner"),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Start begins the interval loop. It blocks until the context is cancelled
// or Stop is called; an initial run fires immediately.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	r.mu.Unlock()

	r.logger.Info("starting runner",
		"interval", r.interval.String(),
		"coins", len(r.coins),
	)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	// Initial run
	r.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("runner context cancelled")
			close(r.doneCh)
			r.mu.Lock()
			r.running = false
			r.mu.Unlock()
			return ctx.Err()

		case <-r.stopCh:
			r.logger.Info("runner stopped")
			close(r.doneCh)
			r.mu.Lock()
			r.running = false
			r.mu.Unlock()
			return nil

		case <-ticker.C:
			r.runOnce(ctx)
		}
	}
}

// runOnce fetches yesterday's observations for the configured coin set.
func (r *Runner) runOnce(ctx context.Context) {
	yesterday := time.Now().UTC().AddDate(0, 0, -1)

	summary, err := r.runner.Run(ctx, r.coins, yesterday, yesterday, r.concurrency)
	if err != nil {
		r.logger.Error("scheduled run failed", "error", err)
		return
	}

	if len(summary.Failed) > 0 {
		r.logger.Warn("scheduled run completed with failures",
			"run_id", summary.RunID,
			"succeeded", summary.Succeeded,
			"failed", len(summary.Failed),
		)
	}
}

// Stop gracefully stops the runner
func (r *Runner) Stop() error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	r.logger.Info("stopping runner")
	close(r.stopCh)

	// Wait for the runner to finish with timeout
	select {
	case <-r.doneCh:
		return nil
	case <-time.After(10 * time.Second):
		return context.DeadlineExceeded
	}
}

// IsRunning returns whether the runner is currently active
func (r *Runner) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}
