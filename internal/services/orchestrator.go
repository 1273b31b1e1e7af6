package services

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/prxgr4mmer/crypto-history-service/internal/domain"
	"github.com/prxgr4mmer/crypto-history-service/internal/ports"
	"github.com/prxgr4mmer/crypto-history-service/pkg/retry"
)

// OrchestratorConfig holds fetch orchestration configuration
type OrchestratorConfig struct {
	// Concurrency is the worker pool size used when Run is called with a
	// non-positive concurrency limit.
	Concurrency int

	// Retry is the per-task retry policy for retryable source errors
	Retry retry.Config
}

// Orchestrator implements the ports.FetchRunner interface. It expands a
// coin set × date range into deduplicated fetch tasks, executes them over a
// bounded worker pool with per-task retry/backoff, and reports a run
// summary once every dispatched task has reached a terminal state.
type Orchestrator struct {
	source ports.PriceSource
	ingest ports.Ingestor
	stats  ports.RunStats // optional, may be nil
	cfg    OrchestratorConfig
	logger *slog.Logger
}

// NewOrchestrator creates a new fetch orchestrator
func NewOrchestrator(
	source ports.PriceSource,
	ingest ports.Ingestor,
	stats ports.RunStats,
	cfg OrchestratorConfig,
	logger *slog.Logger,
) *Orchestrator {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	return &Orchestrator{
		source: source,
		ingest: ingest,
		stats:  stats,
		cfg:    cfg,
		logger: logger.With("component", "orchestrator"),
	}
}

// taskResult pairs a task's final snapshot with the error that ended it.
type taskResult struct {
	task domain.FetchTask
	err  error
}

// Run executes one fetch-and-ingest run. Failures of individual tasks are
// collected, never fatal; the summary's failure list preserves task
// generation order so callers can re-run exactly the failed subset. On
// cancellation no new tasks are dispatched, in-flight tasks drain, and the
// summary reflects only tasks that reached a terminal state.
func (o *Orchestrator) Run(ctx context.Context, coinIDs []string, from, to time.Time, concurrency int) (*domain.RunSummary, error) {
	coins := normalizeCoins(coinIDs)
	if len(coins) == 0 {
		return nil, domain.ErrNoCoins
	}

	from, to = domain.DayOf(from), domain.DayOf(to)
	if from.After(to) {
		return nil, domain.ErrInvalidDateRange
	}

	if concurrency <= 0 {
		concurrency = o.cfg.Concurrency
	}

	tasks := expandTasks(coins, from, to)

	summary := &domain.RunSummary{
		RunID:     uuid.New(),
		StartedAt: time.Now().UTC(),
	}

	o.logger.Info("run started",
		"run_id", summary.RunID,
		"coins", len(coins),
		"from", from.Format("2006-01-02"),
		"to", to.Format("2006-01-02"),
		"tasks", len(tasks),
		"concurrency", concurrency,
	)

	// Each worker owns the result slots of the tasks it executes, so the
	// slice needs no locking.
	results := make([]taskResult, len(tasks))

	type job struct {
		idx  int
		task domain.FetchTask
	}

	jobs := make(chan job)
	var wg sync.WaitGroup

	wg.Add(concurrency)
	for w := 0; w < concurrency; w++ {
		go func() {
			defer wg.Done()
			for j := range jobs {
				err := o.execute(ctx, &j.task)
				results[j.idx] = taskResult{task: j.task, err: err}
			}
		}()
	}

dispatch:
	for i, t := range tasks {
		select {
		case <-ctx.Done():
			o.logger.Info("run cancelled, draining in-flight tasks", "run_id", summary.RunID)
			break dispatch
		case jobs <- job{idx: i, task: t}:
		}
	}
	close(jobs)
	wg.Wait()

	for _, r := range results {
		switch r.task.State {
		case domain.TaskSucceeded:
			summary.Succeeded++
		case domain.TaskFailedPermanent, domain.TaskFailedExhausted:
			summary.Failed = append(summary.Failed, domain.TaskFailure{
				CoinID:   r.task.CoinID,
				Date:     r.task.Date,
				State:    r.task.State,
				Attempts: r.task.Attempts,
				Err:      r.err,
			})
		default:
			// Never dispatched, or interrupted by cancellation before
			// reaching a terminal state: not part of the summary.
		}
	}

	summary.FinishedAt = time.Now().UTC()

	if o.stats != nil {
		o.stats.RecordRun(summary)
	}

	o.logger.Info("run finished",
		"run_id", summary.RunID,
		"succeeded", summary.Succeeded,
		"failed", len(summary.Failed),
		"duration_ms", summary.FinishedAt.Sub(summary.StartedAt).Milliseconds(),
	)

	return summary, nil
}

// execute drives one task to a terminal state: fetch with retry/backoff,
// then store. The retry policy covers only the remote fetch; a storage
// failure ends the task immediately without affecting siblings.
func (o *Orchestrator) execute(ctx context.Context, task *domain.FetchTask) error {
	obs, attempts, err := retry.DoWithResult(ctx, o.cfg.Retry, func(ctx context.Context) (*domain.RawObservation, error) {
		task.State = domain.TaskInFlight
		obs, ferr := o.source.GetHistory(ctx, task.CoinID, task.Date)
		if ferr != nil && retry.IsRetryable(ferr) {
			task.State = domain.TaskRetryScheduled
		}
		return obs, ferr
	})
	task.Attempts = attempts

	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			// Interrupted by the stop signal, not failed: leave the task
			// non-terminal so the summary reflects only completed work.
			return err
		}
		if retry.IsRetryable(err) {
			task.State = domain.TaskFailedExhausted
			o.logger.Warn("task exhausted retries",
				"coin", task.CoinID,
				"date", task.Date.Format("2006-01-02"),
				"attempts", task.Attempts,
				"error", err)
		} else {
			task.State = domain.TaskFailedPermanent
			o.logger.Warn("task failed permanently",
				"coin", task.CoinID,
				"date", task.Date.Format("2006-01-02"),
				"error", err)
		}
		return err
	}

	if _, serr := o.ingest.Store(ctx, obs); serr != nil {
		task.State = domain.TaskFailedPermanent
		o.logger.Error("task failed to store observation",
			"coin", task.CoinID,
			"date", task.Date.Format("2006-01-02"),
			"error", serr)
		return serr
	}

	task.State = domain.TaskSucceeded
	return nil
}

// normalizeCoins lowercases, trims and deduplicates the coin set while
// preserving order. Identifiers that fail validation are kept: the price
// source rejects them and the task is reported FailedPermanent instead of
// aborting the whole run.
func normalizeCoins(coinIDs []string) []string {
	seen := make(map[string]struct{}, len(coinIDs))
	coins := make([]string, 0, len(coinIDs))

	for _, raw := range coinIDs {
		id, err := domain.NormalizeCoinID(raw)
		if err != nil {
			id = strings.ToLower(strings.TrimSpace(raw))
		}
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		coins = append(coins, id)
	}

	return coins
}

// expandTasks builds the deduplicated cross product of coins and days in
// the inclusive range, dates outermost.
func expandTasks(coins []string, from, to time.Time) []domain.FetchTask {
	seen := make(map[string]struct{})
	var tasks []domain.FetchTask

	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		for _, coin := range coins {
			t := domain.NewFetchTask(coin, day)
			if _, ok := seen[t.Key()]; ok {
				continue
			}
			seen[t.Key()] = struct{}{}
			tasks = append(tasks, t)
		}
	}

	return tasks
}

// Ensure Orchestrator implements ports.FetchRunner
var _ ports.FetchRunner = (*Orchestrator)(nil)
