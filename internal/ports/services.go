package ports

import (
	"context"
	"time"

	"github.com/prxgr4mmer/crypto-history-service/internal/domain"
)

// Ingestor defines the contract for the upsert persistence engine
type Ingestor interface {
	// Store persists a validated observation exactly once and guarantees
	// that a successful call implies the monthly aggregate already reflects
	// it. Safe for concurrent callers; idempotent per (coin_id, date) key.
	Store(ctx context.Context, obs *domain.RawObservation) (domain.StoreResult, error)
}

// FetchRunner defines the contract for the fetch orchestrator entry point,
// consumed by the CLI and by the interval runner.
type FetchRunner interface {
	// Run expands coinIDs × [from, to] into deduplicated fetch tasks,
	// executes them over a worker pool bounded by concurrency and returns
	// once every dispatched task is terminal. Individual task failures
	// never abort the run.
	Run(ctx context.Context, coinIDs []string, from, to time.Time, concurrency int) (*domain.RunSummary, error)
}

// RunStats defines the contract for ingest run statistics
type RunStats interface {
	// RecordRun records a completed run summary
	RecordRun(summary *domain.RunSummary)

	// Snapshot returns current statistics
	Snapshot() domain.Stats

	// LastRunAt returns the finish time of the most recent run
	LastRunAt() *time.Time
}
