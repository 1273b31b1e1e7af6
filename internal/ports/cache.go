package ports

import (
	"context"

	"github.com/prxgr4mmer/crypto-history-service/internal/domain"
)

// AggregateCache defines the contract for the optional read cache of
// monthly aggregates. It is strictly best-effort: ingestion correctness
// never depends on it and a miss means "ask the repository".
type AggregateCache interface {
	// SetAggregate stores the current state of one bucket
	SetAggregate(ctx context.Context, agg *domain.MonthlyAggregate) error

	// GetAggregate returns a cached bucket, or nil on a miss
	GetAggregate(ctx context.Context, coinID string, year, month int) (*domain.MonthlyAggregate, error)

	// Ping checks if the cache is reachable
	Ping(ctx context.Context) error

	// Close releases the underlying connection
	Close() error
}
