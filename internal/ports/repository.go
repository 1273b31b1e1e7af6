package ports

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/prxgr4mmer/crypto-history-service/internal/domain"
)

// ObservationRepository defines the contract for raw observation persistence
type ObservationRepository interface {
	// InsertWithAggregate performs the idempotent insert of a raw
	// observation keyed by (coin_id, date) and, when the row is new, widens
	// its monthly aggregate bucket within the same transaction. A duplicate
	// key is not an error: the existing row is left untouched and the
	// result reports Inserted=false.
	InsertWithAggregate(ctx context.Context, obs *domain.RawObservation) (domain.StoreResult, error)

	// GetByCoinDate retrieves a single observation by its key
	GetByCoinDate(ctx context.Context, coinID string, date time.Time) (*domain.RawObservation, error)

	// ListByCoin returns a coin's observations, newest first
	ListByCoin(ctx context.Context, coinID string, limit int) ([]*domain.RawObservation, error)

	// Count returns total number of stored observations
	Count(ctx context.Context) (int64, error)

	// CountByCoin returns number of observations for a coin
	CountByCoin(ctx context.Context, coinID string) (int64, error)
}

// AggregateRepository defines the contract for monthly extremum maintenance
type AggregateRepository interface {
	// Widen atomically widens the (coin_id, year, month) bucket so that it
	// spans price, creating the bucket with max=min=price when absent. The
	// read-modify-write must happen server-side in a single conditional
	// update; concurrent widens of one bucket must not lose updates.
	Widen(ctx context.Context, coinID string, year, month int, price decimal.Decimal) error

	// Get retrieves one aggregate bucket
	Get(ctx context.Context, coinID string, year, month int) (*domain.MonthlyAggregate, error)

	// ListByCoin returns all buckets for a coin ordered by year, month
	ListByCoin(ctx context.Context, coinID string) ([]*domain.MonthlyAggregate, error)
}
