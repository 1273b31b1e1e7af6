package ports

import (
	"context"
	"time"

	"github.com/prxgr4mmer/crypto-history-service/internal/domain"
)

// PriceSource defines the contract for fetching historical prices from an
// external price API. Implementations classify failures into the domain
// error taxonomy (rate-limited, transient, permanent) and do not retry;
// retry policy belongs to the caller.
type PriceSource interface {
	// GetHistory fetches the observation for a coin on a calendar day.
	GetHistory(ctx context.Context, coinID string, day time.Time) (*domain.RawObservation, error)

	// Ping checks if the price source is reachable
	Ping(ctx context.Context) error
}
