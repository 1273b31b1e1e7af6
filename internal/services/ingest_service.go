package services

import (
	"context"
	"log/slog"

	"github.com/prxgr4mmer/crypto-history-service/internal/domain"
	"github.com/prxgr4mmer/crypto-history-service/internal/ports"
)

// IngestService implements the ports.Ingestor interface: the upsert
// persistence engine. A successful Store guarantees the raw row exists
// exactly once and the monthly aggregate already reflects it.
type IngestService struct {
	observations ports.ObservationRepository
	aggregates   ports.AggregateRepository
	cache        ports.AggregateCache // optional, nil disables caching
	logger       *slog.Logger
}

// NewIngestService creates a new ingest service
func NewIngestService(
	observations ports.ObservationRepository,
	aggregates ports.AggregateRepository,
	cache ports.AggregateCache,
	logger *slog.Logger,
) *IngestService {
	return &IngestService{
		observations: observations,
		aggregates:   aggregates,
		cache:        cache,
		logger:       logger.With("component", "ingest_service"),
	}
}

// Store persists a validated observation exactly once. The repository
// performs the idempotent insert and the aggregate widen in a single
// transaction, so either both are committed or neither is.
func (s *IngestService) Store(ctx context.Context, obs *domain.RawObservation) (domain.StoreResult, error) {
	if err := domain.ValidateCoinID(obs.CoinID); err != nil {
		return domain.StoreResult{}, err
	}

	result, err := s.observations.InsertWithAggregate(ctx, obs)
	if err != nil {
		s.logger.Error("failed to store observation",
			"coin", obs.CoinID,
			"date", obs.Date.Format("2006-01-02"),
			"error", err)
		return domain.StoreResult{}, err
	}

	if !result.Inserted {
		s.logger.Debug("observation already stored",
			"coin", obs.CoinID,
			"date", obs.Date.Format("2006-01-02"))
		return result, nil
	}

	s.logger.Debug("observation stored",
		"coin", obs.CoinID,
		"date", obs.Date.Format("2006-01-02"),
		"price", obs.PriceUSD.String())

	s.refreshCache(ctx, obs)

	return result, nil
}

// refreshCache updates the cached bucket after a successful insert.
// Cache failures are logged and swallowed: the database already holds the
// truth and readers fall back to it on a miss.
func (s *IngestService) refreshCache(ctx context.Context, obs *domain.RawObservation) {
	if s.cache == nil {
		return
	}

	year, month := obs.Bucket()
	agg, err := s.aggregates.Get(ctx, obs.CoinID, year, month)
	if err != nil {
		s.logger.Warn("failed to read aggregate for cache refresh",
			"coin", obs.CoinID, "year", year, "month", month, "error", err)
		return
	}

	if err := s.cache.SetAggregate(ctx, agg); err != nil {
		s.logger.Warn("failed to refresh aggregate cache",
			"coin", obs.CoinID, "year", year, "month", month, "error", err)
	}
}

// Ensure IngestService implements ports.Ingestor
var _ ports.Ingestor = (*IngestService)(nil)
