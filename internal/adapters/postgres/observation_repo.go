package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/prxgr4mmer/crypto-history-service/internal/domain"
	"github.com/prxgr4mmer/crypto-history-service/internal/ports"
)

// ObservationRepository implements the ports.ObservationRepository interface
type ObservationRepository struct {
	db         *DB
	aggregates *AggregateRepository
}

// NewObservationRepository creates a new PostgreSQL observation repository
func NewObservationRepository(db *DB, aggregates *AggregateRepository) *ObservationRepository {
	return &ObservationRepository{db: db, aggregates: aggregates}
}

// InsertWithAggregate stores a raw observation and widens its monthly
// bucket in one transaction. The insert is idempotent on (coin_id, date):
// a duplicate leaves the existing row untouched, skips the widen (the
// winning insert already covered this price) and reports Inserted=false.
func (r *ObservationRepository) InsertWithAggregate(ctx context.Context, obs *domain.RawObservation) (domain.StoreResult, error) {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return domain.StoreResult{}, fmt.Errorf("%w: %w", domain.ErrStorageUnavailable, err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO raw_observations (coin_id, date, price_usd, volume_usd, raw_payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (coin_id, date) DO NOTHING
	`

	tag, err := tx.Exec(ctx, query,
		obs.CoinID,
		obs.Date,
		obs.PriceUSD,
		obs.VolumeUSD,
		obs.RawPayload,
	)
	if err != nil {
		return domain.StoreResult{}, fmt.Errorf("failed to insert observation: %w", err)
	}

	inserted := tag.RowsAffected() > 0
	if inserted {
		year, month := obs.Bucket()
		if err := r.aggregates.widenTx(ctx, tx, obs.CoinID, year, month, obs.PriceUSD); err != nil {
			return domain.StoreResult{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.StoreResult{}, fmt.Errorf("failed to commit observation: %w", err)
	}

	return domain.StoreResult{Inserted: inserted}, nil
}

// GetByCoinDate retrieves a single observation by its key
func (r *ObservationRepository) GetByCoinDate(ctx context.Context, coinID string, date time.Time) (*domain.RawObservation, error) {
	query := `
		SELECT coin_id, date, price_usd, volume_usd, raw_payload
		FROM raw_observations
		WHERE coin_id = $1 AND date = $2
	`

	obs, err := scanObservation(r.db.Pool.QueryRow(ctx, query, coinID, domain.DayOf(date)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrObservationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get observation: %w", err)
	}

	return obs, nil
}

// ListByCoin returns a coin's observations, newest first
func (r *ObservationRepository) ListByCoin(ctx context.Context, coinID string, limit int) ([]*domain.RawObservation, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	query := `
		SELECT coin_id, date, price_usd, volume_usd, raw_payload
		FROM raw_observations
		WHERE coin_id = $1
		ORDER BY date DESC
		LIMIT $2
	`

	rows, err := r.db.Pool.Query(ctx, query, coinID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list observations: %w", err)
	}
	defer rows.Close()

	var observations []*domain.RawObservation
	for rows.Next() {
		obs, err := scanObservation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan observation: %w", err)
		}
		observations = append(observations, obs)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating observations: %w", err)
	}

	return observations, nil
}

// Count returns total number of stored observations
func (r *ObservationRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM raw_observations`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count observations: %w", err)
	}
	return count, nil
}

// CountByCoin returns number of observations for a coin
func (r *ObservationRepository) CountByCoin(ctx context.Context, coinID string) (int64, error) {
	var count int64
	if err := r.db.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM raw_observations WHERE coin_id = $1`, coinID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count observations by coin: %w", err)
	}
	return count, nil
}

func scanObservation(row pgx.Row) (*domain.RawObservation, error) {
	var obs domain.RawObservation
	var priceStr string
	var volumeStr *string

	if err := row.Scan(&obs.CoinID, &obs.Date, &priceStr, &volumeStr, &obs.RawPayload); err != nil {
		return nil, err
	}

	var err error
	if obs.PriceUSD, err = decimal.NewFromString(priceStr); err != nil {
		return nil, fmt.Errorf("failed to parse price: %w", err)
	}
	if volumeStr != nil {
		volume, err := decimal.NewFromString(*volumeStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse volume: %w", err)
		}
		obs.VolumeUSD = &volume
	}

	obs.Date = domain.DayOf(obs.Date)
	return &obs, nil
}

// Ensure ObservationRepository implements ports.ObservationRepository
var _ ports.ObservationRepository = (*ObservationRepository)(nil)
