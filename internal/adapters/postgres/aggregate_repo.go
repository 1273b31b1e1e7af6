package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/prxgr4mmer/crypto-history-service/internal/domain"
	"github.com/prxgr4mmer/crypto-history-service/internal/ports"
)

// AggregateRepository implements the ports.AggregateRepository interface.
//
// Widening is a single server-side conditional upsert: GREATEST/LEAST
// resolve the read-modify-write inside the row update, so two workers
// widening the same bucket concurrently cannot lose either update and no
// lock wider than the single row is ever taken.
type AggregateRepository struct {
	db *DB
}

// NewAggregateRepository creates a new PostgreSQL aggregate repository
func NewAggregateRepository(db *DB) *AggregateRepository {
	return &AggregateRepository{db: db}
}

const widenQuery = `
	INSERT INTO monthly_aggregates (coin_id, year, month, max_price, min_price)
	VALUES ($1, $2, $3, $4, $4)
	ON CONFLICT (coin_id, year, month) DO UPDATE
	SET max_price = GREATEST(monthly_aggregates.max_price, EXCLUDED.max_price),
	    min_price = LEAST(monthly_aggregates.min_price, EXCLUDED.min_price)
`

// Widen atomically widens the (coin_id, year, month) bucket to span price,
// creating it with max = min = price when absent.
func (r *AggregateRepository) Widen(ctx context.Context, coinID string, year, month int, price decimal.Decimal) error {
	if _, err := r.db.Pool.Exec(ctx, widenQuery, coinID, year, month, price); err != nil {
		return fmt.Errorf("failed to widen aggregate: %w", err)
	}
	return nil
}

// widenTx is Widen within an existing transaction, used by the observation
// repository so a raw insert and its aggregate update commit together.
func (r *AggregateRepository) widenTx(ctx context.Context, tx pgx.Tx, coinID string, year, month int, price decimal.Decimal) error {
	if _, err := tx.Exec(ctx, widenQuery, coinID, year, month, price); err != nil {
		return fmt.Errorf("failed to widen aggregate: %w", err)
	}
	return nil
}

// Get retrieves one aggregate bucket
func (r *AggregateRepository) Get(ctx context.Context, coinID string, year, month int) (*domain.MonthlyAggregate, error) {
	query := `
		SELECT coin_id, year, month, max_price, min_price
		FROM monthly_aggregates
		WHERE coin_id = $1 AND year = $2 AND month = $3
	`

	agg, err := scanAggregate(r.db.Pool.QueryRow(ctx, query, coinID, year, month))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrAggregateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get aggregate: %w", err)
	}

	return agg, nil
}

// ListByCoin returns all buckets for a coin ordered by year, month
func (r *AggregateRepository) ListByCoin(ctx context.Context, coinID string) ([]*domain.MonthlyAggregate, error) {
	query := `
		SELECT coin_id, year, month, max_price, min_price
		FROM monthly_aggregates
		WHERE coin_id = $1
		ORDER BY year, month
	`

	rows, err := r.db.Pool.Query(ctx, query, coinID)
	if err != nil {
		return nil, fmt.Errorf("failed to list aggregates: %w", err)
	}
	defer rows.Close()

	var aggregates []*domain.MonthlyAggregate
	for rows.Next() {
		agg, err := scanAggregate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan aggregate: %w", err)
		}
		aggregates = append(aggregates, agg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating aggregates: %w", err)
	}

	return aggregates, nil
}

func scanAggregate(row pgx.Row) (*domain.MonthlyAggregate, error) {
	var agg domain.MonthlyAggregate
	var maxStr, minStr string

	if err := row.Scan(&agg.CoinID, &agg.Year, &agg.Month, &maxStr, &minStr); err != nil {
		return nil, err
	}

	var err error
	if agg.MaxPrice, err = decimal.NewFromString(maxStr); err != nil {
		return nil, fmt.Errorf("failed to parse max_price: %w", err)
	}
	if agg.MinPrice, err = decimal.NewFromString(minStr); err != nil {
		return nil, fmt.Errorf("failed to parse min_price: %w", err)
	}

	return &agg, nil
}

// Ensure AggregateRepository implements ports.AggregateRepository
var _ ports.AggregateRepository = (*AggregateRepository)(nil)
