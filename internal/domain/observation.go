package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// RawObservation is one historical price reading for a coin on a calendar
// day, as returned by the price source. The full API response is retained
// verbatim in RawPayload for later reprocessing. Rows are insert-only:
// at most one observation exists per (coin_id, date) pair.
type RawObservation struct {
	CoinID     string           `json:"coin_id"`
	Date       time.Time        `json:"date"`
	PriceUSD   decimal.Decimal  `json:"price_usd"`
	VolumeUSD  *decimal.Decimal `json:"volume_usd,omitempty"`
	RawPayload json.RawMessage  `json:"raw_payload"`
}

// NewRawObservation creates an observation with the date normalized to a
// UTC calendar day.
func NewRawObservation(coinID string, date time.Time, price decimal.Decimal, volume *decimal.Decimal, payload json.RawMessage) (*RawObservation, error) {
	coinID, err := NormalizeCoinID(coinID)
	if err != nil {
		return nil, err
	}

	return &RawObservation{
		CoinID:     coinID,
		Date:       DayOf(date),
		PriceUSD:   price,
		VolumeUSD:  volume,
		RawPayload: payload,
	}, nil
}

// Bucket returns the (year, month) aggregate bucket this observation
// belongs to.
func (o *RawObservation) Bucket() (year, month int) {
	return o.Date.Year(), int(o.Date.Month())
}

// DayOf truncates a timestamp to its UTC calendar day.
func DayOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// MonthlyAggregate is the derived per-coin, per-month price extremum
// summary. It only ever widens: MaxPrice and MinPrice always equal the true
// extremes over every stored RawObservation in the bucket, and raw rows are
// never deleted.
type MonthlyAggregate struct {
	CoinID   string          `json:"coin_id"`
	Year     int             `json:"year"`
	Month    int             `json:"month"`
	MaxPrice decimal.Decimal `json:"max_price"`
	MinPrice decimal.Decimal `json:"min_price"`
}

// Covers reports whether the aggregate already spans the given price, i.e.
// widening with it would be a no-op.
func (a *MonthlyAggregate) Covers(price decimal.Decimal) bool {
	return price.LessThanOrEqual(a.MaxPrice) && price.GreaterThanOrEqual(a.MinPrice)
}

// StoreResult reports the outcome of storing an observation.
type StoreResult struct {
	// Inserted is false when a row for the (coin_id, date) key already
	// existed and the call was an idempotent no-op.
	Inserted bool
}
