package domain

import "errors"

var (
	// Coin errors
	ErrInvalidCoinID = errors.New("invalid coin identifier")
	ErrCoinNotFound  = errors.New("coin not found on price source")

	// Price source errors
	ErrRateLimited       = errors.New("rate limited by price source")
	ErrSourceUnavailable = errors.New("price source unavailable")
	ErrInvalidResponse   = errors.New("invalid response from price source")
	ErrPriceMissing      = errors.New("response has no usd price")

	// Input errors
	ErrInvalidDateRange = errors.New("invalid date range")
	ErrNoCoins          = errors.New("no coins to fetch")

	// Storage errors
	ErrStorageUnavailable  = errors.New("storage unavailable")
	ErrObservationNotFound = errors.New("observation not found")
	ErrAggregateNotFound   = errors.New("aggregate not found")
)
