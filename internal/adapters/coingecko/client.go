package coingecko

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"github.com/prxgr4mmer/crypto-history-service/internal/domain"
	"github.com/prxgr4mmer/crypto-history-service/internal/ports"
	"github.com/prxgr4mmer/crypto-history-service/pkg/retry"
)

const (
	defaultBaseURL = "https://api.coingecko.com"
	historyPath    = "/api/v3/coins/%s/history"
	pingPath       = "/api/v3/ping"

	// The history endpoint wants dd-mm-yyyy.
	apiDateFormat = "02-01-2006"
)

// Client implements the PriceSource interface for the CoinGecko API.
// It classifies failures into the domain error taxonomy but never retries:
// the orchestrator owns the retry policy per task.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	apiKeyHeader string
	apiKey       string
	logger       *slog.Logger
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithBaseURL sets the base URL
func WithBaseURL(url string) ClientOption {
	return func(c *Client) {
		if url != "" {
			c.baseURL = url
		}
	}
}

// WithTimeout sets the HTTP client timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithAPIKey sets the API key and the header it is sent under
func WithAPIKey(header, key string) ClientOption {
	return func(c *Client) {
		c.apiKeyHeader = header
		c.apiKey = key
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger.With("component", "coingecko_client")
	}
}

// NewClient creates a new CoinGecko client
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		baseURL: defaultBaseURL,
		logger:  slog.Default().With("component", "coingecko_client"),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// historyResponse covers the parts of the history payload we extract.
// The full body is kept verbatim as the observation's raw payload.
type historyResponse struct {
	ID         string `json:"id"`
	MarketData *struct {
		CurrentPrice map[string]decimal.Decimal `json:"current_price"`
		TotalVolume  map[string]decimal.Decimal `json:"total_volume"`
	} `json:"market_data"`
}

// GetHistory fetches the historical observation for a coin on a calendar day.
func (c *Client) GetHistory(ctx context.Context, coinID string, day time.Time) (*domain.RawObservation, error) {
	coinID, err := domain.NormalizeCoinID(coinID)
	if err != nil {
		return nil, err
	}
	day = domain.DayOf(day)

	u, err := url.Parse(c.baseURL + fmt.Sprintf(historyPath, url.PathEscape(coinID)))
	if err != nil {
		return nil, fmt.Errorf("failed to build history url: %w", err)
	}
	q := u.Query()
	q.Set("date", day.Format(apiDateFormat))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set(c.apiKeyHeader, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("request failed", "coin", coinID, "date", day.Format("2006-01-02"), "error", err)
		return nil, retry.NewRetryableError(fmt.Errorf("%w: %w", domain.ErrSourceUnavailable, err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		c.logger.Warn("rate limited by price source", "coin", coinID)
		return nil, retry.NewRetryableError(domain.ErrRateLimited)

	case resp.StatusCode >= 500:
		c.logger.Warn("price source server error", "status", resp.StatusCode)
		return nil, retry.NewRetryableError(domain.ErrSourceUnavailable)

	case resp.StatusCode == http.StatusNotFound:
		// Coin id does not exist
		return nil, domain.ErrCoinNotFound

	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(resp.Body)
		c.logger.Error("unexpected response",
			"status", resp.StatusCode,
			"body", string(body))
		return nil, domain.ErrInvalidResponse
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, retry.NewRetryableError(fmt.Errorf("failed to read response: %w", err))
	}

	var hist historyResponse
	if err := json.Unmarshal(body, &hist); err != nil {
		c.logger.Error("failed to decode response", "error", err)
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidResponse, err)
	}

	if hist.MarketData == nil {
		// The API returns 200 with no market_data for dates before the
		// coin had any market; nothing to ingest and nothing to retry.
		return nil, domain.ErrPriceMissing
	}

	price, ok := hist.MarketData.CurrentPrice["usd"]
	if !ok {
		return nil, domain.ErrPriceMissing
	}

	var volume *decimal.Decimal
	if v, ok := hist.MarketData.TotalVolume["usd"]; ok {
		volume = &v
	}

	return domain.NewRawObservation(coinID, day, price, volume, body)
}

// Ping checks if the CoinGecko API is reachable
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+pingPath, nil)
	if err != nil {
		return err
	}
	if c.apiKey != "" {
		req.Header.Set(c.apiKeyHeader, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.ErrSourceUnavailable
	}

	return nil
}

// Ensure Client implements PriceSource
var _ ports.PriceSource = (*Client)(nil)
