package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prxgr4mmer/crypto-history-service/internal/domain"
	"github.com/prxgr4mmer/crypto-history-service/internal/services"
	"github.com/prxgr4mmer/crypto-history-service/pkg/retry"
)

func testOrchestratorConfig() services.OrchestratorConfig {
	return services.OrchestratorConfig{
		Concurrency: 4,
		Retry: retry.Config{
			MaxAttempts:    3,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     10 * time.Millisecond,
			Multiplier:     2.0,
			Jitter:         0,
		},
	}
}

func okResponse(coinID string, day time.Time, attempt int) (*domain.RawObservation, error) {
	return domain.NewRawObservation(coinID, day, decimal.NewFromInt(100), nil, []byte(`{}`))
}

func day(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestOrchestrator_Run(t *testing.T) {
	t.Run("expands coins across the date range", func(t *testing.T) {
		source := newFakeSource(okResponse)
		ingest := &fakeIngestor{}
		orch := services.NewOrchestrator(source, ingest, nil, testOrchestratorConfig(), testLogger())

		summary, err := orch.Run(context.Background(), []string{"bitcoin", "ethereum"}, day("2024-03-01"), day("2024-03-03"), 2)
		require.NoError(t, err)

		assert.Equal(t, 6, summary.Succeeded)
		assert.Empty(t, summary.Failed)
		assert.Equal(t, 6, summary.Total())
		assert.Equal(t, 6, ingest.storedCount())
		assert.NotEqual(t, "00000000-0000-0000-0000-000000000000", summary.RunID.String())
		assert.False(t, summary.FinishedAt.Before(summary.StartedAt))

		// Exactly one fetch per (coin, day) pair
		for _, coin := range []string{"bitcoin", "ethereum"} {
			for d := day("2024-03-01"); !d.After(day("2024-03-03")); d = d.AddDate(0, 0, 1) {
				assert.Equal(t, 1, source.callCount(coin, d))
			}
		}
	})

	t.Run("deduplicates repeated coins", func(t *testing.T) {
		source := newFakeSource(okResponse)
		ingest := &fakeIngestor{}
		orch := services.NewOrchestrator(source, ingest, nil, testOrchestratorConfig(), testLogger())

		summary, err := orch.Run(context.Background(), []string{"bitcoin", "Bitcoin", " bitcoin "}, day("2024-03-01"), day("2024-03-01"), 1)
		require.NoError(t, err)

		assert.Equal(t, 1, summary.Succeeded)
		assert.Equal(t, 1, source.callCount("bitcoin", day("2024-03-01")))
	})

	t.Run("single day range", func(t *testing.T) {
		source := newFakeSource(okResponse)
		ingest := &fakeIngestor{}
		orch := services.NewOrchestrator(source, ingest, nil, testOrchestratorConfig(), testLogger())

		summary, err := orch.Run(context.Background(), []string{"bitcoin"}, day("2024-03-15"), day("2024-03-15"), 1)
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Succeeded)
	})

	t.Run("rejects empty coin set", func(t *testing.T) {
		orch := services.NewOrchestrator(newFakeSource(okResponse), &fakeIngestor{}, nil, testOrchestratorConfig(), testLogger())

		_, err := orch.Run(context.Background(), nil, day("2024-03-01"), day("2024-03-02"), 1)
		assert.ErrorIs(t, err, domain.ErrNoCoins)
	})

	t.Run("rejects inverted date range", func(t *testing.T) {
		orch := services.NewOrchestrator(newFakeSource(okResponse), &fakeIngestor{}, nil, testOrchestratorConfig(), testLogger())

		_, err := orch.Run(context.Background(), []string{"bitcoin"}, day("2024-03-02"), day("2024-03-01"), 1)
		assert.ErrorIs(t, err, domain.ErrInvalidDateRange)
	})

	t.Run("retries transient errors then succeeds", func(t *testing.T) {
		source := newFakeSource(func(coinID string, d time.Time, attempt int) (*domain.RawObservation, error) {
			if attempt < 3 {
				return nil, retry.NewRetryableError(domain.ErrRateLimited)
			}
			return okResponse(coinID, d, attempt)
		})
		ingest := &fakeIngestor{}
		orch := services.NewOrchestrator(source, ingest, nil, testOrchestratorConfig(), testLogger())

		summary, err := orch.Run(context.Background(), []string{"bitcoin"}, day("2024-03-01"), day("2024-03-01"), 1)
		require.NoError(t, err)

		assert.Equal(t, 1, summary.Succeeded)
		assert.Empty(t, summary.Failed)
		assert.Equal(t, 3, source.callCount("bitcoin", day("2024-03-01")))
	})

	t.Run("exhausted task does not affect siblings", func(t *testing.T) {
		source := newFakeSource(func(coinID string, d time.Time, attempt int) (*domain.RawObservation, error) {
			if coinID == "ethereum" {
				return nil, retry.NewRetryableError(domain.ErrSourceUnavailable)
			}
			return okResponse(coinID, d, attempt)
		})
		ingest := &fakeIngestor{}
		orch := services.NewOrchestrator(source, ingest, nil, testOrchestratorConfig(), testLogger())

		summary, err := orch.Run(context.Background(), []string{"bitcoin", "ethereum"}, day("2024-03-01"), day("2024-03-02"), 2)
		require.NoError(t, err)

		assert.Equal(t, 2, summary.Succeeded)
		require.Len(t, summary.Failed, 2)
		for _, failure := range summary.Failed {
			assert.Equal(t, "ethereum", failure.CoinID)
			assert.Equal(t, domain.TaskFailedExhausted, failure.State)
			assert.Equal(t, 3, failure.Attempts)
			assert.ErrorIs(t, failure.Err, domain.ErrSourceUnavailable)
		}
	})

	t.Run("permanent error fails without retrying", func(t *testing.T) {
		source := newFakeSource(func(coinID string, d time.Time, attempt int) (*domain.RawObservation, error) {
			return nil, domain.ErrCoinNotFound
		})
		orch := services.NewOrchestrator(source, &fakeIngestor{}, nil, testOrchestratorConfig(), testLogger())

		summary, err := orch.Run(context.Background(), []string{"no-such-coin"}, day("2024-03-01"), day("2024-03-01"), 1)
		require.NoError(t, err)

		require.Len(t, summary.Failed, 1)
		failure := summary.Failed[0]
		assert.Equal(t, domain.TaskFailedPermanent, failure.State)
		assert.Equal(t, 1, failure.Attempts)
		assert.ErrorIs(t, failure.Err, domain.ErrCoinNotFound)
		assert.Equal(t, 1, source.callCount("no-such-coin", day("2024-03-01")))
	})

	t.Run("storage failure ends the task permanently", func(t *testing.T) {
		ingest := &fakeIngestor{storeErr: domain.ErrStorageUnavailable}
		orch := services.NewOrchestrator(newFakeSource(okResponse), ingest, nil, testOrchestratorConfig(), testLogger())

		summary, err := orch.Run(context.Background(), []string{"bitcoin"}, day("2024-03-01"), day("2024-03-01"), 1)
		require.NoError(t, err)

		assert.Equal(t, 0, summary.Succeeded)
		require.Len(t, summary.Failed, 1)
		assert.Equal(t, domain.TaskFailedPermanent, summary.Failed[0].State)
		assert.ErrorIs(t, summary.Failed[0].Err, domain.ErrStorageUnavailable)
	})

	t.Run("failures keep task generation order", func(t *testing.T) {
		source := newFakeSource(func(coinID string, d time.Time, attempt int) (*domain.RawObservation, error) {
			return nil, domain.ErrCoinNotFound
		})
		orch := services.NewOrchestrator(source, &fakeIngestor{}, nil, testOrchestratorConfig(), testLogger())

		summary, err := orch.Run(context.Background(), []string{"aaa", "bbb"}, day("2024-03-01"), day("2024-03-02"), 4)
		require.NoError(t, err)

		require.Len(t, summary.Failed, 4)
		assert.Equal(t, "aaa", summary.Failed[0].CoinID)
		assert.Equal(t, day("2024-03-01"), summary.Failed[0].Date)
		assert.Equal(t, "bbb", summary.Failed[1].CoinID)
		assert.Equal(t, day("2024-03-01"), summary.Failed[1].Date)
		assert.Equal(t, "aaa", summary.Failed[2].CoinID)
		assert.Equal(t, day("2024-03-02"), summary.Failed[2].Date)
		assert.Equal(t, "bbb", summary.Failed[3].CoinID)
		assert.Equal(t, day("2024-03-02"), summary.Failed[3].Date)
	})

	t.Run("invalid coin id becomes a permanent failure", func(t *testing.T) {
		source := newFakeSource(func(coinID string, d time.Time, attempt int) (*domain.RawObservation, error) {
			if err := domain.ValidateCoinID(coinID); err != nil {
				return nil, err
			}
			return okResponse(coinID, d, attempt)
		})
		orch := services.NewOrchestrator(source, &fakeIngestor{}, nil, testOrchestratorConfig(), testLogger())

		summary, err := orch.Run(context.Background(), []string{"bitcoin", "bit coin"}, day("2024-03-01"), day("2024-03-01"), 2)
		require.NoError(t, err)

		assert.Equal(t, 1, summary.Succeeded)
		require.Len(t, summary.Failed, 1)
		assert.Equal(t, domain.TaskFailedPermanent, summary.Failed[0].State)
		assert.ErrorIs(t, summary.Failed[0].Err, domain.ErrInvalidCoinID)
	})

	t.Run("cancelled context reports only completed tasks", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		source := newFakeSource(okResponse)
		orch := services.NewOrchestrator(source, &fakeIngestor{}, nil, testOrchestratorConfig(), testLogger())

		summary, err := orch.Run(ctx, []string{"bitcoin", "ethereum"}, day("2024-03-01"), day("2024-03-05"), 2)
		require.NoError(t, err)
		assert.Equal(t, 0, summary.Total())
	})

	t.Run("records run statistics", func(t *testing.T) {
		stats := services.NewStatsService(testLogger())
		orch := services.NewOrchestrator(newFakeSource(okResponse), &fakeIngestor{}, stats, testOrchestratorConfig(), testLogger())

		summary, err := orch.Run(context.Background(), []string{"bitcoin"}, day("2024-03-01"), day("2024-03-02"), 1)
		require.NoError(t, err)

		snapshot := stats.Snapshot()
		assert.Equal(t, int64(1), snapshot.Runs)
		assert.Equal(t, int64(2), snapshot.TasksSucceeded)
		assert.Equal(t, int64(0), snapshot.TasksFailed)
		assert.Equal(t, summary.RunID.String(), snapshot.LastRunID)
	})
}

func TestOrchestrator_EndToEnd(t *testing.T) {
	// Full pipeline with real services over in-memory persistence:
	// observations land exactly once and the month aggregate spans them.
	store := newMemoryStore()
	ingest := services.NewIngestService(&fakeObservationRepo{store: store}, &fakeAggregateRepo{store: store}, nil, testLogger())

	prices := map[string]int64{
		"2024-03-01": 64000,
		"2024-03-02": 59000,
		"2024-03-03": 68000,
	}
	source := newFakeSource(func(coinID string, d time.Time, attempt int) (*domain.RawObservation, error) {
		return domain.NewRawObservation(coinID, d, decimal.NewFromInt(prices[d.Format("2006-01-02")]), nil, []byte(`{}`))
	})

	orch := services.NewOrchestrator(source, ingest, nil, testOrchestratorConfig(), testLogger())
	ctx := context.Background()

	summary, err := orch.Run(ctx, []string{"bitcoin"}, day("2024-03-01"), day("2024-03-03"), 3)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Succeeded)

	// Re-running the same range is a no-op thanks to idempotent inserts.
	summary, err = orch.Run(ctx, []string{"bitcoin"}, day("2024-03-01"), day("2024-03-03"), 3)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Succeeded)

	obsRepo := &fakeObservationRepo{store: store}
	count, err := obsRepo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	agg, err := (&fakeAggregateRepo{store: store}).Get(ctx, "bitcoin", 2024, 3)
	require.NoError(t, err)
	assert.True(t, agg.MaxPrice.Equal(decimal.NewFromInt(68000)))
	assert.True(t, agg.MinPrice.Equal(decimal.NewFromInt(59000)))
}
