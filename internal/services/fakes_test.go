package services_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/prxgr4mmer/crypto-history-service/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func mustObs(coinID string, date string, price float64) *domain.RawObservation {
	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		panic(err)
	}
	obs, err := domain.NewRawObservation(coinID, day, decimal.NewFromFloat(price), nil, []byte(`{}`))
	if err != nil {
		panic(err)
	}
	return obs
}

// fakeSource scripts GetHistory responses per (coin, date, attempt) and
// counts calls, standing in for the remote price API.
type fakeSource struct {
	mu      sync.Mutex
	calls   map[string]int
	respond func(coinID string, day time.Time, attempt int) (*domain.RawObservation, error)
}

func newFakeSource(respond func(coinID string, day time.Time, attempt int) (*domain.RawObservation, error)) *fakeSource {
	return &fakeSource{
		calls:   make(map[string]int),
		respond: respond,
	}
}

func (f *fakeSource) GetHistory(ctx context.Context, coinID string, day time.Time) (*domain.RawObservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	key := coinID + "@" + day.Format("2006-01-02")
	f.mu.Lock()
	f.calls[key]++
	attempt := f.calls[key]
	f.mu.Unlock()

	return f.respond(coinID, day, attempt)
}

func (f *fakeSource) Ping(ctx context.Context) error { return nil }

func (f *fakeSource) callCount(coinID string, day time.Time) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[coinID+"@"+day.Format("2006-01-02")]
}

// memoryStore is a shared in-memory stand-in for the database. The
// observation and aggregate fakes both point at one instance so that the
// insert-plus-widen invariant can be asserted across them.
type memoryStore struct {
	mu           sync.Mutex
	observations map[string]*domain.RawObservation
	aggregates   map[string]*domain.MonthlyAggregate
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		observations: make(map[string]*domain.RawObservation),
		aggregates:   make(map[string]*domain.MonthlyAggregate),
	}
}

func obsKey(coinID string, date time.Time) string {
	return coinID + "@" + date.Format("2006-01-02")
}

func aggKey(coinID string, year, month int) string {
	return fmt.Sprintf("%s:%04d-%02d", coinID, year, month)
}

// widenLocked applies conditional extremum widening; callers hold mu.
func (m *memoryStore) widenLocked(coinID string, year, month int, price decimal.Decimal) {
	key := aggKey(coinID, year, month)
	agg, ok := m.aggregates[key]
	if !ok {
		m.aggregates[key] = &domain.MonthlyAggregate{
			CoinID:   coinID,
			Year:     year,
			Month:    month,
			MaxPrice: price,
			MinPrice: price,
		}
		return
	}
	if price.GreaterThan(agg.MaxPrice) {
		agg.MaxPrice = price
	}
	if price.LessThan(agg.MinPrice) {
		agg.MinPrice = price
	}
}

// fakeObservationRepo implements ports.ObservationRepository over the
// memory store, mirroring the transactional insert-then-widen contract.
type fakeObservationRepo struct {
	store     *memoryStore
	insertErr error
}

func (r *fakeObservationRepo) InsertWithAggregate(ctx context.Context, obs *domain.RawObservation) (domain.StoreResult, error) {
	if r.insertErr != nil {
		return domain.StoreResult{}, r.insertErr
	}

	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	key := obsKey(obs.CoinID, obs.Date)
	if _, exists := r.store.observations[key]; exists {
		return domain.StoreResult{Inserted: false}, nil
	}

	r.store.observations[key] = obs
	year, month := obs.Bucket()
	r.store.widenLocked(obs.CoinID, year, month, obs.PriceUSD)

	return domain.StoreResult{Inserted: true}, nil
}

func (r *fakeObservationRepo) GetByCoinDate(ctx context.Context, coinID string, date time.Time) (*domain.RawObservation, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	obs, ok := r.store.observations[obsKey(coinID, domain.DayOf(date))]
	if !ok {
		return nil, domain.ErrObservationNotFound
	}
	return obs, nil
}

func (r *fakeObservationRepo) ListByCoin(ctx context.Context, coinID string, limit int) ([]*domain.RawObservation, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []*domain.RawObservation
	for _, obs := range r.store.observations {
		if obs.CoinID == coinID {
			out = append(out, obs)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.After(out[j].Date) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeObservationRepo) Count(ctx context.Context) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return int64(len(r.store.observations)), nil
}

func (r *fakeObservationRepo) CountByCoin(ctx context.Context, coinID string) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var n int64
	for _, obs := range r.store.observations {
		if obs.CoinID == coinID {
			n++
		}
	}
	return n, nil
}

// fakeAggregateRepo implements ports.AggregateRepository over the memory
// store.
type fakeAggregateRepo struct {
	store *memoryStore
}

func (r *fakeAggregateRepo) Widen(ctx context.Context, coinID string, year, month int, price decimal.Decimal) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.widenLocked(coinID, year, month, price)
	return nil
}

func (r *fakeAggregateRepo) Get(ctx context.Context, coinID string, year, month int) (*domain.MonthlyAggregate, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	agg, ok := r.store.aggregates[aggKey(coinID, year, month)]
	if !ok {
		return nil, domain.ErrAggregateNotFound
	}
	copied := *agg
	return &copied, nil
}

func (r *fakeAggregateRepo) ListByCoin(ctx context.Context, coinID string) ([]*domain.MonthlyAggregate, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	var out []*domain.MonthlyAggregate
	for _, agg := range r.store.aggregates {
		if agg.CoinID == coinID {
			copied := *agg
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year < out[j].Year
		}
		return out[i].Month < out[j].Month
	})
	return out, nil
}

// fakeCache implements ports.AggregateCache and records writes.
type fakeCache struct {
	mu      sync.Mutex
	entries map[string]*domain.MonthlyAggregate
	sets    int
	setErr  error
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]*domain.MonthlyAggregate)}
}

func (c *fakeCache) SetAggregate(ctx context.Context, agg *domain.MonthlyAggregate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	if c.setErr != nil {
		return c.setErr
	}
	copied := *agg
	c.entries[aggKey(agg.CoinID, agg.Year, agg.Month)] = &copied
	return nil
}

func (c *fakeCache) GetAggregate(ctx context.Context, coinID string, year, month int) (*domain.MonthlyAggregate, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	agg, ok := c.entries[aggKey(coinID, year, month)]
	if !ok {
		return nil, nil
	}
	return agg, nil
}

func (c *fakeCache) Ping(ctx context.Context) error { return nil }
func (c *fakeCache) Close() error                   { return nil }

// fakeIngestor implements ports.Ingestor directly for orchestrator tests
// that do not care about persistence details.
type fakeIngestor struct {
	mu       sync.Mutex
	stored   []*domain.RawObservation
	storeErr error
}

func (f *fakeIngestor) Store(ctx context.Context, obs *domain.RawObservation) (domain.StoreResult, error) {
	if f.storeErr != nil {
		return domain.StoreResult{}, f.storeErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stored = append(f.stored, obs)
	return domain.StoreResult{Inserted: true}, nil
}

func (f *fakeIngestor) storedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stored)
}
