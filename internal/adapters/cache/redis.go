package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/prxgr4mmer/crypto-history-service/internal/domain"
	"github.com/prxgr4mmer/crypto-history-service/internal/ports"
)

// RedisCache caches monthly aggregates for cheap reads by downstream
// consumers. Writes happen best-effort after a successful store; the
// database remains the source of truth.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache connects to Redis and verifies the connection
func NewRedisCache(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisCache{
		client: client,
		ttl:    ttl,
	}, nil
}

func aggregateKey(coinID string, year, month int) string {
	return fmt.Sprintf("aggregate:%s:%04d-%02d", coinID, year, month)
}

// SetAggregate stores the current state of one bucket
func (c *RedisCache) SetAggregate(ctx context.Context, agg *domain.MonthlyAggregate) error {
	data, err := json.Marshal(agg)
	if err != nil {
		return fmt.Errorf("failed to marshal aggregate: %w", err)
	}

	key := aggregateKey(agg.CoinID, agg.Year, agg.Month)
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set aggregate in redis: %w", err)
	}
	return nil
}

// GetAggregate returns a cached bucket, or nil on a miss
func (c *RedisCache) GetAggregate(ctx context.Context, coinID string, year, month int) (*domain.MonthlyAggregate, error) {
	data, err := c.client.Get(ctx, aggregateKey(coinID, year, month)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get aggregate from redis: %w", err)
	}

	var agg domain.MonthlyAggregate
	if err := json.Unmarshal(data, &agg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal aggregate: %w", err)
	}

	return &agg, nil
}

// Ping checks if the cache is reachable
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the underlying connection
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Ensure RedisCache implements AggregateCache
var _ ports.AggregateCache = (*RedisCache)(nil)
