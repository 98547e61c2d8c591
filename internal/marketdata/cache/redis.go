// Package cache implements the pipeline's read-through KV surface (spec §6:
// orderbook:<v>:<s>, recent_trades:<v>:<s>, candles:<v>:<s>:<tf>,
// agg.book.<sym>, agg.routing.<sym>) over go-redis/v9.
//
// Grounded on the connection-pool/timeout options and key-prefix convention
// of src/infrastructure/data/cache.go's RedisCacheManager, trimmed to plain
// JSON Set/Get (the teacher's PIT-snapshot/stats bookkeeping doesn't apply to
// a soft-real-time cache whose authoritative copy always lives in-process).
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sawpanic/venuefeed/internal/marketdata/model"
)

// Store is the Redis-backed CacheStore, satisfying both
// orderbook.CacheStore and aggregation.CacheStore by structural typing.
type Store struct {
	client    *redis.Client
	keyPrefix string
}

// New builds a Store from connection options.
func New(addr, password string, db int) *Store {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,

		PoolSize:     10,
		MinIdleConns: 2,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,

		MaxRetries:      3,
		MinRetryBackoff: 100 * time.Millisecond,
		MaxRetryBackoff: 500 * time.Millisecond,
	})
	return &Store{client: client, keyPrefix: "marketdata:"}
}

func (s *Store) setJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}
	if err := s.client.Set(ctx, s.keyPrefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

// SetOrderbook implements orderbook.CacheStore.
func (s *Store) SetOrderbook(ctx context.Context, venue model.Venue, symbol string, book model.Orderbook, ttl time.Duration) error {
	return s.setJSON(ctx, fmt.Sprintf("orderbook:%s:%s", venue, symbol), book, ttl)
}

// SetRecentTrades writes the TradeEngine's ring snapshot for one (venue,symbol).
func (s *Store) SetRecentTrades(ctx context.Context, venue model.Venue, symbol string, trades []model.Trade, ttl time.Duration) error {
	return s.setJSON(ctx, fmt.Sprintf("recent_trades:%s:%s", venue, symbol), trades, ttl)
}

// SetCandle writes the latest candle for (venue,symbol,timeframe).
func (s *Store) SetCandle(ctx context.Context, venue model.Venue, symbol string, tf model.Timeframe, candle model.Candle, ttl time.Duration) error {
	return s.setJSON(ctx, fmt.Sprintf("candles:%s:%s:%s", venue, symbol, tf.String()), candle, ttl)
}

// SetAggregatedBook implements aggregation.CacheStore.
func (s *Store) SetAggregatedBook(ctx context.Context, symbol string, book model.AggregatedBook, ttl time.Duration) error {
	return s.setJSON(ctx, fmt.Sprintf("agg.book.%s", symbol), book, ttl)
}

// SetRouting implements aggregation.CacheStore.
func (s *Store) SetRouting(ctx context.Context, symbol string, buy, sell model.Routing, ttl time.Duration) error {
	payload := struct {
		Buy  model.Routing `json:"buy"`
		Sell model.Routing `json:"sell"`
	}{Buy: buy, Sell: sell}
	return s.setJSON(ctx, fmt.Sprintf("agg.routing.%s", symbol), payload, ttl)
}

// Health pings the Redis connection.
func (s *Store) Health(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}
