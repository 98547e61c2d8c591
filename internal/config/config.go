// Package config loads the pipeline's runtime configuration from YAML.
//
// Grounded on internal/config/providers.go: struct-tag field names, a
// ReadFile-then-Unmarshal loader, and a Validate() pass that rejects
// out-of-range values before the pipeline starts.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete set of recognized options (spec §6).
type Config struct {
	HeartbeatIntervalMs  int `yaml:"heartbeat_interval_ms"`
	ReconnectInitialMs   int `yaml:"reconnect_initial_ms"`
	ReconnectMaxMs       int `yaml:"reconnect_max_ms"`
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts"` // 0 = unlimited

	AggThrottleMs         int `yaml:"agg_throttle_ms"`
	CandleBatchSize       int `yaml:"candle_batch_size"`
	CandleBatchIntervalMs int `yaml:"candle_batch_interval_ms"`

	CacheTTL CacheTTLConfig `yaml:"cache_ttl"`

	ColdStore ColdStoreConfig `yaml:"cold_store"`
	Redis     RedisConfig     `yaml:"redis"`
	Venues    []string        `yaml:"venues"`
	Symbols   []string        `yaml:"symbols"`
}

// CacheTTLConfig holds the per-stream cache TTLs from spec §6.
type CacheTTLConfig struct {
	OrderbookSecs    int `yaml:"orderbook_secs"`     // orderbook:<v>:<s>, default 30
	RecentTradesSecs int `yaml:"recent_trades_secs"` // recent_trades:<v>:<s>
	CandlesSecs      int `yaml:"candles_secs"`       // candles:<v>:<s>:<tf>
	AggBookSecs      int `yaml:"agg_book_secs"`      // agg.book.<symbol>, default 60
	AggRoutingSecs   int `yaml:"agg_routing_secs"`   // agg.routing.<symbol>, default 1
}

// ColdStoreConfig selects and configures the optional durable candle store.
type ColdStoreConfig struct {
	Driver string `yaml:"driver"` // "postgres" or "noop"
	DSN    string `yaml:"dsn"`
}

// RedisConfig configures the CacheStore's go-redis/v9 client.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// DefaultConfig returns the spec's documented defaults (§6).
func DefaultConfig() Config {
	return Config{
		HeartbeatIntervalMs:  30_000,
		ReconnectInitialMs:   5_000,
		ReconnectMaxMs:       60_000,
		MaxReconnectAttempts: 0,

		AggThrottleMs:         50,
		CandleBatchSize:       100,
		CandleBatchIntervalMs: 10_000,

		CacheTTL: CacheTTLConfig{
			OrderbookSecs:    30,
			RecentTradesSecs: 60,
			CandlesSecs:      60,
			AggBookSecs:      60,
			AggRoutingSecs:   1,
		},

		ColdStore: ColdStoreConfig{Driver: "noop"},
		Redis:     RedisConfig{Addr: "localhost:6379"},
		Venues:    []string{"H", "A", "L", "V"},
		Symbols:   []string{"BTC", "ETH", "SOL", "AVAX"},
	}
}

// Load reads and validates a Config from a YAML file, filling any zero-value
// field left unset in the file with DefaultConfig's value.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate rejects nonsensical values before startup.
func (c Config) Validate() error {
	if c.HeartbeatIntervalMs <= 0 {
		return fmt.Errorf("heartbeat_interval_ms must be positive, got %d", c.HeartbeatIntervalMs)
	}
	if c.ReconnectInitialMs <= 0 {
		return fmt.Errorf("reconnect_initial_ms must be positive, got %d", c.ReconnectInitialMs)
	}
	if c.ReconnectMaxMs < c.ReconnectInitialMs {
		return fmt.Errorf("reconnect_max_ms (%d) must be >= reconnect_initial_ms (%d)", c.ReconnectMaxMs, c.ReconnectInitialMs)
	}
	if c.MaxReconnectAttempts < 0 {
		return fmt.Errorf("max_reconnect_attempts cannot be negative, got %d", c.MaxReconnectAttempts)
	}
	if c.AggThrottleMs <= 0 {
		return fmt.Errorf("agg_throttle_ms must be positive, got %d", c.AggThrottleMs)
	}
	if c.CandleBatchSize <= 0 {
		return fmt.Errorf("candle_batch_size must be positive, got %d", c.CandleBatchSize)
	}
	if c.CandleBatchIntervalMs <= 0 {
		return fmt.Errorf("candle_batch_interval_ms must be positive, got %d", c.CandleBatchIntervalMs)
	}
	switch c.ColdStore.Driver {
	case "postgres", "noop":
	default:
		return fmt.Errorf("cold_store.driver must be postgres or noop, got %q", c.ColdStore.Driver)
	}
	if c.ColdStore.Driver == "postgres" && c.ColdStore.DSN == "" {
		return fmt.Errorf("cold_store.dsn is required when driver is postgres")
	}
	if len(c.Venues) == 0 {
		return fmt.Errorf("venues cannot be empty")
	}
	if len(c.Symbols) == 0 {
		return fmt.Errorf("symbols cannot be empty")
	}
	return nil
}

// ReconnectBackoff returns the (initial, max) backoff durations.
func (c Config) ReconnectBackoff() (time.Duration, time.Duration) {
	return time.Duration(c.ReconnectInitialMs) * time.Millisecond, time.Duration(c.ReconnectMaxMs) * time.Millisecond
}

// HeartbeatInterval returns the heartbeat interval as a time.Duration.
func (c Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalMs) * time.Millisecond
}

// AggThrottle returns the aggregation throttle window as a time.Duration.
func (c Config) AggThrottle() time.Duration {
	return time.Duration(c.AggThrottleMs) * time.Millisecond
}

// CandleBatchInterval returns the candle batch drain interval.
func (c Config) CandleBatchInterval() time.Duration {
	return time.Duration(c.CandleBatchIntervalMs) * time.Millisecond
}
