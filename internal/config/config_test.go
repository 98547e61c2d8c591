package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("expected default config to validate, got %v", err)
	}
}

func TestLoadAppliesFileOverridesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlBody := `
agg_throttle_ms: 75
venues: ["H", "A"]
cold_store:
  driver: noop
`
	if err := os.WriteFile(path, []byte(yamlBody), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.AggThrottleMs != 75 {
		t.Fatalf("expected override agg_throttle_ms=75, got %d", cfg.AggThrottleMs)
	}
	if cfg.HeartbeatIntervalMs != 30_000 {
		t.Fatalf("expected default heartbeat_interval_ms to survive, got %d", cfg.HeartbeatIntervalMs)
	}
	if len(cfg.Venues) != 2 {
		t.Fatalf("expected overridden venues list, got %v", cfg.Venues)
	}
}

func TestValidateRejectsPostgresWithoutDSN(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ColdStore.Driver = "postgres"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for postgres driver without dsn")
	}
}

func TestValidateRejectsInvertedReconnectBounds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReconnectMaxMs = cfg.ReconnectInitialMs - 1
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when reconnect_max_ms < reconnect_initial_ms")
	}
}
