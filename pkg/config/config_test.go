package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const minimalYAML = `
market:
  symbols: ["BINANCE:BTCUSDT"]
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Environment != "development" {
		t.Fatalf("environment %q", cfg.Environment)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("port %d", cfg.Server.Port)
	}
	if cfg.Aggregation.BaseTimeframe != "1m" || cfg.Aggregation.Alignment != "left" {
		t.Fatalf("aggregation defaults %+v", cfg.Aggregation)
	}
	if cfg.Aggregation.BufferCapacity != 1000 {
		t.Fatalf("buffer capacity %d", cfg.Aggregation.BufferCapacity)
	}
	if cfg.Aggregation.WarmupTimeout != 60*time.Second {
		t.Fatalf("warmup timeout %v", cfg.Aggregation.WarmupTimeout)
	}
	if cfg.Kafka.CandlesTopic != "candles_closed" || cfg.Kafka.TicksTopic != "ticks_raw" {
		t.Fatalf("kafka topics %+v", cfg.Kafka)
	}
	if cfg.ClickHouse.ArchiveBatchSize != 500 {
		t.Fatalf("archive batch size %d", cfg.ClickHouse.ArchiveBatchSize)
	}
	if cfg.Redis.SnapshotTTL != 5*time.Minute {
		t.Fatalf("snapshot ttl %v", cfg.Redis.SnapshotTTL)
	}
	if cfg.Alerts.VolumeLookback != 20 || cfg.Alerts.VolumeSpike != 3.0 {
		t.Fatalf("alert defaults %+v", cfg.Alerts)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
environment: production
aggregation:
  base_timeframe: 1m
  derived_timeframes: [5m, 1h]
  alignment: right
  buffer_capacity: 250
  warmup_required_candles:
    1m: 50
market:
  symbols: ["BINANCE:BTCUSDT", "BINANCE:ETHUSDT"]
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Environment != "production" {
		t.Fatalf("environment %q", cfg.Environment)
	}
	if len(cfg.Aggregation.DerivedTimeframes) != 2 || cfg.Aggregation.Alignment != "right" {
		t.Fatalf("aggregation %+v", cfg.Aggregation)
	}
	if cfg.Aggregation.BufferCapacity != 250 || cfg.Aggregation.WarmupRequired["1m"] != 50 {
		t.Fatalf("aggregation %+v", cfg.Aggregation)
	}
	if len(cfg.Market.Symbols) != 2 {
		t.Fatalf("symbols %v", cfg.Market.Symbols)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"no symbols", `
market:
  symbols: []
`},
		{"bad base timeframe", `
aggregation:
  base_timeframe: nonsense
market:
  symbols: ["X"]
`},
		{"derived not multiple of base", `
aggregation:
  base_timeframe: 1m
  derived_timeframes: [90s]
market:
  symbols: ["X"]
`},
		{"bad alignment", `
aggregation:
  alignment: middle
market:
  symbols: ["X"]
`},
		{"non-positive warmup count", `
aggregation:
  warmup_required_candles:
    1m: 0
market:
  symbols: ["X"]
`},
		{"bad warmup timeframe", `
aggregation:
  warmup_required_candles:
    banana: 5
market:
  symbols: ["X"]
`},
		{"kafka enabled without brokers", `
market:
  symbols: ["X"]
kafka:
  enabled: true
  brokers: []
`},
	}
	for _, tc := range cases {
		if _, err := Load(writeConfig(t, tc.yaml)); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	t.Setenv("MARKET_API_KEY", "test-key")
	t.Setenv("SYMBOLS", "AAA,BBB")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("CLICKHOUSE_HOST", "ch.internal")
	t.Setenv("REDIS_ADDR", "redis.internal:6379")

	cfg, err := LoadWithEnv(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Market.APIKey != "test-key" {
		t.Fatalf("api key %q", cfg.Market.APIKey)
	}
	if len(cfg.Market.Symbols) != 2 || cfg.Market.Symbols[0] != "AAA" {
		t.Fatalf("symbols %v", cfg.Market.Symbols)
	}
	if !cfg.Kafka.Enabled || len(cfg.Kafka.Brokers) != 2 {
		t.Fatalf("kafka %+v", cfg.Kafka)
	}
	if !cfg.ClickHouse.Enabled || cfg.ClickHouse.Host != "ch.internal" {
		t.Fatalf("clickhouse %+v", cfg.ClickHouse)
	}
	if !cfg.Redis.Enabled || cfg.Redis.Addr != "redis.internal:6379" {
		t.Fatalf("redis %+v", cfg.Redis)
	}
}
