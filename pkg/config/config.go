package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/creasty/defaults"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment" default:"development"`
	Server      struct {
		Port            int           `yaml:"port" default:"8080"`
		ReadTimeout     time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout    time.Duration `yaml:"write_timeout" default:"10s"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
	} `yaml:"server"`
	Logging struct {
		Level  string `yaml:"level" default:"info"`
		Format string `yaml:"format" default:"console"`
		Output string `yaml:"output" default:"stdout"`
	} `yaml:"logging"`
	Aggregation struct {
		BaseTimeframe     string         `yaml:"base_timeframe" default:"1m"`
		DerivedTimeframes []string       `yaml:"derived_timeframes"`
		Alignment         string         `yaml:"alignment" default:"left"`
		BufferCapacity    int            `yaml:"buffer_capacity" default:"1000"`
		WarmupRequired    map[string]int `yaml:"warmup_required_candles"`
		WarmupTimeout     time.Duration  `yaml:"warmup_timeout" default:"60s"`
		WarmupRetry       time.Duration  `yaml:"warmup_retry_interval" default:"5s"`
		HeartbeatInterval time.Duration  `yaml:"heartbeat_interval" default:"30s"`
		IngestQueueSize   int            `yaml:"ingest_queue_size" default:"1024"`
	} `yaml:"aggregation"`
	Alerts struct {
		Enabled         bool    `yaml:"enabled"`
		VolumeLookback  int     `yaml:"volume_lookback" default:"20"`
		VolumeSpike     float64 `yaml:"volume_spike_factor" default:"3.0"`
		QueueName       string  `yaml:"queue_name" default:"alert_notifications"`
		PriceThresholds []struct {
			Symbol string  `yaml:"symbol"`
			Above  float64 `yaml:"above"`
			Below  float64 `yaml:"below"`
		} `yaml:"price_thresholds"`
	} `yaml:"alerts"`
	Market struct {
		APIKey         string        `yaml:"api_key"`
		WebSocketURL   string        `yaml:"websocket_url"`
		RestURL        string        `yaml:"rest_url"`
		Symbols        []string      `yaml:"symbols"`
		ReconnectDelay time.Duration `yaml:"reconnect_delay" default:"3s"`
		PingInterval   time.Duration `yaml:"ping_interval" default:"15s"`
	} `yaml:"market"`
	Kafka struct {
		Enabled      bool     `yaml:"enabled"`
		Brokers      []string `yaml:"brokers"`
		CandlesTopic string   `yaml:"candles_topic" default:"candles_closed"`
		TicksTopic   string   `yaml:"ticks_topic" default:"ticks_raw"`
		RequiredAcks int      `yaml:"required_acks" default:"1"`
		Compression  string   `yaml:"compression" default:"snappy"`
		Producer     struct {
			MaxAttempts  int           `yaml:"max_attempts" default:"3"`
			Linger       time.Duration `yaml:"linger" default:"100ms"`
			BatchBytes   int           `yaml:"batch_bytes" default:"1048576"`
			BatchSize    int           `yaml:"batch_size" default:"100"`
			WriteTimeout time.Duration `yaml:"write_timeout" default:"5s"`
			ReadTimeout  time.Duration `yaml:"read_timeout" default:"5s"`
			Async        bool          `yaml:"async"`
		} `yaml:"producer"`
		Consumer struct {
			GroupID    string        `yaml:"group_id" default:"candleflow"`
			Workers    int           `yaml:"workers" default:"2"`
			BufferSize int           `yaml:"buffer_size" default:"1024"`
			RetryMax   int           `yaml:"retry_max" default:"3"`
			BackoffMin time.Duration `yaml:"backoff_min" default:"100ms"`
			BackoffMax time.Duration `yaml:"backoff_max" default:"5s"`
			DLQTopic   string        `yaml:"dlq_topic"`
			MinBytes   int           `yaml:"min_bytes" default:"1"`
			MaxBytes   int           `yaml:"max_bytes" default:"1048576"`
		} `yaml:"consumer"`
	} `yaml:"kafka"`
	ClickHouse struct {
		Enabled          bool          `yaml:"enabled"`
		Host             string        `yaml:"host" default:"localhost"`
		Port             int           `yaml:"port" default:"9000"`
		Database         string        `yaml:"database" default:"candleflow"`
		User             string        `yaml:"user" default:"default"`
		Password         string        `yaml:"password"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout" default:"5s"`
		ReadTimeout      time.Duration `yaml:"read_timeout" default:"10s"`
		WriteTimeout     time.Duration `yaml:"write_timeout" default:"10s"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time" default:"30s"`
		ArchiveBatchSize int           `yaml:"archive_batch_size" default:"500"`
		ArchiveFlush     time.Duration `yaml:"archive_flush_interval" default:"5s"`
	} `yaml:"clickhouse"`
	Redis struct {
		Enabled     bool          `yaml:"enabled"`
		Addr        string        `yaml:"addr" default:"localhost:6379"`
		Password    string        `yaml:"password"`
		DB          int           `yaml:"db"`
		SnapshotTTL time.Duration `yaml:"snapshot_ttl" default:"5m"`
	} `yaml:"redis"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := defaults.Set(&c); err != nil {
		return nil, fmt.Errorf("apply defaults: %w", err)
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("MARKET_API_KEY"); v != "" {
		c.Market.APIKey = v
	}
	if v := os.Getenv("SYMBOLS"); v != "" {
		c.Market.Symbols = strings.Split(v, ",")
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
		c.Kafka.Enabled = true
	}
	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
		c.ClickHouse.Enabled = true
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
		c.Redis.Enabled = true
	}

	return c, nil
}

// Validate checks if the configuration is valid. Aggregation mistakes are
// fatal here so a misconfigured series never starts.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if len(c.Market.Symbols) == 0 {
		return fmt.Errorf("market.symbols cannot be empty")
	}
	if c.Aggregation.BufferCapacity <= 0 {
		return fmt.Errorf("aggregation.buffer_capacity must be positive")
	}

	base, err := time.ParseDuration(c.Aggregation.BaseTimeframe)
	if err != nil || base <= 0 {
		return fmt.Errorf("aggregation.base_timeframe %q is not a valid duration", c.Aggregation.BaseTimeframe)
	}
	for _, s := range c.Aggregation.DerivedTimeframes {
		d, err := time.ParseDuration(s)
		if err != nil || d <= 0 {
			return fmt.Errorf("aggregation.derived_timeframes: %q is not a valid duration", s)
		}
		if d%base != 0 {
			return fmt.Errorf("aggregation.derived_timeframes: %q is not a multiple of base %q", s, c.Aggregation.BaseTimeframe)
		}
	}
	switch c.Aggregation.Alignment {
	case "left", "right", "center":
	default:
		return fmt.Errorf("aggregation.alignment must be left, right or center, got %q", c.Aggregation.Alignment)
	}
	for tf, n := range c.Aggregation.WarmupRequired {
		if _, err := time.ParseDuration(tf); err != nil {
			return fmt.Errorf("aggregation.warmup_required_candles: bad timeframe %q", tf)
		}
		if n <= 0 {
			return fmt.Errorf("aggregation.warmup_required_candles[%s] must be positive", tf)
		}
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers cannot be empty when kafka is enabled")
	}
	return nil
}
