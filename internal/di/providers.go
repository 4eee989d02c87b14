package di

import (
	"context"
	"fmt"
	"time"

	"candleflow/internal/alerts"
	"candleflow/internal/bus"
	"candleflow/internal/domain/models"
	"candleflow/internal/domain/repository"
	"candleflow/internal/engine"
	"candleflow/internal/handler/api"
	mid "candleflow/internal/middleware"
	internalrepo "candleflow/internal/repository"
	"candleflow/internal/service/marketws"
	"candleflow/internal/usecase"
	pkgcache "candleflow/pkg/cache"
	pkgch "candleflow/pkg/clickhouse"
	"candleflow/pkg/config"
	xhttp "candleflow/pkg/http"
	pkgkafka "candleflow/pkg/kafka"
	applogger "candleflow/pkg/logger"
	"candleflow/pkg/metrics"
	"candleflow/pkg/queue"
	"candleflow/pkg/server"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// ProvideLogger builds the application logger with error aggregation for
// the health endpoint.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	l, err := applogger.New(&applogger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	l.AttachCollector(applogger.NewErrorCollector(applogger.CollectorConfig{}))
	return l, nil
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideBus creates the event bus.
func ProvideBus(l *applogger.Logger, m repository.Metrics) *bus.Bus {
	return bus.New(l, m)
}

// ProvideClickHouseClient creates a ClickHouse client, or nil when the
// archive is disabled.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if !cfg.ClickHouse.Enabled {
		return nil, nil
	}
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}
	return client, nil
}

// ProvideCandleStorage creates the archive repository, or nil without
// ClickHouse.
func ProvideCandleStorage(chClient *pkgch.Client, l *applogger.Logger) (repository.CandleStorage, error) {
	if chClient == nil {
		return nil, nil
	}
	store := internalrepo.NewClickHouseCandleStore(chClient, "")
	store.SetLogger(l)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("candle storage init: %w", err)
	}
	return store, nil
}

// ProvideKafkaProducer creates a Kafka producer, or nil when disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideCandlePublisher creates the closed-candle Kafka publisher, or
// nil when Kafka is disabled.
func ProvideCandlePublisher(producer *pkgkafka.Producer, cfg *config.Config) repository.CandlePublisher {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaCandlePublisher(producer, cfg.Kafka.CandlesTopic)
}

// ProvideKafkaConsumer creates a Kafka consumer, or nil when disabled.
func ProvideKafkaConsumer(cfg *config.Config) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

// ProvideMarketStream creates the exchange WebSocket stream.
func ProvideMarketStream(cfg *config.Config, l *applogger.Logger) repository.MarketStream {
	return marketws.New(
		cfg.Market.APIKey,
		cfg.Market.WebSocketURL,
		cfg.Market.Symbols,
		cfg.Market.ReconnectDelay,
		cfg.Market.PingInterval,
		l,
	)
}

// ProvideHistoryProvider builds the warm-up history chain: exchange REST
// first, local archive as fallback.
func ProvideHistoryProvider(cfg *config.Config, storage repository.CandleStorage, l *applogger.Logger) repository.HistoryProvider {
	var rest repository.HistoryProvider
	if cfg.Market.RestURL != "" {
		rest = marketws.NewRESTHistory(
			cfg.Market.APIKey,
			cfg.Market.RestURL,
			xhttp.NewClient(xhttp.WithTimeout(15*time.Second)),
			l,
		)
	}
	var archive repository.HistoryProvider
	if storage != nil {
		archive = storage.(repository.HistoryProvider)
	}
	return marketws.NewChainHistory(l, rest, archive)
}

// ProvideEngineConfig translates YAML aggregation settings into the
// engine's typed configuration.
func ProvideEngineConfig(cfg *config.Config) (engine.Config, error) {
	base, err := models.ParseTimeframe(cfg.Aggregation.BaseTimeframe)
	if err != nil {
		return engine.Config{}, fmt.Errorf("base timeframe: %w", err)
	}
	derived := make([]models.Timeframe, 0, len(cfg.Aggregation.DerivedTimeframes))
	for _, s := range cfg.Aggregation.DerivedTimeframes {
		tf, err := models.ParseTimeframe(s)
		if err != nil {
			return engine.Config{}, fmt.Errorf("derived timeframe %q: %w", s, err)
		}
		derived = append(derived, tf)
	}
	align, err := models.ParseAlignment(cfg.Aggregation.Alignment)
	if err != nil {
		return engine.Config{}, err
	}
	required := make(map[models.Timeframe]int, len(cfg.Aggregation.WarmupRequired))
	for s, n := range cfg.Aggregation.WarmupRequired {
		tf, err := models.ParseTimeframe(s)
		if err != nil {
			return engine.Config{}, fmt.Errorf("warmup timeframe %q: %w", s, err)
		}
		required[tf] = n
	}
	return engine.Config{
		Symbols:             cfg.Market.Symbols,
		BaseTimeframe:       base,
		DerivedTimeframes:   derived,
		Alignment:           align,
		BufferCapacity:      cfg.Aggregation.BufferCapacity,
		WarmupRequired:      required,
		WarmupTimeout:       cfg.Aggregation.WarmupTimeout,
		WarmupRetryInterval: cfg.Aggregation.WarmupRetry,
		IngestQueueSize:     cfg.Aggregation.IngestQueueSize,
	}, nil
}

// ProvideEngine creates the aggregation engine publishing onto the bus.
func ProvideEngine(
	ecfg engine.Config,
	history repository.HistoryProvider,
	b *bus.Bus,
	m repository.Metrics,
	l *applogger.Logger,
) (*engine.AggregationEngine, error) {
	return engine.NewAggregationEngine(ecfg, history, b, m, l)
}

// ProvideHeartbeat creates the wall-clock heartbeat monitor.
func ProvideHeartbeat(cfg *config.Config, b *bus.Bus, eng *engine.AggregationEngine, l *applogger.Logger) *bus.HeartbeatMonitor {
	return bus.NewHeartbeatMonitor(b, eng, cfg.Aggregation.HeartbeatInterval, l)
}

// ProvideTickProcessor creates the tick processor use case.
func ProvideTickProcessor(
	eng *engine.AggregationEngine,
	producer *pkgkafka.Producer,
	m repository.Metrics,
	cfg *config.Config,
) *usecase.TickProcessor {
	return usecase.NewTickProcessor(eng, producer, cfg.Kafka.TicksTopic, m)
}

// ProvideTickCollector creates the tick collector use case.
func ProvideTickCollector(
	stream repository.MarketStream,
	processor *usecase.TickProcessor,
	m repository.Metrics,
) *usecase.TickCollector {
	pipe := mid.NewRealtimePipeline(processor, m,
		mid.WithBufferSize(2000),
	)
	return usecase.NewTickCollector(stream, processor, m, pipe)
}

// ProvideKafkaTicksHandler registers the engine as sink for the raw ticks
// topic.
func ProvideKafkaTicksHandler(eng *engine.AggregationEngine, m repository.Metrics, cfg *config.Config) *usecase.KafkaTicksHandler {
	return usecase.NewKafkaTicksHandler(cfg.Kafka.TicksTopic, eng, m)
}

// ProvideRedisClient creates a Redis client, or nil when disabled.
func ProvideRedisClient(cfg *config.Config) *redis.Client {
	if !cfg.Redis.Enabled {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
}

// ProvideSnapshotCache builds the latest-candle snapshot cache: a layered
// memory+Redis cache when Redis is available, plain in-memory otherwise.
func ProvideSnapshotCache(cfg *config.Config) (pkgcache.Service, error) {
	if !cfg.Redis.Enabled {
		return pkgcache.NewMemoryCache(), nil
	}
	rc, err := pkgcache.NewRedisCache(
		pkgcache.WithRedisAddr(cfg.Redis.Addr),
		pkgcache.WithRedisPassword(cfg.Redis.Password),
		pkgcache.WithRedisDB(cfg.Redis.DB),
	)
	if err != nil {
		return nil, fmt.Errorf("snapshot cache: %w", err)
	}
	return pkgcache.NewLayeredCache(rc, pkgcache.WithLayeredPromoteTTL(cfg.Redis.SnapshotTTL)), nil
}

// ProvideArchiver creates the closed-candle archiver.
func ProvideArchiver(
	cfg *config.Config,
	storage repository.CandleStorage,
	pub repository.CandlePublisher,
	snaps pkgcache.Service,
	m repository.Metrics,
	l *applogger.Logger,
) *usecase.CandleArchiver {
	if storage == nil && pub == nil {
		return nil
	}
	return usecase.NewCandleArchiver(usecase.ArchiverConfig{
		BatchSize:     cfg.ClickHouse.ArchiveBatchSize,
		FlushInterval: cfg.ClickHouse.ArchiveFlush,
		SnapshotTTL:   cfg.Redis.SnapshotTTL,
	}, storage, pub, snaps, m, l)
}

// ProvideAlerts creates the alert service, or nil when disabled.
func ProvideAlerts(
	cfg *config.Config,
	b *bus.Bus,
	eng *engine.AggregationEngine,
	rdb *redis.Client,
	m repository.Metrics,
	l *applogger.Logger,
) *alerts.Service {
	if !cfg.Alerts.Enabled {
		return nil
	}
	thresholds := make([]alerts.PriceThreshold, 0, len(cfg.Alerts.PriceThresholds))
	for _, t := range cfg.Alerts.PriceThresholds {
		thresholds = append(thresholds, alerts.PriceThreshold{
			Symbol: t.Symbol,
			Above:  decimal.NewFromFloat(t.Above),
			Below:  decimal.NewFromFloat(t.Below),
		})
	}
	var notify queue.QueueService
	if rdb != nil {
		notify = queue.NewRedisPublisher(l, rdb)
	}
	return alerts.New(alerts.Config{
		VolumeLookback:    cfg.Alerts.VolumeLookback,
		VolumeSpikeFactor: cfg.Alerts.VolumeSpike,
		Thresholds:        thresholds,
		QueueMsgType:      cfg.Alerts.QueueName,
	}, b, eng, notify, m, l)
}

// ProvideApp assembles the application server and its HTTP handlers.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	b *bus.Bus,
	eng *engine.AggregationEngine,
	heartbeat *bus.HeartbeatMonitor,
	collector *usecase.TickCollector,
	consumer *pkgkafka.Consumer,
	kh *usecase.KafkaTicksHandler,
	archiver *usecase.CandleArchiver,
	alertsSvc *alerts.Service,
	chClient *pkgch.Client,
	storage repository.CandleStorage,
	snaps pkgcache.Service,
) *server.App {
	if consumer != nil {
		consumer.WithConsumerHook(pkgkafka.NoopHook{})
	}

	var khHandler pkgkafka.MessageHandler
	if kh != nil {
		khHandler = kh
	}
	app := server.New(cfg, l, b, eng, heartbeat, collector, consumer, khHandler, archiver, alertsSvc, chClient)
	if collector != nil {
		app.TickProc = collector.Processor()
	}

	candlesUC := usecase.NewCandlesUseCase(eng, storage)
	candlesHandler := api.NewCandlesEchoHandler(l, candlesUC)
	candlesHandler.SetCache(snaps)
	app.AddHTTPHandler(candlesHandler)

	health := api.NewHealthHandler(l, eng, cfg.Market.Symbols)
	if storage != nil {
		health.AddCheck("clickhouse", storage.Health)
	}
	if collector != nil {
		health.AddCheck("market_stream", func(ctx context.Context) error {
			if !collector.IsConnected() {
				return fmt.Errorf("disconnected")
			}
			return nil
		})
	}
	app.AddHTTPHandler(health)

	return app
}
