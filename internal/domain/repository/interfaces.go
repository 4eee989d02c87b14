package repository

import (
	"context"
	"time"

	"candleflow/internal/domain/models"
)

// MarketStream is a live tick source (broker/exchange adapter).
type MarketStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.Tick, <-chan error)
	Reconnect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

// HistoryProvider serves closed base-timeframe candles for warm-up Pass 1,
// in ascending open time order.
type HistoryProvider interface {
	FetchHistorical(ctx context.Context, symbol string, tf models.Timeframe, count int) ([]*models.Candle, error)
}

// CandleStorage persists closed candles to a durable archive and can serve
// them back as history.
type CandleStorage interface {
	Init(ctx context.Context) error // ensure tables, health checks
	Store(ctx context.Context, c *models.Candle) error
	StoreBatch(ctx context.Context, candles []*models.Candle) error
	Query(ctx context.Context, symbol string, tf models.Timeframe, from, to time.Time, limit int) ([]*models.Candle, error)
	Health(ctx context.Context) error // ping
	Close() error
}

// CandlePublisher fans closed candles out to an external transport.
type CandlePublisher interface {
	Publish(ctx context.Context, c *models.Candle) error
	PublishBatch(ctx context.Context, candles []*models.Candle) error
	Close() error
}

// Metrics records pipeline counters and latencies.
type Metrics interface {
	RecordTick(symbol string)
	RecordCandle(symbol, timeframe string)
	RecordError(kind string)
	RecordLastPrice(symbol string, price float64)
	RecordLatency(op string, seconds float64)
}
