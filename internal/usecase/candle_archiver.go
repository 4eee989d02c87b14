package usecase

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"candleflow/internal/bus"
	"candleflow/internal/domain/models"
	domrepo "candleflow/internal/domain/repository"
	pkgcache "candleflow/pkg/cache"
	applogger "candleflow/pkg/logger"
)

// ArchiverConfig bounds the archiver's write batching.
type ArchiverConfig struct {
	BatchSize     int
	FlushInterval time.Duration
	SnapshotTTL   time.Duration
}

// CandleArchiver subscribes to closed-candle events and persists them in
// batches: durable storage, the candle Kafka topic, and a latest-candle
// snapshot per series for cheap API reads. Replayed warm-up candles came
// from history in the first place and are not re-archived.
type CandleArchiver struct {
	cfg     ArchiverConfig
	storage domrepo.CandleStorage
	pub     domrepo.CandlePublisher
	snaps   pkgcache.Service
	metrics domrepo.Metrics
	log     *applogger.Logger

	mu      sync.Mutex
	pending []*models.Candle
	sub     *bus.Subscription
	stop    chan struct{}
	wg      sync.WaitGroup
	started bool
}

// NewCandleArchiver creates an archiver. storage, pub and snaps are each
// optional; nil sinks are skipped.
func NewCandleArchiver(cfg ArchiverConfig, storage domrepo.CandleStorage, pub domrepo.CandlePublisher, snaps pkgcache.Service, metrics domrepo.Metrics, log *applogger.Logger) *CandleArchiver {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.SnapshotTTL <= 0 {
		cfg.SnapshotTTL = 5 * time.Minute
	}
	return &CandleArchiver{
		cfg:     cfg,
		storage: storage,
		pub:     pub,
		snaps:   snaps,
		metrics: metrics,
		log:     log,
	}
}

// Start subscribes to closed candles on all series and begins the flush
// loop.
func (a *CandleArchiver) Start(b *bus.Bus) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return nil
	}

	sub, err := b.SubscribeNamed("candle_archiver", models.EventCandleClosed, bus.Wildcard, bus.Wildcard, a.onClosed)
	if err != nil {
		return err
	}
	a.sub = sub
	a.stop = make(chan struct{})
	a.started = true

	a.wg.Add(1)
	go a.flushLoop()
	return nil
}

// Stop unsubscribes and flushes whatever is pending.
func (a *CandleArchiver) Stop(b *bus.Bus) {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return
	}
	a.started = false
	close(a.stop)
	sub := a.sub
	a.mu.Unlock()

	if sub != nil {
		b.Unsubscribe(sub)
	}
	a.wg.Wait()
	a.flush()
}

func (a *CandleArchiver) onClosed(ev models.Event) {
	if ev.Candle == nil {
		return
	}
	if replayed, ok := ev.Additional["replayed"].(bool); ok && replayed {
		return
	}

	a.snapshot(ev.Candle)

	a.mu.Lock()
	a.pending = append(a.pending, ev.Candle)
	full := len(a.pending) >= a.cfg.BatchSize
	a.mu.Unlock()

	if full {
		a.flush()
	}
}

func (a *CandleArchiver) flushLoop() {
	defer a.wg.Done()
	ticker := time.NewTicker(a.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-a.stop:
			return
		case <-ticker.C:
			a.flush()
		}
	}
}

func (a *CandleArchiver) flush() {
	a.mu.Lock()
	batch := a.pending
	a.pending = nil
	a.mu.Unlock()
	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	start := time.Now()
	if a.storage != nil {
		if err := a.storage.StoreBatch(ctx, batch); err != nil {
			a.metrics.RecordError("archive_store")
			a.log.Error("archive store batch failed",
				applogger.Int("candles", len(batch)),
				applogger.Error(err),
			)
		}
	}
	if a.pub != nil {
		if err := a.pub.PublishBatch(ctx, batch); err != nil {
			a.metrics.RecordError("archive_publish")
			a.log.Error("archive publish batch failed",
				applogger.Int("candles", len(batch)),
				applogger.Error(err),
			)
		}
	}
	a.metrics.RecordLatency("archive_flush", time.Since(start).Seconds())
}

// snapshot keeps the latest closed candle per series in cache so API reads
// survive restarts before the buffers refill.
func (a *CandleArchiver) snapshot(c *models.Candle) {
	if a.snaps == nil {
		return
	}
	b, err := json.Marshal(map[string]interface{}{
		"symbol":      c.Symbol,
		"timeframe":   c.Timeframe.String(),
		"open_time":   c.OpenTime.UnixMilli(),
		"open":        c.Open.String(),
		"high":        c.High.String(),
		"low":         c.Low.String(),
		"close":       c.Close.String(),
		"volume":      c.Volume.String(),
		"vwap":        c.VWAP.String(),
		"trade_count": c.TradeCount,
	})
	if err != nil {
		return
	}
	key := pkgcache.GenerateKeyWithParams("candle:latest", c.Symbol, c.Timeframe.String())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.snaps.Set(ctx, key, string(b), a.cfg.SnapshotTTL); err != nil {
		a.metrics.RecordError("snapshot_set")
	}
}
