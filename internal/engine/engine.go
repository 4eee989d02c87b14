package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"candleflow/internal/domain/models"
	"candleflow/internal/domain/repository"
	enginemetrics "candleflow/internal/service/metrics"
	applogger "candleflow/pkg/logger"
)

// Config is the aggregation surface of the application configuration.
type Config struct {
	Symbols             []string
	BaseTimeframe       models.Timeframe
	DerivedTimeframes   []models.Timeframe
	Alignment           models.Alignment
	BufferCapacity      int
	WarmupRequired      map[models.Timeframe]int
	WarmupTimeout       time.Duration
	WarmupRetryInterval time.Duration
	IngestQueueSize     int
}

type ingestItem struct {
	tick   *models.Tick
	candle *models.Candle
}

// AggregationEngine owns the tick-to-candle pipeline for every configured
// symbol: one inbound queue and one worker goroutine per symbol, so each
// (symbol, timeframe) series has exactly one writer. The engine is an
// explicitly constructed instance passed by handle; there is no ambient
// global state.
type AggregationEngine struct {
	cfg       Config
	builder   *CandleBuilder
	resampler *TimeframeResampler
	store     *BufferStore
	warmup    *WarmupCoordinator
	pub       EventPublisher
	metrics   repository.Metrics
	log       *applogger.Logger

	mu         sync.RWMutex
	workers    map[string]chan ingestItem
	phase      map[string]models.SymbolPhase
	tickCounts map[string]uint64
	lastTicks  map[string]time.Time
	tickTotal  uint64
	candles    uint64

	wg      sync.WaitGroup
	stop    chan struct{}
	started bool
}

// NewAggregationEngine validates the configuration and builds the pipeline.
// Configuration errors (derived timeframe not a multiple of base, capacity
// too small for the configured warm-up) are fatal here; nothing else in
// the pipeline raises to its caller.
func NewAggregationEngine(
	cfg Config,
	history repository.HistoryProvider,
	pub EventPublisher,
	metrics repository.Metrics,
	log *applogger.Logger,
) (*AggregationEngine, error) {
	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("engine: at least one symbol required")
	}
	if cfg.IngestQueueSize <= 0 {
		cfg.IngestQueueSize = 1024
	}
	if cfg.WarmupRetryInterval <= 0 {
		cfg.WarmupRetryInterval = 5 * time.Second
	}

	builder, err := NewCandleBuilder(cfg.BaseTimeframe)
	if err != nil {
		return nil, err
	}
	resampler, err := NewTimeframeResampler(cfg.BaseTimeframe, cfg.DerivedTimeframes, cfg.Alignment)
	if err != nil {
		return nil, err
	}
	store, err := NewBufferStore(cfg.BufferCapacity)
	if err != nil {
		return nil, err
	}
	warmup, err := NewWarmupCoordinator(history, store, pub,
		cfg.BaseTimeframe, resampler.Derived(), cfg.Alignment, cfg.WarmupRequired)
	if err != nil {
		return nil, err
	}
	// warm-up Pass 1 appends every fetched base candle; a smaller buffer
	// would evict its own head and the required counts could never be met
	if need := warmup.requiredBaseCount(); cfg.BufferCapacity < need {
		return nil, fmt.Errorf("engine: buffer capacity %d cannot hold the %d base candles warm-up retains", cfg.BufferCapacity, need)
	}
	enginemetrics.Register()

	return &AggregationEngine{
		cfg:        cfg,
		builder:    builder,
		resampler:  resampler,
		store:      store,
		warmup:     warmup,
		pub:        pub,
		metrics:    metrics,
		log:        log,
		workers:    make(map[string]chan ingestItem),
		phase:      make(map[string]models.SymbolPhase),
		tickCounts: make(map[string]uint64),
		lastTicks:  make(map[string]time.Time),
		stop:       make(chan struct{}),
	}, nil
}

// Start launches one warm-up-then-consume worker per configured symbol.
func (e *AggregationEngine) Start(ctx context.Context) {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return
	}
	e.started = true
	for _, sym := range e.cfg.Symbols {
		ch := make(chan ingestItem, e.cfg.IngestQueueSize)
		e.workers[sym] = ch
		e.phase[sym] = models.PhaseWarmingUp
		e.wg.Add(1)
		go e.run(ctx, sym, ch)
	}
	e.mu.Unlock()
}

// Stop signals workers to drain and waits for them.
func (e *AggregationEngine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	close(e.stop)
	e.mu.Unlock()
	e.wg.Wait()
}

// OnTick is the live ingestion entrypoint. It is synchronous and
// non-blocking: the tick is handed to the symbol's worker queue, and
// dropped with an error counter when the queue is full or the symbol is
// not configured.
func (e *AggregationEngine) OnTick(t *models.Tick) {
	if t == nil {
		return
	}
	e.mu.RLock()
	ch, ok := e.workers[t.Symbol]
	e.mu.RUnlock()
	if !ok {
		e.metrics.RecordError("unknown_symbol")
		return
	}
	select {
	case ch <- ingestItem{tick: t}:
	default:
		e.metrics.RecordError("ingest_overflow")
	}
}

// OnBaseCandle ingests an already-closed base candle from a broker that
// pushes candles instead of ticks.
func (e *AggregationEngine) OnBaseCandle(c *models.Candle) {
	if c == nil {
		return
	}
	e.mu.RLock()
	ch, ok := e.workers[c.Symbol]
	e.mu.RUnlock()
	if !ok {
		e.metrics.RecordError("unknown_symbol")
		return
	}
	select {
	case ch <- ingestItem{candle: c}:
	default:
		e.metrics.RecordError("ingest_overflow")
	}
}

func (e *AggregationEngine) run(ctx context.Context, symbol string, ch chan ingestItem) {
	defer e.wg.Done()

	if err := e.runWarmup(ctx, symbol); err != nil {
		return // context cancelled; symbol never went live this run
	}
	e.setPhase(symbol, models.PhaseLive)
	e.log.Info("symbol live", applogger.String("symbol", symbol))

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stop:
			return
		case item := <-ch:
			if item.tick != nil {
				e.handleTick(item.tick)
			} else if item.candle != nil {
				e.handleBaseCandle(item.candle)
			}
		}
	}
}

// runWarmup retries the three-pass reconciliation until it succeeds. When
// the configured timeout elapses without success a WARMUP_TIMEOUT event is
// published once; the symbol stays WARMING_UP and retries continue.
func (e *AggregationEngine) runWarmup(ctx context.Context, symbol string) error {
	deadline := time.Now().Add(e.cfg.WarmupTimeout)
	escalated := e.cfg.WarmupTimeout <= 0

	for {
		start := time.Now()
		err := e.warmup.Run(ctx, symbol)
		if err == nil {
			e.metrics.RecordLatency("warmup", time.Since(start).Seconds())
			enginemetrics.WarmupDuration.WithLabelValues(symbol).Observe(time.Since(start).Seconds())
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if errors.Is(err, ErrInsufficientHistory) {
			e.metrics.RecordError("warmup_insufficient_history")
		} else {
			e.metrics.RecordError("warmup_failed")
		}
		e.log.Warn("warmup attempt failed",
			applogger.String("symbol", symbol),
			applogger.Error(err),
		)

		if !escalated && time.Now().After(deadline) {
			escalated = true
			e.pub.Publish(models.Event{
				Type:   models.EventWarmupTimeout,
				Symbol: symbol,
				Trigger: map[string]interface{}{
					"timeout": e.cfg.WarmupTimeout.String(),
					"error":   err.Error(),
				},
			})
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-e.stop:
			return fmt.Errorf("engine stopped")
		case <-time.After(e.cfg.WarmupRetryInterval):
		}
	}
}

func (e *AggregationEngine) handleTick(t *models.Tick) {
	e.metrics.RecordTick(t.Symbol)
	price, _ := t.Price.Float64()
	e.metrics.RecordLastPrice(t.Symbol, price)

	e.mu.Lock()
	e.tickTotal++
	e.tickCounts[t.Symbol]++
	e.lastTicks[t.Symbol] = t.Timestamp
	e.mu.Unlock()

	closed, opened, err := e.builder.OnTick(t)
	if err != nil {
		e.metrics.RecordError("data_quality")
		enginemetrics.RejectedTicks.WithLabelValues(t.Symbol).Inc()
		e.log.Warn("tick rejected",
			applogger.String("symbol", t.Symbol),
			applogger.Error(err),
		)
		return
	}
	for _, c := range closed {
		if c.TradeCount == 0 {
			enginemetrics.SyntheticCandles.WithLabelValues(c.Symbol).Inc()
		}
		e.closeBase(c)
	}
	if opened {
		if forming := e.builder.Forming(t.Symbol); forming != nil {
			e.pub.Publish(models.Event{
				Type:      models.EventNewCandle,
				Symbol:    forming.Symbol,
				Timeframe: forming.Timeframe,
				Candle:    forming,
			})
		}
	}
}

func (e *AggregationEngine) handleBaseCandle(c *models.Candle) {
	c.Closed = true
	if err := c.Validate(); err != nil {
		e.metrics.RecordError("data_quality")
		e.log.Warn("candle rejected", applogger.Error(err))
		return
	}
	e.closeBase(c)
}

// closeBase stores one closed base candle, publishes it, and feeds the
// resampler, publishing any derived closes it produces.
func (e *AggregationEngine) closeBase(c *models.Candle) {
	if err := e.store.Append(c); err != nil {
		e.metrics.RecordError("buffer_append")
		e.log.Warn("append rejected", applogger.Error(err))
		return
	}
	e.publishClosed(c)

	derived, err := e.resampler.OnBaseCandleClosed(c)
	if err != nil {
		e.metrics.RecordError("resample")
		e.log.Warn("resample failed", applogger.Error(err))
		return
	}
	for _, d := range derived {
		if err := e.store.Append(d); err != nil {
			e.metrics.RecordError("buffer_append")
			e.log.Warn("append rejected", applogger.Error(err))
			continue
		}
		e.publishClosed(d)
	}
}

func (e *AggregationEngine) publishClosed(c *models.Candle) {
	e.mu.Lock()
	e.candles++
	e.mu.Unlock()
	e.metrics.RecordCandle(c.Symbol, c.Timeframe.String())
	enginemetrics.BufferOccupancy.WithLabelValues(c.Symbol, c.Timeframe.String()).
		Set(float64(e.store.Len(c.Symbol, c.Timeframe)))
	e.pub.Publish(models.Event{
		Type:      models.EventCandleClosed,
		Symbol:    c.Symbol,
		Timeframe: c.Timeframe,
		Timestamp: c.OpenTime.Add(c.Timeframe.Duration()),
		Candle:    c,
	})
}

// --- queries (read-only, safe from any goroutine) ---

// Latest returns the newest closed candle for a series, or nil.
func (e *AggregationEngine) Latest(symbol string, tf models.Timeframe) *models.Candle {
	return e.store.Latest(symbol, tf)
}

// Previous returns the candle before the latest, or nil.
func (e *AggregationEngine) Previous(symbol string, tf models.Timeframe) *models.Candle {
	return e.store.Previous(symbol, tf)
}

// Lookback returns up to n most recent closed candles, oldest first.
func (e *AggregationEngine) Lookback(symbol string, tf models.Timeframe, n int) []*models.Candle {
	return e.store.Lookback(symbol, tf, n)
}

// WarmupStates returns the per-timeframe warm-up progress for a symbol.
func (e *AggregationEngine) WarmupStates(symbol string) []models.WarmupState {
	return e.warmup.States(symbol)
}

// Phase reports whether a symbol is WARMING_UP or LIVE.
func (e *AggregationEngine) Phase(symbol string) models.SymbolPhase {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.phase[symbol]
}

// Timeframes returns base plus derived timeframes, ascending.
func (e *AggregationEngine) Timeframes() []models.Timeframe {
	out := []models.Timeframe{e.cfg.BaseTimeframe}
	return append(out, e.resampler.Derived()...)
}

// Store exposes the buffer store for collaborators that only query.
func (e *AggregationEngine) Store() *BufferStore { return e.store }

func (e *AggregationEngine) setPhase(symbol string, p models.SymbolPhase) {
	e.mu.Lock()
	e.phase[symbol] = p
	e.mu.Unlock()
}

// --- heartbeat source ---

// Snapshot returns the global heartbeat payload.
func (e *AggregationEngine) Snapshot() *models.HeartbeatSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	last := make(map[string]time.Time, len(e.lastTicks))
	for k, v := range e.lastTicks {
		last[k] = v
	}
	return &models.HeartbeatSnapshot{
		Timestamp:        time.Now().UTC(),
		TickCount:        e.tickTotal,
		CandleCount:      e.candles,
		ActiveSymbols:    append([]string(nil), e.cfg.Symbols...),
		ActiveTimeframes: e.Timeframes(),
		LastTickTimes:    last,
	}
}

// SeriesSnapshot returns the heartbeat payload for one series.
func (e *AggregationEngine) SeriesSnapshot(key models.Series) *models.HeartbeatSnapshot {
	e.mu.RLock()
	ticks := e.tickCounts[key.Symbol]
	last, ok := e.lastTicks[key.Symbol]
	e.mu.RUnlock()

	snap := &models.HeartbeatSnapshot{
		Timestamp:        time.Now().UTC(),
		TickCount:        ticks,
		CandleCount:      uint64(e.store.Len(key.Symbol, key.Timeframe)),
		ActiveSymbols:    []string{key.Symbol},
		ActiveTimeframes: []models.Timeframe{key.Timeframe},
	}
	if ok {
		snap.LastTickTimes = map[string]time.Time{key.Symbol: last}
	}
	return snap
}

// ActiveSeries lists every configured (symbol, timeframe) pair.
func (e *AggregationEngine) ActiveSeries() []models.Series {
	tfs := e.Timeframes()
	out := make([]models.Series, 0, len(e.cfg.Symbols)*len(tfs))
	for _, sym := range e.cfg.Symbols {
		for _, tf := range tfs {
			out = append(out, models.Series{Symbol: sym, Timeframe: tf})
		}
	}
	return out
}
