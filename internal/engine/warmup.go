package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"candleflow/internal/domain/models"
	"candleflow/internal/domain/repository"
)

// ErrInsufficientHistory is returned when Pass 1 yields fewer candles than
// the configured requirement. The symbol stays WARMING_UP; the caller
// decides whether to retry or escalate.
var ErrInsufficientHistory = errors.New("engine: historical load returned fewer candles than required")

// EventPublisher is the slice of the event bus the engine needs.
type EventPublisher interface {
	Publish(ev models.Event)
}

// WarmupCoordinator runs the three-pass historical reconciliation for one
// symbol at a time: load base candles, resample them into every derived
// timeframe, then flush the merged history to subscribers in open time
// order. Only when every timeframe reaches its required count does the
// symbol become eligible for LIVE.
type WarmupCoordinator struct {
	history  repository.HistoryProvider
	store    *BufferStore
	pub      EventPublisher
	base     models.Timeframe
	derived  []models.Timeframe
	align    models.Alignment
	required map[models.Timeframe]int

	mu     sync.RWMutex
	states map[models.Series]*models.WarmupState
}

// NewWarmupCoordinator wires the coordinator. required maps each timeframe
// (base and derived) to the candle count a strategy needs before trading.
func NewWarmupCoordinator(
	history repository.HistoryProvider,
	store *BufferStore,
	pub EventPublisher,
	base models.Timeframe,
	derived []models.Timeframe,
	align models.Alignment,
	required map[models.Timeframe]int,
) (*WarmupCoordinator, error) {
	if history == nil {
		return nil, fmt.Errorf("history provider required")
	}
	for tf, n := range required {
		if n <= 0 {
			return nil, fmt.Errorf("warmup required count for %s must be positive, got %d", tf, n)
		}
	}
	return &WarmupCoordinator{
		history:  history,
		store:    store,
		pub:      pub,
		base:     base,
		derived:  derived,
		align:    align,
		required: required,
		states:   make(map[models.Series]*models.WarmupState),
	}, nil
}

// Run executes all three passes for a symbol. It is idempotent: the
// symbol's buffers are cleared first, so a cancelled or failed run can be
// retried from scratch.
func (w *WarmupCoordinator) Run(ctx context.Context, symbol string) error {
	w.store.Clear(symbol)
	w.resetStates(symbol)

	base, err := w.loadHistory(ctx, symbol)
	if err != nil {
		return err
	}
	if err := w.resampleHistory(symbol, base); err != nil {
		return err
	}
	w.flushHistory(ctx, symbol)

	return w.finish(symbol)
}

// loadHistory is Pass 1: fetch closed base candles and insert them directly
// into the buffer, bypassing the candle builder.
func (w *WarmupCoordinator) loadHistory(ctx context.Context, symbol string) ([]*models.Candle, error) {
	need := w.requiredBaseCount()
	candles, err := w.history.FetchHistorical(ctx, symbol, w.base, need)
	if err != nil {
		return nil, fmt.Errorf("warmup load %s: %w", symbol, err)
	}

	stored := make([]*models.Candle, 0, len(candles))
	for _, c := range candles {
		if c == nil {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := c.Validate(); err != nil {
			return nil, fmt.Errorf("warmup load %s: %w", symbol, err)
		}
		c.Closed = true
		if err := w.store.Append(c); err != nil {
			return nil, fmt.Errorf("warmup load %s: %w", symbol, err)
		}
		stored = append(stored, c)
	}
	if len(stored) < need {
		return nil, fmt.Errorf("%w: %s got %d, need %d", ErrInsufficientHistory, symbol, len(stored), need)
	}
	return stored, nil
}

// resampleHistory is Pass 2: replay the loaded base candles through a fresh
// resampler exactly as if they had arrived live, then flush the partial
// tail. The last derived candle of the window may cover fewer base periods
// than a full span; it is stored closed regardless.
func (w *WarmupCoordinator) resampleHistory(symbol string, base []*models.Candle) error {
	rs, err := NewTimeframeResampler(w.base, w.derived, w.align)
	if err != nil {
		return err
	}
	for _, c := range base {
		closed, err := rs.OnBaseCandleClosed(c)
		if err != nil {
			return fmt.Errorf("warmup resample %s: %w", symbol, err)
		}
		for _, d := range closed {
			if err := w.store.Append(d); err != nil {
				return fmt.Errorf("warmup resample %s: %w", symbol, err)
			}
		}
	}
	for _, d := range rs.FlushPending() {
		if err := w.store.Append(d); err != nil {
			return fmt.Errorf("warmup resample %s: %w", symbol, err)
		}
	}
	return nil
}

// flushHistory is Pass 3: publish one CANDLE_CLOSED per stored candle,
// merged across timeframes in ascending open time order, so subscribers
// observe a single consistent history before any live event.
func (w *WarmupCoordinator) flushHistory(ctx context.Context, symbol string) {
	var all []*models.Candle
	for _, tf := range w.timeframes() {
		if n := w.store.Len(symbol, tf); n > 0 {
			all = append(all, w.store.Lookback(symbol, tf, n)...)
		}
	}
	sort.SliceStable(all, func(i, j int) bool {
		if !all[i].OpenTime.Equal(all[j].OpenTime) {
			return all[i].OpenTime.Before(all[j].OpenTime)
		}
		return all[i].Timeframe < all[j].Timeframe
	})

	if w.pub == nil {
		return
	}
	for _, c := range all {
		if ctx.Err() != nil {
			return
		}
		w.pub.Publish(models.Event{
			Type:      models.EventCandleClosed,
			Symbol:    c.Symbol,
			Timeframe: c.Timeframe,
			Timestamp: c.OpenTime.Add(c.Timeframe.Duration()),
			Candle:    c,
			Additional: map[string]interface{}{
				"replayed": true,
			},
		})
	}
}

// finish recomputes per-timeframe states and flips Completed where the
// stored count meets the requirement.
func (w *WarmupCoordinator) finish(symbol string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var missing []models.Series
	for _, tf := range w.timeframes() {
		key := models.Series{Symbol: symbol, Timeframe: tf}
		st := w.states[key]
		st.ReceivedCount = w.store.Len(symbol, tf)
		if st.ReceivedCount >= st.RequiredCount {
			st.Completed = true
		} else {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %v", ErrInsufficientHistory, missing)
	}
	return nil
}

// Completed reports whether every timeframe of the symbol finished warm-up.
func (w *WarmupCoordinator) Completed(symbol string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	found := false
	for _, tf := range w.timeframes() {
		st, ok := w.states[models.Series{Symbol: symbol, Timeframe: tf}]
		if !ok || !st.Completed {
			return false
		}
		found = true
	}
	return found
}

// States returns copies of the symbol's per-timeframe warm-up states.
func (w *WarmupCoordinator) States(symbol string) []models.WarmupState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]models.WarmupState, 0, len(w.timeframes()))
	for _, tf := range w.timeframes() {
		if st, ok := w.states[models.Series{Symbol: symbol, Timeframe: tf}]; ok {
			out = append(out, *st)
		}
	}
	return out
}

func (w *WarmupCoordinator) resetStates(symbol string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, tf := range w.timeframes() {
		key := models.Series{Symbol: symbol, Timeframe: tf}
		w.states[key] = &models.WarmupState{
			Series:        key,
			RequiredCount: w.requiredFor(tf),
		}
	}
}

// requiredBaseCount returns how many base candles Pass 1 must fetch so that
// every timeframe can reach its required count after resampling.
func (w *WarmupCoordinator) requiredBaseCount() int {
	need := w.requiredFor(w.base)
	for _, tf := range w.derived {
		k := int(tf / w.base)
		if n := w.requiredFor(tf) * k; n > need {
			need = n
		}
	}
	return need
}

func (w *WarmupCoordinator) requiredFor(tf models.Timeframe) int {
	if n, ok := w.required[tf]; ok {
		return n
	}
	return 1
}

func (w *WarmupCoordinator) timeframes() []models.Timeframe {
	out := make([]models.Timeframe, 0, len(w.derived)+1)
	out = append(out, w.base)
	out = append(out, w.derived...)
	return out
}

// WaitTimeout is a helper for callers that gate on warm-up completion with
// a deadline; it returns false when the context expires first.
func (w *WarmupCoordinator) WaitTimeout(ctx context.Context, symbol string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if w.Completed(symbol) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(100 * time.Millisecond):
		}
	}
	return w.Completed(symbol)
}
