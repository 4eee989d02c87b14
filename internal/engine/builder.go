package engine

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"candleflow/internal/domain/models"
)

// ErrOutOfOrder is returned for ticks older than the forming period. The
// tick is dropped; closed candles are never mutated.
var ErrOutOfOrder = errors.New("engine: tick before forming period start")

type builderState struct {
	forming   *models.Candle
	notional  decimal.Decimal // running sum of price*volume for VWAP
	prevClose decimal.Decimal
}

// CandleBuilder accumulates raw ticks into base-timeframe candles. Period
// boundaries are driven by tick timestamps, not a wall clock, so replays
// and backtests behave identically to live ingestion.
type CandleBuilder struct {
	mu    sync.Mutex
	base  models.Timeframe
	state map[string]*builderState
}

// NewCandleBuilder creates a builder for the given base timeframe.
func NewCandleBuilder(base models.Timeframe) (*CandleBuilder, error) {
	if base <= 0 {
		return nil, fmt.Errorf("base timeframe must be positive, got %s", base.Duration())
	}
	return &CandleBuilder{
		base:  base,
		state: make(map[string]*builderState),
	}, nil
}

// OnTick folds one tick into the symbol's forming candle. It returns the
// candles closed by crossing a period boundary (synthetic flat candles are
// inserted for zero-tick periods so consumers never see a gap) and whether
// a new forming candle was opened.
func (b *CandleBuilder) OnTick(t *models.Tick) (closed []*models.Candle, opened bool, err error) {
	if t == nil || t.Symbol == "" {
		return nil, false, fmt.Errorf("invalid tick")
	}
	if t.Price.IsNegative() || t.Volume.IsNegative() {
		return nil, false, fmt.Errorf("tick %s: negative price or volume", t.Symbol)
	}
	period := models.PeriodStart(t.Timestamp, b.base)

	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.state[t.Symbol]
	if !ok {
		st = &builderState{}
		b.state[t.Symbol] = st
	}

	if st.forming == nil {
		st.forming = models.NewCandle(t.Symbol, b.base, period, t.Price, t.Volume)
		st.notional = t.Price.Mul(t.Volume)
		return nil, true, nil
	}

	switch {
	case period.Before(st.forming.OpenTime):
		return nil, false, fmt.Errorf("%w: %s tick at %s, forming period %s",
			ErrOutOfOrder, t.Symbol, t.Timestamp, st.forming.OpenTime)

	case period.Equal(st.forming.OpenTime):
		b.update(st, t)
		return nil, false, nil

	default:
		closed = append(closed, b.closeForming(st))
		// flat candles for any periods that saw no ticks
		step := b.base.Duration()
		for p := closed[0].OpenTime.Add(step); p.Before(period); p = p.Add(step) {
			closed = append(closed, b.synthetic(t.Symbol, p, st.prevClose))
		}
		st.forming = models.NewCandle(t.Symbol, b.base, period, t.Price, t.Volume)
		st.notional = t.Price.Mul(t.Volume)
		return closed, true, nil
	}
}

// Flush closes the forming candle for a symbol without waiting for the next
// tick. Used when the input stream ends.
func (b *CandleBuilder) Flush(symbol string) *models.Candle {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.state[symbol]
	if !ok || st.forming == nil {
		return nil
	}
	return b.closeForming(st)
}

// Forming returns a copy of the in-progress candle, or nil.
func (b *CandleBuilder) Forming(symbol string) *models.Candle {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.state[symbol]
	if !ok || st.forming == nil {
		return nil
	}
	return st.forming.Clone()
}

func (b *CandleBuilder) update(st *builderState, t *models.Tick) {
	c := st.forming
	if t.Price.GreaterThan(c.High) {
		c.High = t.Price
	}
	if t.Price.LessThan(c.Low) {
		c.Low = t.Price
	}
	c.Close = t.Price
	c.Volume = c.Volume.Add(t.Volume)
	c.TradeCount++
	st.notional = st.notional.Add(t.Price.Mul(t.Volume))
	if c.Volume.IsPositive() {
		c.VWAP = st.notional.Div(c.Volume)
	} else {
		c.VWAP = c.Close
	}
}

func (b *CandleBuilder) closeForming(st *builderState) *models.Candle {
	c := st.forming
	c.Closed = true
	st.forming = nil
	st.prevClose = c.Close
	st.notional = decimal.Zero
	return c
}

// synthetic builds a closed flat candle for a period with no trades.
func (b *CandleBuilder) synthetic(symbol string, openTime time.Time, close decimal.Decimal) *models.Candle {
	return &models.Candle{
		Symbol:    symbol,
		Timeframe: b.base,
		OpenTime:  openTime,
		Open:      close,
		High:      close,
		Low:       close,
		Close:     close,
		Volume:    decimal.Zero,
		VWAP:      close,
		Closed:    true,
	}
}
