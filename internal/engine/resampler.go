package engine

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"candleflow/internal/domain/models"
)

type partialAggregate struct {
	candle    *models.Candle
	spanStart time.Time // truncated start of the derived period
	notional  decimal.Decimal
	baseCount int
}

// TimeframeResampler derives higher-timeframe candles from closed base
// candles. It keeps one partial aggregate per (symbol, derived timeframe)
// and closes it when the last base sub-period of the span arrives.
type TimeframeResampler struct {
	mu       sync.Mutex
	base     models.Timeframe
	derived  []models.Timeframe
	align    models.Alignment
	partials map[models.Series]*partialAggregate
}

// NewTimeframeResampler validates that every derived timeframe is a whole
// multiple of the base; a fractional multiple is a configuration error.
func NewTimeframeResampler(base models.Timeframe, derived []models.Timeframe, align models.Alignment) (*TimeframeResampler, error) {
	if base <= 0 {
		return nil, fmt.Errorf("base timeframe must be positive, got %s", base.Duration())
	}
	seen := make(map[models.Timeframe]bool, len(derived))
	tfs := make([]models.Timeframe, 0, len(derived))
	for _, tf := range derived {
		if !tf.MultipleOf(base) {
			return nil, fmt.Errorf("derived timeframe %s is not a multiple of base %s", tf, base)
		}
		if tf == base || seen[tf] {
			continue
		}
		seen[tf] = true
		tfs = append(tfs, tf)
	}
	sort.Slice(tfs, func(i, j int) bool { return tfs[i] < tfs[j] })
	return &TimeframeResampler{
		base:     base,
		derived:  tfs,
		align:    align,
		partials: make(map[models.Series]*partialAggregate),
	}, nil
}

// Derived returns the configured derived timeframes in ascending order.
func (r *TimeframeResampler) Derived() []models.Timeframe {
	out := make([]models.Timeframe, len(r.derived))
	copy(out, r.derived)
	return out
}

// OnBaseCandleClosed merges one closed base candle into every derived
// aggregate and returns the derived candles whose spans completed.
func (r *TimeframeResampler) OnBaseCandleClosed(c *models.Candle) ([]*models.Candle, error) {
	if c == nil || !c.Closed {
		return nil, fmt.Errorf("resampler requires a closed base candle")
	}
	if c.Timeframe != r.base {
		return nil, fmt.Errorf("resampler configured for base %s, got %s", r.base, c.Timeframe)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var closed []*models.Candle
	for _, tf := range r.derived {
		closed = append(closed, r.merge(c, tf)...)
	}
	return closed, nil
}

func (r *TimeframeResampler) merge(c *models.Candle, tf models.Timeframe) []*models.Candle {
	key := models.Series{Symbol: c.Symbol, Timeframe: tf}
	spanStart := models.PeriodStart(c.OpenTime, tf)

	var out []*models.Candle
	agg, ok := r.partials[key]
	if ok && !agg.spanStart.Equal(spanStart) {
		// The base series jumped into a new span; force-close the old
		// aggregate first so nothing dangles.
		out = append(out, r.closePartial(key, agg))
		agg, ok = nil, false
	}
	if !ok {
		agg = &partialAggregate{
			candle: &models.Candle{
				Symbol:     c.Symbol,
				Timeframe:  tf,
				OpenTime:   models.PeriodLabel(c.OpenTime, tf, r.align),
				Open:       c.Open,
				High:       c.High,
				Low:        c.Low,
				Close:      c.Close,
				Volume:     c.Volume,
				VWAP:       c.VWAP,
				TradeCount: c.TradeCount,
			},
			spanStart: spanStart,
			notional:  c.VWAP.Mul(c.Volume),
			baseCount: 1,
		}
		r.partials[key] = agg
	} else {
		d := agg.candle
		if c.High.GreaterThan(d.High) {
			d.High = c.High
		}
		if c.Low.LessThan(d.Low) {
			d.Low = c.Low
		}
		d.Close = c.Close
		d.Volume = d.Volume.Add(c.Volume)
		d.TradeCount += c.TradeCount
		agg.notional = agg.notional.Add(c.VWAP.Mul(c.Volume))
		if d.Volume.IsPositive() {
			d.VWAP = agg.notional.Div(d.Volume)
		} else {
			d.VWAP = d.Close
		}
		agg.baseCount++
	}

	// Closed when this base candle is the last sub-period of the span.
	spanEnd := agg.spanStart.Add(tf.Duration())
	if c.OpenTime.Add(r.base.Duration()).Equal(spanEnd) {
		out = append(out, r.closePartial(key, agg))
	}
	return out
}

func (r *TimeframeResampler) closePartial(key models.Series, agg *partialAggregate) *models.Candle {
	agg.candle.Closed = true
	delete(r.partials, key)
	return agg.candle
}

// FlushPending force-closes every partial aggregate. Called at the end of a
// historical load so the tail span is stored even when only partially
// covered; consumers treat it as closed regardless.
func (r *TimeframeResampler) FlushPending() []*models.Candle {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := make([]models.Series, 0, len(r.partials))
	for k := range r.partials {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Symbol != keys[j].Symbol {
			return keys[i].Symbol < keys[j].Symbol
		}
		return keys[i].Timeframe < keys[j].Timeframe
	})

	out := make([]*models.Candle, 0, len(keys))
	for _, k := range keys {
		out = append(out, r.closePartial(k, r.partials[k]))
	}
	return out
}

// PendingCount reports how many partial aggregates are open.
func (r *TimeframeResampler) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.partials)
}
