package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Tick is a single raw market data update.
type Tick struct {
	Symbol    string
	Price     decimal.Decimal
	Volume    decimal.Decimal
	Timestamp time.Time
}

// Candle is one OHLCV period for a (symbol, timeframe) series. While the
// period is forming the builder mutates it in place; once Closed is set the
// candle is immutable and safe to hand out by value.
type Candle struct {
	Symbol     string
	Timeframe  Timeframe
	OpenTime   time.Time
	Open       decimal.Decimal
	High       decimal.Decimal
	Low        decimal.Decimal
	Close      decimal.Decimal
	Volume     decimal.Decimal
	VWAP       decimal.Decimal
	TradeCount int
	Closed     bool
}

// NewCandle opens a FORMING candle from the first price of a period.
func NewCandle(symbol string, tf Timeframe, openTime time.Time, price, volume decimal.Decimal) *Candle {
	return &Candle{
		Symbol:     symbol,
		Timeframe:  tf,
		OpenTime:   openTime.UTC(),
		Open:       price,
		High:       price,
		Low:        price,
		Close:      price,
		Volume:     volume,
		VWAP:       price,
		TradeCount: 1,
	}
}

// CandleFromFloats builds a candle from float64 OHLCV values, as read back
// from storage or a REST history payload.
func CandleFromFloats(symbol string, tf Timeframe, openTime time.Time, open, high, low, close, volume float64) *Candle {
	return &Candle{
		Symbol:    symbol,
		Timeframe: tf,
		OpenTime:  openTime.UTC(),
		Open:      decimal.NewFromFloat(open),
		High:      decimal.NewFromFloat(high),
		Low:       decimal.NewFromFloat(low),
		Close:     decimal.NewFromFloat(close),
		Volume:    decimal.NewFromFloat(volume),
	}
}

// DecimalFromFloat converts a float64 price to the decimal type used
// throughout the pipeline.
func DecimalFromFloat(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

// Series returns the key identifying this candle's series.
func (c *Candle) Series() Series {
	return Series{Symbol: c.Symbol, Timeframe: c.Timeframe}
}

// Validate checks OHLC consistency: low <= open,close <= high and
// non-negative volume.
func (c *Candle) Validate() error {
	if c.Low.GreaterThan(c.Open) || c.Low.GreaterThan(c.Close) {
		return fmt.Errorf("candle %s %s: low above open/close", c.Symbol, c.OpenTime.Format(time.RFC3339))
	}
	if c.High.LessThan(c.Open) || c.High.LessThan(c.Close) {
		return fmt.Errorf("candle %s %s: high below open/close", c.Symbol, c.OpenTime.Format(time.RFC3339))
	}
	if c.Volume.IsNegative() {
		return fmt.Errorf("candle %s %s: negative volume", c.Symbol, c.OpenTime.Format(time.RFC3339))
	}
	return nil
}

// Clone returns an independent copy. Decimal values are immutable so a
// shallow field copy is sufficient.
func (c *Candle) Clone() *Candle {
	cp := *c
	return &cp
}
