package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestNewCandle(t *testing.T) {
	open := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	c := NewCandle("BTC", TF1m, open, decimal.NewFromInt(100), decimal.NewFromInt(2))

	if c.Symbol != "BTC" || c.Timeframe != TF1m || !c.OpenTime.Equal(open) {
		t.Fatalf("unexpected identity %+v", c)
	}
	if !c.Open.Equal(c.High) || !c.High.Equal(c.Low) || !c.Low.Equal(c.Close) {
		t.Fatal("first tick must set all four prices")
	}
	if c.TradeCount != 1 || c.Closed {
		t.Fatalf("unexpected state %+v", c)
	}
}

func TestCandleValidate(t *testing.T) {
	good := &Candle{
		Open:   decimal.NewFromInt(100),
		High:   decimal.NewFromInt(105),
		Low:    decimal.NewFromInt(99),
		Close:  decimal.NewFromInt(104),
		Volume: decimal.NewFromInt(1),
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("valid candle rejected: %v", err)
	}

	bad := *good
	bad.Low = decimal.NewFromInt(101)
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for low above open")
	}

	bad = *good
	bad.High = decimal.NewFromInt(99)
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for high below open")
	}

	bad = *good
	bad.Volume = decimal.NewFromInt(-1)
	if err := bad.Validate(); err == nil {
		t.Fatal("expected error for negative volume")
	}
}

func TestCandleClone(t *testing.T) {
	c := NewCandle("BTC", TF1m, time.Now().UTC(), decimal.NewFromInt(100), decimal.NewFromInt(1))
	cp := c.Clone()
	cp.Close = decimal.NewFromInt(999)
	cp.TradeCount = 99

	if !c.Close.Equal(decimal.NewFromInt(100)) || c.TradeCount != 1 {
		t.Fatal("clone shares state with the original")
	}
}

func TestCandleSeriesKey(t *testing.T) {
	c := NewCandle("BTC", TF5m, time.Now().UTC(), decimal.NewFromInt(1), decimal.NewFromInt(1))
	key := c.Series()
	if key.Symbol != "BTC" || key.Timeframe != TF5m {
		t.Fatalf("unexpected series key %+v", key)
	}
}

func TestCandleFromFloats(t *testing.T) {
	open := time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)
	c := CandleFromFloats("BTC", TF1m, open, 100.5, 101.25, 99.75, 100, 12.5)

	if !c.Open.Equal(decimal.NewFromFloat(100.5)) || !c.Volume.Equal(decimal.NewFromFloat(12.5)) {
		t.Fatalf("float conversion lost value: %+v", c)
	}
	if err := c.Validate(); err != nil {
		t.Fatalf("converted candle invalid: %v", err)
	}
}
