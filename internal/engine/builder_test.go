package engine

import (
	"errors"
	"testing"
	"time"

	"candleflow/internal/domain/models"
)

var t0 = time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

func TestBuilderAccumulatesOHLCV(t *testing.T) {
	b, err := NewCandleBuilder(models.TF1m)
	if err != nil {
		t.Fatalf("new builder: %v", err)
	}

	prices := []string{"100", "102", "101", "105"}
	for i, p := range prices {
		_, _, err := b.OnTick(mkTick("BTC", p, "1", t0.Add(time.Duration(i)*time.Second)))
		if err != nil {
			t.Fatalf("tick %d: %v", i, err)
		}
	}

	c := b.Forming("BTC")
	if c == nil {
		t.Fatal("expected forming candle")
	}
	if !c.Open.Equal(dec("100")) || !c.High.Equal(dec("105")) ||
		!c.Low.Equal(dec("100")) || !c.Close.Equal(dec("105")) {
		t.Fatalf("unexpected OHLC %s %s %s %s", c.Open, c.High, c.Low, c.Close)
	}
	if !c.Volume.Equal(dec("4")) {
		t.Fatalf("unexpected volume %s", c.Volume)
	}
	if c.TradeCount != 4 {
		t.Fatalf("unexpected trade count %d", c.TradeCount)
	}
	// (100+102+101+105)/4
	if !c.VWAP.Equal(dec("102")) {
		t.Fatalf("unexpected vwap %s", c.VWAP)
	}
	if !c.OpenTime.Equal(t0) {
		t.Fatalf("unexpected open time %v", c.OpenTime)
	}
	if c.Closed {
		t.Fatal("forming candle must not be closed")
	}
}

func TestBuilderClosesOnBoundary(t *testing.T) {
	b, _ := NewCandleBuilder(models.TF1m)

	if _, _, err := b.OnTick(mkTick("BTC", "100", "2", t0)); err != nil {
		t.Fatalf("first tick: %v", err)
	}
	closed, opened, err := b.OnTick(mkTick("BTC", "101", "1", t0.Add(time.Minute)))
	if err != nil {
		t.Fatalf("boundary tick: %v", err)
	}
	if !opened {
		t.Fatal("expected a new forming candle")
	}
	if len(closed) != 1 {
		t.Fatalf("expected 1 closed candle, got %d", len(closed))
	}
	c := closed[0]
	if !c.Closed {
		t.Fatal("expected closed candle")
	}
	if !c.OpenTime.Equal(t0) || !c.Close.Equal(dec("100")) {
		t.Fatalf("unexpected closed candle %+v", c)
	}

	f := b.Forming("BTC")
	if f == nil || !f.OpenTime.Equal(t0.Add(time.Minute)) || !f.Open.Equal(dec("101")) {
		t.Fatalf("unexpected new forming candle %+v", f)
	}
}

func TestBuilderSyntheticGapCandles(t *testing.T) {
	b, _ := NewCandleBuilder(models.TF1m)

	if _, _, err := b.OnTick(mkTick("BTC", "100", "1", t0)); err != nil {
		t.Fatalf("first tick: %v", err)
	}
	// next tick skips two whole periods
	closed, _, err := b.OnTick(mkTick("BTC", "110", "1", t0.Add(3*time.Minute)))
	if err != nil {
		t.Fatalf("gap tick: %v", err)
	}
	if len(closed) != 3 {
		t.Fatalf("expected real close plus 2 synthetic, got %d", len(closed))
	}
	for i, syn := range closed[1:] {
		want := t0.Add(time.Duration(i+1) * time.Minute)
		if !syn.OpenTime.Equal(want) {
			t.Fatalf("synthetic %d open time %v, want %v", i, syn.OpenTime, want)
		}
		if !syn.Open.Equal(dec("100")) || !syn.High.Equal(dec("100")) ||
			!syn.Low.Equal(dec("100")) || !syn.Close.Equal(dec("100")) {
			t.Fatalf("synthetic %d not flat at prev close: %+v", i, syn)
		}
		if !syn.Volume.IsZero() {
			t.Fatalf("synthetic %d has volume %s", i, syn.Volume)
		}
		if syn.TradeCount != 0 {
			t.Fatalf("synthetic %d has trade count %d", i, syn.TradeCount)
		}
		if !syn.Closed {
			t.Fatalf("synthetic %d not closed", i)
		}
	}
}

func TestBuilderRejectsOutOfOrderTick(t *testing.T) {
	b, _ := NewCandleBuilder(models.TF1m)

	if _, _, err := b.OnTick(mkTick("BTC", "100", "1", t0.Add(2*time.Minute))); err != nil {
		t.Fatalf("first tick: %v", err)
	}
	_, _, err := b.OnTick(mkTick("BTC", "99", "1", t0))
	if !errors.Is(err, ErrOutOfOrder) {
		t.Fatalf("expected ErrOutOfOrder, got %v", err)
	}

	// forming candle untouched by the dropped tick
	f := b.Forming("BTC")
	if f == nil || !f.Close.Equal(dec("100")) || f.TradeCount != 1 {
		t.Fatalf("forming candle mutated by rejected tick: %+v", f)
	}
}

func TestBuilderRejectsBadTicks(t *testing.T) {
	b, _ := NewCandleBuilder(models.TF1m)

	if _, _, err := b.OnTick(nil); err == nil {
		t.Fatal("expected error for nil tick")
	}
	if _, _, err := b.OnTick(mkTick("", "100", "1", t0)); err == nil {
		t.Fatal("expected error for empty symbol")
	}
	if _, _, err := b.OnTick(mkTick("BTC", "-1", "1", t0)); err == nil {
		t.Fatal("expected error for negative price")
	}
}

func TestBuilderFlush(t *testing.T) {
	b, _ := NewCandleBuilder(models.TF1m)

	if c := b.Flush("BTC"); c != nil {
		t.Fatalf("flush of unknown symbol returned %+v", c)
	}
	if _, _, err := b.OnTick(mkTick("BTC", "100", "1", t0)); err != nil {
		t.Fatalf("tick: %v", err)
	}
	c := b.Flush("BTC")
	if c == nil || !c.Closed {
		t.Fatalf("expected closed candle from flush, got %+v", c)
	}
	if b.Forming("BTC") != nil {
		t.Fatal("forming candle should be gone after flush")
	}
}

func TestBuilderTracksSymbolsIndependently(t *testing.T) {
	b, _ := NewCandleBuilder(models.TF1m)

	if _, _, err := b.OnTick(mkTick("BTC", "100", "1", t0)); err != nil {
		t.Fatalf("btc tick: %v", err)
	}
	if _, _, err := b.OnTick(mkTick("ETH", "2000", "1", t0)); err != nil {
		t.Fatalf("eth tick: %v", err)
	}
	closed, _, err := b.OnTick(mkTick("BTC", "101", "1", t0.Add(time.Minute)))
	if err != nil {
		t.Fatalf("btc boundary: %v", err)
	}
	if len(closed) != 1 || closed[0].Symbol != "BTC" {
		t.Fatalf("unexpected closes %+v", closed)
	}
	if f := b.Forming("ETH"); f == nil || !f.OpenTime.Equal(t0) {
		t.Fatalf("eth forming candle disturbed: %+v", f)
	}
}
