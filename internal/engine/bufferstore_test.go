package engine

import (
	"errors"
	"testing"
	"time"

	"candleflow/internal/domain/models"
)

func TestBufferStoreAppendAndQuery(t *testing.T) {
	s, err := NewBufferStore(10)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	for i := 0; i < 3; i++ {
		c := mkClosed("BTC", models.TF1m, t0.Add(time.Duration(i)*time.Minute), "100", "101", "99", "100", "1")
		if err := s.Append(c); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	if n := s.Len("BTC", models.TF1m); n != 3 {
		t.Fatalf("len %d, want 3", n)
	}
	latest := s.Latest("BTC", models.TF1m)
	if latest == nil || !latest.OpenTime.Equal(t0.Add(2*time.Minute)) {
		t.Fatalf("unexpected latest %+v", latest)
	}
	prev := s.Previous("BTC", models.TF1m)
	if prev == nil || !prev.OpenTime.Equal(t0.Add(time.Minute)) {
		t.Fatalf("unexpected previous %+v", prev)
	}
	look := s.Lookback("BTC", models.TF1m, 2)
	if len(look) != 2 || !look[0].OpenTime.Before(look[1].OpenTime) {
		t.Fatalf("lookback not ascending: %+v", look)
	}
	if got := s.Lookback("BTC", models.TF1m, 10); len(got) != 3 {
		t.Fatalf("short lookback returned %d", len(got))
	}
}

func TestBufferStoreRejectsNonMonotonic(t *testing.T) {
	s, _ := NewBufferStore(10)

	if err := s.Append(mkClosed("BTC", models.TF1m, t0, "100", "101", "99", "100", "1")); err != nil {
		t.Fatalf("append: %v", err)
	}

	dup := mkClosed("BTC", models.TF1m, t0, "100", "101", "99", "100", "1")
	if err := s.Append(dup); !errors.Is(err, ErrNonMonotonic) {
		t.Fatalf("expected ErrNonMonotonic for duplicate, got %v", err)
	}
	older := mkClosed("BTC", models.TF1m, t0.Add(-time.Minute), "100", "101", "99", "100", "1")
	if err := s.Append(older); !errors.Is(err, ErrNonMonotonic) {
		t.Fatalf("expected ErrNonMonotonic for older, got %v", err)
	}
	if n := s.Len("BTC", models.TF1m); n != 1 {
		t.Fatalf("rejected appends changed the buffer, len %d", n)
	}
}

func TestBufferStoreRejectsFormingCandle(t *testing.T) {
	s, _ := NewBufferStore(10)
	c := mkClosed("BTC", models.TF1m, t0, "100", "101", "99", "100", "1")
	c.Closed = false
	if err := s.Append(c); !errors.Is(err, ErrNotClosed) {
		t.Fatalf("expected ErrNotClosed, got %v", err)
	}
}

func TestBufferStoreEvictsOldest(t *testing.T) {
	s, _ := NewBufferStore(3)

	for i := 0; i < 5; i++ {
		c := mkClosed("BTC", models.TF1m, t0.Add(time.Duration(i)*time.Minute), "100", "101", "99", "100", "1")
		if err := s.Append(c); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	if n := s.Len("BTC", models.TF1m); n != 3 {
		t.Fatalf("len %d, want capacity 3", n)
	}
	look := s.Lookback("BTC", models.TF1m, 3)
	if !look[0].OpenTime.Equal(t0.Add(2 * time.Minute)) {
		t.Fatalf("oldest survivor %v, want %v", look[0].OpenTime, t0.Add(2*time.Minute))
	}
}

func TestBufferStorePerSeriesCapacity(t *testing.T) {
	s, _ := NewBufferStore(3)
	key := models.Series{Symbol: "BTC", Timeframe: models.TF1m}
	if err := s.SetCapacity(key, 5); err != nil {
		t.Fatalf("set capacity: %v", err)
	}
	for i := 0; i < 6; i++ {
		c := mkClosed("BTC", models.TF1m, t0.Add(time.Duration(i)*time.Minute), "100", "101", "99", "100", "1")
		if err := s.Append(c); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	if n := s.Len("BTC", models.TF1m); n != 5 {
		t.Fatalf("len %d, want overridden capacity 5", n)
	}
	if err := s.SetCapacity(key, 0); err == nil {
		t.Fatal("expected error for non-positive capacity")
	}
}

func TestBufferStoreReturnsCopies(t *testing.T) {
	s, _ := NewBufferStore(10)
	if err := s.Append(mkClosed("BTC", models.TF1m, t0, "100", "101", "99", "100", "1")); err != nil {
		t.Fatalf("append: %v", err)
	}

	got := s.Latest("BTC", models.TF1m)
	got.Close = dec("999")
	again := s.Latest("BTC", models.TF1m)
	if !again.Close.Equal(dec("100")) {
		t.Fatalf("stored candle mutated through a read copy: %s", again.Close)
	}
}

func TestBufferStoreClear(t *testing.T) {
	s, _ := NewBufferStore(10)
	_ = s.Append(mkClosed("BTC", models.TF1m, t0, "100", "101", "99", "100", "1"))
	_ = s.Append(mkClosed("BTC", models.TF5m, t0, "100", "101", "99", "100", "1"))
	_ = s.Append(mkClosed("ETH", models.TF1m, t0, "10", "11", "9", "10", "1"))

	if len(s.Series()) != 3 {
		t.Fatalf("expected 3 series, got %d", len(s.Series()))
	}
	s.Clear("BTC")
	if s.Len("BTC", models.TF1m) != 0 || s.Len("BTC", models.TF5m) != 0 {
		t.Fatal("clear left BTC data behind")
	}
	if s.Len("ETH", models.TF1m) != 1 {
		t.Fatal("clear touched another symbol")
	}
	s.ClearAll()
	if len(s.Series()) != 0 {
		t.Fatal("clear all left series behind")
	}
}

func TestBufferStoreEmptyReads(t *testing.T) {
	s, _ := NewBufferStore(10)
	if s.Latest("BTC", models.TF1m) != nil {
		t.Fatal("latest on empty series should be nil")
	}
	if s.Previous("BTC", models.TF1m) != nil {
		t.Fatal("previous on empty series should be nil")
	}
	if got := s.Lookback("BTC", models.TF1m, 5); len(got) != 0 {
		t.Fatalf("lookback on empty series returned %d", len(got))
	}
	if got := s.Lookback("BTC", models.TF1m, 0); got != nil {
		t.Fatal("lookback with n=0 should be nil")
	}
}
