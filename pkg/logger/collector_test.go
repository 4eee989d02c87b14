package logger

import (
	"fmt"
	"testing"
	"time"
)

func TestCollectorDeduplicatesEntries(t *testing.T) {
	c := NewErrorCollector(CollectorConfig{MaxEntries: 10, MaxAge: time.Minute})

	for i := 0; i < 3; i++ {
		c.Add("error", "kafka write failed", map[string]interface{}{"attempt": i}, "pkg/kafka/producer.go:42")
	}
	c.Add("warn", "slow flush", nil, "internal/usecase/candle_archiver.go:120")

	recent := c.Recent()
	if len(recent) != 2 {
		t.Fatalf("expected 2 distinct entries, got %d", len(recent))
	}
	if recent[0].Count != 3 {
		t.Fatalf("duplicate count %d, want 3", recent[0].Count)
	}
	if recent[0].Fields["attempt"] != 2 {
		t.Fatalf("fields not updated to last occurrence: %+v", recent[0].Fields)
	}
	if recent[1].Level != "warn" || recent[1].Count != 1 {
		t.Fatalf("unexpected second entry %+v", recent[1])
	}
}

func TestCollectorSameMessageDifferentCaller(t *testing.T) {
	c := NewErrorCollector(CollectorConfig{MaxEntries: 10, MaxAge: time.Minute})
	c.Add("error", "append rejected", nil, "a.go:1")
	c.Add("error", "append rejected", nil, "b.go:2")

	if got := len(c.Recent()); got != 2 {
		t.Fatalf("entries from different call sites merged: %d", got)
	}
}

func TestCollectorEvictsOldestBeyondBound(t *testing.T) {
	c := NewErrorCollector(CollectorConfig{MaxEntries: 3, MaxAge: time.Minute})
	for i := 0; i < 5; i++ {
		c.Add("error", fmt.Sprintf("distinct message %d", i), nil, "x.go:1")
	}

	recent := c.Recent()
	if len(recent) != 3 {
		t.Fatalf("expected bound of 3, got %d", len(recent))
	}
	if recent[0].Message != "distinct message 2" {
		t.Fatalf("oldest survivor %q", recent[0].Message)
	}
}

func TestCollectorAgeWindow(t *testing.T) {
	c := NewErrorCollector(CollectorConfig{MaxEntries: 10, MaxAge: 20 * time.Millisecond})
	c.Add("error", "stale", nil, "x.go:1")
	time.Sleep(40 * time.Millisecond)
	c.Add("error", "fresh", nil, "x.go:2")

	recent := c.Recent()
	if len(recent) != 1 || recent[0].Message != "fresh" {
		t.Fatalf("expected only the fresh entry, got %+v", recent)
	}
}

func TestCollectorClose(t *testing.T) {
	c := NewErrorCollector(CollectorConfig{MaxEntries: 10, MaxAge: time.Minute})
	c.Add("error", "something", nil, "x.go:1")
	c.Close()
	if got := len(c.Recent()); got != 0 {
		t.Fatalf("close left %d entries", got)
	}
}

func TestCollectorDefaultsAppliedToZeroConfig(t *testing.T) {
	c := NewErrorCollector(CollectorConfig{})
	c.Add("error", "msg", nil, "x.go:1")
	if got := len(c.Recent()); got != 1 {
		t.Fatalf("zero config collector dropped the entry: %d", got)
	}
}
