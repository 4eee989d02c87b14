package models

import (
	"testing"
	"time"
)

func TestParseTimeframe(t *testing.T) {
	cases := []struct {
		in   string
		want Timeframe
	}{
		{"1s", TF1s},
		{"1m", TF1m},
		{"5m", TF5m},
		{"15m", TF15m},
		{"1h", TF1h},
	}
	for _, tc := range cases {
		got, err := ParseTimeframe(tc.in)
		if err != nil {
			t.Fatalf("%s: %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("%s: got %v", tc.in, got)
		}
	}

	for _, bad := range []string{"", "abc", "-1m", "0s"} {
		if _, err := ParseTimeframe(bad); err == nil {
			t.Fatalf("%q: expected error", bad)
		}
	}
}

func TestTimeframeString(t *testing.T) {
	cases := map[Timeframe]string{
		TF1s:  "1s",
		TF1m:  "1m",
		TF5m:  "5m",
		TF15m: "15m",
		TF1h:  "1h",
	}
	for tf, want := range cases {
		if got := tf.String(); got != want {
			t.Fatalf("%v: got %q, want %q", time.Duration(tf), got, want)
		}
	}
}

func TestTimeframeMultipleOf(t *testing.T) {
	if !TF5m.MultipleOf(TF1m) || !TF1h.MultipleOf(TF15m) || !TF1m.MultipleOf(TF1m) {
		t.Fatal("expected whole multiples to pass")
	}
	if Timeframe(90 * time.Second).MultipleOf(TF1m) {
		t.Fatal("90s is not a whole multiple of 1m")
	}
	if TF1m.MultipleOf(TF5m) {
		t.Fatal("a timeframe smaller than base is not a multiple")
	}
	if TF5m.MultipleOf(0) {
		t.Fatal("zero base must not match")
	}
}

func TestPeriodStartTruncates(t *testing.T) {
	ts := time.Date(2025, 6, 2, 10, 7, 42, 123, time.UTC)
	if got := PeriodStart(ts, TF1m); !got.Equal(time.Date(2025, 6, 2, 10, 7, 0, 0, time.UTC)) {
		t.Fatalf("1m period start %v", got)
	}
	if got := PeriodStart(ts, TF5m); !got.Equal(time.Date(2025, 6, 2, 10, 5, 0, 0, time.UTC)) {
		t.Fatalf("5m period start %v", got)
	}
	if got := PeriodStart(ts, TF1h); !got.Equal(time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("1h period start %v", got)
	}

	// non-UTC input normalizes to UTC period boundaries
	loc := time.FixedZone("plus2", 2*3600)
	local := ts.In(loc)
	if got := PeriodStart(local, TF5m); !got.Equal(PeriodStart(ts, TF5m)) {
		t.Fatalf("local time shifted the period: %v", got)
	}
}

func TestPeriodLabelAlignment(t *testing.T) {
	ts := time.Date(2025, 6, 2, 10, 7, 0, 0, time.UTC)
	start := time.Date(2025, 6, 2, 10, 5, 0, 0, time.UTC)

	if got := PeriodLabel(ts, TF5m, AlignLeft); !got.Equal(start) {
		t.Fatalf("left label %v", got)
	}
	if got := PeriodLabel(ts, TF5m, AlignRight); !got.Equal(start.Add(5 * time.Minute)) {
		t.Fatalf("right label %v", got)
	}
	if got := PeriodLabel(ts, TF5m, AlignCenter); !got.Equal(start.Add(150 * time.Second)) {
		t.Fatalf("center label %v", got)
	}
}

func TestParseAlignment(t *testing.T) {
	for _, s := range []string{"left", "right", "center"} {
		got, err := ParseAlignment(s)
		if err != nil || string(got) != s {
			t.Fatalf("%s: %v %v", s, got, err)
		}
	}
	if got, err := ParseAlignment(""); err != nil || got != AlignLeft {
		t.Fatalf("empty alignment: %v %v", got, err)
	}
	if _, err := ParseAlignment("middle"); err == nil {
		t.Fatal("expected error for unknown alignment")
	}
}

func TestSeriesString(t *testing.T) {
	s := Series{Symbol: "BTC", Timeframe: TF5m}
	if got := s.String(); got != "BTC@5m" {
		t.Fatalf("got %q", got)
	}
}

func TestSymbolPhaseString(t *testing.T) {
	if PhaseWarmingUp.String() != "warming_up" || PhaseLive.String() != "live" {
		t.Fatal("unexpected phase strings")
	}
}
