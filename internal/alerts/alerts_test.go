package alerts

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"candleflow/internal/bus"
	"candleflow/internal/domain/models"
	applogger "candleflow/pkg/logger"
)

var t0 = time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func closedCandle(symbol string, openTime time.Time, open, close, volume string) *models.Candle {
	o, c := dec(open), dec(close)
	hi, lo := o, c
	if c.GreaterThan(o) {
		hi, lo = c, o
	}
	return &models.Candle{
		Symbol:    symbol,
		Timeframe: models.TF1m,
		OpenTime:  openTime,
		Open:      o,
		High:      hi,
		Low:       lo,
		Close:     c,
		Volume:    dec(volume),
		VWAP:      c,
		Closed:    true,
	}
}

// fakeHistory returns canned lookback data.
type fakeHistory struct {
	prev   *models.Candle
	window []*models.Candle
}

func (h *fakeHistory) Previous(string, models.Timeframe) *models.Candle { return h.prev }
func (h *fakeHistory) Lookback(string, models.Timeframe, int) []*models.Candle {
	return h.window
}

type noopMetrics struct{}

func (noopMetrics) RecordTick(string)               {}
func (noopMetrics) RecordCandle(string, string)     {}
func (noopMetrics) RecordError(string)              {}
func (noopMetrics) RecordLastPrice(string, float64) {}
func (noopMetrics) RecordLatency(string, float64)   {}

func testLogger(t *testing.T) *applogger.Logger {
	t.Helper()
	l, err := applogger.New(&applogger.Config{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return l
}

func newTestService(t *testing.T, cfg Config, hist *fakeHistory) (*Service, *bus.Bus) {
	t.Helper()
	b := bus.New(nil, nil)
	s := New(cfg, b, hist, nil, noopMetrics{}, testLogger(t))
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(s.Stop)
	return s, b
}

func capture(t *testing.T, b *bus.Bus, evType models.EventType) *[]models.Event {
	t.Helper()
	var events []models.Event
	if _, err := b.Subscribe(evType, bus.Wildcard, bus.Wildcard, func(ev models.Event) {
		events = append(events, ev)
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	return &events
}

func publishClosed(b *bus.Bus, c *models.Candle) {
	b.Publish(models.Event{
		Type:      models.EventCandleClosed,
		Symbol:    c.Symbol,
		Timeframe: c.Timeframe,
		Candle:    c,
	})
}

func TestPriceAlertFiresOnCrossingOnly(t *testing.T) {
	hist := &fakeHistory{}
	cfg := Config{Thresholds: []PriceThreshold{{Symbol: "BTC", Above: dec("100")}}}
	_, b := newTestService(t, cfg, hist)
	alerts := capture(t, b, models.EventPriceAlert)

	// previous close below the level: crossing
	hist.prev = closedCandle("BTC", t0, "98", "99", "1")
	publishClosed(b, closedCandle("BTC", t0.Add(time.Minute), "99", "101", "1"))
	if len(*alerts) != 1 {
		t.Fatalf("expected 1 alert on crossing, got %d", len(*alerts))
	}
	got := (*alerts)[0]
	if got.Trigger["direction"] != "above" || got.Trigger["level"] != "100" {
		t.Fatalf("unexpected trigger %+v", got.Trigger)
	}

	// previous close already past the level: no repeat
	hist.prev = closedCandle("BTC", t0.Add(time.Minute), "99", "101", "1")
	publishClosed(b, closedCandle("BTC", t0.Add(2*time.Minute), "101", "102", "1"))
	if len(*alerts) != 1 {
		t.Fatalf("alert repeated while price stayed past the level: %d", len(*alerts))
	}
}

func TestPriceAlertBelowThreshold(t *testing.T) {
	hist := &fakeHistory{}
	cfg := Config{Thresholds: []PriceThreshold{{Symbol: "BTC", Below: dec("90")}}}
	_, b := newTestService(t, cfg, hist)
	alerts := capture(t, b, models.EventPriceAlert)

	hist.prev = closedCandle("BTC", t0, "95", "95", "1")
	publishClosed(b, closedCandle("BTC", t0.Add(time.Minute), "95", "89", "1"))
	if len(*alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(*alerts))
	}
	if (*alerts)[0].Trigger["direction"] != "below" {
		t.Fatalf("unexpected trigger %+v", (*alerts)[0].Trigger)
	}
}

func TestPriceAlertFirstCandleCounts(t *testing.T) {
	hist := &fakeHistory{} // no previous candle at all
	cfg := Config{Thresholds: []PriceThreshold{{Symbol: "BTC", Above: dec("100")}}}
	_, b := newTestService(t, cfg, hist)
	alerts := capture(t, b, models.EventPriceAlert)

	publishClosed(b, closedCandle("BTC", t0, "99", "105", "1"))
	if len(*alerts) != 1 {
		t.Fatalf("expected alert without history, got %d", len(*alerts))
	}
}

func TestVolumeSpikeAlert(t *testing.T) {
	cur := closedCandle("BTC", t0.Add(3*time.Minute), "100", "100", "25")
	hist := &fakeHistory{
		window: []*models.Candle{
			closedCandle("BTC", t0, "100", "100", "10"),
			closedCandle("BTC", t0.Add(time.Minute), "100", "100", "10"),
			closedCandle("BTC", t0.Add(2*time.Minute), "100", "100", "10"),
			cur,
		},
	}
	cfg := Config{VolumeLookback: 3, VolumeSpikeFactor: 2}
	_, b := newTestService(t, cfg, hist)
	alerts := capture(t, b, models.EventVolumeAlert)

	publishClosed(b, cur)
	if len(*alerts) != 1 {
		t.Fatalf("expected volume alert, got %d", len(*alerts))
	}
	trig := (*alerts)[0].Trigger
	if trig["volume"] != "25" || trig["average"] != "10" {
		t.Fatalf("unexpected trigger %+v", trig)
	}
}

func TestVolumeSpikeNeedsFullWindow(t *testing.T) {
	cur := closedCandle("BTC", t0.Add(time.Minute), "100", "100", "25")
	hist := &fakeHistory{
		window: []*models.Candle{
			closedCandle("BTC", t0, "100", "100", "10"),
			cur,
		},
	}
	cfg := Config{VolumeLookback: 3, VolumeSpikeFactor: 2}
	_, b := newTestService(t, cfg, hist)
	alerts := capture(t, b, models.EventVolumeAlert)

	publishClosed(b, cur)
	if len(*alerts) != 0 {
		t.Fatalf("short window must not alert, got %d", len(*alerts))
	}
}

func TestEngulfingPatterns(t *testing.T) {
	hist := &fakeHistory{}
	_, b := newTestService(t, Config{}, hist)
	patterns := capture(t, b, models.EventPatternDetected)

	// bearish previous body fully reversed by a bullish one
	hist.prev = closedCandle("BTC", t0, "105", "100", "1")
	publishClosed(b, closedCandle("BTC", t0.Add(time.Minute), "99", "106", "1"))
	if len(*patterns) != 1 || (*patterns)[0].Trigger["pattern"] != "bullish_engulfing" {
		t.Fatalf("expected bullish engulfing, got %+v", *patterns)
	}

	// bullish previous body fully reversed by a bearish one
	hist.prev = closedCandle("BTC", t0.Add(time.Minute), "100", "105", "1")
	publishClosed(b, closedCandle("BTC", t0.Add(2*time.Minute), "106", "99", "1"))
	if len(*patterns) != 2 || (*patterns)[1].Trigger["pattern"] != "bearish_engulfing" {
		t.Fatalf("expected bearish engulfing, got %+v", *patterns)
	}

	// same-direction candles are not engulfing
	hist.prev = closedCandle("BTC", t0.Add(2*time.Minute), "100", "105", "1")
	publishClosed(b, closedCandle("BTC", t0.Add(3*time.Minute), "99", "106", "1"))
	if len(*patterns) != 2 {
		t.Fatalf("same-direction candle raised a pattern: %d", len(*patterns))
	}
}

func TestReplayedCandlesAreSkipped(t *testing.T) {
	hist := &fakeHistory{}
	cfg := Config{Thresholds: []PriceThreshold{{Symbol: "BTC", Above: dec("100")}}}
	_, b := newTestService(t, cfg, hist)
	alerts := capture(t, b, models.EventPriceAlert)

	c := closedCandle("BTC", t0, "99", "105", "1")
	b.Publish(models.Event{
		Type:       models.EventCandleClosed,
		Symbol:     c.Symbol,
		Timeframe:  c.Timeframe,
		Candle:     c,
		Additional: map[string]interface{}{"replayed": true},
	})
	if len(*alerts) != 0 {
		t.Fatalf("replayed candle raised an alert: %d", len(*alerts))
	}
}

func TestThresholdsIgnoreOtherSymbols(t *testing.T) {
	hist := &fakeHistory{}
	cfg := Config{Thresholds: []PriceThreshold{{Symbol: "BTC", Above: dec("100")}}}
	_, b := newTestService(t, cfg, hist)
	alerts := capture(t, b, models.EventPriceAlert)

	publishClosed(b, closedCandle("ETH", t0, "99", "105", "1"))
	if len(*alerts) != 0 {
		t.Fatalf("threshold fired for the wrong symbol: %d", len(*alerts))
	}
}
