package engine

import (
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"candleflow/internal/domain/models"
	applogger "candleflow/pkg/logger"
)

func dec(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func mkTick(symbol, price, volume string, ts time.Time) *models.Tick {
	return &models.Tick{
		Symbol:    symbol,
		Price:     dec(price),
		Volume:    dec(volume),
		Timestamp: ts,
	}
}

func mkClosed(symbol string, tf models.Timeframe, openTime time.Time, open, high, low, close, volume string) *models.Candle {
	return &models.Candle{
		Symbol:     symbol,
		Timeframe:  tf,
		OpenTime:   openTime,
		Open:       dec(open),
		High:       dec(high),
		Low:        dec(low),
		Close:      dec(close),
		Volume:     dec(volume),
		VWAP:       dec(close),
		TradeCount: 1,
		Closed:     true,
	}
}

func testLogger(t *testing.T) *applogger.Logger {
	t.Helper()
	l, err := applogger.New(&applogger.Config{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return l
}

// fakeMetrics counts calls; safe for concurrent use.
type fakeMetrics struct {
	mu     sync.Mutex
	ticks  int
	errors map[string]int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{errors: make(map[string]int)}
}

func (m *fakeMetrics) RecordTick(string) {
	m.mu.Lock()
	m.ticks++
	m.mu.Unlock()
}
func (m *fakeMetrics) RecordCandle(string, string)     {}
func (m *fakeMetrics) RecordLastPrice(string, float64) {}
func (m *fakeMetrics) RecordLatency(string, float64)   {}

func (m *fakeMetrics) RecordError(kind string) {
	m.mu.Lock()
	m.errors[kind]++
	m.mu.Unlock()
}

func (m *fakeMetrics) errorCount(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errors[kind]
}

// collectPub records published events; safe for concurrent use.
type collectPub struct {
	mu     sync.Mutex
	events []models.Event
}

func (p *collectPub) Publish(ev models.Event) {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
}

func (p *collectPub) all() []models.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.Event, len(p.events))
	copy(out, p.events)
	return out
}

func (p *collectPub) ofType(t models.EventType) []models.Event {
	var out []models.Event
	for _, ev := range p.all() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}
