package middleware

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"candleflow/internal/domain/models"
)

type countMetrics struct {
	mu     sync.Mutex
	errors map[string]int
}

func newCountMetrics() *countMetrics {
	return &countMetrics{errors: make(map[string]int)}
}

func (m *countMetrics) RecordTick(string)               {}
func (m *countMetrics) RecordCandle(string, string)     {}
func (m *countMetrics) RecordLastPrice(string, float64) {}
func (m *countMetrics) RecordLatency(string, float64)   {}

func (m *countMetrics) RecordError(kind string) {
	m.mu.Lock()
	m.errors[kind]++
	m.mu.Unlock()
}

func (m *countMetrics) count(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errors[kind]
}

type recordProc struct {
	mu    sync.Mutex
	ticks []*models.Tick
	err   error
}

func (p *recordProc) Process(ctx context.Context, t *models.Tick) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.ticks = append(p.ticks, t)
	return nil
}

func (p *recordProc) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ticks)
}

func tick(symbol string, price float64, ts time.Time) *models.Tick {
	return &models.Tick{
		Symbol:    symbol,
		Price:     decimal.NewFromFloat(price),
		Volume:    decimal.NewFromInt(1),
		Timestamp: ts,
	}
}

func TestPipelineForwardsValidTicks(t *testing.T) {
	proc := &recordProc{}
	p := NewRealtimePipeline(proc, newCountMetrics())

	if err := p.Process(context.Background(), tick("BTC", 100, time.Now())); err != nil {
		t.Fatalf("process: %v", err)
	}
	if proc.len() != 1 {
		t.Fatalf("downstream got %d ticks", proc.len())
	}
}

func TestPipelineRejectsInvalidTicks(t *testing.T) {
	proc := &recordProc{}
	metrics := newCountMetrics()
	p := NewRealtimePipeline(proc, metrics)
	ctx := context.Background()

	bad := []*models.Tick{
		nil,
		tick("", 100, time.Now()),
		tick("BTC", 100, time.Time{}),
		tick("BTC", -1, time.Now()),
	}
	for i, b := range bad {
		if err := p.Process(ctx, b); err == nil {
			t.Fatalf("tick %d: expected validation error", i)
		}
	}
	if proc.len() != 0 {
		t.Fatal("invalid ticks reached downstream")
	}
	if metrics.count("pipeline_validate") != len(bad) {
		t.Fatalf("validate errors %d, want %d", metrics.count("pipeline_validate"), len(bad))
	}
}

func TestPipelineThrottlesPerSymbol(t *testing.T) {
	proc := &recordProc{}
	metrics := newCountMetrics()
	p := NewRealtimePipeline(proc, metrics, WithMaxRPS(1))
	ctx := context.Background()
	now := time.Now()

	// burst within one second: first accepted, rest throttled
	for i := 0; i < 5; i++ {
		if err := p.Process(ctx, tick("BTC", 100, now)); err != nil {
			t.Fatalf("process %d: %v", i, err)
		}
	}
	if proc.len() != 1 {
		t.Fatalf("downstream got %d, want 1 after throttling", proc.len())
	}
	if metrics.count("pipeline_throttle") != 4 {
		t.Fatalf("throttle count %d, want 4", metrics.count("pipeline_throttle"))
	}

	// a different symbol has its own budget
	if err := p.Process(ctx, tick("ETH", 2000, now)); err != nil {
		t.Fatalf("process eth: %v", err)
	}
	if proc.len() != 2 {
		t.Fatalf("downstream got %d, want 2", proc.len())
	}
}

func TestPipelineUnthrottledByDefault(t *testing.T) {
	proc := &recordProc{}
	p := NewRealtimePipeline(proc, newCountMetrics())
	ctx := context.Background()
	now := time.Now()

	for i := 0; i < 10; i++ {
		if err := p.Process(ctx, tick("BTC", 100, now)); err != nil {
			t.Fatalf("process %d: %v", i, err)
		}
	}
	if proc.len() != 10 {
		t.Fatalf("downstream got %d, want all 10", proc.len())
	}
}

func TestPipelineTransformHook(t *testing.T) {
	proc := &recordProc{}
	p := NewRealtimePipeline(proc, newCountMetrics(), WithTransform(func(tk *models.Tick) *models.Tick {
		tk.Symbol = "NORM:" + tk.Symbol
		return tk
	}))

	if err := p.Process(context.Background(), tick("btcusdt", 100, time.Now())); err != nil {
		t.Fatalf("process: %v", err)
	}
	if proc.len() != 1 || proc.ticks[0].Symbol != "NORM:btcusdt" {
		t.Fatalf("transform not applied: %+v", proc.ticks)
	}
}

func TestPipelineBuffersOnDownstreamError(t *testing.T) {
	proc := &recordProc{err: fmt.Errorf("engine busy")}
	metrics := newCountMetrics()
	p := NewRealtimePipeline(proc, metrics, WithBufferSize(4))

	if err := p.Process(context.Background(), tick("BTC", 100, time.Now())); err == nil {
		t.Fatal("expected downstream error to surface")
	}
	if metrics.count("pipeline_process") != 1 {
		t.Fatalf("process errors %d, want 1", metrics.count("pipeline_process"))
	}

	// background flusher retries the buffered tick once downstream recovers
	proc.mu.Lock()
	proc.err = nil
	proc.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	defer p.Stop()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if proc.len() == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("buffered tick never flushed, downstream has %d", proc.len())
}
