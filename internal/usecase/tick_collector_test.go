package usecase

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"candleflow/internal/domain/models"
	mid "candleflow/internal/middleware"
)

// scriptedStream hands out fresh channels on every Read, like the real
// WebSocket client does after a reconnect.
type scriptedStream struct {
	mu         sync.Mutex
	ticks      chan *models.Tick
	errs       chan error
	reads      int
	reconnects int
	connected  bool
}

func (s *scriptedStream) Connect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	return nil
}

func (s *scriptedStream) Subscribe(context.Context) error { return nil }

func (s *scriptedStream) Read(context.Context) (<-chan *models.Tick, <-chan error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks = make(chan *models.Tick, 16)
	s.errs = make(chan error, 1)
	s.reads++
	return s.ticks, s.errs
}

func (s *scriptedStream) Reconnect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconnects++
	s.connected = true
	return nil
}

func (s *scriptedStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	return nil
}

func (s *scriptedStream) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *scriptedStream) emit(t *models.Tick) {
	s.mu.Lock()
	ch := s.ticks
	s.mu.Unlock()
	ch <- t
}

// fail mirrors the client read loop: deliver the error, then close both
// channels.
func (s *scriptedStream) fail(err error) {
	s.mu.Lock()
	ticks, errs := s.ticks, s.errs
	s.mu.Unlock()
	errs <- err
	close(errs)
	close(ticks)
}

func (s *scriptedStream) counts() (reads, reconnects int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads, s.reconnects
}

type captureSink struct {
	mu    sync.Mutex
	ticks []*models.Tick
}

func (c *captureSink) Process(_ context.Context, t *models.Tick) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticks = append(c.ticks, t)
	return nil
}

func (c *captureSink) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ticks)
}

func liveTick(symbol string, price int64) *models.Tick {
	return &models.Tick{
		Symbol:    symbol,
		Price:     decimal.NewFromInt(price),
		Volume:    decimal.NewFromInt(1),
		Timestamp: time.Now().UTC(),
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestTickCollectorResumesAfterReconnect(t *testing.T) {
	stream := &scriptedStream{}
	sink := &captureSink{}
	pipe := mid.NewRealtimePipeline(sink, noopMetrics{})
	col := NewTickCollector(stream, nil, noopMetrics{}, pipe)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := col.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = col.Shutdown(context.Background()) })

	stream.emit(liveTick("BTC", 100))
	waitFor(t, "first tick", func() bool { return sink.len() == 1 })

	stream.fail(fmt.Errorf("connection reset"))
	waitFor(t, "reconnect and fresh read", func() bool {
		reads, reconnects := stream.counts()
		return reconnects == 1 && reads == 2
	})

	// ticks must keep flowing on the post-reconnect channels
	stream.emit(liveTick("BTC", 101))
	waitFor(t, "tick after reconnect", func() bool { return sink.len() == 2 })
}

func TestTickCollectorStopsOnContextCancel(t *testing.T) {
	stream := &scriptedStream{}
	sink := &captureSink{}
	col := NewTickCollector(stream, nil, noopMetrics{}, mid.NewRealtimePipeline(sink, noopMetrics{}))

	ctx, cancel := context.WithCancel(context.Background())
	if err := col.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() { _ = col.Shutdown(context.Background()) })
	cancel()

	// after cancellation a stream failure must not trigger reconnects
	stream.fail(fmt.Errorf("connection reset"))
	time.Sleep(50 * time.Millisecond)
	if _, reconnects := stream.counts(); reconnects != 0 {
		t.Fatalf("reconnected %d times after cancel", reconnects)
	}
}
