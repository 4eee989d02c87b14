package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"candleflow/internal/domain/models"
)

type fakeStatusSource struct{}

func (fakeStatusSource) Snapshot() *models.HeartbeatSnapshot {
	return &models.HeartbeatSnapshot{
		Timestamp:     time.Now().UTC(),
		TickCount:     42,
		CandleCount:   7,
		ActiveSymbols: []string{"BTC"},
	}
}

func (fakeStatusSource) SeriesSnapshot(key models.Series) *models.HeartbeatSnapshot {
	return &models.HeartbeatSnapshot{
		Timestamp:     time.Now().UTC(),
		ActiveSymbols: []string{key.Symbol},
	}
}

func (fakeStatusSource) ActiveSeries() []models.Series {
	return []models.Series{{Symbol: "BTC", Timeframe: models.TF1m}}
}

func TestHeartbeatPublishesGlobalAndSeriesSnapshots(t *testing.T) {
	b := New(nil, nil)

	var mu sync.Mutex
	var global, series int
	_, _ = b.Subscribe(models.EventHeartbeat, Wildcard, Wildcard, func(ev models.Event) {
		mu.Lock()
		defer mu.Unlock()
		if ev.Heartbeat == nil {
			t.Error("heartbeat event without snapshot")
			return
		}
		if ev.Symbol == "" {
			global++
		} else {
			series++
		}
	})

	m := NewHeartbeatMonitor(b, fakeStatusSource{}, 5*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)
	defer m.Stop()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		g, s := global, series
		mu.Unlock()
		if g >= 1 && s >= 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out: global=%d series=%d", global, series)
}

func TestHeartbeatStopHaltsPublishing(t *testing.T) {
	b := New(nil, nil)

	var mu sync.Mutex
	var count int
	_, _ = b.Subscribe(models.EventHeartbeat, Wildcard, Wildcard, func(models.Event) {
		mu.Lock()
		count++
		mu.Unlock()
	})

	m := NewHeartbeatMonitor(b, fakeStatusSource{}, 5*time.Millisecond, nil)
	m.Start(context.Background())

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := count
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	m.Stop()

	mu.Lock()
	settled := count
	mu.Unlock()
	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	after := count
	mu.Unlock()

	// one beat may already be in flight when Stop lands
	if after > settled+2 {
		t.Fatalf("heartbeat kept publishing after stop: %d -> %d", settled, after)
	}

	// restart after stop works
	m.Start(context.Background())
	m.Stop()
}

func TestHeartbeatStartTwiceIsNoop(t *testing.T) {
	m := NewHeartbeatMonitor(New(nil, nil), fakeStatusSource{}, time.Hour, nil)
	ctx := context.Background()
	m.Start(ctx)
	m.Start(ctx)
	m.Stop()
	m.Stop()
}
