package bus

import (
	"context"
	"sync"
	"time"

	"candleflow/internal/domain/models"
	applogger "candleflow/pkg/logger"
)

// StatusSource exposes the aggregate counters the heartbeat reads. The
// engine implements it; the monitor never touches pipeline internals.
type StatusSource interface {
	Snapshot() *models.HeartbeatSnapshot
	SeriesSnapshot(key models.Series) *models.HeartbeatSnapshot
	ActiveSeries() []models.Series
}

// HeartbeatMonitor periodically publishes a global HEARTBEAT plus one per
// active (symbol, timeframe) series. It runs on its own goroutine on a
// wall-clock ticker, independent of the tick-driven pipeline.
type HeartbeatMonitor struct {
	bus      *Bus
	source   StatusSource
	interval time.Duration
	log      *applogger.Logger

	mu      sync.Mutex
	stop    chan struct{}
	started bool
}

// NewHeartbeatMonitor creates a monitor publishing on the given interval.
func NewHeartbeatMonitor(b *Bus, source StatusSource, interval time.Duration, log *applogger.Logger) *HeartbeatMonitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &HeartbeatMonitor{
		bus:      b,
		source:   source,
		interval: interval,
		log:      log,
	}
}

// Start launches the background publisher. Calling Start twice is a no-op.
func (m *HeartbeatMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.stop = make(chan struct{})
	stop := m.stop
	m.mu.Unlock()

	go func() {
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				m.beat()
			}
		}
	}()
}

// Stop halts the background publisher.
func (m *HeartbeatMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		return
	}
	m.started = false
	close(m.stop)
}

func (m *HeartbeatMonitor) beat() {
	snap := m.source.Snapshot()
	if snap == nil {
		return
	}
	m.bus.Publish(models.Event{
		Type:      models.EventHeartbeat,
		Timestamp: snap.Timestamp,
		Heartbeat: snap,
	})

	for _, key := range m.source.ActiveSeries() {
		ss := m.source.SeriesSnapshot(key)
		if ss == nil {
			continue
		}
		m.bus.Publish(models.Event{
			Type:      models.EventHeartbeat,
			Symbol:    key.Symbol,
			Timeframe: key.Timeframe,
			Timestamp: ss.Timestamp,
			Heartbeat: ss,
		})
	}

	if m.log != nil {
		m.log.Debug("heartbeat",
			applogger.Uint64("ticks", snap.TickCount),
			applogger.Uint64("candles", snap.CandleCount),
			applogger.Int("symbols", len(snap.ActiveSymbols)),
		)
	}
}
