package engine

import (
	"errors"
	"fmt"
	"sync"

	"candleflow/internal/domain/models"
)

var (
	// ErrNonMonotonic is returned when an append would break the strictly
	// increasing open time invariant of a series.
	ErrNonMonotonic = errors.New("engine: open time not after last stored candle")
	// ErrNotClosed is returned when a forming candle is appended.
	ErrNotClosed = errors.New("engine: only closed candles can be stored")
)

// BufferStore holds the bounded in-memory tail of every (symbol, timeframe)
// series. Writes come from the single pipeline goroutine that owns the
// series; reads may come from any goroutine and always return copies.
type BufferStore struct {
	mu         sync.RWMutex
	defaultCap int
	caps       map[models.Series]int
	series     map[models.Series][]*models.Candle
}

// NewBufferStore creates a store with a uniform default capacity.
func NewBufferStore(capacity int) (*BufferStore, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("buffer capacity must be positive, got %d", capacity)
	}
	return &BufferStore{
		defaultCap: capacity,
		caps:       make(map[models.Series]int),
		series:     make(map[models.Series][]*models.Candle),
	}, nil
}

// SetCapacity overrides the capacity for one series. Must be called before
// the series receives data.
func (s *BufferStore) SetCapacity(key models.Series, capacity int) error {
	if capacity <= 0 {
		return fmt.Errorf("buffer capacity for %s must be positive, got %d", key, capacity)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.caps[key] = capacity
	return nil
}

func (s *BufferStore) capFor(key models.Series) int {
	if c, ok := s.caps[key]; ok {
		return c
	}
	return s.defaultCap
}

// Append stores a closed candle. The open time must be strictly greater
// than the last stored open time for the series; otherwise the candle is
// rejected and the buffer is unchanged. The oldest entry is evicted once
// capacity is exceeded.
func (s *BufferStore) Append(c *models.Candle) error {
	if c == nil {
		return fmt.Errorf("nil candle")
	}
	if !c.Closed {
		return ErrNotClosed
	}
	key := c.Series()

	s.mu.Lock()
	defer s.mu.Unlock()

	buf := s.series[key]
	if n := len(buf); n > 0 && !c.OpenTime.After(buf[n-1].OpenTime) {
		return fmt.Errorf("%w: %s at %s", ErrNonMonotonic, key, c.OpenTime)
	}
	buf = append(buf, c.Clone())
	if max := s.capFor(key); len(buf) > max {
		buf = buf[len(buf)-max:]
	}
	s.series[key] = buf
	return nil
}

// Latest returns a copy of the most recent candle, or nil if the series is
// empty.
func (s *BufferStore) Latest(symbol string, tf models.Timeframe) *models.Candle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	buf := s.series[models.Series{Symbol: symbol, Timeframe: tf}]
	if len(buf) == 0 {
		return nil
	}
	return buf[len(buf)-1].Clone()
}

// Previous returns a copy of the second most recent candle, or nil.
func (s *BufferStore) Previous(symbol string, tf models.Timeframe) *models.Candle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	buf := s.series[models.Series{Symbol: symbol, Timeframe: tf}]
	if len(buf) < 2 {
		return nil
	}
	return buf[len(buf)-2].Clone()
}

// Lookback returns copies of up to n most recent candles in ascending open
// time order. Fewer than n are returned when history is short; callers
// decide readiness by comparing the count.
func (s *BufferStore) Lookback(symbol string, tf models.Timeframe, n int) []*models.Candle {
	if n <= 0 {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	buf := s.series[models.Series{Symbol: symbol, Timeframe: tf}]
	if len(buf) < n {
		n = len(buf)
	}
	out := make([]*models.Candle, 0, n)
	for _, c := range buf[len(buf)-n:] {
		out = append(out, c.Clone())
	}
	return out
}

// Len returns the number of stored candles for a series.
func (s *BufferStore) Len(symbol string, tf models.Timeframe) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.series[models.Series{Symbol: symbol, Timeframe: tf}])
}

// Series lists every key that currently holds data.
func (s *BufferStore) Series() []models.Series {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]models.Series, 0, len(s.series))
	for k := range s.series {
		keys = append(keys, k)
	}
	return keys
}

// Clear drops all buffered data for one symbol.
func (s *BufferStore) Clear(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.series {
		if k.Symbol == symbol {
			delete(s.series, k)
		}
	}
}

// ClearAll drops everything; used for backtest resets.
func (s *BufferStore) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.series = make(map[models.Series][]*models.Candle)
}
