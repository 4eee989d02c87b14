package bus

import (
	"fmt"
	"sync"
	"time"

	"candleflow/internal/domain/models"
	"candleflow/internal/domain/repository"
	applogger "candleflow/pkg/logger"
)

// Wildcard matches any symbol or timeframe in a subscription pattern.
const Wildcard = "*"

// Handler receives matched events. Dispatch is synchronous in subscription
// order, so handlers must not block; anything slow belongs on the
// subscriber's own queue.
type Handler func(ev models.Event)

// Subscription is one registered handler with its topic filter. Remove it
// with Bus.Unsubscribe; subscriptions are matched by identity.
type Subscription struct {
	id        uint64
	Type      models.EventType
	Symbol    string
	Timeframe string
	Name      string
	handler   Handler
}

// Bus is a typed publish/subscribe dispatcher keyed on
// (event type, symbol, timeframe) topics with exact and wildcard matching.
// The subscription table is the only structure mutated from multiple call
// sites, so it is guarded; dispatch itself reads a stable snapshot.
type Bus struct {
	mu      sync.RWMutex
	nextID  uint64
	subs    map[models.EventType][]*Subscription
	log     *applogger.Logger
	metrics repository.Metrics
}

// New creates an event bus. logger and metrics may be nil in tests.
func New(log *applogger.Logger, metrics repository.Metrics) *Bus {
	return &Bus{
		subs:    make(map[models.EventType][]*Subscription),
		log:     log,
		metrics: metrics,
	}
}

// Subscribe registers a handler for events whose symbol and timeframe match
// the given patterns (exact string or "*"). The returned subscription must
// be passed to Unsubscribe on the consumer's cleanup path.
func (b *Bus) Subscribe(evType models.EventType, symbolPattern, timeframePattern string, h Handler) (*Subscription, error) {
	if h == nil {
		return nil, fmt.Errorf("bus: nil handler")
	}
	if symbolPattern == "" {
		symbolPattern = Wildcard
	}
	if timeframePattern == "" {
		timeframePattern = Wildcard
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	sub := &Subscription{
		id:        b.nextID,
		Type:      evType,
		Symbol:    symbolPattern,
		Timeframe: timeframePattern,
		handler:   h,
	}
	b.subs[evType] = append(b.subs[evType], sub)
	return sub, nil
}

// SubscribeNamed is Subscribe with a label used when logging dispatch
// failures.
func (b *Bus) SubscribeNamed(name string, evType models.EventType, symbolPattern, timeframePattern string, h Handler) (*Subscription, error) {
	sub, err := b.Subscribe(evType, symbolPattern, timeframePattern, h)
	if err != nil {
		return nil, err
	}
	sub.Name = name
	return sub, nil
}

// Unsubscribe removes a registration. Unknown subscriptions are a no-op.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[sub.Type]
	for i, s := range list {
		if s.id == sub.id {
			b.subs[sub.Type] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// Publish dispatches the event to every matching subscription, in
// registration order, with no short-circuiting. A panicking handler is
// recovered and logged so one faulty subscriber cannot break delivery to
// the others or the publisher.
func (b *Bus) Publish(ev models.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	matched := make([]*Subscription, 0, len(b.subs[ev.Type]))
	for _, s := range b.subs[ev.Type] {
		if s.matches(ev) {
			matched = append(matched, s)
		}
	}
	b.mu.RUnlock()

	start := time.Now()
	for _, s := range matched {
		b.dispatch(s, ev)
	}
	if b.metrics != nil && len(matched) > 0 {
		b.metrics.RecordLatency("bus_dispatch", time.Since(start).Seconds())
	}
}

// SubscriberCount reports how many subscriptions exist for a type; used by
// the heartbeat snapshot and tests.
func (b *Bus) SubscriberCount(evType models.EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[evType])
}

func (b *Bus) dispatch(s *Subscription, ev models.Event) {
	defer func() {
		if r := recover(); r != nil {
			if b.metrics != nil {
				b.metrics.RecordError("bus_handler_panic")
			}
			if b.log != nil {
				b.log.Error("event handler panicked",
					applogger.String("event", string(ev.Type)),
					applogger.String("symbol", ev.Symbol),
					applogger.String("timeframe", ev.Timeframe.String()),
					applogger.String("handler", s.Name),
					applogger.Any("panic", r),
				)
			}
		}
	}()
	s.handler(ev)
}

func (s *Subscription) matches(ev models.Event) bool {
	if s.Symbol != Wildcard && s.Symbol != ev.Symbol {
		return false
	}
	if s.Timeframe == Wildcard {
		return true
	}
	return s.Timeframe == ev.Timeframe.String()
}
