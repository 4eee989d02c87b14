package models

import "time"

// EventType classifies bus events.
type EventType string

const (
	EventNewCandle       EventType = "NEW_CANDLE"
	EventCandleClosed    EventType = "CANDLE_CLOSED"
	EventPriceAlert      EventType = "PRICE_ALERT"
	EventVolumeAlert     EventType = "VOLUME_ALERT"
	EventPatternDetected EventType = "PATTERN_DETECTED"
	EventHeartbeat       EventType = "HEARTBEAT"
	EventWarmupTimeout   EventType = "WARMUP_TIMEOUT"
)

// Event is the payload delivered to bus subscribers. Candle is set for
// candle and alert events, Heartbeat for HEARTBEAT events.
type Event struct {
	Type       EventType
	Symbol     string
	Timeframe  Timeframe
	Timestamp  time.Time
	Candle     *Candle
	Heartbeat  *HeartbeatSnapshot
	Trigger    map[string]interface{}
	Additional map[string]interface{}
}

// HeartbeatSnapshot is the periodic health broadcast. A zero Series means
// the snapshot is global.
type HeartbeatSnapshot struct {
	Timestamp        time.Time
	TickCount        uint64
	CandleCount      uint64
	ActiveSymbols    []string
	ActiveTimeframes []Timeframe
	LastTickTimes    map[string]time.Time
}

// SymbolPhase is the per-symbol lifecycle during a run.
type SymbolPhase int

const (
	PhaseWarmingUp SymbolPhase = iota
	PhaseLive
)

func (p SymbolPhase) String() string {
	if p == PhaseLive {
		return "live"
	}
	return "warming_up"
}

// WarmupState tracks historical backfill progress for one series.
// Completed transitions false -> true exactly once per run.
type WarmupState struct {
	Series        Series
	RequiredCount int
	ReceivedCount int
	Completed     bool
}
