package alerts

import (
	"context"

	"candleflow/internal/bus"
	"candleflow/internal/domain/models"
	domrepo "candleflow/internal/domain/repository"
	"candleflow/pkg/queue"

	applogger "candleflow/pkg/logger"

	"github.com/shopspring/decimal"
)

// PriceThreshold fires when a symbol's close crosses a level. Zero values
// disable the corresponding side.
type PriceThreshold struct {
	Symbol string
	Above  decimal.Decimal
	Below  decimal.Decimal
}

// Config controls which detectors run on closed candles.
type Config struct {
	VolumeLookback    int
	VolumeSpikeFactor float64
	Thresholds        []PriceThreshold
	QueueMsgType      string
}

// History is the candle lookback the detectors read. The aggregation
// engine satisfies it.
type History interface {
	Previous(symbol string, tf models.Timeframe) *models.Candle
	Lookback(symbol string, tf models.Timeframe, n int) []*models.Candle
}

// Service watches closed candles and raises alert events: price threshold
// crossings, volume spikes against a rolling average, and engulfing
// patterns. Alerts go back onto the bus and, when a queue is attached,
// into a notification queue for external delivery.
type Service struct {
	cfg     Config
	bus     *bus.Bus
	hist    History
	notify  queue.QueueService // optional
	metrics domrepo.Metrics
	log     *applogger.Logger

	thresholds map[string][]PriceThreshold
	sub        *bus.Subscription
}

// New creates an alert service. notify may be nil.
func New(cfg Config, b *bus.Bus, hist History, notify queue.QueueService, metrics domrepo.Metrics, log *applogger.Logger) *Service {
	if cfg.VolumeLookback <= 0 {
		cfg.VolumeLookback = 20
	}
	if cfg.VolumeSpikeFactor <= 0 {
		cfg.VolumeSpikeFactor = 3.0
	}
	if cfg.QueueMsgType == "" {
		cfg.QueueMsgType = "alert_notifications"
	}
	bySymbol := make(map[string][]PriceThreshold, len(cfg.Thresholds))
	for _, t := range cfg.Thresholds {
		bySymbol[t.Symbol] = append(bySymbol[t.Symbol], t)
	}
	return &Service{
		cfg:        cfg,
		bus:        b,
		hist:       hist,
		notify:     notify,
		metrics:    metrics,
		log:        log,
		thresholds: bySymbol,
	}
}

// Start subscribes the detectors to closed candles on every series.
func (s *Service) Start() error {
	sub, err := s.bus.SubscribeNamed("alerts", models.EventCandleClosed, bus.Wildcard, bus.Wildcard, s.onClosed)
	if err != nil {
		return err
	}
	s.sub = sub
	return nil
}

// Stop detaches the detectors from the bus.
func (s *Service) Stop() {
	if s.sub != nil {
		s.bus.Unsubscribe(s.sub)
		s.sub = nil
	}
}

func (s *Service) onClosed(ev models.Event) {
	c := ev.Candle
	if c == nil {
		return
	}
	if replayed, ok := ev.Additional["replayed"].(bool); ok && replayed {
		return
	}

	prev := s.hist.Previous(c.Symbol, c.Timeframe)

	s.checkThresholds(c, prev)
	s.checkVolumeSpike(c)
	s.checkEngulfing(c, prev)
}

// checkThresholds fires on a crossing, not on every candle that sits past
// the level. The previous close must have been on the other side.
func (s *Service) checkThresholds(c, prev *models.Candle) {
	for _, t := range s.thresholds[c.Symbol] {
		if !t.Above.IsZero() && c.Close.GreaterThanOrEqual(t.Above) {
			if prev == nil || prev.Close.LessThan(t.Above) {
				s.raise(models.EventPriceAlert, c, map[string]interface{}{
					"direction": "above",
					"level":     t.Above.String(),
					"close":     c.Close.String(),
				})
			}
		}
		if !t.Below.IsZero() && c.Close.LessThanOrEqual(t.Below) {
			if prev == nil || prev.Close.GreaterThan(t.Below) {
				s.raise(models.EventPriceAlert, c, map[string]interface{}{
					"direction": "below",
					"level":     t.Below.String(),
					"close":     c.Close.String(),
				})
			}
		}
	}
}

func (s *Service) checkVolumeSpike(c *models.Candle) {
	// lookback excludes the candle that just closed
	window := s.hist.Lookback(c.Symbol, c.Timeframe, s.cfg.VolumeLookback+1)
	if len(window) < s.cfg.VolumeLookback+1 {
		return
	}
	window = window[:len(window)-1]

	sum := decimal.Zero
	for _, w := range window {
		sum = sum.Add(w.Volume)
	}
	avg := sum.Div(decimal.NewFromInt(int64(len(window))))
	if avg.IsZero() {
		return
	}
	limit := avg.Mul(decimal.NewFromFloat(s.cfg.VolumeSpikeFactor))
	if c.Volume.GreaterThan(limit) {
		s.raise(models.EventVolumeAlert, c, map[string]interface{}{
			"volume":   c.Volume.String(),
			"average":  avg.String(),
			"factor":   s.cfg.VolumeSpikeFactor,
			"lookback": len(window),
		})
	}
}

func (s *Service) checkEngulfing(c, prev *models.Candle) {
	if prev == nil {
		return
	}
	pattern := engulfing(prev, c)
	if pattern == "" {
		return
	}
	s.raise(models.EventPatternDetected, c, map[string]interface{}{
		"pattern":    pattern,
		"prev_open":  prev.Open.String(),
		"prev_close": prev.Close.String(),
		"open":       c.Open.String(),
		"close":      c.Close.String(),
	})
}

func (s *Service) raise(evType models.EventType, c *models.Candle, trigger map[string]interface{}) {
	s.bus.Publish(models.Event{
		Type:      evType,
		Symbol:    c.Symbol,
		Timeframe: c.Timeframe,
		Timestamp: c.OpenTime.Add(c.Timeframe.Duration()),
		Candle:    c,
		Trigger:   trigger,
	})

	if s.notify != nil {
		payload := map[string]interface{}{
			"type":      string(evType),
			"symbol":    c.Symbol,
			"timeframe": c.Timeframe.String(),
			"open_time": c.OpenTime.UnixMilli(),
			"trigger":   trigger,
		}
		if err := s.notify.PublishMessage(context.Background(), s.cfg.QueueMsgType, payload); err != nil {
			s.metrics.RecordError("alert_enqueue")
			s.log.Warn("alert notification enqueue failed", applogger.Error(err))
		}
	}
	s.log.Info("alert raised",
		applogger.String("type", string(evType)),
		applogger.String("symbol", c.Symbol),
		applogger.String("tf", c.Timeframe.String()),
	)
}

// engulfing reports "bullish_engulfing" or "bearish_engulfing" when the
// current body fully contains and reverses the previous body.
func engulfing(prev, cur *models.Candle) string {
	prevBull := prev.Close.GreaterThan(prev.Open)
	curBull := cur.Close.GreaterThan(cur.Open)

	if !prevBull && curBull &&
		cur.Open.LessThanOrEqual(prev.Close) &&
		cur.Close.GreaterThanOrEqual(prev.Open) &&
		!cur.Open.Equal(cur.Close) {
		return "bullish_engulfing"
	}
	if prevBull && !curBull &&
		cur.Open.GreaterThanOrEqual(prev.Close) &&
		cur.Close.LessThanOrEqual(prev.Open) &&
		!cur.Open.Equal(cur.Close) {
		return "bearish_engulfing"
	}
	return ""
}
