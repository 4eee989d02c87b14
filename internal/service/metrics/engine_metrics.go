package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	WarmupDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "candleflow",
			Subsystem: "engine",
			Name:      "warmup_duration_seconds",
			Help:      "Time from warm-up start to completed backfill per symbol",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"symbol"},
	)

	BufferOccupancy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "candleflow",
			Subsystem: "engine",
			Name:      "buffer_occupancy",
			Help:      "Closed candles currently held per series ring buffer",
		},
		[]string{"symbol", "timeframe"},
	)

	SyntheticCandles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "candleflow",
			Subsystem: "engine",
			Name:      "synthetic_candles_total",
			Help:      "Flat gap-fill candles emitted for zero-tick periods",
		},
		[]string{"symbol"},
	)

	RejectedTicks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "candleflow",
			Subsystem: "engine",
			Name:      "rejected_ticks_total",
			Help:      "Ticks dropped as out-of-order",
		},
		[]string{"symbol"},
	)
)

func Register() {
	once.Do(func() {
		prometheus.MustRegister(WarmupDuration, BufferOccupancy, SyntheticCandles, RejectedTicks)
	})
}
