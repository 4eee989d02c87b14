package usecase

import (
	"context"
	"fmt"
	"time"

	"candleflow/internal/domain/models"
	drepo "candleflow/internal/domain/repository"
	"candleflow/internal/engine"
	pkgkafka "candleflow/pkg/kafka"
)

// TickProcessor feeds validated ticks into the aggregation engine and
// optionally mirrors the raw stream to a Kafka topic.
type TickProcessor struct {
	eng      *engine.AggregationEngine
	producer *pkgkafka.Producer
	topic    string
	metrics  drepo.Metrics
}

// NewTickProcessor creates a processor. producer may be nil when raw tick
// mirroring is disabled.
func NewTickProcessor(eng *engine.AggregationEngine, producer *pkgkafka.Producer, topic string, metrics drepo.Metrics) *TickProcessor {
	return &TickProcessor{
		eng:      eng,
		producer: producer,
		topic:    topic,
		metrics:  metrics,
	}
}

// Process routes a single tick into the engine. The engine's per-symbol
// queue is non-blocking, so the only error path is the raw mirror.
func (p *TickProcessor) Process(ctx context.Context, t *models.Tick) error {
	if t == nil {
		return fmt.Errorf("tick is nil")
	}

	start := time.Now()
	p.eng.OnTick(t)

	if p.producer != nil {
		price, _ := t.Price.Float64()
		volume, _ := t.Volume.Float64()
		if err := p.producer.Publish(ctx, p.topic, []byte(t.Symbol), map[string]interface{}{
			"symbol": t.Symbol,
			"t":      t.Timestamp.UnixMilli(),
			"c":      price,
			"v":      volume,
		}); err != nil {
			p.metrics.RecordError("tick_mirror")
			return fmt.Errorf("mirror tick: %w", err)
		}
	}

	p.metrics.RecordLatency("tick_process", time.Since(start).Seconds())
	return nil
}

// Close releases the Kafka producer if one is attached.
func (p *TickProcessor) Close() {
	if p.producer != nil {
		_ = p.producer.Close()
	}
}
