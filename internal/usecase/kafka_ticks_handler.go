package usecase

import (
	"context"
	"encoding/json"
	"time"

	"candleflow/internal/domain/models"
	domrepo "candleflow/internal/domain/repository"
	"candleflow/internal/engine"
	pkgkafka "candleflow/pkg/kafka"

	"github.com/shopspring/decimal"
)

// KafkaTicksHandler consumes raw tick messages from Kafka and feeds them
// into the aggregation engine. Lets the engine ingest from a broker
// instead of (or alongside) the live WebSocket.
type KafkaTicksHandler struct {
	topic   string
	eng     *engine.AggregationEngine
	metrics domrepo.Metrics
}

func NewKafkaTicksHandler(topic string, eng *engine.AggregationEngine, metrics domrepo.Metrics) *KafkaTicksHandler {
	return &KafkaTicksHandler{topic: topic, eng: eng, metrics: metrics}
}

func (h *KafkaTicksHandler) Topic() string { return h.topic }

// incoming message schema: {symbol, t, c, v}
func (h *KafkaTicksHandler) Handle(ctx context.Context, b []byte) error {
	var m struct {
		Symbol string  `json:"symbol"`
		T      int64   `json:"t"`
		C      float64 `json:"c"`
		V      float64 `json:"v"`
	}
	if err := json.Unmarshal(b, &m); err != nil {
		h.metrics.RecordError("consumer_unmarshal")
		return err
	}
	var ts time.Time
	if m.T > 1e11 { // ms
		ts = time.UnixMilli(m.T).UTC()
	} else {
		ts = time.Unix(m.T, 0).UTC()
	}
	// E2E latency from event time to now (approx)
	h.metrics.RecordLatency("ingest_e2e_seconds", time.Since(ts).Seconds())

	h.eng.OnTick(&models.Tick{
		Symbol:    m.Symbol,
		Price:     decimal.NewFromFloat(m.C),
		Volume:    decimal.NewFromFloat(m.V),
		Timestamp: ts,
	})
	return nil
}

var _ pkgkafka.MessageHandler = (*KafkaTicksHandler)(nil)
