package repository

import (
	"context"

	"candleflow/internal/domain/models"
	domrepo "candleflow/internal/domain/repository"
	pkgkafka "candleflow/pkg/kafka"
)

// KafkaCandlePublisher fans closed candles out to a Kafka topic. Messages
// are keyed by symbol so each series stays ordered within a partition.
type KafkaCandlePublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

// NewKafkaCandlePublisher creates a Kafka candle publisher.
func NewKafkaCandlePublisher(producer *pkgkafka.Producer, topic string) domrepo.CandlePublisher {
	return &KafkaCandlePublisher{producer: producer, topic: topic}
}

func (p *KafkaCandlePublisher) Publish(ctx context.Context, c *models.Candle) error {
	return p.producer.Publish(ctx, p.topic, []byte(c.Symbol), candlePayload(c))
}

func (p *KafkaCandlePublisher) PublishBatch(ctx context.Context, candles []*models.Candle) error {
	if len(candles) == 0 {
		return nil
	}
	msgs := make([]pkgkafka.Message, len(candles))
	for i, c := range candles {
		msgs[i] = pkgkafka.Message{
			Key:   []byte(c.Symbol),
			Value: candlePayload(c),
		}
	}
	return p.producer.PublishBatch(ctx, p.topic, msgs)
}

func (p *KafkaCandlePublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

// candlePayload keeps decimals as strings so consumers never lose
// precision to float64 JSON numbers.
func candlePayload(c *models.Candle) map[string]interface{} {
	return map[string]interface{}{
		"symbol":      c.Symbol,
		"timeframe":   c.Timeframe.String(),
		"open_time":   c.OpenTime.UnixMilli(),
		"open":        c.Open.String(),
		"high":        c.High.String(),
		"low":         c.Low.String(),
		"close":       c.Close.String(),
		"volume":      c.Volume.String(),
		"vwap":        c.VWAP.String(),
		"trade_count": c.TradeCount,
	}
}
