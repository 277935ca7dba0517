package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/config"
)

// Message is one record to publish. Key picks the partition; Value is
// encoded as JSON.
type Message struct {
	Key   string
	Value any
}

// Producer publishes JSON messages to a single topic.
type Producer struct {
	writer *kafka.Writer
	logger *slog.Logger
}

func NewProducer(cfg config.KafkaConfig, topic string) *Producer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		MaxAttempts:  3,
		RequiredAcks: kafka.RequireOne,
	}
	return &Producer{
		writer: w,
		logger: slog.Default().With("component", "kafka-producer", "topic", topic),
	}
}

// Publish writes msgs in one synchronous call.
func (p *Producer) Publish(ctx context.Context, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	records := make([]kafka.Message, 0, len(msgs))
	for _, m := range msgs {
		value, err := json.Marshal(m.Value)
		if err != nil {
			return fmt.Errorf("encoding message %q: %w", m.Key, err)
		}
		records = append(records, kafka.Message{Key: []byte(m.Key), Value: value})
	}
	if err := p.writer.WriteMessages(ctx, records...); err != nil {
		p.logger.Error("publish failed", "count", len(records), "error", err)
		return fmt.Errorf("publishing to kafka: %w", err)
	}
	p.logger.Debug("published", "count", len(records))
	return nil
}

func (p *Producer) Close() error {
	return p.writer.Close()
}
