package producer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	wbfkafka "github.com/wb-go/wbf/kafka"
	"github.com/wb-go/wbf/retry"

	"github.com/aliskhannn/sheet-images/internal/config"
	"github.com/aliskhannn/sheet-images/internal/model"
)

// Producer publishes build events to Kafka.
type Producer struct {
	Client   *wbfkafka.Producer
	strategy retry.Strategy
	cfg      *config.Kafka
}

// New creates a new Producer.
// - cfg: Kafka configuration struct
// - s: retry strategy
func New(
	cfg *config.Kafka,
	s retry.Strategy,
) *Producer {
	producer := wbfkafka.NewProducer(cfg.Brokers, cfg.Topic)

	return &Producer{
		Client:   producer,
		cfg:      cfg,
		strategy: s,
	}
}

// Message serializes the event. The tab is used as the message key so events
// for the same tab stay ordered.
func Message(e model.BuildEvent) (kafka.Message, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal event: %w", err)
	}

	return kafka.Message{Key: []byte(e.Tab), Value: data}, nil
}

// Publish sends the event to Kafka using the retry strategy.
func (p *Producer) Publish(ctx context.Context, e model.BuildEvent) error {
	msg, err := Message(e)
	if err != nil {
		return err
	}

	if err = p.Client.SendWithRetry(ctx, p.strategy, msg.Key, msg.Value); err != nil {
		return fmt.Errorf("failed to send event: %w", err)
	}

	return nil
}

// Close flushes and closes the underlying writer.
func (p *Producer) Close() error {
	return p.Client.Close()
}
