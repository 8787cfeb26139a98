// Package kafkadest adapts a Kafka writer into a pipeline.Destination,
// publishing a message's content to a topic as JSON. Grounded on the
// teacher's kafka adapter Publisher (examples/adapters/kafka/kafka.go),
// narrowed from its batching Publisher/PublishBatches shape down to the
// single-message call a Destination needs.
package kafkadest

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	pipeline "github.com/xlibb/module-pipeline"
)

// Config configures the Kafka destination.
type Config struct {
	// Brokers is the list of Kafka broker addresses.
	Brokers []string
	// Topic is the topic content is published to.
	Topic string
	// RequiredAcks controls producer acknowledgment. Defaults to
	// kafka.RequireAll for durability, matching the teacher's Publisher.
	RequiredAcks kafka.RequiredAcks
}

func (c Config) applyDefaults() Config {
	if c.RequiredAcks == 0 {
		c.RequiredAcks = kafka.RequireAll
	}
	return c
}

// New builds a pipeline.Destination named id that writes the message's
// content, JSON-encoded, to the configured Kafka topic. The Destination
// writes through the returned writer; the caller closes it with
// writer.Close when the chain is torn down.
func New(id string, cfg Config, retry *pipeline.RetryConfig) (pipeline.Destination, *kafka.Writer) {
	cfg = cfg.applyDefaults()
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		RequiredAcks: cfg.RequiredAcks,
	}

	call := func(ctx context.Context, msg *pipeline.MessageContext) (any, error) {
		payload, err := json.Marshal(msg.GetContent())
		if err != nil {
			return nil, fmt.Errorf("kafkadest: marshal content: %w", err)
		}
		if err := writer.WriteMessages(ctx, kafka.Message{Key: []byte(msg.GetID()), Value: payload}); err != nil {
			return nil, fmt.Errorf("kafkadest: write to %s: %w", cfg.Topic, err)
		}
		return map[string]any{"topic": cfg.Topic}, nil
	}

	return pipeline.Destination{ID: id, Call: call, Retry: retry}, writer
}
