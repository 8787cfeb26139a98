// Package amqpdest adapts a RabbitMQ channel into a pipeline.Destination,
// publishing a message's content to an exchange/routing key as JSON.
// Grounded on the teacher's rabbitmq adapter Publisher
// (examples/adapters/rabbitmq/rabbitmq.go), narrowed to the single-message
// Publish call a Destination needs.
package amqpdest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	pipeline "github.com/xlibb/module-pipeline"
)

// Config configures the RabbitMQ destination.
type Config struct {
	// URL is the AMQP connection URL.
	URL string
	// Exchange is the exchange content is published to.
	Exchange string
	// RoutingKey routes published content to bound queues.
	RoutingKey string
	// DeliveryMode controls message persistence; defaults to persistent.
	DeliveryMode uint8
}

func (c Config) applyDefaults() Config {
	if c.DeliveryMode == 0 {
		c.DeliveryMode = amqp.Persistent
	}
	return c
}

// New connects to RabbitMQ and builds a pipeline.Destination named id that
// publishes the message's content, JSON-encoded, to the configured exchange
// and routing key. The Destination publishes on a channel of the returned
// connection; the caller closes the connection, which also closes the
// channel, when the chain is torn down.
func New(id string, cfg Config, retry *pipeline.RetryConfig) (pipeline.Destination, *amqp.Connection, error) {
	cfg = cfg.applyDefaults()

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return pipeline.Destination{}, nil, fmt.Errorf("amqpdest: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return pipeline.Destination{}, nil, fmt.Errorf("amqpdest: open channel: %w", err)
	}

	call := func(ctx context.Context, msg *pipeline.MessageContext) (any, error) {
		payload, err := json.Marshal(msg.GetContent())
		if err != nil {
			return nil, fmt.Errorf("amqpdest: marshal content: %w", err)
		}
		publishing := amqp.Publishing{
			MessageId:    msg.GetID(),
			DeliveryMode: cfg.DeliveryMode,
			Timestamp:    time.Now(),
			ContentType:  "application/json",
			Body:         payload,
		}
		if err := ch.PublishWithContext(ctx, cfg.Exchange, cfg.RoutingKey, false, false, publishing); err != nil {
			return nil, fmt.Errorf("amqpdest: publish to %s/%s: %w", cfg.Exchange, cfg.RoutingKey, err)
		}
		return map[string]any{"exchange": cfg.Exchange, "routingKey": cfg.RoutingKey}, nil
	}

	return pipeline.Destination{ID: id, Call: call, Retry: retry}, conn, nil
}
