// Package natsdest adapts a NATS connection into a pipeline.Destination,
// publishing a message's content to a subject as JSON. Grounded on the
// teacher's nats adapter Publisher (examples/adapters/nats/nats.go),
// narrowed to the single-message Publish call a Destination needs.
package natsdest

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	pipeline "github.com/xlibb/module-pipeline"
)

// Config configures the NATS destination.
type Config struct {
	// URL is the NATS server URL (e.g. "nats://localhost:4222").
	URL string
	// Subject is the subject content is published to.
	Subject string
}

// New connects to NATS and builds a pipeline.Destination named id that
// publishes the message's content, JSON-encoded, to the configured subject.
// The Destination publishes through the returned connection; the caller
// closes it with conn.Close when the chain is torn down.
func New(id string, cfg Config, retry *pipeline.RetryConfig) (pipeline.Destination, *nats.Conn, error) {
	conn, err := nats.Connect(cfg.URL)
	if err != nil {
		return pipeline.Destination{}, nil, fmt.Errorf("natsdest: connect: %w", err)
	}

	call := func(ctx context.Context, msg *pipeline.MessageContext) (any, error) {
		payload, err := json.Marshal(msg.GetContent())
		if err != nil {
			return nil, fmt.Errorf("natsdest: marshal content: %w", err)
		}
		if err := conn.Publish(cfg.Subject, payload); err != nil {
			return nil, fmt.Errorf("natsdest: publish to %s: %w", cfg.Subject, err)
		}
		return map[string]any{"subject": cfg.Subject}, nil
	}

	return pipeline.Destination{ID: id, Call: call, Retry: retry}, conn, nil
}
