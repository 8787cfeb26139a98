// Package redisstore provides a Redis-backed pipeline.Store, durable across
// process restarts. It follows the standard Redis reliable-queue pattern
// (LPUSH to enqueue, RPopLPush to move an item atomically onto a
// processing list, LRem to finish it) so a crash between Retrieve and
// Acknowledge leaves the envelope on the processing list for recovery
// rather than losing it. go-redis/v9 is part of the pipeline's dependency
// surface (the teacher's message submodule declares it); no teacher file
// exercises it directly, so the client usage below follows go-redis's own
// documented reliable-queue idiom rather than a copied file.
package redisstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	pipeline "github.com/xlibb/module-pipeline"
)

// Store is a Redis-backed pipeline.Store.
type Store struct {
	client     redis.Cmdable
	queueKey   string
	processing string
}

// New creates a Store using queueKey as the pending list. Its processing
// list is derived as queueKey + ":processing".
func New(client redis.Cmdable, queueKey string) *Store {
	return &Store{
		client:     client,
		queueKey:   queueKey,
		processing: queueKey + ":processing",
	}
}

// StoreEnvelope pushes payload onto the pending list.
func (s *Store) StoreEnvelope(ctx context.Context, payload []byte) error {
	if err := s.client.LPush(ctx, s.queueKey, payload).Err(); err != nil {
		return fmt.Errorf("redisstore: lpush: %w", err)
	}
	return nil
}

// Retrieve atomically moves the oldest pending payload onto the processing
// list and returns it. The payload itself (its exact bytes, base64-free)
// doubles as the envelope id so Acknowledge can locate and remove it from
// the processing list without a side index.
func (s *Store) Retrieve(ctx context.Context) (pipeline.Envelope, bool, error) {
	payload, err := s.client.RPopLPush(ctx, s.queueKey, s.processing).Bytes()
	if errors.Is(err, redis.Nil) {
		return pipeline.Envelope{}, false, nil
	}
	if err != nil {
		return pipeline.Envelope{}, false, fmt.Errorf("redisstore: rpoplpush: %w", err)
	}
	return pipeline.Envelope{ID: string(payload), Payload: payload}, true, nil
}

// Acknowledge removes the envelope from the processing list on success. On
// failure it is left on the processing list; Acknowledge does not requeue
// it, and Retrieve only pops the pending list, so this Store never
// redelivers it on its own.
func (s *Store) Acknowledge(ctx context.Context, envelopeID string, success bool) error {
	if !success {
		return nil
	}
	if err := s.client.LRem(ctx, s.processing, 1, envelopeID).Err(); err != nil {
		return fmt.Errorf("redisstore: lrem: %w", err)
	}
	return nil
}
