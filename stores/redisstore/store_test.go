package redisstore

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// unreachableClient points at a loopback port nothing listens on, so every
// command fails fast with a connection error. This exercises the
// fmt.Errorf wrapping paths without requiring a running Redis server.
func unreachableClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
	})
}

func TestStore_StoreEnvelopeWrapsConnectionError(t *testing.T) {
	s := New(unreachableClient(), "queue")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := s.StoreEnvelope(ctx, []byte("payload"))
	if err == nil {
		t.Fatal("expected an error against an unreachable client")
	}
	if !strings.HasPrefix(err.Error(), "redisstore: lpush:") {
		t.Errorf("error = %q, want redisstore: lpush: prefix", err.Error())
	}
}

func TestStore_RetrieveWrapsConnectionError(t *testing.T) {
	s := New(unreachableClient(), "queue")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, _, err := s.Retrieve(ctx)
	if err == nil {
		t.Fatal("expected an error against an unreachable client")
	}
	if !strings.HasPrefix(err.Error(), "redisstore: rpoplpush:") {
		t.Errorf("error = %q, want redisstore: rpoplpush: prefix", err.Error())
	}
}

func TestStore_AcknowledgeFailureIsNoOp(t *testing.T) {
	s := New(unreachableClient(), "queue")
	if err := s.Acknowledge(context.Background(), "env-1", false); err != nil {
		t.Errorf("Acknowledge(success=false) should be a no-op, got error: %v", err)
	}
}

func TestStore_AcknowledgeSuccessWrapsConnectionError(t *testing.T) {
	s := New(unreachableClient(), "queue")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	err := s.Acknowledge(ctx, "env-1", true)
	if err == nil {
		t.Fatal("expected an error against an unreachable client")
	}
	if !strings.HasPrefix(err.Error(), "redisstore: lrem:") {
		t.Errorf("error = %q, want redisstore: lrem: prefix", err.Error())
	}
}

func TestStore_DerivesProcessingKey(t *testing.T) {
	s := New(unreachableClient(), "orders")
	if s.processing != "orders:processing" {
		t.Errorf("processing = %q, want orders:processing", s.processing)
	}
}
