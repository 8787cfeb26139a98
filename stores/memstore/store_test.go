package memstore

import (
	"context"
	"testing"
)

func TestStore_StoreAndRetrieveFIFO(t *testing.T) {
	s := New()
	ctx := context.Background()

	s.StoreEnvelope(ctx, []byte("first"))
	s.StoreEnvelope(ctx, []byte("second"))

	env, ok, err := s.Retrieve(ctx)
	if err != nil || !ok {
		t.Fatalf("Retrieve() ok=%v err=%v", ok, err)
	}
	if string(env.Payload) != "first" {
		t.Errorf("Payload = %q, want first", env.Payload)
	}
}

func TestStore_RetrieveEmptyReturnsNotOK(t *testing.T) {
	s := New()
	_, ok, err := s.Retrieve(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false on an empty store")
	}
}

func TestStore_AcknowledgeSuccessRemovesEnvelope(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.StoreEnvelope(ctx, []byte("payload"))

	env, _, _ := s.Retrieve(ctx)
	if err := s.Acknowledge(ctx, env.ID, true); err != nil {
		t.Fatalf("Acknowledge() error = %v", err)
	}

	_, ok, _ := s.Retrieve(ctx)
	if ok {
		t.Fatal("expected no envelopes left after successful acknowledge")
	}
}

func TestStore_AcknowledgeFailureRequeues(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.StoreEnvelope(ctx, []byte("payload"))

	env, _, _ := s.Retrieve(ctx)
	if err := s.Acknowledge(ctx, env.ID, false); err != nil {
		t.Fatalf("Acknowledge() error = %v", err)
	}

	redelivered, ok, _ := s.Retrieve(ctx)
	if !ok {
		t.Fatal("expected the envelope to be redelivered after a failed acknowledge")
	}
	if string(redelivered.Payload) != "payload" {
		t.Errorf("Payload = %q, want payload", redelivered.Payload)
	}
}

func TestStore_ClosedRejectsOperations(t *testing.T) {
	s := New()
	s.Close()

	if err := s.StoreEnvelope(context.Background(), []byte("x")); err != ErrClosed {
		t.Errorf("StoreEnvelope() error = %v, want ErrClosed", err)
	}
	if _, _, err := s.Retrieve(context.Background()); err != ErrClosed {
		t.Errorf("Retrieve() error = %v, want ErrClosed", err)
	}
}
