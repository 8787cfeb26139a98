// Package memstore provides an in-process pipeline.Store, useful for tests
// and single-process deployments where durability need not survive a
// restart. Grounded on the teacher's pubsub/memory broker: a mutex-guarded
// slice plus a closed flag, adapted here into a FIFO queue with in-flight
// tracking so Acknowledge can requeue on failure.
package memstore

import (
	"context"
	"errors"
	"strconv"
	"sync"

	pipeline "github.com/xlibb/module-pipeline"
)

// ErrClosed is returned by operations attempted on a closed Store.
var ErrClosed = errors.New("memstore: store is closed")

type entry struct {
	id      string
	payload []byte
}

// Store is an in-memory, FIFO pipeline.Store. It is safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	pending []entry
	inFlight map[string]entry
	nextID  int
	closed  bool
}

// New creates an empty Store.
func New() *Store {
	return &Store{inFlight: make(map[string]entry)}
}

// StoreEnvelope appends payload to the back of the queue.
func (s *Store) StoreEnvelope(ctx context.Context, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.nextID++
	id := strconv.Itoa(s.nextID)
	s.pending = append(s.pending, entry{id: id, payload: append([]byte(nil), payload...)})
	return nil
}

// Retrieve pops the oldest pending envelope, marking it in-flight until
// Acknowledge is called.
func (s *Store) Retrieve(ctx context.Context) (pipeline.Envelope, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return pipeline.Envelope{}, false, ErrClosed
	}
	if len(s.pending) == 0 {
		return pipeline.Envelope{}, false, nil
	}
	e := s.pending[0]
	s.pending = s.pending[1:]
	s.inFlight[e.id] = e
	return pipeline.Envelope{ID: e.id, Payload: e.payload}, true, nil
}

// Acknowledge completes an in-flight envelope. On success it is discarded;
// on failure it is requeued at the back for redelivery.
func (s *Store) Acknowledge(ctx context.Context, envelopeID string, success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.inFlight[envelopeID]
	if !ok {
		return nil
	}
	delete(s.inFlight, envelopeID)
	if !success {
		s.pending = append(s.pending, e)
	}
	return nil
}

// Close marks the store closed; further StoreEnvelope/Retrieve calls fail.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
