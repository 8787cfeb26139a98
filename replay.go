package pipeline

import (
	"context"
	"encoding/json"
	"time"
)

// replayFunc matches HandlerChain.Replay's signature, injected so
// replayListener can be tested without a full HandlerChain.
type replayFunc func(ctx context.Context, msg *Message) (*ExecutionSuccess, *ExecutionError)

// replayListener polls a Store at a fixed interval, re-drives each envelope
// through replayFunc, retries on failure, and dead-letters exhausted
// messages (spec.md §4.6). Grounded on the teacher's signal-driven
// generator (generate.go) for the poll loop shape and on message/engine.go
// for the started/stop lifecycle.
type replayListener struct {
	cfg    ReplayConfig
	store  Store
	replay replayFunc
	logger Logger

	done chan struct{}
}

func newReplayListener(cfg ReplayConfig, store Store, replay replayFunc, logger Logger) *replayListener {
	if cfg.PollingInterval <= 0 {
		cfg.PollingInterval = time.Second
	}
	return &replayListener{cfg: cfg, store: store, replay: replay, logger: logger, done: make(chan struct{})}
}

// start launches the polling loop as an independent long-lived goroutine,
// bound to ctx (spec.md §5, §9 "Replay listener lifecycle").
func (l *replayListener) start(ctx context.Context) error {
	go l.loop(ctx)
	return nil
}

func (l *replayListener) loop(ctx context.Context) {
	defer close(l.done)
	ticker := time.NewTicker(l.cfg.PollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.pollOnce(ctx)
		}
	}
}

// pollOnce retrieves at most one envelope and drives it to completion
// (acknowledge, retry, or dead-letter) before returning — the replay loop is
// single-flight per polled envelope (spec.md §4.6).
func (l *replayListener) pollOnce(ctx context.Context) {
	env, ok, err := l.store.Retrieve(ctx)
	if err != nil {
		l.logger.Error("replay listener: failed to retrieve envelope", "error", newStoreError("retrieve", err))
		return
	}
	if !ok {
		return
	}

	msg, err := parseMessage(env.Payload)
	if err != nil {
		// spec.md §9 open question: a payload that fails to parse is
		// dead-lettered rather than silently acknowledged (see
		// SPEC_FULL.md decision 1).
		l.logger.Error("replay listener: failed to parse envelope payload, dead-lettering", "envelopeId", env.ID, "error", err)
		l.deadLetterAndAck(ctx, env, nil, err)
		return
	}

	l.drive(ctx, env, msg)
}

// drive invokes replay, retrying up to MaxRetries additional times on
// failure before dead-lettering (spec.md §4.6 steps 3-5).
func (l *replayListener) drive(ctx context.Context, env Envelope, msg *Message) {
	attempts := 1 + l.cfg.MaxRetries
	current := msg

	for attempt := 1; attempt <= attempts; attempt++ {
		success, execErr := l.replay(ctx, current)
		if execErr == nil {
			if err := l.store.Acknowledge(ctx, env.ID, true); err != nil {
				l.logger.Error("replay listener: failed to acknowledge envelope", "envelopeId", env.ID, "error", newStoreError("acknowledge", err))
			}
			_ = success
			return
		}

		// the updated Message carries accumulated destinationsToSkip
		// forward into the next attempt (spec.md §4.6 step 4).
		current = execErr.Message

		if attempt == attempts {
			l.deadLetterAndAck(ctx, env, current, execErr)
			return
		}

		if l.cfg.RetryInterval > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(l.cfg.RetryInterval):
			}
		}
	}
}

// deadLetterAndAck writes msg (or, if nil, the raw unparsed payload) to the
// dead-letter store and acknowledges the source envelope. A dead-letter
// write failure is logged and surfaced by acknowledging failure instead, so
// the envelope is released for redelivery rather than silently dropped
// (spec.md §4.6 step 5, §7.6 — an implementation-defined choice).
func (l *replayListener) deadLetterAndAck(ctx context.Context, env Envelope, msg *Message, cause error) {
	payload := env.Payload
	if msg != nil {
		if data, err := json.Marshal(msg); err == nil {
			payload = data
		}
	}

	ackSuccess := true
	if l.cfg.DeadLetterStore != nil {
		if err := l.cfg.DeadLetterStore.StoreEnvelope(ctx, payload); err != nil {
			l.logger.Error("replay listener: failed to write dead letter", "envelopeId", env.ID, "error", newStoreError("store", err))
			ackSuccess = false
		}
	}

	if err := l.store.Acknowledge(ctx, env.ID, ackSuccess); err != nil {
		l.logger.Error("replay listener: failed to acknowledge envelope", "envelopeId", env.ID, "error", newStoreError("acknowledge", err))
	}

	if cause != nil && ackSuccess {
		l.logger.Warn("replay listener: message dead-lettered", "envelopeId", env.ID, "error", cause)
	}
}

func parseMessage(payload []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
