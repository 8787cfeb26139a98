package pipeline

import (
	"context"
	"encoding/json"
)

// ExecutionSuccess is returned by Execute/Replay on success (spec.md §3).
type ExecutionSuccess struct {
	Message            *Message
	DestinationResults map[string]any
}

// ExecutionError is returned by Execute/Replay on failure (spec.md §3). It
// always carries the Message snapshot that was (or, for Replay, would be)
// persisted to the failure store.
type ExecutionError struct {
	Message *Message
	err     error
}

func (e *ExecutionError) Error() string {
	return e.err.Error()
}

func (e *ExecutionError) Unwrap() error {
	return e.err
}

// HandlerChain orchestrates the processor stage and destination stage for a
// named, immutable pipeline, persisting failures to a Store and optionally
// replaying them (spec.md §4.1).
type HandlerChain struct {
	name         string
	processors   []Processor
	destinations []Destination
	failureStore Store

	cfg chainConfig

	replayListener *replayListener
	stopReplay     context.CancelFunc
}

// New constructs a HandlerChain. name must be non-empty; processors and
// destinations must each be non-empty and every one of them must carry a
// non-empty id, or a *ConfigurationError is returned (spec.md §4.1). If a ReplayConfig is supplied via WithReplay, a
// ReplayListener is started immediately; a failure to start it surfaces as
// a *ConfigurationError.
func New(name string, processors []Processor, destinations []Destination, failureStore Store, opts ...Option) (*HandlerChain, error) {
	if name == "" {
		return nil, newConfigurationError("handler chain name must not be empty")
	}
	if len(processors) == 0 {
		return nil, newConfigurationError("at least one processor is required")
	}
	if len(destinations) == 0 {
		return nil, newConfigurationError("at least one destination is required")
	}
	if failureStore == nil {
		return nil, newConfigurationError("a failure store is required")
	}
	for _, p := range processors {
		if p.id == "" {
			return nil, newConfigurationError("every processor requires a non-empty id")
		}
	}
	for _, d := range destinations {
		if d.ID == "" {
			return nil, newConfigurationError("every destination requires a non-empty id")
		}
	}

	cfg := defaultChainConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	c := &HandlerChain{
		name:         name,
		processors:   append([]Processor(nil), processors...),
		destinations: append([]Destination(nil), destinations...),
		failureStore: failureStore,
		cfg:          cfg,
	}

	// Compose each destination's rate-limit and retry wrappers once, here.
	// Clearing RateLimit and Retry afterwards keeps runDestinations' d.wrap()
	// from wrapping the callable a second time.
	for i := range c.destinations {
		d := &c.destinations[i]
		d.Call = d.wrap()
		d.RateLimit, d.Retry = nil, nil
	}

	if cfg.replay != nil {
		store := cfg.replay.ReplayStore
		if store == nil {
			store = failureStore
		}
		listener := newReplayListener(*cfg.replay, store, c.Replay, cfg.logger)
		ctx, cancel := context.WithCancel(context.Background())
		if err := listener.start(ctx); err != nil {
			cancel()
			return nil, newConfigurationError("failed to start replay listener: " + err.Error())
		}
		c.replayListener = listener
		c.stopReplay = cancel
	}

	return c, nil
}

// GetName returns the chain's name.
func (c *HandlerChain) GetName() string {
	return c.name
}

// GetFailureStore returns the chain's failure store.
func (c *HandlerChain) GetFailureStore() Store {
	return c.failureStore
}

// Close stops the replay listener, if one was started. It is safe to call
// on a chain constructed without WithReplay.
func (c *HandlerChain) Close() {
	if c.stopReplay != nil {
		c.stopReplay()
	}
}

// Execute runs content through the pipeline: processor stage, then
// destination stage, writing a failure snapshot to the failure store on any
// error (spec.md §4.1).
func (c *HandlerChain) Execute(ctx context.Context, content any) (*ExecutionSuccess, *ExecutionError) {
	live := NewMessageContext(c.cfg.idGen(), c.name, content)
	snapshot := live.clone()

	return c.run(ctx, live, snapshot, nil, true)
}

// Replay re-drives a persisted Message through the same pipeline, honoring
// its destinationsToSkip, without writing to the failure store on failure —
// the caller (normally a ReplayListener) owns that decision (spec.md §4.1).
func (c *HandlerChain) Replay(ctx context.Context, msg *Message) (*ExecutionSuccess, *ExecutionError) {
	working := deepCloneMessage(msg)
	cleanMessageForReplay(working)

	live := newMessageContextFromMessage(working)
	snapshot := live.clone()

	return c.run(ctx, live, snapshot, live.skipList(), false)
}

// run implements the shared pipeline traversal for Execute and Replay
// (spec.md §4.1 steps 3-4).
func (c *HandlerChain) run(ctx context.Context, live, snapshot *MessageContext, skipList []string, writeOnFailure bool) (*ExecutionSuccess, *ExecutionError) {
	outcome := runProcessors(ctx, c.processors, live, snapshot)
	if outcome.err != nil {
		snap := snapshot.ToMessage()
		if writeOnFailure {
			c.persistFailure(ctx, snap)
		}
		return nil, &ExecutionError{Message: snap, err: outcome.err}
	}
	if outcome.dropped {
		return &ExecutionSuccess{Message: live.ToMessage(), DestinationResults: map[string]any{}}, nil
	}

	destOutcome := runDestinations(ctx, c.destinations, live, skipList, c.cfg.destinationSemaphore)
	derr := reportDestinationFailure(snapshot, destOutcome)
	if derr != nil {
		snap := snapshot.ToMessage()
		if writeOnFailure {
			c.persistFailure(ctx, snap)
		}
		return nil, &ExecutionError{Message: snap, err: derr}
	}

	return &ExecutionSuccess{
		Message:            snapshot.ToMessage(),
		DestinationResults: destOutcome.successes,
	}, nil
}

// persistFailure writes snap to the failure store. Store write errors are
// logged and swallowed, per spec.md §4.1/§7.5: they never mask the original
// execution failure returned to the caller.
func (c *HandlerChain) persistFailure(ctx context.Context, snap *Message) {
	payload, err := json.Marshal(snap)
	if err != nil {
		c.cfg.logger.Error("failed to marshal failure snapshot", "chain", c.name, "messageId", snap.ID, "error", err)
		return
	}
	if err := c.failureStore.StoreEnvelope(ctx, payload); err != nil {
		c.cfg.logger.Error("failed to persist failure snapshot", "chain", c.name, "messageId", snap.ID, "error", newStoreError("store", err))
	}
}
