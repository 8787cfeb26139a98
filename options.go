package pipeline

import (
	"time"

	"github.com/xlibb/module-pipeline/throttle"
)

// Option configures a HandlerChain at construction time, following the
// teacher's functional-options shape (option.go/options.go).
type Option func(*chainConfig)

type chainConfig struct {
	logger               Logger
	idGen                func() string
	replay               *ReplayConfig
	destinationSemaphore *throttle.Semaphore
}

func defaultChainConfig() chainConfig {
	return chainConfig{
		logger: newDefaultLogger(),
		idGen:  newID,
	}
}

// WithLogger overrides the Logger used for store-write and dead-letter
// logging (spec.md §7). Defaults to a slog.Default()-backed Logger.
func WithLogger(logger Logger) Option {
	return func(c *chainConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithIDGenerator overrides how HandlerChain.Execute allocates new message
// ids. Defaults to uuid.NewString, the identifier-generation collaborator
// spec.md §1 treats as external to the core (see SPEC_FULL.md §3).
func WithIDGenerator(gen func() string) Option {
	return func(c *chainConfig) {
		if gen != nil {
			c.idGen = gen
		}
	}
}

// WithReplay attaches a ReplayListener to the chain, started at
// construction time and bound to the chain's lifetime (spec.md §4.1, §4.6).
func WithReplay(cfg ReplayConfig) Option {
	return func(c *chainConfig) {
		c.replay = &cfg
	}
}

// WithMaxConcurrentDestinations bounds how many destination calls a chain
// runs at once, across all in-flight messages. Unset means unbounded (one
// goroutine per effective destination per message, as spec.md §4.4
// describes by default).
func WithMaxConcurrentDestinations(n int) Option {
	return func(c *chainConfig) {
		if n > 0 {
			c.destinationSemaphore = throttle.NewSemaphore(int64(n))
		}
	}
}

// ReplayConfig configures the replay listener (spec.md §3).
type ReplayConfig struct {
	// PollingInterval is the period between polls of ReplayStore (or the
	// chain's own failure store when ReplayStore is nil).
	PollingInterval time.Duration
	// MaxRetries bounds the additional replay attempts after the first,
	// per polled envelope.
	MaxRetries int
	// RetryInterval is slept between replay attempts.
	RetryInterval time.Duration
	// DeadLetterStore receives the latest Message when the retry budget is
	// exhausted.
	DeadLetterStore Store
	// ReplayStore is polled instead of the chain's failure store, when set.
	ReplayStore Store
}
