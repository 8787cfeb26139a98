package pipeline

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/xlibb/module-pipeline/throttle"
)

// DestinationFunc delivers a message to one external destination, returning
// an arbitrary result value on success (spec.md §3, §4.2).
type DestinationFunc func(ctx context.Context, msg *MessageContext) (any, error)

// RetryConfig configures the retry wrapper applied to a Destination at
// registration time (spec.md §4.5).
type RetryConfig struct {
	// MaxRetries is the number of additional attempts after the first.
	// Total attempts = 1 + MaxRetries.
	MaxRetries int
	// RetryInterval is slept between attempts, never after the last one.
	RetryInterval time.Duration
}

// Destination is a terminal unit that delivers the message externally. A
// non-zero Retry wraps the callable with bounded retries and fixed-interval
// backoff (spec.md §3, §4.5). RateLimit, when set, throttles how often the
// destination is invoked regardless of how many messages are in flight —
// useful when the downstream system (a broker, an HTTP API) enforces its
// own rate caps. Grounded on the teacher's throttle package.
type Destination struct {
	ID        string
	Call      DestinationFunc
	Retry     *RetryConfig
	RateLimit throttle.Allower
}

// wrap returns the effective callable for this destination: Call composed
// with rate limiting (if configured) and retry (if configured), in that
// order so a rate-limit wait doesn't count against the retry budget. This is
// computed once at HandlerChain construction, not per call, per spec.md §9
// ("Implement as a higher-order wrap ... performed at chain construction").
func (d Destination) wrap() DestinationFunc {
	call := d.Call
	if d.RateLimit != nil {
		call = withRateLimit(d.RateLimit, call)
	}
	if d.Retry != nil {
		call = withRetry(d.ID, call, *d.Retry)
	}
	return call
}

// withRateLimit blocks until RateLimit admits one token before calling call.
func withRateLimit(limiter throttle.Allower, call DestinationFunc) DestinationFunc {
	return func(ctx context.Context, msg *MessageContext) (any, error) {
		if err := limiter.Allow(ctx, 1); err != nil {
			return nil, err
		}
		return call(ctx, msg)
	}
}

// withRetry decorates call with bounded retry + fixed-interval backoff
// (spec.md §4.5). It sleeps RetryInterval between attempts but not after the
// last, and on exhaustion returns a RetryExhaustedError whose cause is the
// last underlying error.
func withRetry(id string, call DestinationFunc, cfg RetryConfig) DestinationFunc {
	return func(ctx context.Context, msg *MessageContext) (any, error) {
		attempts := 1 + cfg.MaxRetries
		var lastErr error
		for attempt := 1; attempt <= attempts; attempt++ {
			out, err := call(ctx, msg)
			if err == nil {
				return out, nil
			}
			lastErr = err
			if attempt == attempts {
				break
			}
			if cfg.RetryInterval > 0 {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(cfg.RetryInterval):
				}
			}
		}
		return nil, newRetryExhaustedError(id, attempts, lastErr)
	}
}

// destinationStageOutcome is the result of fanning a live context out to
// every effective destination (spec.md §4.4).
type destinationStageOutcome struct {
	successes map[string]any
	failures  map[string]error
}

// runDestinations builds the effective destination list (all configured
// destinations minus those already in skipList), spawns one goroutine per
// effective destination with its own deep-cloned context, and awaits all of
// them before returning (spec.md §4.4, §5). When sem is non-nil, it bounds
// how many destination calls run at once across the whole chain, on top of
// any per-destination RateLimit.
func runDestinations(ctx context.Context, destinations []Destination, live *MessageContext, skipList []string, sem *throttle.Semaphore) destinationStageOutcome {
	skip := make(map[string]struct{}, len(skipList))
	for _, id := range skipList {
		skip[id] = struct{}{}
	}

	var effective []Destination
	for _, d := range destinations {
		if _, ok := skip[d.ID]; !ok {
			effective = append(effective, d)
		}
	}

	successes := make(map[string]any, len(effective))
	failures := make(map[string]error, len(effective))
	var mu sync.Mutex
	var wg sync.WaitGroup
	wg.Add(len(effective))

	for _, d := range effective {
		d := d
		cloned := live.clone()
		call := d.wrap()
		go func() {
			defer wg.Done()
			if sem != nil {
				if err := sem.Acquire(ctx); err != nil {
					mu.Lock()
					failures[d.ID] = err
					mu.Unlock()
					return
				}
				defer sem.Release()
			}
			out, err := invokeDestination(ctx, call, cloned)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures[d.ID] = err
			} else {
				successes[d.ID] = out
			}
		}()
	}
	wg.Wait()

	return destinationStageOutcome{successes: successes, failures: failures}
}

// invokeDestination runs the (possibly retry-wrapped) destination callable
// with panic protection, per spec.md §4.2.
func invokeDestination(ctx context.Context, call DestinationFunc, msg *MessageContext) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newPanicError(r, string(debug.Stack()))
		}
	}()
	return call(ctx, msg)
}

// reportDestinationFailure attaches the destination stage's outcome onto
// snapshot, implementing spec.md §4.4's post-processing. It always populates
// destinationErrors, for one failure as for several (see SPEC_FULL.md). The
// errorMsg is DestinationError's text: the single-destination form with the
// cause for one failure, the aggregated id list for several. The top-level
// errorStackTrace and errorDetails are not set.
func reportDestinationFailure(snapshot *MessageContext, outcome destinationStageOutcome) *DestinationError {
	snapshot.mu.Lock()
	defer snapshot.mu.Unlock()

	for id := range outcome.successes {
		snapshot.msg.DestinationsToSkip = append(snapshot.msg.DestinationsToSkip, id)
	}
	snapshot.msg.DestinationResults = mergeResults(snapshot.msg.DestinationResults, outcome.successes)

	if len(outcome.failures) == 0 {
		return nil
	}

	ids := make([]string, 0, len(outcome.failures))
	causes := make(map[string]error, len(outcome.failures))
	destErrors := make(map[string]*ErrorInfo, len(outcome.failures))
	for id, err := range outcome.failures {
		ids = append(ids, id)
		causes[id] = err
		destErrors[id] = errorInfoFromError(err)
	}

	derr := &DestinationError{IDs: ids, Causes: causes}
	snapshot.msg.DestinationErrors = mergeDestinationErrors(snapshot.msg.DestinationErrors, destErrors)
	snapshot.msg.ErrorMsg = derr.Error()
	return derr
}

func mergeResults(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func mergeDestinationErrors(dst, src map[string]*ErrorInfo) map[string]*ErrorInfo {
	if dst == nil {
		dst = map[string]*ErrorInfo{}
	}
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func errorInfoFromError(err error) *ErrorInfo {
	info := &ErrorInfo{Message: err.Error()}
	if pe, ok := err.(*panicError); ok {
		info.StackTrace = pe.stack
	}
	if re, ok := err.(*RetryExhaustedError); ok && re.cause != nil {
		info.Cause = &ErrorInfo{Message: re.cause.Error()}
	}
	return info
}
