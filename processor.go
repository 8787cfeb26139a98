package pipeline

import (
	"context"
	"runtime/debug"
)

// FilterFunc gates the pipeline: false drops the message (a success, not an
// error), true lets it continue (spec.md §4.2).
type FilterFunc func(ctx context.Context, msg *MessageContext) (bool, error)

// TransformerFunc replaces the context's current content with its return
// value (spec.md §4.2).
type TransformerFunc func(ctx context.Context, msg *MessageContext) (any, error)

// GenericFunc runs for side effects only; it may mutate properties via msg
// but never replaces content (spec.md §4.2).
type GenericFunc func(ctx context.Context, msg *MessageContext) error

// Processor is a single stage in a HandlerChain's sequential pipeline. Build
// one with NewFilter, NewTransformer, or NewGeneric; the id is supplied at
// registration, standing in for the source's annotation-driven handler ids
// (spec.md §4.2, §9).
type Processor struct {
	id   string
	kind processorKind
	run  func(context.Context, *MessageContext) (proceed bool, err error)
}

type processorKind int

const (
	processorKindFilter processorKind = iota
	processorKindTransformer
	processorKindGeneric
)

// NewFilter builds a Processor that continues the pipeline when fn returns
// true and drops the message (success, empty destinationResults) when it
// returns false.
func NewFilter(id string, fn FilterFunc) Processor {
	return Processor{
		id:   id,
		kind: processorKindFilter,
		run: func(ctx context.Context, msg *MessageContext) (bool, error) {
			ok, err := fn(ctx, msg)
			if err != nil {
				return false, err
			}
			return ok, nil
		},
	}
}

// NewTransformer builds a Processor that replaces the context's content with
// fn's return value.
func NewTransformer(id string, fn TransformerFunc) Processor {
	return Processor{
		id:   id,
		kind: processorKindTransformer,
		run: func(ctx context.Context, msg *MessageContext) (bool, error) {
			out, err := fn(ctx, msg)
			if err != nil {
				return false, err
			}
			msg.setContent(out)
			return true, nil
		},
	}
}

// NewGeneric builds a Processor that runs fn for its side effects only.
func NewGeneric(id string, fn GenericFunc) Processor {
	return Processor{
		id:   id,
		kind: processorKindGeneric,
		run: func(ctx context.Context, msg *MessageContext) (bool, error) {
			if err := fn(ctx, msg); err != nil {
				return false, err
			}
			return true, nil
		},
	}
}

// processorStageOutcome is the result of running the ordered processor
// chain against a live context.
type processorStageOutcome struct {
	dropped bool
	err     *ProcessorError
}

// runProcessors evaluates processors in declaration order against the live
// context (spec.md §4.3). Errors are attached to snapshot, not live, as
// required by §4.3 ("the stage attaches the error ... onto the snapshot
// context — not the live one").
func runProcessors(ctx context.Context, processors []Processor, live, snapshot *MessageContext) processorStageOutcome {
	for _, p := range processors {
		proceed, err := invokeProcessor(ctx, p, live)
		if err != nil {
			procErr := newProcessorError(p.id, err)
			attachProcessorError(snapshot, procErr)
			return processorStageOutcome{err: procErr}
		}
		if !proceed {
			return processorStageOutcome{dropped: true}
		}
	}
	return processorStageOutcome{}
}

// invokeProcessor runs a single processor with panic protection, per
// spec.md §4.2: "a panic/abort inside a handler must be caught ... never
// permitted to unwind past the pipeline."
func invokeProcessor(ctx context.Context, p Processor, live *MessageContext) (proceed bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newPanicError(r, string(debug.Stack()))
		}
	}()
	return p.run(ctx, live)
}

func attachProcessorError(snapshot *MessageContext, err *ProcessorError) {
	snapshot.mu.Lock()
	defer snapshot.mu.Unlock()
	snapshot.msg.ErrorMsg = err.Error()
	if pe, ok := err.cause.(*panicError); ok {
		snapshot.msg.ErrorStackTrace = pe.stack
	}
	snapshot.msg.ErrorDetails = map[string]any{
		"processorId": err.ID,
	}
}
