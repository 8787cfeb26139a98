package pipeline

import (
	"context"
	"errors"
	"testing"
)

func TestRunProcessors_FilterDrops(t *testing.T) {
	live := NewMessageContext("m1", "chain", "content")
	snapshot := live.clone()

	filter := NewFilter("gate", func(ctx context.Context, msg *MessageContext) (bool, error) {
		return false, nil
	})

	outcome := runProcessors(context.Background(), []Processor{filter}, live, snapshot)
	if !outcome.dropped {
		t.Fatal("expected the message to be dropped")
	}
	if outcome.err != nil {
		t.Fatalf("unexpected error: %v", outcome.err)
	}
}

func TestRunProcessors_TransformerReplacesContent(t *testing.T) {
	live := NewMessageContext("m1", "chain", "before")
	snapshot := live.clone()

	transformer := NewTransformer("upper", func(ctx context.Context, msg *MessageContext) (any, error) {
		return "after", nil
	})

	outcome := runProcessors(context.Background(), []Processor{transformer}, live, snapshot)
	if outcome.dropped || outcome.err != nil {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if got := live.GetContent(); got != "after" {
		t.Errorf("content = %v, want after", got)
	}
}

func TestRunProcessors_ErrorAttachesToSnapshotNotLive(t *testing.T) {
	live := NewMessageContext("m1", "chain", "content")
	snapshot := live.clone()

	boom := errors.New("boom")
	failing := NewGeneric("side-effect", func(ctx context.Context, msg *MessageContext) error {
		return boom
	})

	outcome := runProcessors(context.Background(), []Processor{failing}, live, snapshot)
	if outcome.err == nil {
		t.Fatal("expected a processor error")
	}
	if outcome.err.ID != "side-effect" {
		t.Errorf("ID = %q, want side-effect", outcome.err.ID)
	}

	liveMsg := live.ToMessage()
	if liveMsg.ErrorMsg != "" {
		t.Errorf("live context was mutated with an error: %q", liveMsg.ErrorMsg)
	}

	snapMsg := snapshot.ToMessage()
	if snapMsg.ErrorMsg == "" {
		t.Fatal("expected the snapshot to carry the error")
	}
}

func TestRunProcessors_PanicIsRecovered(t *testing.T) {
	live := NewMessageContext("m1", "chain", "content")
	snapshot := live.clone()

	panicking := NewGeneric("oops", func(ctx context.Context, msg *MessageContext) error {
		panic("handler exploded")
	})

	outcome := runProcessors(context.Background(), []Processor{panicking}, live, snapshot)
	if outcome.err == nil {
		t.Fatal("expected the panic to surface as a ProcessorError")
	}
	if outcome.err.cause.Error() != "handler aborted" {
		t.Errorf("cause = %q, want handler aborted", outcome.err.cause.Error())
	}
}

func TestRunProcessors_StopsAtFirstFailure(t *testing.T) {
	live := NewMessageContext("m1", "chain", "content")
	snapshot := live.clone()

	var secondRan bool
	failing := NewGeneric("first", func(ctx context.Context, msg *MessageContext) error {
		return errors.New("stop here")
	})
	second := NewGeneric("second", func(ctx context.Context, msg *MessageContext) error {
		secondRan = true
		return nil
	})

	runProcessors(context.Background(), []Processor{failing, second}, live, snapshot)
	if secondRan {
		t.Fatal("expected the chain to stop after the first failure")
	}
}
