package dispatch_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lorekeep/spindle/dispatch"
	"github.com/lorekeep/spindle/eventlog"
	"github.com/lorekeep/spindle/id"
	"github.com/lorekeep/spindle/internal/entity"
	"github.com/lorekeep/spindle/store/memory"
)

// stubPusher records dead letter pushes.
type stubPusher struct {
	count atomic.Int32
}

func (s *stubPusher) PushFailed(_ context.Context, _ *dispatch.Job, _ *eventlog.Event, _ string) error {
	s.count.Add(1)
	return nil
}

func newRunner(store *memory.Store, dlq dispatch.DeadLetterPusher) *dispatch.Runner {
	cfg := dispatch.RunnerConfig{
		Group:         dispatch.GroupValidator,
		Concurrency:   2,
		PollInterval:  20 * time.Millisecond,
		BatchSize:     10,
		RetrySchedule: []time.Duration{10 * time.Millisecond, 20 * time.Millisecond},
	}
	return dispatch.NewRunner(store, dlq, cfg, nil)
}

// enqueueWork appends an event and a due validator job for it.
func enqueueWork(t *testing.T, store *memory.Store, typ string, maxAttempts int) *dispatch.Job {
	t.Helper()
	ctx := context.Background()

	evt := &eventlog.Event{
		ID:            id.NewEventID(),
		AggregateID:   "note-1",
		AggregateType: eventlog.AggregateEntity,
		Type:          typ,
		UserID:        "user-1",
		Data:          json.RawMessage(`{"title":"hello"}`),
		Source:        eventlog.SourceAPI,
		CorrelationID: id.NewCorrelationID(),
	}
	if err := store.AppendEvent(ctx, 0, evt); err != nil {
		t.Fatal(err)
	}

	j := &dispatch.Job{
		Entity:        entity.New(),
		ID:            id.NewJobID(),
		Group:         dispatch.GroupValidator,
		Consumer:      "validator",
		EventID:       evt.ID,
		State:         dispatch.StatePending,
		MaxAttempts:   maxAttempts,
		NextAttemptAt: time.Now().UTC(),
	}
	if err := store.EnqueueJob(ctx, j); err != nil {
		t.Fatal(err)
	}

	return j
}

// waitForState polls until the job reaches the wanted state.
func waitForState(t *testing.T, store *memory.Store, jobID id.ID, want dispatch.State) *dispatch.Job {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatalf("timeout waiting for job state %s", want)
		default:
		}

		got, err := store.GetJob(context.Background(), jobID)
		if err != nil {
			t.Fatal(err)
		}
		if got.State == want {
			return got
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRunnerProcessesJob(t *testing.T) {
	store := memory.New()
	dlq := &stubPusher{}

	var handled atomic.Int32

	runner := newRunner(store, dlq)
	runner.Register("validator", "*.*.requested", func(_ context.Context, task *dispatch.Task) error {
		if task.Event.Type != "note.create.requested" {
			t.Errorf("unexpected event type %q", task.Event.Type)
		}
		handled.Add(1)
		return nil
	})

	j := enqueueWork(t, store, "note.create.requested", 3)

	ctx := context.Background()
	runner.Start(ctx)
	got := waitForState(t, store, j.ID, dispatch.StateSucceeded)
	runner.Stop(ctx)

	if handled.Load() != 1 {
		t.Fatalf("expected 1 invocation, got %d", handled.Load())
	}
	if got.AttemptCount != 1 {
		t.Fatalf("expected 1 attempt, got %d", got.AttemptCount)
	}
	if got.CompletedAt == nil {
		t.Fatal("expected CompletedAt to be set")
	}
	if dlq.count.Load() != 0 {
		t.Fatal("expected no dead letter pushes")
	}
}

func TestRunnerRetriesUntilDeadLetter(t *testing.T) {
	store := memory.New()
	dlq := &stubPusher{}

	var attempts atomic.Int32

	runner := newRunner(store, dlq)
	runner.Register("validator", "*.*.requested", func(_ context.Context, _ *dispatch.Task) error {
		attempts.Add(1)
		return errors.New("transient failure")
	})

	j := enqueueWork(t, store, "note.create.requested", 2)

	ctx := context.Background()
	runner.Start(ctx)
	got := waitForState(t, store, j.ID, dispatch.StateFailed)
	runner.Stop(ctx)

	if attempts.Load() != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts.Load())
	}
	if got.AttemptCount != 2 {
		t.Fatalf("expected attempt count 2, got %d", got.AttemptCount)
	}
	if got.LastError == "" {
		t.Fatal("expected LastError to be recorded")
	}
	if dlq.count.Load() != 1 {
		t.Fatalf("expected 1 dead letter push, got %d", dlq.count.Load())
	}
}

func TestRunnerPermanentErrorSkipsRetries(t *testing.T) {
	store := memory.New()
	dlq := &stubPusher{}

	var attempts atomic.Int32

	runner := newRunner(store, dlq)
	runner.Register("validator", "*.*.requested", func(_ context.Context, _ *dispatch.Task) error {
		attempts.Add(1)
		return dispatch.Permanent(errors.New("malformed event"))
	})

	j := enqueueWork(t, store, "note.create.requested", 5)

	ctx := context.Background()
	runner.Start(ctx)
	waitForState(t, store, j.ID, dispatch.StateFailed)
	runner.Stop(ctx)

	if attempts.Load() != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts.Load())
	}
	if dlq.count.Load() != 1 {
		t.Fatalf("expected 1 dead letter push, got %d", dlq.count.Load())
	}
}

func TestRunnerSkipsEventsOutsideClaim(t *testing.T) {
	store := memory.New()
	dlq := &stubPusher{}

	var handled atomic.Int32

	runner := newRunner(store, dlq)
	runner.Register("validator", "*.*.requested", func(_ context.Context, _ *dispatch.Task) error {
		handled.Add(1)
		return nil
	})

	// Completed events routed here are outside the validator's claim.
	j := enqueueWork(t, store, "note.create.completed", 3)

	ctx := context.Background()
	runner.Start(ctx)
	got := waitForState(t, store, j.ID, dispatch.StateSucceeded)
	runner.Stop(ctx)

	if handled.Load() != 0 {
		t.Fatalf("expected handler not to run, got %d invocations", handled.Load())
	}
	if got.AttemptCount != 0 {
		t.Fatalf("expected a skip to burn no attempts, got %d", got.AttemptCount)
	}
}

func TestRunnerNoHandlerDeadLetters(t *testing.T) {
	store := memory.New()
	dlq := &stubPusher{}

	// Nothing registered for the "validator" consumer.
	runner := newRunner(store, dlq)

	j := enqueueWork(t, store, "note.create.requested", 5)

	ctx := context.Background()
	runner.Start(ctx)
	waitForState(t, store, j.ID, dispatch.StateFailed)
	runner.Stop(ctx)

	if dlq.count.Load() != 1 {
		t.Fatalf("expected 1 dead letter push, got %d", dlq.count.Load())
	}
}

func TestRunnerPersistsStepMarkers(t *testing.T) {
	store := memory.New()
	dlq := &stubPusher{}

	var attempts atomic.Int32
	var sideEffects atomic.Int32

	runner := newRunner(store, dlq)
	runner.Register("validator", "*.*.requested", func(ctx context.Context, task *dispatch.Task) error {
		attempts.Add(1)

		if err := task.Step(ctx, "side-effect", func(context.Context) error {
			sideEffects.Add(1)
			return nil
		}); err != nil {
			return err
		}

		// Fail after the step on the first attempt only.
		if attempts.Load() == 1 {
			return errors.New("crash after step")
		}
		return nil
	})

	j := enqueueWork(t, store, "note.create.requested", 3)

	ctx := context.Background()
	runner.Start(ctx)
	got := waitForState(t, store, j.ID, dispatch.StateSucceeded)
	runner.Stop(ctx)

	if attempts.Load() != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts.Load())
	}
	if sideEffects.Load() != 1 {
		t.Fatalf("expected the step to run once, got %d", sideEffects.Load())
	}
	if !got.StepDone("side-effect") {
		t.Fatal("expected the step marker to be persisted")
	}
}
