// Package executor runs validated events to completion. An Executor is
// registered per subject; the dispatch runner feeds it validated events,
// it performs its side effects and projection writes, and the service
// publishes the completed event that seals the workflow.
package executor

import (
	"context"
	"encoding/json"

	"github.com/lorekeep/spindle/dispatch"
	"github.com/lorekeep/spindle/eventlog"
)

// Executor is the per-subject unit of execution.
//
// Prepare runs the executor's side effects for a validated event and
// returns the completion payload. Slow executors run external work
// through task.Step so a retried job resumes after the last finished
// step; fast executors typically return the event data unchanged.
//
// Apply folds a completion payload into the executor's projection. It is
// called live after Prepare and again during replay, so it must be
// deterministic (every row value derived from the event and payload, no
// clocks or randomness) and idempotent per causation: applying the same
// event twice leaves the projection unchanged.
type Executor interface {
	Prepare(ctx context.Context, evt *eventlog.Event, typ eventlog.Type, task *dispatch.Task) (json.RawMessage, error)
	Apply(ctx context.Context, evt *eventlog.Event, typ eventlog.Type, payload json.RawMessage) error
}

// Resolver looks up the executor claiming a subject. The registry
// satisfies it.
type Resolver interface {
	ExecutorFor(subject string) (Executor, bool)
}
