package dispatch

import (
	"context"

	"github.com/lorekeep/spindle/eventlog"
)

// Task is the unit handed to a consumer handler: the claimed job plus the
// event it processes. Multi-step handlers run their side effects through
// Step so completed work survives a crash-retry.
type Task struct {
	Job   *Job
	Event *eventlog.Event

	save func(ctx context.Context) error
}

// NewTask builds a task. save persists the job row after each completed
// step; a nil save keeps markers in memory only (tests).
func NewTask(j *Job, evt *eventlog.Event, save func(context.Context) error) *Task {
	return &Task{Job: j, Event: evt, save: save}
}

// Step runs fn at most once per job lifetime. A step whose marker is
// already recorded is skipped, so a retried job resumes after the last
// step that finished. The marker is persisted before the next step runs;
// steps therefore execute at least once and must tolerate a re-run when
// the crash lands between the side effect and the marker write.
func (t *Task) Step(ctx context.Context, name string, fn func(context.Context) error) error {
	if t.Job.StepDone(name) {
		return nil
	}

	if err := fn(ctx); err != nil {
		return &StepError{Step: name, Err: err}
	}

	t.Job.MarkStep(name)

	if t.save != nil {
		return t.save(ctx)
	}

	return nil
}
