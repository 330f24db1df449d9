// Package dispatch implements the store-backed job queue that fans events
// out to consumers. Every appended event produces one job per interested
// consumer group; a Runner per group polls for due jobs and executes them
// under a bounded worker pool. The job table doubles as the queue and the
// audit surface, so stuck work stays queryable.
package dispatch

import (
	"time"

	"github.com/lorekeep/spindle/id"
	"github.com/lorekeep/spindle/internal/entity"
)

// Consumer groups. Each group is served by one Runner with its own
// concurrency and retry settings.
const (
	// GroupValidator serves requested-phase events.
	GroupValidator = "validator"

	// GroupExecFast serves validated-phase events whose executor is a
	// single cheap projection write.
	GroupExecFast = "exec-fast"

	// GroupExecSlow serves validated-phase events whose executor runs a
	// multi-step sequence with external side effects.
	GroupExecSlow = "exec-slow"

	// GroupWebhook serves every event for webhook fan-out.
	GroupWebhook = "webhook"
)

// State represents the current state of a job.
type State string

const (
	// StatePending indicates the job is waiting to run (or retry).
	StatePending State = "pending"

	// StateRunning indicates the job has been claimed by a runner.
	StateRunning State = "running"

	// StateSucceeded indicates the job's handler returned cleanly.
	StateSucceeded State = "succeeded"

	// StateFailed indicates the job exhausted its attempts and was moved
	// to the dead letter surface.
	StateFailed State = "failed"
)

// Job is one unit of consumer work for one event.
type Job struct {
	entity.Entity

	// ID is the unique TypeID for this job.
	ID id.ID `json:"id"`

	// Group selects the runner that serves this job.
	Group string `json:"group"`

	// Consumer is the handler key within the group: "validator",
	// "webhook", or the executor subject such as "note".
	Consumer string `json:"consumer"`

	// EventID references the event being processed.
	EventID id.ID `json:"event_id"`

	// State is the current job state.
	State State `json:"state"`

	// AttemptCount is the number of attempts made so far.
	AttemptCount int `json:"attempt_count"`

	// MaxAttempts is the attempt cap before the job is dead lettered.
	MaxAttempts int `json:"max_attempts"`

	// NextAttemptAt is when the job next becomes due.
	NextAttemptAt time.Time `json:"next_attempt_at"`

	// LastError is the error message from the most recent failed attempt.
	LastError string `json:"last_error,omitempty"`

	// StepsDone records the completed step markers of a multi-step
	// handler so a retry resumes after the last finished step.
	StepsDone []string `json:"steps_done,omitempty"`

	// CompletedAt is when the job reached a terminal state.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// StepDone reports whether a step marker has been recorded.
func (j *Job) StepDone(name string) bool {
	for _, s := range j.StepsDone {
		if s == name {
			return true
		}
	}

	return false
}

// MarkStep records a step marker. Recording an already-done step is a no-op.
func (j *Job) MarkStep(name string) {
	if j.StepDone(name) {
		return
	}

	j.StepsDone = append(j.StepsDone, name)
}

// ListOpts configures filtering and pagination for job listing.
type ListOpts struct {
	Offset int
	Limit  int
	Group  string
	State  *State
}
