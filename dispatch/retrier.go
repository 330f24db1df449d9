package dispatch

import (
	"errors"
	"fmt"
	"time"
)

// Decision is the outcome of evaluating a failed job attempt.
type Decision int

const (
	// Retry means the job should be rescheduled per the backoff schedule.
	Retry Decision = iota

	// DeadLetter means the job has permanently failed and should move to
	// the dead letter surface.
	DeadLetter
)

// PermanentError marks a handler failure that must not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent: %v", e.Err)
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err so the retrier dead letters the job immediately.
func Permanent(err error) error {
	return &PermanentError{Err: err}
}

// StepError reports which step of a handler sequence failed.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %q: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Retrier decides what to do with a job after a failed attempt.
type Retrier struct {
	schedule []time.Duration
}

// NewRetrier creates a retrier with the given backoff schedule.
func NewRetrier(schedule []time.Duration) *Retrier {
	return &Retrier{schedule: schedule}
}

// Decide determines what to do with a job whose handler returned err.
//
// Decision matrix:
//   - PermanentError → DeadLetter immediately
//   - attempts < max → Retry
//   - otherwise      → DeadLetter
func (r *Retrier) Decide(err error, j *Job) Decision {
	var perm *PermanentError
	if errors.As(err, &perm) {
		return DeadLetter
	}

	if j.AttemptCount < j.MaxAttempts {
		return Retry
	}

	return DeadLetter
}

// ComputeNextAttempt returns the time at which the next attempt should be made.
func (r *Retrier) ComputeNextAttempt(attemptCount int) time.Time {
	idx := attemptCount - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(r.schedule) {
		idx = len(r.schedule) - 1
	}
	return time.Now().UTC().Add(r.schedule[idx])
}
