package dispatch

import (
	"context"

	"github.com/lorekeep/spindle/id"
)

// Store is the persistence contract for the job queue.
type Store interface {
	// EnqueueJob persists a new pending job.
	EnqueueJob(ctx context.Context, j *Job) error

	// EnqueueJobs persists a batch of new pending jobs.
	EnqueueJobs(ctx context.Context, jobs []*Job) error

	// DequeueJobs claims up to limit due pending jobs of a group,
	// marking them running. A job claimed by one runner must not be
	// handed to another.
	DequeueJobs(ctx context.Context, group string, limit int) ([]*Job, error)

	// UpdateJob persists changes to an existing job.
	UpdateJob(ctx context.Context, j *Job) error

	// GetJob returns a job by ID.
	GetJob(ctx context.Context, jobID id.ID) (*Job, error)

	// ListJobs returns jobs, newest first, optionally filtered.
	ListJobs(ctx context.Context, opts ListOpts) ([]*Job, error)

	// ListJobsByEvent returns every job fanned out for one event.
	ListJobsByEvent(ctx context.Context, evtID id.ID) ([]*Job, error)

	// CountJobs returns the number of jobs in a group and state.
	CountJobs(ctx context.Context, group string, state State) (int64, error)
}
