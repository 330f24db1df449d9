package memory

import (
	"context"
	"sort"
	"time"

	"github.com/lorekeep/spindle"
	"github.com/lorekeep/spindle/dispatch"
	"github.com/lorekeep/spindle/id"
)

func copyJob(j *dispatch.Job) *dispatch.Job {
	cp := *j
	if len(j.StepsDone) > 0 {
		cp.StepsDone = append([]string(nil), j.StepsDone...)
	}

	return &cp
}

// ──────────────────────────────────────────────────
// Job queue
// ──────────────────────────────────────────────────

// EnqueueJob persists a new pending job.
func (s *Store) EnqueueJob(_ context.Context, j *dispatch.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs[j.ID.String()] = copyJob(j)

	return nil
}

// EnqueueJobs persists a batch of new pending jobs.
func (s *Store) EnqueueJobs(_ context.Context, jobs []*dispatch.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, j := range jobs {
		s.jobs[j.ID.String()] = copyJob(j)
	}

	return nil
}

// DequeueJobs claims up to limit due pending jobs of a group
// (concurrent-safe). Claimed jobs are marked running and locked so a
// second runner cannot pick them up; returns copies so callers can
// mutate without holding a lock.
func (s *Store) DequeueJobs(_ context.Context, group string, limit int) ([]*dispatch.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	candidates := make([]*dispatch.Job, 0, len(s.jobs))

	for _, j := range s.jobs {
		if j.Group != group || j.State != dispatch.StatePending {
			continue
		}

		if j.NextAttemptAt.After(now) {
			continue
		}

		if s.locked[j.ID.String()] {
			continue
		}

		candidates = append(candidates, j)
	}

	sort.Slice(candidates, func(i, k int) bool {
		return candidates[i].NextAttemptAt.Before(candidates[k].NextAttemptAt)
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	out := make([]*dispatch.Job, 0, len(candidates))
	for _, j := range candidates {
		j.State = dispatch.StateRunning
		s.locked[j.ID.String()] = true
		out = append(out, copyJob(j))
	}

	return out, nil
}

// UpdateJob persists changes to a job and releases its claim.
func (s *Store) UpdateJob(_ context.Context, j *dispatch.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := j.ID.String()
	if _, ok := s.jobs[key]; !ok {
		return spindle.ErrJobNotFound
	}

	j.UpdatedAt = time.Now().UTC()
	s.jobs[key] = copyJob(j)
	delete(s.locked, key)

	return nil
}

// GetJob returns a job by ID.
func (s *Store) GetJob(_ context.Context, jobID id.ID) (*dispatch.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[jobID.String()]
	if !ok {
		return nil, spindle.ErrJobNotFound
	}

	return copyJob(j), nil
}

// ListJobs returns jobs, newest first, optionally filtered.
func (s *Store) ListJobs(_ context.Context, opts dispatch.ListOpts) ([]*dispatch.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*dispatch.Job
	for _, j := range s.jobs {
		if opts.Group != "" && j.Group != opts.Group {
			continue
		}

		if opts.State != nil && j.State != *opts.State {
			continue
		}

		out = append(out, copyJob(j))
	}

	sort.Slice(out, func(i, k int) bool {
		return out[i].CreatedAt.After(out[k].CreatedAt)
	})

	return applyPagination(out, opts.Offset, opts.Limit), nil
}

// ListJobsByEvent returns every job fanned out for one event.
func (s *Store) ListJobsByEvent(_ context.Context, evtID id.ID) ([]*dispatch.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*dispatch.Job
	for _, j := range s.jobs {
		if j.EventID != evtID {
			continue
		}

		out = append(out, copyJob(j))
	}

	sort.Slice(out, func(i, k int) bool {
		return out[i].CreatedAt.Before(out[k].CreatedAt)
	})

	return out, nil
}

// CountJobs returns the number of jobs in a group and state.
func (s *Store) CountJobs(_ context.Context, group string, state dispatch.State) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, j := range s.jobs {
		if j.Group == group && j.State == state {
			n++
		}
	}

	return n, nil
}
