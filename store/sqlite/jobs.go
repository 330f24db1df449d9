package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lorekeep/spindle"
	"github.com/lorekeep/spindle/dispatch"
	"github.com/lorekeep/spindle/id"
)

// ──────────────────────────────────────────────────
// Job queue
// ──────────────────────────────────────────────────

func insertJob(ctx context.Context, q queryer, j *dispatch.Job) error {
	steps, err := marshalJSON(j.StepsDone)
	if err != nil {
		return err
	}

	_, err = q.ExecContext(ctx,
		`INSERT INTO spindle_jobs (`+jobColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID,
		j.Group,
		j.Consumer,
		j.EventID,
		j.State,
		j.AttemptCount,
		j.MaxAttempts,
		formatTime(j.NextAttemptAt),
		j.LastError,
		steps,
		formatTimePtr(j.CompletedAt),
		formatTime(j.CreatedAt),
		formatTime(j.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert job: %w", err)
	}

	return nil
}

// EnqueueJob persists a new pending job.
func (s *Store) EnqueueJob(ctx context.Context, j *dispatch.Job) error {
	return insertJob(ctx, s.db, j)
}

// EnqueueJobs persists a batch of jobs in one transaction.
func (s *Store) EnqueueJobs(ctx context.Context, jobs []*dispatch.Job) error {
	if len(jobs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin enqueue: %w", err)
	}
	defer tx.Rollback()

	for _, j := range jobs {
		if err := insertJob(ctx, tx, j); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// DequeueJobs claims up to limit due pending jobs of a group. The select
// and the state flips share a transaction on the store's single
// connection, so two runners never receive the same job.
func (s *Store) DequeueJobs(ctx context.Context, group string, limit int) ([]*dispatch.Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("sqlite: begin dequeue: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	rows, err := tx.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM spindle_jobs
		 WHERE group_name = ? AND state = 'pending' AND next_attempt_at <= ?
		 ORDER BY next_attempt_at ASC
		 LIMIT ?`,
		group, formatTime(now), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: dequeue jobs: %w", err)
	}

	jobs, err := collectRows(rows, scanJob)
	if err != nil {
		return nil, fmt.Errorf("sqlite: dequeue jobs: %w", err)
	}

	for _, j := range jobs {
		j.State = dispatch.StateRunning
		j.UpdatedAt = now

		if _, err := tx.ExecContext(ctx,
			`UPDATE spindle_jobs SET state = 'running', updated_at = ? WHERE id = ?`,
			formatTime(now), j.ID,
		); err != nil {
			return nil, fmt.Errorf("sqlite: claim job: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return jobs, nil
}

// UpdateJob persists changes to a job. Settling the state away from
// running releases the claim.
func (s *Store) UpdateJob(ctx context.Context, j *dispatch.Job) error {
	j.UpdatedAt = time.Now().UTC()

	steps, err := marshalJSON(j.StepsDone)
	if err != nil {
		return err
	}

	n, err := execAffect(ctx, s.db,
		`UPDATE spindle_jobs
		 SET state = ?, attempt_count = ?, max_attempts = ?, next_attempt_at = ?,
		     last_error = ?, steps_done = ?, completed_at = ?, updated_at = ?
		 WHERE id = ?`,
		j.State,
		j.AttemptCount,
		j.MaxAttempts,
		formatTime(j.NextAttemptAt),
		j.LastError,
		steps,
		formatTimePtr(j.CompletedAt),
		formatTime(j.UpdatedAt),
		j.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: update job: %w", err)
	}
	if n == 0 {
		return spindle.ErrJobNotFound
	}

	return nil
}

// GetJob returns a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.ID) (*dispatch.Job, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM spindle_jobs WHERE id = ?`,
		jobID,
	)

	j, err := scanJob(row)
	if isNoRows(err) {
		return nil, spindle.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get job: %w", err)
	}

	return j, nil
}

// ListJobs returns jobs, newest first, optionally filtered.
func (s *Store) ListJobs(ctx context.Context, opts dispatch.ListOpts) ([]*dispatch.Job, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + jobColumns + ` FROM spindle_jobs WHERE 1 = 1`)
	var args []any

	if opts.Group != "" {
		sb.WriteString(` AND group_name = ?`)
		args = append(args, opts.Group)
	}
	if opts.State != nil {
		sb.WriteString(` AND state = ?`)
		args = append(args, *opts.State)
	}

	sb.WriteString(` ORDER BY created_at DESC`)

	switch {
	case opts.Limit > 0:
		sb.WriteString(` LIMIT ?`)
		args = append(args, opts.Limit)
	case opts.Offset > 0:
		sb.WriteString(` LIMIT -1`)
	}
	if opts.Offset > 0 {
		sb.WriteString(` OFFSET ?`)
		args = append(args, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list jobs: %w", err)
	}

	return collectRows(rows, scanJob)
}

// ListJobsByEvent returns every job fanned out for one event, oldest
// first.
func (s *Store) ListJobsByEvent(ctx context.Context, evtID id.ID) ([]*dispatch.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM spindle_jobs WHERE event_id = ? ORDER BY created_at ASC`,
		evtID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list jobs by event: %w", err)
	}

	return collectRows(rows, scanJob)
}

// CountJobs returns the number of jobs in a group and state.
func (s *Store) CountJobs(ctx context.Context, group string, state dispatch.State) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM spindle_jobs WHERE group_name = ? AND state = ?`,
		group, state,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite: count jobs: %w", err)
	}

	return n, nil
}
