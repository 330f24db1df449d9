package postgres

import (
	"context"
	"fmt"
	"strconv"
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
	_, err := q.Exec(ctx,
		`INSERT INTO spindle_jobs (`+jobColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		j.ID,
		j.Group,
		j.Consumer,
		j.EventID,
		j.State,
		j.AttemptCount,
		j.MaxAttempts,
		j.NextAttemptAt,
		j.LastError,
		j.StepsDone,
		j.CompletedAt,
		j.CreatedAt,
		j.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert job: %w", err)
	}

	return nil
}

// EnqueueJob persists a new pending job.
func (s *Store) EnqueueJob(ctx context.Context, j *dispatch.Job) error {
	return insertJob(ctx, s.pool, j)
}

// EnqueueJobs persists a batch of jobs in one transaction.
func (s *Store) EnqueueJobs(ctx context.Context, jobs []*dispatch.Job) error {
	if len(jobs) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin enqueue: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, j := range jobs {
		if err := insertJob(ctx, tx, j); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// DequeueJobs claims up to limit due pending jobs of a group. The
// SKIP LOCKED claim flips each row to running in the same statement, so
// two runners polling the same group never receive the same job.
func (s *Store) DequeueJobs(ctx context.Context, group string, limit int) ([]*dispatch.Job, error) {
	rows, err := s.pool.Query(ctx,
		`WITH due AS (
			SELECT id FROM spindle_jobs
			WHERE group_name = $1 AND state = 'pending' AND next_attempt_at <= NOW()
			ORDER BY next_attempt_at ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE spindle_jobs AS j
		SET state = 'running', updated_at = NOW()
		FROM due
		WHERE j.id = due.id
		RETURNING j.id, j.group_name, j.consumer, j.event_id, j.state, j.attempt_count, j.max_attempts, j.next_attempt_at, j.last_error, j.steps_done, j.completed_at, j.created_at, j.updated_at`,
		group, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: dequeue jobs: %w", err)
	}

	return collectRows(rows, scanJob)
}

// UpdateJob persists changes to a job. Settling the state away from
// running releases the claim.
func (s *Store) UpdateJob(ctx context.Context, j *dispatch.Job) error {
	j.UpdatedAt = time.Now().UTC()

	tag, err := s.pool.Exec(ctx,
		`UPDATE spindle_jobs
		 SET state = $2, attempt_count = $3, max_attempts = $4, next_attempt_at = $5,
		     last_error = $6, steps_done = $7, completed_at = $8, updated_at = $9
		 WHERE id = $1`,
		j.ID,
		j.State,
		j.AttemptCount,
		j.MaxAttempts,
		j.NextAttemptAt,
		j.LastError,
		j.StepsDone,
		j.CompletedAt,
		j.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return spindle.ErrJobNotFound
	}

	return nil
}

// GetJob returns a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.ID) (*dispatch.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM spindle_jobs WHERE id = $1`,
		jobID,
	)

	j, err := scanJob(row)
	if isNoRows(err) {
		return nil, spindle.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get job: %w", err)
	}

	return j, nil
}

// ListJobs returns jobs, newest first, optionally filtered.
func (s *Store) ListJobs(ctx context.Context, opts dispatch.ListOpts) ([]*dispatch.Job, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + jobColumns + ` FROM spindle_jobs WHERE TRUE`)
	var args []any

	if opts.Group != "" {
		args = append(args, opts.Group)
		sb.WriteString(` AND group_name = $` + strconv.Itoa(len(args)))
	}
	if opts.State != nil {
		args = append(args, *opts.State)
		sb.WriteString(` AND state = $` + strconv.Itoa(len(args)))
	}

	sb.WriteString(` ORDER BY created_at DESC`)

	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		sb.WriteString(` LIMIT $` + strconv.Itoa(len(args)))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		sb.WriteString(` OFFSET $` + strconv.Itoa(len(args)))
	}

	rows, err := s.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list jobs: %w", err)
	}

	return collectRows(rows, scanJob)
}

// ListJobsByEvent returns every job fanned out for one event, oldest
// first.
func (s *Store) ListJobsByEvent(ctx context.Context, evtID id.ID) ([]*dispatch.Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM spindle_jobs WHERE event_id = $1 ORDER BY created_at ASC`,
		evtID,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list jobs by event: %w", err)
	}

	return collectRows(rows, scanJob)
}

// CountJobs returns the number of jobs in a group and state.
func (s *Store) CountJobs(ctx context.Context, group string, state dispatch.State) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM spindle_jobs WHERE group_name = $1 AND state = $2`,
		group, state,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count jobs: %w", err)
	}

	return n, nil
}
