package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lorekeep/spindle"
	"github.com/lorekeep/spindle/deadletter"
	"github.com/lorekeep/spindle/dispatch"
	"github.com/lorekeep/spindle/id"
	"github.com/lorekeep/spindle/internal/entity"
)

// ──────────────────────────────────────────────────
// Dead letters
// ──────────────────────────────────────────────────

// PushDeadLetter records a permanently failed job.
func (s *Store) PushDeadLetter(ctx context.Context, e *deadletter.Entry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO spindle_dead_letters (`+deadLetterColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		e.ID,
		e.JobID,
		e.EventID,
		e.Group,
		e.Consumer,
		e.EventType,
		e.UserID,
		e.Error,
		e.AttemptCount,
		e.MaxAttempts,
		e.ReplayedAt,
		e.FailedAt,
		e.CreatedAt,
		e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: push dead letter: %w", err)
	}

	return nil
}

// ListDeadLetters returns entries, newest failure first, optionally
// filtered.
func (s *Store) ListDeadLetters(ctx context.Context, opts deadletter.ListOpts) ([]*deadletter.Entry, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + deadLetterColumns + ` FROM spindle_dead_letters WHERE TRUE`)
	var args []any

	if opts.Group != "" {
		args = append(args, opts.Group)
		sb.WriteString(` AND group_name = $` + strconv.Itoa(len(args)))
	}
	if opts.UserID != "" {
		args = append(args, opts.UserID)
		sb.WriteString(` AND user_id = $` + strconv.Itoa(len(args)))
	}
	if opts.From != nil {
		args = append(args, *opts.From)
		sb.WriteString(` AND failed_at >= $` + strconv.Itoa(len(args)))
	}
	if opts.To != nil {
		args = append(args, *opts.To)
		sb.WriteString(` AND failed_at <= $` + strconv.Itoa(len(args)))
	}

	sb.WriteString(` ORDER BY failed_at DESC`)

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
		return nil, fmt.Errorf("postgres: list dead letters: %w", err)
	}

	return collectRows(rows, scanDeadLetter)
}

// GetDeadLetter returns an entry by ID.
func (s *Store) GetDeadLetter(ctx context.Context, dlID id.ID) (*deadletter.Entry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+deadLetterColumns+` FROM spindle_dead_letters WHERE id = $1`,
		dlID,
	)

	e, err := scanDeadLetter(row)
	if isNoRows(err) {
		return nil, spindle.ErrDeadLetterNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get dead letter: %w", err)
	}

	return e, nil
}

// ReplayDeadLetter enqueues a fresh pending job for the entry's event
// and records the replay time, both in one transaction.
func (s *Store) ReplayDeadLetter(ctx context.Context, dlID id.ID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin replay: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx,
		`SELECT `+deadLetterColumns+` FROM spindle_dead_letters WHERE id = $1 FOR UPDATE`,
		dlID,
	)

	e, err := scanDeadLetter(row)
	if isNoRows(err) {
		return spindle.ErrDeadLetterNotFound
	}
	if err != nil {
		return fmt.Errorf("postgres: replay dead letter: %w", err)
	}

	if err := replayEntry(ctx, tx, e, time.Now().UTC()); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// ReplayDeadLetters replays every unreplayed entry that failed in the
// window, returning how many jobs were enqueued.
func (s *Store) ReplayDeadLetters(ctx context.Context, from, to time.Time) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("postgres: begin bulk replay: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx,
		`SELECT `+deadLetterColumns+` FROM spindle_dead_letters
		 WHERE replayed_at IS NULL AND failed_at >= $1 AND failed_at <= $2
		 FOR UPDATE`,
		from, to,
	)
	if err != nil {
		return 0, fmt.Errorf("postgres: bulk replay: %w", err)
	}

	entries, err := collectRows(rows, scanDeadLetter)
	if err != nil {
		return 0, fmt.Errorf("postgres: bulk replay: %w", err)
	}

	now := time.Now().UTC()
	for _, e := range entries {
		if err := replayEntry(ctx, tx, e, now); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}

	return int64(len(entries)), nil
}

// replayEntry enqueues a fresh job with a reset attempt budget and marks
// the entry replayed. Must run inside the caller's transaction.
func replayEntry(ctx context.Context, q queryer, e *deadletter.Entry, now time.Time) error {
	j := &dispatch.Job{
		Entity:        entity.New(),
		ID:            id.NewJobID(),
		Group:         e.Group,
		Consumer:      e.Consumer,
		EventID:       e.EventID,
		State:         dispatch.StatePending,
		MaxAttempts:   e.MaxAttempts,
		NextAttemptAt: now,
	}

	if err := insertJob(ctx, q, j); err != nil {
		return err
	}

	_, err := q.Exec(ctx,
		`UPDATE spindle_dead_letters SET replayed_at = $2, updated_at = $2 WHERE id = $1`,
		e.ID, now,
	)
	if err != nil {
		return fmt.Errorf("postgres: mark replayed: %w", err)
	}

	return nil
}

// PurgeDeadLetters deletes entries that failed before the threshold.
func (s *Store) PurgeDeadLetters(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM spindle_dead_letters WHERE failed_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("postgres: purge dead letters: %w", err)
	}

	return tag.RowsAffected(), nil
}

// CountDeadLetters returns the total number of entries.
func (s *Store) CountDeadLetters(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM spindle_dead_letters`,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count dead letters: %w", err)
	}

	return n, nil
}
