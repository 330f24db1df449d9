package sqlite

import (
	"context"
	"fmt"
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
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO spindle_dead_letters (`+deadLetterColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
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
		formatTimePtr(e.ReplayedAt),
		formatTime(e.FailedAt),
		formatTime(e.CreatedAt),
		formatTime(e.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: push dead letter: %w", err)
	}

	return nil
}

// ListDeadLetters returns entries, newest failure first, optionally
// filtered.
func (s *Store) ListDeadLetters(ctx context.Context, opts deadletter.ListOpts) ([]*deadletter.Entry, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + deadLetterColumns + ` FROM spindle_dead_letters WHERE 1 = 1`)
	var args []any

	if opts.Group != "" {
		sb.WriteString(` AND group_name = ?`)
		args = append(args, opts.Group)
	}
	if opts.UserID != "" {
		sb.WriteString(` AND user_id = ?`)
		args = append(args, opts.UserID)
	}
	if opts.From != nil {
		sb.WriteString(` AND failed_at >= ?`)
		args = append(args, formatTime(*opts.From))
	}
	if opts.To != nil {
		sb.WriteString(` AND failed_at <= ?`)
		args = append(args, formatTime(*opts.To))
	}

	sb.WriteString(` ORDER BY failed_at DESC`)

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
		return nil, fmt.Errorf("sqlite: list dead letters: %w", err)
	}

	return collectRows(rows, scanDeadLetter)
}

// GetDeadLetter returns an entry by ID.
func (s *Store) GetDeadLetter(ctx context.Context, dlID id.ID) (*deadletter.Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+deadLetterColumns+` FROM spindle_dead_letters WHERE id = ?`,
		dlID,
	)

	e, err := scanDeadLetter(row)
	if isNoRows(err) {
		return nil, spindle.ErrDeadLetterNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get dead letter: %w", err)
	}

	return e, nil
}

// ReplayDeadLetter enqueues a fresh pending job for the entry's event
// and records the replay time, both in one transaction.
func (s *Store) ReplayDeadLetter(ctx context.Context, dlID id.ID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin replay: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT `+deadLetterColumns+` FROM spindle_dead_letters WHERE id = ?`,
		dlID,
	)

	e, err := scanDeadLetter(row)
	if isNoRows(err) {
		return spindle.ErrDeadLetterNotFound
	}
	if err != nil {
		return fmt.Errorf("sqlite: replay dead letter: %w", err)
	}

	if err := replayEntry(ctx, tx, e, time.Now().UTC()); err != nil {
		return err
	}

	return tx.Commit()
}

// ReplayDeadLetters replays every unreplayed entry that failed in the
// window, returning how many jobs were enqueued.
func (s *Store) ReplayDeadLetters(ctx context.Context, from, to time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite: begin bulk replay: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT `+deadLetterColumns+` FROM spindle_dead_letters
		 WHERE replayed_at IS NULL AND failed_at >= ? AND failed_at <= ?`,
		formatTime(from), formatTime(to),
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: bulk replay: %w", err)
	}

	entries, err := collectRows(rows, scanDeadLetter)
	if err != nil {
		return 0, fmt.Errorf("sqlite: bulk replay: %w", err)
	}

	now := time.Now().UTC()
	for _, e := range entries {
		if err := replayEntry(ctx, tx, e, now); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
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

	_, err := q.ExecContext(ctx,
		`UPDATE spindle_dead_letters SET replayed_at = ?, updated_at = ? WHERE id = ?`,
		formatTime(now), formatTime(now), e.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: mark replayed: %w", err)
	}

	return nil
}

// PurgeDeadLetters deletes entries that failed before the threshold.
func (s *Store) PurgeDeadLetters(ctx context.Context, before time.Time) (int64, error) {
	n, err := execAffect(ctx, s.db,
		`DELETE FROM spindle_dead_letters WHERE failed_at < ?`,
		formatTime(before),
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: purge dead letters: %w", err)
	}

	return n, nil
}

// CountDeadLetters returns the total number of entries.
func (s *Store) CountDeadLetters(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM spindle_dead_letters`,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite: count dead letters: %w", err)
	}

	return n, nil
}
