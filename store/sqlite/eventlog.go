package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lorekeep/spindle"
	"github.com/lorekeep/spindle/eventlog"
	"github.com/lorekeep/spindle/id"
)

// ──────────────────────────────────────────────────
// Event log
// ──────────────────────────────────────────────────

// AppendEvent appends one event at version expected+1. The head check
// and the insert share a transaction on the store's single connection,
// so the check is race-free.
func (s *Store) AppendEvent(ctx context.Context, expected int64, evt *eventlog.Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin append: %w", err)
	}
	defer tx.Rollback()

	if err := checkIdemKey(ctx, tx, evt.UserID, evt.IdempotencyKey); err != nil {
		return err
	}

	head, err := aggregateHead(ctx, tx, evt.AggregateID)
	if err != nil {
		return err
	}
	if expected != head {
		return spindle.ErrConcurrencyConflict
	}

	if err := insertEvent(ctx, tx, evt, expected+1, time.Now().UTC()); err != nil {
		return err
	}

	return tx.Commit()
}

// AppendBatch appends events to one aggregate all-or-nothing. Every
// check runs before the first insert, and the whole batch shares one
// transaction, so a failed batch leaves no trace.
func (s *Store) AppendBatch(ctx context.Context, expected int64, evts []*eventlog.Event) error {
	if len(evts) == 0 {
		return nil
	}

	aggregateID := evts[0].AggregateID
	seen := make(map[string]bool)

	for _, evt := range evts {
		if evt.AggregateID != aggregateID {
			return fmt.Errorf("sqlite: append batch: events span aggregates %q and %q", aggregateID, evt.AggregateID)
		}

		if evt.IdempotencyKey == "" {
			continue
		}

		k := evt.UserID + "\x00" + evt.IdempotencyKey
		if seen[k] {
			return spindle.ErrDuplicateIdempotencyKey
		}
		seen[k] = true
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin append batch: %w", err)
	}
	defer tx.Rollback()

	for _, evt := range evts {
		if err := checkIdemKey(ctx, tx, evt.UserID, evt.IdempotencyKey); err != nil {
			return err
		}
	}

	head, err := aggregateHead(ctx, tx, aggregateID)
	if err != nil {
		return err
	}
	if expected != head {
		return spindle.ErrConcurrencyConflict
	}

	now := time.Now().UTC()
	for i, evt := range evts {
		if err := insertEvent(ctx, tx, evt, expected+int64(i)+1, now); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func checkIdemKey(ctx context.Context, q queryer, userID, key string) error {
	if key == "" {
		return nil
	}

	var exists bool
	err := q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM spindle_events WHERE user_id = ? AND idempotency_key = ?)`,
		userID, key,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("sqlite: idempotency check: %w", err)
	}
	if exists {
		return spindle.ErrDuplicateIdempotencyKey
	}

	return nil
}

func aggregateHead(ctx context.Context, q queryer, aggregateID string) (int64, error) {
	var head int64
	err := q.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM spindle_events WHERE aggregate_id = ?`,
		aggregateID,
	).Scan(&head)
	if err != nil {
		return 0, fmt.Errorf("sqlite: aggregate head: %w", err)
	}

	return head, nil
}

func insertEvent(ctx context.Context, q queryer, evt *eventlog.Event, version int64, at time.Time) error {
	evt.Version = version
	evt.Timestamp = at

	metadata, err := marshalJSON(evt.Metadata)
	if err != nil {
		return err
	}

	_, err = q.ExecContext(ctx,
		`INSERT INTO spindle_events (`+eventColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		evt.ID,
		evt.AggregateID,
		evt.AggregateType,
		evt.Type,
		evt.UserID,
		string(evt.Data),
		metadata,
		evt.Version,
		evt.CausationID,
		evt.CorrelationID,
		evt.Source,
		evt.IdempotencyKey,
		formatTime(evt.Timestamp),
	)
	if err != nil {
		return mapConstraint(fmt.Errorf("sqlite: insert event: %w", err))
	}

	return nil
}

// GetEvent returns an event by ID.
func (s *Store) GetEvent(ctx context.Context, evtID id.ID) (*eventlog.Event, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM spindle_events WHERE id = ?`,
		evtID,
	)

	evt, err := scanEvent(row)
	if isNoRows(err) {
		return nil, spindle.ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get event: %w", err)
	}

	return evt, nil
}

// AggregateStream returns an aggregate's events in ascending version order.
func (s *Store) AggregateStream(ctx context.Context, aggregateID string, opts eventlog.StreamOpts) ([]*eventlog.Event, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + eventColumns + ` FROM spindle_events WHERE aggregate_id = ?`)
	args := []any{aggregateID}

	if opts.FromVersion > 0 {
		sb.WriteString(` AND version >= ?`)
		args = append(args, opts.FromVersion)
	}
	if opts.ToVersion > 0 {
		sb.WriteString(` AND version <= ?`)
		args = append(args, opts.ToVersion)
	}
	if len(opts.Types) > 0 {
		sb.WriteString(` AND event_type IN ` + inClause(len(opts.Types)))
		for _, t := range opts.Types {
			args = append(args, t)
		}
	}

	sb.WriteString(` ORDER BY version ASC`)

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: aggregate stream: %w", err)
	}

	return collectRows(rows, scanEvent)
}

// UserStream returns a user's events, newest first.
func (s *Store) UserStream(ctx context.Context, userID string, opts eventlog.UserStreamOpts) ([]*eventlog.Event, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + eventColumns + ` FROM spindle_events WHERE user_id = ?`)
	args := []any{userID}

	if opts.Days > 0 {
		sb.WriteString(` AND recorded_at >= ?`)
		args = append(args, formatTime(time.Now().UTC().AddDate(0, 0, -opts.Days)))
	}
	if len(opts.Types) > 0 {
		sb.WriteString(` AND event_type IN ` + inClause(len(opts.Types)))
		for _, t := range opts.Types {
			args = append(args, t)
		}
	}
	if len(opts.AggregateTypes) > 0 {
		sb.WriteString(` AND aggregate_type IN ` + inClause(len(opts.AggregateTypes)))
		for _, at := range opts.AggregateTypes {
			args = append(args, string(at))
		}
	}

	sb.WriteString(` ORDER BY recorded_at DESC, version DESC`)

	switch {
	case opts.Limit > 0:
		sb.WriteString(` LIMIT ?`)
		args = append(args, opts.Limit)
	case opts.Offset > 0:
		// SQLite requires a LIMIT before OFFSET; -1 means unbounded.
		sb.WriteString(` LIMIT -1`)
	}
	if opts.Offset > 0 {
		sb.WriteString(` OFFSET ?`)
		args = append(args, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: user stream: %w", err)
	}

	return collectRows(rows, scanEvent)
}

// CorrelatedEvents returns every event of one workflow, oldest first.
func (s *Store) CorrelatedEvents(ctx context.Context, correlationID id.ID) ([]*eventlog.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM spindle_events WHERE correlation_id = ? ORDER BY recorded_at ASC, version ASC`,
		correlationID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: correlated events: %w", err)
	}

	return collectRows(rows, scanEvent)
}

// AggregateVersion returns the aggregate's head version, 0 when absent.
func (s *Store) AggregateVersion(ctx context.Context, aggregateID string) (int64, error) {
	return aggregateHead(ctx, s.db, aggregateID)
}

// ListByCausation returns the direct children of an event, oldest first.
func (s *Store) ListByCausation(ctx context.Context, causationID id.ID) ([]*eventlog.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+eventColumns+` FROM spindle_events WHERE causation_id = ? ORDER BY recorded_at ASC, version ASC`,
		causationID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list by causation: %w", err)
	}

	return collectRows(rows, scanEvent)
}

// EventByIdempotencyKey returns the event appended under a user-scoped
// idempotency key.
func (s *Store) EventByIdempotencyKey(ctx context.Context, userID, key string) (*eventlog.Event, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+eventColumns+` FROM spindle_events WHERE user_id = ? AND idempotency_key = ?`,
		userID, key,
	)

	evt, err := scanEvent(row)
	if isNoRows(err) {
		return nil, spindle.ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: event by idempotency key: %w", err)
	}

	return evt, nil
}
