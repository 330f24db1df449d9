package postgres

import (
	"context"
	"fmt"
	"strconv"
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
// runs inside the transaction; the unique (aggregate_id, version)
// constraint rejects the loser when two writers pass it concurrently.
func (s *Store) AppendEvent(ctx context.Context, expected int64, evt *eventlog.Event) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin append: %w", err)
	}
	defer tx.Rollback(ctx)

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

	return tx.Commit(ctx)
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
			return fmt.Errorf("postgres: append batch: events span aggregates %q and %q", aggregateID, evt.AggregateID)
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

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin append batch: %w", err)
	}
	defer tx.Rollback(ctx)

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

	return tx.Commit(ctx)
}

func checkIdemKey(ctx context.Context, q queryer, userID, key string) error {
	if key == "" {
		return nil
	}

	var exists bool
	err := q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM spindle_events WHERE user_id = $1 AND idempotency_key = $2)`,
		userID, key,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("postgres: idempotency check: %w", err)
	}
	if exists {
		return spindle.ErrDuplicateIdempotencyKey
	}

	return nil
}

func aggregateHead(ctx context.Context, q queryer, aggregateID string) (int64, error) {
	var head int64
	err := q.QueryRow(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM spindle_events WHERE aggregate_id = $1`,
		aggregateID,
	).Scan(&head)
	if err != nil {
		return 0, fmt.Errorf("postgres: aggregate head: %w", err)
	}

	return head, nil
}

func insertEvent(ctx context.Context, q queryer, evt *eventlog.Event, version int64, at time.Time) error {
	evt.Version = version
	evt.Timestamp = at

	_, err := q.Exec(ctx,
		`INSERT INTO spindle_events (`+eventColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		evt.ID,
		evt.AggregateID,
		evt.AggregateType,
		evt.Type,
		evt.UserID,
		evt.Data,
		evt.Metadata,
		evt.Version,
		evt.CausationID,
		evt.CorrelationID,
		evt.Source,
		evt.IdempotencyKey,
		evt.Timestamp,
	)
	if err != nil {
		return mapUniqueViolation(fmt.Errorf("postgres: insert event: %w", err))
	}

	return nil
}

// GetEvent returns an event by ID.
func (s *Store) GetEvent(ctx context.Context, evtID id.ID) (*eventlog.Event, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM spindle_events WHERE id = $1`,
		evtID,
	)

	evt, err := scanEvent(row)
	if isNoRows(err) {
		return nil, spindle.ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get event: %w", err)
	}

	return evt, nil
}

// AggregateStream returns an aggregate's events in ascending version order.
func (s *Store) AggregateStream(ctx context.Context, aggregateID string, opts eventlog.StreamOpts) ([]*eventlog.Event, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + eventColumns + ` FROM spindle_events WHERE aggregate_id = $1`)
	args := []any{aggregateID}

	if opts.FromVersion > 0 {
		args = append(args, opts.FromVersion)
		sb.WriteString(` AND version >= $` + strconv.Itoa(len(args)))
	}
	if opts.ToVersion > 0 {
		args = append(args, opts.ToVersion)
		sb.WriteString(` AND version <= $` + strconv.Itoa(len(args)))
	}
	if len(opts.Types) > 0 {
		args = append(args, opts.Types)
		sb.WriteString(` AND event_type = ANY($` + strconv.Itoa(len(args)) + `)`)
	}

	sb.WriteString(` ORDER BY version ASC`)

	rows, err := s.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: aggregate stream: %w", err)
	}

	return collectRows(rows, scanEvent)
}

// UserStream returns a user's events, newest first.
func (s *Store) UserStream(ctx context.Context, userID string, opts eventlog.UserStreamOpts) ([]*eventlog.Event, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + eventColumns + ` FROM spindle_events WHERE user_id = $1`)
	args := []any{userID}

	if opts.Days > 0 {
		args = append(args, time.Now().UTC().AddDate(0, 0, -opts.Days))
		sb.WriteString(` AND recorded_at >= $` + strconv.Itoa(len(args)))
	}
	if len(opts.Types) > 0 {
		args = append(args, opts.Types)
		sb.WriteString(` AND event_type = ANY($` + strconv.Itoa(len(args)) + `)`)
	}
	if len(opts.AggregateTypes) > 0 {
		kinds := make([]string, len(opts.AggregateTypes))
		for i, at := range opts.AggregateTypes {
			kinds[i] = string(at)
		}

		args = append(args, kinds)
		sb.WriteString(` AND aggregate_type = ANY($` + strconv.Itoa(len(args)) + `)`)
	}

	sb.WriteString(` ORDER BY recorded_at DESC, version DESC`)

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
		return nil, fmt.Errorf("postgres: user stream: %w", err)
	}

	return collectRows(rows, scanEvent)
}

// CorrelatedEvents returns every event of one workflow, oldest first.
func (s *Store) CorrelatedEvents(ctx context.Context, correlationID id.ID) ([]*eventlog.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+eventColumns+` FROM spindle_events WHERE correlation_id = $1 ORDER BY recorded_at ASC, version ASC`,
		correlationID,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: correlated events: %w", err)
	}

	return collectRows(rows, scanEvent)
}

// AggregateVersion returns the aggregate's head version, 0 when absent.
func (s *Store) AggregateVersion(ctx context.Context, aggregateID string) (int64, error) {
	return aggregateHead(ctx, s.pool, aggregateID)
}

// ListByCausation returns the direct children of an event, oldest first.
func (s *Store) ListByCausation(ctx context.Context, causationID id.ID) ([]*eventlog.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+eventColumns+` FROM spindle_events WHERE causation_id = $1 ORDER BY recorded_at ASC, version ASC`,
		causationID,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list by causation: %w", err)
	}

	return collectRows(rows, scanEvent)
}

// EventByIdempotencyKey returns the event appended under a user-scoped
// idempotency key.
func (s *Store) EventByIdempotencyKey(ctx context.Context, userID, key string) (*eventlog.Event, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM spindle_events WHERE user_id = $1 AND idempotency_key = $2`,
		userID, key,
	)

	evt, err := scanEvent(row)
	if isNoRows(err) {
		return nil, spindle.ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: event by idempotency key: %w", err)
	}

	return evt, nil
}
