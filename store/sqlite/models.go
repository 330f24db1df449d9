package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/lorekeep/spindle/deadletter"
	"github.com/lorekeep/spindle/dispatch"
	"github.com/lorekeep/spindle/eventlog"
	"github.com/lorekeep/spindle/proposal"
	"github.com/lorekeep/spindle/webhook"
)

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// queryer is the subset of *sql.DB and *sql.Tx the store queries
// through, so helpers work inside and outside transactions.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// collectRows drains rows through a scan helper.
func collectRows[T any](rows *sql.Rows, scan func(rowScanner) (*T, error)) ([]*T, error) {
	defer rows.Close()

	var out []*T
	for rows.Next() {
		item, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}

	return out, rows.Err()
}

// execAffect runs a statement and reports how many rows it touched.
func execAffect(ctx context.Context, q queryer, query string, args ...any) (int64, error) {
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

// inClause renders an IN list with n placeholders.
func inClause(n int) string {
	return "(" + strings.TrimRight(strings.Repeat("?, ", n), ", ") + ")"
}

// ──────────────────────────────────────────────────
// Column encoding
// ──────────────────────────────────────────────────

// timeLayout is RFC 3339 with fixed-width nanoseconds. Unlike
// time.RFC3339Nano it never drops trailing zeros, so the TEXT encoding
// sorts chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}

	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}

	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: parse time %q: %w", s, err)
	}

	return t, nil
}

func parseTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}

	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}

	return &t, nil
}

func marshalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("sqlite: encode json: %w", err)
	}

	return string(b), nil
}

func unmarshalJSON(ns sql.NullString, dest any) error {
	if !ns.Valid || ns.String == "" || ns.String == "null" {
		return nil
	}

	if err := json.Unmarshal([]byte(ns.String), dest); err != nil {
		return fmt.Errorf("sqlite: decode json: %w", err)
	}

	return nil
}

// ──────────────────────────────────────────────────
// Events
// ──────────────────────────────────────────────────

const eventColumns = `id, aggregate_id, aggregate_type, event_type, user_id, data, metadata, version, causation_id, correlation_id, source, idempotency_key, recorded_at`

func scanEvent(row rowScanner) (*eventlog.Event, error) {
	var (
		evt      eventlog.Event
		data     sql.NullString
		metadata sql.NullString
		recorded string
	)

	err := row.Scan(
		&evt.ID,
		&evt.AggregateID,
		&evt.AggregateType,
		&evt.Type,
		&evt.UserID,
		&data,
		&metadata,
		&evt.Version,
		&evt.CausationID,
		&evt.CorrelationID,
		&evt.Source,
		&evt.IdempotencyKey,
		&recorded,
	)
	if err != nil {
		return nil, err
	}

	if data.Valid && data.String != "" {
		evt.Data = json.RawMessage(data.String)
	}
	if err := unmarshalJSON(metadata, &evt.Metadata); err != nil {
		return nil, err
	}
	if evt.Timestamp, err = parseTime(recorded); err != nil {
		return nil, err
	}

	return &evt, nil
}

// ──────────────────────────────────────────────────
// Jobs
// ──────────────────────────────────────────────────

const jobColumns = `id, group_name, consumer, event_id, state, attempt_count, max_attempts, next_attempt_at, last_error, steps_done, completed_at, created_at, updated_at`

func scanJob(row rowScanner) (*dispatch.Job, error) {
	var (
		j           dispatch.Job
		nextAttempt string
		steps       sql.NullString
		completedAt sql.NullString
		createdAt   string
		updatedAt   string
	)

	err := row.Scan(
		&j.ID,
		&j.Group,
		&j.Consumer,
		&j.EventID,
		&j.State,
		&j.AttemptCount,
		&j.MaxAttempts,
		&nextAttempt,
		&j.LastError,
		&steps,
		&completedAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if j.NextAttemptAt, err = parseTime(nextAttempt); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(steps, &j.StepsDone); err != nil {
		return nil, err
	}
	if j.CompletedAt, err = parseTimePtr(completedAt); err != nil {
		return nil, err
	}
	if j.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if j.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}

	return &j, nil
}

// ──────────────────────────────────────────────────
// Proposals
// ──────────────────────────────────────────────────

const proposalColumns = `id, workspace_id, target_type, target_id, intent, requested_event_id, correlation_id, user_id, payload, metadata, source, status, reviewed_by, review_comment, reviewed_at, expires_at, created_at, updated_at`

func scanProposal(row rowScanner) (*proposal.Proposal, error) {
	var (
		p          proposal.Proposal
		payload    sql.NullString
		metadata   sql.NullString
		reviewedAt sql.NullString
		expiresAt  string
		createdAt  string
		updatedAt  string
	)

	err := row.Scan(
		&p.ID,
		&p.WorkspaceID,
		&p.TargetType,
		&p.TargetID,
		&p.Intent,
		&p.RequestedEventID,
		&p.CorrelationID,
		&p.UserID,
		&payload,
		&metadata,
		&p.Source,
		&p.Status,
		&p.ReviewedBy,
		&p.ReviewComment,
		&reviewedAt,
		&expiresAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if payload.Valid && payload.String != "" {
		p.Payload = json.RawMessage(payload.String)
	}
	if err := unmarshalJSON(metadata, &p.Metadata); err != nil {
		return nil, err
	}
	if p.ReviewedAt, err = parseTimePtr(reviewedAt); err != nil {
		return nil, err
	}
	if p.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return nil, err
	}
	if p.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}

	return &p, nil
}

// ──────────────────────────────────────────────────
// Subscriptions and deliveries
// ──────────────────────────────────────────────────

const subscriptionColumns = `id, user_id, url, description, secret, event_types, active, rate_limit, metadata, last_triggered_at, created_at, updated_at`

func scanSubscription(row rowScanner) (*webhook.Subscription, error) {
	var (
		sub           webhook.Subscription
		eventTypes    sql.NullString
		metadata      sql.NullString
		lastTriggered sql.NullString
		createdAt     string
		updatedAt     string
	)

	err := row.Scan(
		&sub.ID,
		&sub.UserID,
		&sub.URL,
		&sub.Description,
		&sub.Secret,
		&eventTypes,
		&sub.Active,
		&sub.RateLimit,
		&metadata,
		&lastTriggered,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := unmarshalJSON(eventTypes, &sub.EventTypes); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(metadata, &sub.Metadata); err != nil {
		return nil, err
	}
	if sub.LastTriggeredAt, err = parseTimePtr(lastTriggered); err != nil {
		return nil, err
	}
	if sub.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if sub.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}

	return &sub, nil
}

const deliveryColumns = `id, subscription_id, event_id, status, response_status, attempt, error, latency_ms, delivered_at, created_at, updated_at`

func scanDelivery(row rowScanner) (*webhook.Delivery, error) {
	var (
		d           webhook.Delivery
		deliveredAt sql.NullString
		createdAt   string
		updatedAt   string
	)

	err := row.Scan(
		&d.ID,
		&d.SubscriptionID,
		&d.EventID,
		&d.Status,
		&d.ResponseStatus,
		&d.Attempt,
		&d.Error,
		&d.LatencyMs,
		&deliveredAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if d.DeliveredAt, err = parseTimePtr(deliveredAt); err != nil {
		return nil, err
	}
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if d.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}

	return &d, nil
}

// ──────────────────────────────────────────────────
// Dead letters
// ──────────────────────────────────────────────────

const deadLetterColumns = `id, job_id, event_id, group_name, consumer, event_type, user_id, error, attempt_count, max_attempts, replayed_at, failed_at, created_at, updated_at`

func scanDeadLetter(row rowScanner) (*deadletter.Entry, error) {
	var (
		e          deadletter.Entry
		replayedAt sql.NullString
		failedAt   string
		createdAt  string
		updatedAt  string
	)

	err := row.Scan(
		&e.ID,
		&e.JobID,
		&e.EventID,
		&e.Group,
		&e.Consumer,
		&e.EventType,
		&e.UserID,
		&e.Error,
		&e.AttemptCount,
		&e.MaxAttempts,
		&replayedAt,
		&failedAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if e.ReplayedAt, err = parseTimePtr(replayedAt); err != nil {
		return nil, err
	}
	if e.FailedAt, err = parseTime(failedAt); err != nil {
		return nil, err
	}
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if e.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}

	return &e, nil
}
