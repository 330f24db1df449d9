package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/lorekeep/spindle/deadletter"
	"github.com/lorekeep/spindle/dispatch"
	"github.com/lorekeep/spindle/eventlog"
	"github.com/lorekeep/spindle/proposal"
	"github.com/lorekeep/spindle/webhook"
)

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// queryer is the subset of pgxpool.Pool and pgx.Tx the store queries
// through, so helpers work inside and outside transactions.
type queryer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// collectRows drains rows through a scan helper.
func collectRows[T any](rows pgx.Rows, scan func(rowScanner) (*T, error)) ([]*T, error) {
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

// ──────────────────────────────────────────────────
// Events
// ──────────────────────────────────────────────────

const eventColumns = `id, aggregate_id, aggregate_type, event_type, user_id, data, metadata, version, causation_id, correlation_id, source, idempotency_key, recorded_at`

func scanEvent(row rowScanner) (*eventlog.Event, error) {
	var evt eventlog.Event
	err := row.Scan(
		&evt.ID,
		&evt.AggregateID,
		&evt.AggregateType,
		&evt.Type,
		&evt.UserID,
		&evt.Data,
		&evt.Metadata,
		&evt.Version,
		&evt.CausationID,
		&evt.CorrelationID,
		&evt.Source,
		&evt.IdempotencyKey,
		&evt.Timestamp,
	)
	if err != nil {
		return nil, err
	}

	return &evt, nil
}

// ──────────────────────────────────────────────────
// Jobs
// ──────────────────────────────────────────────────

const jobColumns = `id, group_name, consumer, event_id, state, attempt_count, max_attempts, next_attempt_at, last_error, steps_done, completed_at, created_at, updated_at`

func scanJob(row rowScanner) (*dispatch.Job, error) {
	var j dispatch.Job
	err := row.Scan(
		&j.ID,
		&j.Group,
		&j.Consumer,
		&j.EventID,
		&j.State,
		&j.AttemptCount,
		&j.MaxAttempts,
		&j.NextAttemptAt,
		&j.LastError,
		&j.StepsDone,
		&j.CompletedAt,
		&j.CreatedAt,
		&j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &j, nil
}

// ──────────────────────────────────────────────────
// Proposals
// ──────────────────────────────────────────────────

const proposalColumns = `id, workspace_id, target_type, target_id, intent, requested_event_id, correlation_id, user_id, payload, metadata, source, status, reviewed_by, review_comment, reviewed_at, expires_at, created_at, updated_at`

func scanProposal(row rowScanner) (*proposal.Proposal, error) {
	var p proposal.Proposal
	err := row.Scan(
		&p.ID,
		&p.WorkspaceID,
		&p.TargetType,
		&p.TargetID,
		&p.Intent,
		&p.RequestedEventID,
		&p.CorrelationID,
		&p.UserID,
		&p.Payload,
		&p.Metadata,
		&p.Source,
		&p.Status,
		&p.ReviewedBy,
		&p.ReviewComment,
		&p.ReviewedAt,
		&p.ExpiresAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &p, nil
}

// ──────────────────────────────────────────────────
// Subscriptions and deliveries
// ──────────────────────────────────────────────────

const subscriptionColumns = `id, user_id, url, description, secret, event_types, active, rate_limit, metadata, last_triggered_at, created_at, updated_at`

func scanSubscription(row rowScanner) (*webhook.Subscription, error) {
	var sub webhook.Subscription
	err := row.Scan(
		&sub.ID,
		&sub.UserID,
		&sub.URL,
		&sub.Description,
		&sub.Secret,
		&sub.EventTypes,
		&sub.Active,
		&sub.RateLimit,
		&sub.Metadata,
		&sub.LastTriggeredAt,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &sub, nil
}

const deliveryColumns = `id, subscription_id, event_id, status, response_status, attempt, error, latency_ms, delivered_at, created_at, updated_at`

func scanDelivery(row rowScanner) (*webhook.Delivery, error) {
	var d webhook.Delivery
	err := row.Scan(
		&d.ID,
		&d.SubscriptionID,
		&d.EventID,
		&d.Status,
		&d.ResponseStatus,
		&d.Attempt,
		&d.Error,
		&d.LatencyMs,
		&d.DeliveredAt,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &d, nil
}

// ──────────────────────────────────────────────────
// Dead letters
// ──────────────────────────────────────────────────

const deadLetterColumns = `id, job_id, event_id, group_name, consumer, event_type, user_id, error, attempt_count, max_attempts, replayed_at, failed_at, created_at, updated_at`

func scanDeadLetter(row rowScanner) (*deadletter.Entry, error) {
	var e deadletter.Entry
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
		&e.ReplayedAt,
		&e.FailedAt,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &e, nil
}
