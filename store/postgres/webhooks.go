package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lorekeep/spindle"
	"github.com/lorekeep/spindle/id"
	"github.com/lorekeep/spindle/webhook"
)

// ──────────────────────────────────────────────────
// Subscriptions
// ──────────────────────────────────────────────────

// CreateSubscription persists a new subscription.
func (s *Store) CreateSubscription(ctx context.Context, sub *webhook.Subscription) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO spindle_subscriptions (`+subscriptionColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		sub.ID,
		sub.UserID,
		sub.URL,
		sub.Description,
		sub.Secret,
		sub.EventTypes,
		sub.Active,
		sub.RateLimit,
		sub.Metadata,
		sub.LastTriggeredAt,
		sub.CreatedAt,
		sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create subscription: %w", err)
	}

	return nil
}

// GetSubscription returns a subscription by ID.
func (s *Store) GetSubscription(ctx context.Context, subID id.ID) (*webhook.Subscription, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM spindle_subscriptions WHERE id = $1`,
		subID,
	)

	sub, err := scanSubscription(row)
	if isNoRows(err) {
		return nil, spindle.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get subscription: %w", err)
	}

	return sub, nil
}

// UpdateSubscription persists changes to a subscription.
func (s *Store) UpdateSubscription(ctx context.Context, sub *webhook.Subscription) error {
	sub.UpdatedAt = time.Now().UTC()

	tag, err := s.pool.Exec(ctx,
		`UPDATE spindle_subscriptions
		 SET url = $2, description = $3, secret = $4, event_types = $5, active = $6,
		     rate_limit = $7, metadata = $8, updated_at = $9
		 WHERE id = $1`,
		sub.ID,
		sub.URL,
		sub.Description,
		sub.Secret,
		sub.EventTypes,
		sub.Active,
		sub.RateLimit,
		sub.Metadata,
		sub.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return spindle.ErrSubscriptionNotFound
	}

	return nil
}

// DeleteSubscription removes a subscription.
func (s *Store) DeleteSubscription(ctx context.Context, subID id.ID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM spindle_subscriptions WHERE id = $1`,
		subID,
	)
	if err != nil {
		return fmt.Errorf("postgres: delete subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return spindle.ErrSubscriptionNotFound
	}

	return nil
}

// ListSubscriptions returns a user's subscriptions, oldest first.
func (s *Store) ListSubscriptions(ctx context.Context, userID string, opts webhook.ListOpts) ([]*webhook.Subscription, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + subscriptionColumns + ` FROM spindle_subscriptions WHERE user_id = $1`)
	args := []any{userID}

	if opts.Active != nil {
		args = append(args, *opts.Active)
		sb.WriteString(` AND active = $` + strconv.Itoa(len(args)))
	}

	sb.WriteString(` ORDER BY created_at ASC`)

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
		return nil, fmt.Errorf("postgres: list subscriptions: %w", err)
	}

	return collectRows(rows, scanSubscription)
}

// MatchSubscriptions returns a user's active subscriptions listening for
// the exact event type.
func (s *Store) MatchSubscriptions(ctx context.Context, userID, eventType string) ([]*webhook.Subscription, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+subscriptionColumns+` FROM spindle_subscriptions
		 WHERE user_id = $1 AND active AND $2 = ANY(event_types)
		 ORDER BY created_at ASC`,
		userID, eventType,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: match subscriptions: %w", err)
	}

	return collectRows(rows, scanSubscription)
}

// SetSubscriptionActive enables or disables a subscription.
func (s *Store) SetSubscriptionActive(ctx context.Context, subID id.ID, active bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE spindle_subscriptions SET active = $2, updated_at = $3 WHERE id = $1`,
		subID, active, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("postgres: set subscription active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return spindle.ErrSubscriptionNotFound
	}

	return nil
}

// TouchSubscription records a successful delivery time.
func (s *Store) TouchSubscription(ctx context.Context, subID id.ID, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE spindle_subscriptions SET last_triggered_at = $2, updated_at = $3 WHERE id = $1`,
		subID, at, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("postgres: touch subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return spindle.ErrSubscriptionNotFound
	}

	return nil
}

// ──────────────────────────────────────────────────
// Deliveries
// ──────────────────────────────────────────────────

// CreateDelivery persists a delivery attempt row.
func (s *Store) CreateDelivery(ctx context.Context, d *webhook.Delivery) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO spindle_deliveries (`+deliveryColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		d.ID,
		d.SubscriptionID,
		d.EventID,
		d.Status,
		d.ResponseStatus,
		d.Attempt,
		d.Error,
		d.LatencyMs,
		d.DeliveredAt,
		d.CreatedAt,
		d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create delivery: %w", err)
	}

	return nil
}

// UpdateDelivery settles a delivery attempt row.
func (s *Store) UpdateDelivery(ctx context.Context, d *webhook.Delivery) error {
	d.UpdatedAt = time.Now().UTC()

	tag, err := s.pool.Exec(ctx,
		`UPDATE spindle_deliveries
		 SET status = $2, response_status = $3, error = $4, latency_ms = $5,
		     delivered_at = $6, updated_at = $7
		 WHERE id = $1`,
		d.ID,
		d.Status,
		d.ResponseStatus,
		d.Error,
		d.LatencyMs,
		d.DeliveredAt,
		d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update delivery: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return spindle.ErrDeliveryNotFound
	}

	return nil
}

// GetDelivery returns a delivery by ID.
func (s *Store) GetDelivery(ctx context.Context, dlvID id.ID) (*webhook.Delivery, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+deliveryColumns+` FROM spindle_deliveries WHERE id = $1`,
		dlvID,
	)

	d, err := scanDelivery(row)
	if isNoRows(err) {
		return nil, spindle.ErrDeliveryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get delivery: %w", err)
	}

	return d, nil
}

// ListDeliveries returns a subscription's delivery rows, newest first.
func (s *Store) ListDeliveries(ctx context.Context, subID id.ID, opts webhook.DeliveryListOpts) ([]*webhook.Delivery, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + deliveryColumns + ` FROM spindle_deliveries WHERE subscription_id = $1`)
	args := []any{subID}

	if opts.Status != nil {
		args = append(args, *opts.Status)
		sb.WriteString(` AND status = $` + strconv.Itoa(len(args)))
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
		return nil, fmt.Errorf("postgres: list deliveries: %w", err)
	}

	return collectRows(rows, scanDelivery)
}

// ListDeliveriesByEvent returns every delivery row of one event, oldest
// first.
func (s *Store) ListDeliveriesByEvent(ctx context.Context, evtID id.ID) ([]*webhook.Delivery, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+deliveryColumns+` FROM spindle_deliveries WHERE event_id = $1 ORDER BY created_at ASC`,
		evtID,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list deliveries by event: %w", err)
	}

	return collectRows(rows, scanDelivery)
}

// CountDeliveries counts the attempts recorded for a subscription and
// event pair.
func (s *Store) CountDeliveries(ctx context.Context, subID, evtID id.ID) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM spindle_deliveries WHERE subscription_id = $1 AND event_id = $2`,
		subID, evtID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count deliveries: %w", err)
	}

	return n, nil
}
