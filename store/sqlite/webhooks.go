package sqlite

import (
	"context"
	"fmt"
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
	eventTypes, err := marshalJSON(sub.EventTypes)
	if err != nil {
		return err
	}
	metadata, err := marshalJSON(sub.Metadata)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO spindle_subscriptions (`+subscriptionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID,
		sub.UserID,
		sub.URL,
		sub.Description,
		sub.Secret,
		eventTypes,
		sub.Active,
		sub.RateLimit,
		metadata,
		formatTimePtr(sub.LastTriggeredAt),
		formatTime(sub.CreatedAt),
		formatTime(sub.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: create subscription: %w", err)
	}

	return nil
}

// GetSubscription returns a subscription by ID.
func (s *Store) GetSubscription(ctx context.Context, subID id.ID) (*webhook.Subscription, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+subscriptionColumns+` FROM spindle_subscriptions WHERE id = ?`,
		subID,
	)

	sub, err := scanSubscription(row)
	if isNoRows(err) {
		return nil, spindle.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get subscription: %w", err)
	}

	return sub, nil
}

// UpdateSubscription persists changes to a subscription.
func (s *Store) UpdateSubscription(ctx context.Context, sub *webhook.Subscription) error {
	sub.UpdatedAt = time.Now().UTC()

	eventTypes, err := marshalJSON(sub.EventTypes)
	if err != nil {
		return err
	}
	metadata, err := marshalJSON(sub.Metadata)
	if err != nil {
		return err
	}

	n, err := execAffect(ctx, s.db,
		`UPDATE spindle_subscriptions
		 SET url = ?, description = ?, secret = ?, event_types = ?, active = ?,
		     rate_limit = ?, metadata = ?, updated_at = ?
		 WHERE id = ?`,
		sub.URL,
		sub.Description,
		sub.Secret,
		eventTypes,
		sub.Active,
		sub.RateLimit,
		metadata,
		formatTime(sub.UpdatedAt),
		sub.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: update subscription: %w", err)
	}
	if n == 0 {
		return spindle.ErrSubscriptionNotFound
	}

	return nil
}

// DeleteSubscription removes a subscription.
func (s *Store) DeleteSubscription(ctx context.Context, subID id.ID) error {
	n, err := execAffect(ctx, s.db,
		`DELETE FROM spindle_subscriptions WHERE id = ?`,
		subID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: delete subscription: %w", err)
	}
	if n == 0 {
		return spindle.ErrSubscriptionNotFound
	}

	return nil
}

// ListSubscriptions returns a user's subscriptions, oldest first.
func (s *Store) ListSubscriptions(ctx context.Context, userID string, opts webhook.ListOpts) ([]*webhook.Subscription, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + subscriptionColumns + ` FROM spindle_subscriptions WHERE user_id = ?`)
	args := []any{userID}

	if opts.Active != nil {
		sb.WriteString(` AND active = ?`)
		args = append(args, *opts.Active)
	}

	sb.WriteString(` ORDER BY created_at ASC`)

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
		return nil, fmt.Errorf("sqlite: list subscriptions: %w", err)
	}

	return collectRows(rows, scanSubscription)
}

// MatchSubscriptions returns a user's active subscriptions listening for
// the exact event type. event_types is a JSON column, so the type match
// happens in Go.
func (s *Store) MatchSubscriptions(ctx context.Context, userID, eventType string) ([]*webhook.Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+subscriptionColumns+` FROM spindle_subscriptions
		 WHERE user_id = ? AND active
		 ORDER BY created_at ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: match subscriptions: %w", err)
	}

	subs, err := collectRows(rows, scanSubscription)
	if err != nil {
		return nil, err
	}

	var matched []*webhook.Subscription
	for _, sub := range subs {
		if sub.Matches(eventType) {
			matched = append(matched, sub)
		}
	}

	return matched, nil
}

// SetSubscriptionActive enables or disables a subscription.
func (s *Store) SetSubscriptionActive(ctx context.Context, subID id.ID, active bool) error {
	n, err := execAffect(ctx, s.db,
		`UPDATE spindle_subscriptions SET active = ?, updated_at = ? WHERE id = ?`,
		active, formatTime(time.Now().UTC()), subID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: set subscription active: %w", err)
	}
	if n == 0 {
		return spindle.ErrSubscriptionNotFound
	}

	return nil
}

// TouchSubscription records a successful delivery time.
func (s *Store) TouchSubscription(ctx context.Context, subID id.ID, at time.Time) error {
	n, err := execAffect(ctx, s.db,
		`UPDATE spindle_subscriptions SET last_triggered_at = ?, updated_at = ? WHERE id = ?`,
		formatTime(at), formatTime(time.Now().UTC()), subID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: touch subscription: %w", err)
	}
	if n == 0 {
		return spindle.ErrSubscriptionNotFound
	}

	return nil
}

// ──────────────────────────────────────────────────
// Deliveries
// ──────────────────────────────────────────────────

// CreateDelivery persists a delivery attempt row.
func (s *Store) CreateDelivery(ctx context.Context, d *webhook.Delivery) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO spindle_deliveries (`+deliveryColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID,
		d.SubscriptionID,
		d.EventID,
		d.Status,
		d.ResponseStatus,
		d.Attempt,
		d.Error,
		d.LatencyMs,
		formatTimePtr(d.DeliveredAt),
		formatTime(d.CreatedAt),
		formatTime(d.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: create delivery: %w", err)
	}

	return nil
}

// UpdateDelivery settles a delivery attempt row.
func (s *Store) UpdateDelivery(ctx context.Context, d *webhook.Delivery) error {
	d.UpdatedAt = time.Now().UTC()

	n, err := execAffect(ctx, s.db,
		`UPDATE spindle_deliveries
		 SET status = ?, response_status = ?, error = ?, latency_ms = ?,
		     delivered_at = ?, updated_at = ?
		 WHERE id = ?`,
		d.Status,
		d.ResponseStatus,
		d.Error,
		d.LatencyMs,
		formatTimePtr(d.DeliveredAt),
		formatTime(d.UpdatedAt),
		d.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: update delivery: %w", err)
	}
	if n == 0 {
		return spindle.ErrDeliveryNotFound
	}

	return nil
}

// GetDelivery returns a delivery by ID.
func (s *Store) GetDelivery(ctx context.Context, dlvID id.ID) (*webhook.Delivery, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+deliveryColumns+` FROM spindle_deliveries WHERE id = ?`,
		dlvID,
	)

	d, err := scanDelivery(row)
	if isNoRows(err) {
		return nil, spindle.ErrDeliveryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get delivery: %w", err)
	}

	return d, nil
}

// ListDeliveries returns a subscription's delivery rows, newest first.
func (s *Store) ListDeliveries(ctx context.Context, subID id.ID, opts webhook.DeliveryListOpts) ([]*webhook.Delivery, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + deliveryColumns + ` FROM spindle_deliveries WHERE subscription_id = ?`)
	args := []any{subID}

	if opts.Status != nil {
		sb.WriteString(` AND status = ?`)
		args = append(args, *opts.Status)
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
		return nil, fmt.Errorf("sqlite: list deliveries: %w", err)
	}

	return collectRows(rows, scanDelivery)
}

// ListDeliveriesByEvent returns every delivery row of one event, oldest
// first.
func (s *Store) ListDeliveriesByEvent(ctx context.Context, evtID id.ID) ([]*webhook.Delivery, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+deliveryColumns+` FROM spindle_deliveries WHERE event_id = ? ORDER BY created_at ASC`,
		evtID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list deliveries by event: %w", err)
	}

	return collectRows(rows, scanDelivery)
}

// CountDeliveries counts the attempts recorded for a subscription and
// event pair.
func (s *Store) CountDeliveries(ctx context.Context, subID, evtID id.ID) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM spindle_deliveries WHERE subscription_id = ? AND event_id = ?`,
		subID, evtID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite: count deliveries: %w", err)
	}

	return n, nil
}
