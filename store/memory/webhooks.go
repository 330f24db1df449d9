package memory

import (
	"context"
	"sort"
	"time"

	"github.com/lorekeep/spindle"
	"github.com/lorekeep/spindle/id"
	"github.com/lorekeep/spindle/webhook"
)

func copySubscription(sub *webhook.Subscription) *webhook.Subscription {
	cp := *sub
	if len(sub.EventTypes) > 0 {
		cp.EventTypes = append([]string(nil), sub.EventTypes...)
	}

	return &cp
}

func copyDelivery(d *webhook.Delivery) *webhook.Delivery {
	cp := *d
	return &cp
}

// ──────────────────────────────────────────────────
// Webhook subscriptions
// ──────────────────────────────────────────────────

// CreateSubscription persists a new subscription.
func (s *Store) CreateSubscription(_ context.Context, sub *webhook.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscriptions[sub.ID.String()] = copySubscription(sub)

	return nil
}

// GetSubscription returns a subscription by ID.
func (s *Store) GetSubscription(_ context.Context, subID id.ID) (*webhook.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subscriptions[subID.String()]
	if !ok {
		return nil, spindle.ErrSubscriptionNotFound
	}

	return copySubscription(sub), nil
}

// UpdateSubscription modifies an existing subscription.
func (s *Store) UpdateSubscription(_ context.Context, sub *webhook.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sub.ID.String()
	if _, ok := s.subscriptions[key]; !ok {
		return spindle.ErrSubscriptionNotFound
	}

	sub.UpdatedAt = time.Now().UTC()
	s.subscriptions[key] = copySubscription(sub)

	return nil
}

// DeleteSubscription removes a subscription.
func (s *Store) DeleteSubscription(_ context.Context, subID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := subID.String()
	if _, ok := s.subscriptions[key]; !ok {
		return spindle.ErrSubscriptionNotFound
	}

	delete(s.subscriptions, key)

	return nil
}

// ListSubscriptions returns a user's subscriptions.
func (s *Store) ListSubscriptions(_ context.Context, userID string, opts webhook.ListOpts) ([]*webhook.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*webhook.Subscription
	for _, sub := range s.subscriptions {
		if sub.UserID != userID {
			continue
		}

		if opts.Active != nil && sub.Active != *opts.Active {
			continue
		}

		out = append(out, copySubscription(sub))
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	return applyPagination(out, opts.Offset, opts.Limit), nil
}

// MatchSubscriptions returns a user's active subscriptions whose event
// type list contains the exact type.
func (s *Store) MatchSubscriptions(_ context.Context, userID, eventType string) ([]*webhook.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*webhook.Subscription
	for _, sub := range s.subscriptions {
		if sub.UserID != userID || !sub.Active {
			continue
		}

		if !sub.Matches(eventType) {
			continue
		}

		out = append(out, copySubscription(sub))
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	return out, nil
}

// SetSubscriptionActive enables or disables a subscription.
func (s *Store) SetSubscriptionActive(_ context.Context, subID id.ID, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[subID.String()]
	if !ok {
		return spindle.ErrSubscriptionNotFound
	}

	sub.Active = active
	sub.UpdatedAt = time.Now().UTC()

	return nil
}

// TouchSubscription records a successful delivery time.
func (s *Store) TouchSubscription(_ context.Context, subID id.ID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[subID.String()]
	if !ok {
		return spindle.ErrSubscriptionNotFound
	}

	sub.LastTriggeredAt = &at

	return nil
}

// ──────────────────────────────────────────────────
// Webhook deliveries
// ──────────────────────────────────────────────────

// CreateDelivery persists a delivery attempt row.
func (s *Store) CreateDelivery(_ context.Context, d *webhook.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deliveries[d.ID.String()] = copyDelivery(d)

	return nil
}

// UpdateDelivery settles a delivery attempt row.
func (s *Store) UpdateDelivery(_ context.Context, d *webhook.Delivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := d.ID.String()
	if _, ok := s.deliveries[key]; !ok {
		return spindle.ErrDeliveryNotFound
	}

	d.UpdatedAt = time.Now().UTC()
	s.deliveries[key] = copyDelivery(d)

	return nil
}

// GetDelivery returns a delivery by ID.
func (s *Store) GetDelivery(_ context.Context, dlvID id.ID) (*webhook.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.deliveries[dlvID.String()]
	if !ok {
		return nil, spindle.ErrDeliveryNotFound
	}

	return copyDelivery(d), nil
}

// ListDeliveries returns a subscription's delivery rows, newest first.
func (s *Store) ListDeliveries(_ context.Context, subID id.ID, opts webhook.DeliveryListOpts) ([]*webhook.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*webhook.Delivery
	for _, d := range s.deliveries {
		if d.SubscriptionID != subID {
			continue
		}

		if opts.Status != nil && d.Status != *opts.Status {
			continue
		}

		out = append(out, copyDelivery(d))
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	return applyPagination(out, opts.Offset, opts.Limit), nil
}

// ListDeliveriesByEvent returns every delivery row of one event.
func (s *Store) ListDeliveriesByEvent(_ context.Context, evtID id.ID) ([]*webhook.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*webhook.Delivery
	for _, d := range s.deliveries {
		if d.EventID != evtID {
			continue
		}

		out = append(out, copyDelivery(d))
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	return out, nil
}

// CountDeliveries counts the attempts recorded for a subscription and
// event pair.
func (s *Store) CountDeliveries(_ context.Context, subID, evtID id.ID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, d := range s.deliveries {
		if d.SubscriptionID == subID && d.EventID == evtID {
			n++
		}
	}

	return n, nil
}
