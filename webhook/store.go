package webhook

import (
	"context"
	"time"

	"github.com/lorekeep/spindle/id"
)

// Store defines the persistence contract for subscriptions and their
// delivery audit rows.
type Store interface {
	// CreateSubscription persists a new subscription.
	CreateSubscription(ctx context.Context, sub *Subscription) error

	// GetSubscription returns a subscription by ID.
	GetSubscription(ctx context.Context, subID id.ID) (*Subscription, error)

	// UpdateSubscription modifies an existing subscription.
	UpdateSubscription(ctx context.Context, sub *Subscription) error

	// DeleteSubscription removes a subscription.
	DeleteSubscription(ctx context.Context, subID id.ID) error

	// ListSubscriptions returns a user's subscriptions.
	ListSubscriptions(ctx context.Context, userID string, opts ListOpts) ([]*Subscription, error)

	// MatchSubscriptions returns a user's active subscriptions whose
	// event type list contains the exact type. This is the broker's hot
	// path, called once per appended event.
	MatchSubscriptions(ctx context.Context, userID, eventType string) ([]*Subscription, error)

	// SetSubscriptionActive enables or disables a subscription.
	SetSubscriptionActive(ctx context.Context, subID id.ID, active bool) error

	// TouchSubscription records a successful delivery time.
	TouchSubscription(ctx context.Context, subID id.ID, at time.Time) error

	// CreateDelivery persists a delivery attempt row.
	CreateDelivery(ctx context.Context, d *Delivery) error

	// UpdateDelivery settles a delivery attempt row.
	UpdateDelivery(ctx context.Context, d *Delivery) error

	// GetDelivery returns a delivery by ID.
	GetDelivery(ctx context.Context, dlvID id.ID) (*Delivery, error)

	// ListDeliveries returns a subscription's delivery rows, newest first.
	ListDeliveries(ctx context.Context, subID id.ID, opts DeliveryListOpts) ([]*Delivery, error)

	// ListDeliveriesByEvent returns every delivery row of one event.
	ListDeliveriesByEvent(ctx context.Context, evtID id.ID) ([]*Delivery, error)

	// CountDeliveries counts the attempts recorded for a subscription
	// and event pair.
	CountDeliveries(ctx context.Context, subID, evtID id.ID) (int, error)
}
