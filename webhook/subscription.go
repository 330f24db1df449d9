// Package webhook delivers events to per-user HTTP subscriptions. The
// broker consumes every appended event, fans out to the subscriptions
// whose event type list contains the exact type, signs each request
// body, and records one delivery row per attempt. Failed deliveries are
// never retried automatically; operators redeliver by hand.
package webhook

import (
	"time"

	"github.com/lorekeep/spindle/id"
	"github.com/lorekeep/spindle/internal/entity"
)

// Subscription is a user-registered webhook target.
type Subscription struct {
	entity.Entity

	// ID is the unique TypeID for this subscription.
	ID id.ID `json:"id"`

	// UserID identifies the user that owns this subscription.
	UserID string `json:"user_id"`

	// URL is the delivery URL.
	URL string `json:"url"`

	// Description is a human-readable note.
	Description string `json:"description,omitempty"`

	// Secret is the HMAC signing secret. Never serialized.
	Secret string `json:"-"`

	// EventTypes is the list of full-form event types this subscription
	// receives. Matching is exact; there are no patterns here.
	EventTypes []string `json:"event_types"`

	// Active indicates whether the subscription receives deliveries.
	Active bool `json:"active"`

	// RateLimit is the maximum deliveries per second. 0 means unlimited.
	RateLimit int `json:"rate_limit"`

	// Metadata holds user-defined key-value pairs.
	Metadata map[string]string `json:"metadata,omitempty"`

	// LastTriggeredAt is the time of the last successful delivery.
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`
}

// Matches reports whether the subscription's event type list contains
// the exact full-form type.
func (s *Subscription) Matches(eventType string) bool {
	for _, t := range s.EventTypes {
		if t == eventType {
			return true
		}
	}

	return false
}

// ListOpts configures filtering and pagination for subscription listing.
type ListOpts struct {
	Offset int
	Limit  int
	Active *bool
}
