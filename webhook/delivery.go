package webhook

import (
	"time"

	"github.com/lorekeep/spindle/id"
	"github.com/lorekeep/spindle/internal/entity"
)

// DeliveryStatus represents the outcome of one delivery attempt.
type DeliveryStatus string

const (
	// DeliveryPending indicates the attempt is in flight.
	DeliveryPending DeliveryStatus = "pending"

	// DeliverySuccess indicates the receiver answered 2xx.
	DeliverySuccess DeliveryStatus = "success"

	// DeliveryFailed indicates a non-2xx answer or a transport error.
	DeliveryFailed DeliveryStatus = "failed"
)

// Delivery is the audit record of exactly one webhook attempt. Every
// attempt, automatic or manual, writes its own row; rows are never
// updated once the attempt settles.
type Delivery struct {
	entity.Entity

	// ID is the unique TypeID for this delivery.
	ID id.ID `json:"id"`

	// SubscriptionID references the target subscription.
	SubscriptionID id.ID `json:"subscription_id"`

	// EventID references the event that was delivered.
	EventID id.ID `json:"event_id"`

	// Status is the attempt outcome.
	Status DeliveryStatus `json:"status"`

	// ResponseStatus is the HTTP status code, 0 when the request never
	// completed.
	ResponseStatus int `json:"response_status,omitempty"`

	// Attempt numbers the attempts for this subscription and event,
	// starting at 1. Manual redelivery increments it.
	Attempt int `json:"attempt"`

	// Error is the transport error or a response snippet for non-2xx
	// answers.
	Error string `json:"error,omitempty"`

	// LatencyMs is the request latency in milliseconds.
	LatencyMs int `json:"latency_ms,omitempty"`

	// DeliveredAt is when the receiver acknowledged with 2xx.
	DeliveredAt *time.Time `json:"delivered_at,omitempty"`
}

// DeliveryListOpts configures filtering and pagination for delivery listing.
type DeliveryListOpts struct {
	Offset int
	Limit  int
	Status *DeliveryStatus
}
