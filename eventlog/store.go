package eventlog

import (
	"context"

	"github.com/lorekeep/spindle/id"
)

// StreamOpts filters an aggregate stream read. Zero values mean unbounded.
type StreamOpts struct {
	// FromVersion is the inclusive lower version bound.
	FromVersion int64

	// ToVersion is the inclusive upper version bound. Zero means head.
	ToVersion int64

	// Types restricts the result to the given full-form event types.
	Types []string
}

// UserStreamOpts filters a per-user activity read.
type UserStreamOpts struct {
	// Days restricts the result to events appended within the last N
	// days. Zero means no time window.
	Days int

	// Offset and Limit paginate the result. Limit zero means no cap.
	Offset int
	Limit  int

	// Types restricts the result to the given full-form event types.
	Types []string

	// AggregateTypes restricts the result to the given aggregate types.
	AggregateTypes []AggregateType
}

// Store is the persistence contract for the append-only event log.
//
// Versions are assigned by the store inside the append transaction:
// expected must equal the aggregate's current head (0 for a new
// aggregate) or the append fails with spindle.ErrConcurrencyConflict and
// nothing is written. A duplicate (userId, idempotencyKey) pair fails
// with spindle.ErrDuplicateIdempotencyKey, again without writing.
type Store interface {
	// AppendEvent durably appends one event at version expected+1.
	// The store assigns evt.Version and evt.Timestamp.
	AppendEvent(ctx context.Context, expected int64, evt *Event) error

	// AppendBatch appends events to a single aggregate all-or-nothing,
	// at versions expected+1 .. expected+len(evts). All events must
	// share one AggregateID.
	AppendBatch(ctx context.Context, expected int64, evts []*Event) error

	// GetEvent returns an event by ID.
	GetEvent(ctx context.Context, evtID id.ID) (*Event, error)

	// AggregateStream returns an aggregate's events in ascending version
	// order.
	AggregateStream(ctx context.Context, aggregateID string, opts StreamOpts) ([]*Event, error)

	// UserStream returns a user's events in descending timestamp order.
	UserStream(ctx context.Context, userID string, opts UserStreamOpts) ([]*Event, error)

	// CorrelatedEvents returns every event sharing a correlation ID in
	// ascending timestamp order.
	CorrelatedEvents(ctx context.Context, correlationID id.ID) ([]*Event, error)

	// AggregateVersion returns the current head version of an aggregate,
	// 0 when the aggregate has no events.
	AggregateVersion(ctx context.Context, aggregateID string) (int64, error)

	// ListByCausation returns the direct children of an event in
	// ascending timestamp order.
	ListByCausation(ctx context.Context, causationID id.ID) ([]*Event, error)

	// EventByIdempotencyKey returns the event previously appended with
	// the given user-scoped idempotency key.
	EventByIdempotencyKey(ctx context.Context, userID, key string) (*Event, error)
}
