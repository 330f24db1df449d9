package eventlog

import (
	"context"

	"github.com/lorekeep/spindle/id"
)

// PublishInput describes one event to publish. Type carries the full
// subject.action.phase form; Data may be any JSON-marshalable value and
// is serialized once by the publisher.
type PublishInput struct {
	Type           string
	AggregateID    string
	AggregateType  AggregateType
	UserID         string
	Data           any
	Metadata       map[string]string
	Source         Source
	CorrelationID  id.ID
	CausationID    id.ID
	IdempotencyKey string
}

// Publisher is the single write port into the pipeline. Subsystems that
// emit follow-up events (validator, proposal review, executors) depend on
// this interface rather than on the pipeline itself.
type Publisher interface {
	// Publish validates, appends, and routes one event, returning the
	// stored record. Re-publishing with an idempotency key that was
	// already used returns the previously stored record.
	Publish(ctx context.Context, in PublishInput) (*Event, error)
}
