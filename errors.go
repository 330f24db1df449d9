package spindle

import "errors"

// Sentinel errors returned by Spindle operations.
var (
	// ErrNoStore is returned when a Pipeline is created without a store.
	ErrNoStore = errors.New("spindle: store is required")

	// ErrNoRegistry is returned when a Pipeline is created without an
	// event type registry.
	ErrNoRegistry = errors.New("spindle: registry is required")

	// ErrAlreadyRunning is returned when Start is called on a running pipeline.
	ErrAlreadyRunning = errors.New("spindle: pipeline already running")

	// ErrConcurrencyConflict is returned when an append's expected version
	// does not match the aggregate's current head. Nothing is written.
	ErrConcurrencyConflict = errors.New("spindle: concurrency conflict")

	// ErrPermissionDenied is returned when a caller lacks the role an
	// intent requires.
	ErrPermissionDenied = errors.New("spindle: permission denied")

	// ErrValidationPending is returned when an intent is parked behind an
	// open proposal awaiting human review.
	ErrValidationPending = errors.New("spindle: validation pending approval")

	// ErrExecutorStepFailure is returned when a step inside an executor
	// sequence fails. The failing step name travels in dispatch.StepError.
	ErrExecutorStepFailure = errors.New("spindle: executor step failure")

	// ErrDeliveryFailure is returned when a webhook delivery attempt does
	// not produce a 2xx response.
	ErrDeliveryFailure = errors.New("spindle: delivery failure")

	// ErrUnknownEventType is returned when an event's subject is not in
	// the registry.
	ErrUnknownEventType = errors.New("spindle: unknown event type")

	// ErrInvalidEventType is returned when an event type string does not
	// parse as subject.action.phase.
	ErrInvalidEventType = errors.New("spindle: invalid event type")

	// ErrSchemaViolation is returned when intent data fails the JSON Schema
	// declared for its subject.
	ErrSchemaViolation = errors.New("spindle: payload schema violation")

	// ErrDuplicateIdempotencyKey is returned by stores when an event with
	// the same user and idempotency key already exists.
	ErrDuplicateIdempotencyKey = errors.New("spindle: duplicate idempotency key")

	// ErrEventNotFound is returned when an event cannot be found.
	ErrEventNotFound = errors.New("spindle: event not found")

	// ErrProposalNotFound is returned when a proposal cannot be found.
	ErrProposalNotFound = errors.New("spindle: proposal not found")

	// ErrProposalClosed is returned when reviewing a proposal that is no
	// longer pending.
	ErrProposalClosed = errors.New("spindle: proposal is not pending")

	// ErrSubscriptionNotFound is returned when a webhook subscription
	// cannot be found.
	ErrSubscriptionNotFound = errors.New("spindle: subscription not found")

	// ErrDeliveryNotFound is returned when a webhook delivery cannot be found.
	ErrDeliveryNotFound = errors.New("spindle: delivery not found")

	// ErrJobNotFound is returned when a dispatch job cannot be found.
	ErrJobNotFound = errors.New("spindle: job not found")

	// ErrDeadLetterNotFound is returned when a dead letter entry cannot be found.
	ErrDeadLetterNotFound = errors.New("spindle: dead letter entry not found")

	// ErrStoreClosed is returned when a store operation is attempted after
	// the store is closed.
	ErrStoreClosed = errors.New("spindle: store is closed")

	// ErrMigrationFailed is returned when a database migration fails.
	ErrMigrationFailed = errors.New("spindle: migration failed")
)
