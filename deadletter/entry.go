// Package deadletter records jobs that exhausted their attempts. The
// entry keeps enough of the job and event to diagnose the failure and to
// replay it as a fresh job once the cause is fixed.
package deadletter

import (
	"time"

	"github.com/lorekeep/spindle/id"
	"github.com/lorekeep/spindle/internal/entity"
)

// Entry represents one permanently failed job.
type Entry struct {
	entity.Entity

	// ID is the unique TypeID for this entry.
	ID id.ID `json:"id"`

	// JobID references the failed job.
	JobID id.ID `json:"job_id"`

	// EventID references the event the job was processing.
	EventID id.ID `json:"event_id"`

	// Group is the consumer group the job ran in.
	Group string `json:"group"`

	// Consumer is the handler key within the group.
	Consumer string `json:"consumer"`

	// EventType is the event type name for filtering. Empty when the
	// event itself could not be loaded.
	EventType string `json:"event_type,omitempty"`

	// UserID identifies the tenant that owns the event.
	UserID string `json:"user_id,omitempty"`

	// Error is the error message from the final attempt.
	Error string `json:"error"`

	// AttemptCount is the total number of attempts made.
	AttemptCount int `json:"attempt_count"`

	// MaxAttempts is the cap the job ran under.
	MaxAttempts int `json:"max_attempts"`

	// ReplayedAt is set when the entry has been replayed.
	ReplayedAt *time.Time `json:"replayed_at,omitempty"`

	// FailedAt is when the job permanently failed.
	FailedAt time.Time `json:"failed_at"`
}

// ListOpts configures filtering and pagination for dead letter listing.
type ListOpts struct {
	Offset int
	Limit  int
	Group  string
	UserID string
	From   *time.Time
	To     *time.Time
}
