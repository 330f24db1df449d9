// Package proposal holds intents that need a human decision before they
// may proceed. The validator parks an AI-produced intent here instead of
// validating it directly; an approval appends the validated event the
// intent was waiting for, a rejection appends a denied event, and an
// unreviewed proposal expires after its TTL without producing any event.
package proposal

import (
	"encoding/json"
	"time"

	"github.com/lorekeep/spindle/eventlog"
	"github.com/lorekeep/spindle/id"
	"github.com/lorekeep/spindle/internal/entity"
)

// Status represents the review state of a proposal.
type Status string

const (
	// StatusPending indicates the proposal awaits a reviewer.
	StatusPending Status = "pending"

	// StatusApproved indicates a reviewer accepted the intent. The
	// matching validated event has been appended.
	StatusApproved Status = "approved"

	// StatusRejected indicates a reviewer declined the intent. The
	// matching denied event has been appended.
	StatusRejected Status = "rejected"

	// StatusExpired indicates the proposal passed its deadline without a
	// decision. No event is appended on expiry.
	StatusExpired Status = "expired"
)

// Open reports whether the proposal still awaits a decision.
func (s Status) Open() bool {
	return s == StatusPending
}

// Proposal is one parked intent awaiting review. It carries everything
// needed to replay the intent as a validated event on approval, so the
// decision does not depend on re-reading the requested event.
type Proposal struct {
	entity.Entity

	// ID is the unique TypeID for this proposal.
	ID id.ID `json:"id"`

	// WorkspaceID scopes the proposal to the workspace whose reviewers
	// may decide it.
	WorkspaceID string `json:"workspace_id"`

	// TargetType classifies the aggregate the intent acts on.
	TargetType eventlog.AggregateType `json:"target_type"`

	// TargetID is the aggregate the intent acts on.
	TargetID string `json:"target_id"`

	// Intent is the subject.action pair being proposed, without a phase
	// (e.g. "note.create").
	Intent string `json:"intent"`

	// RequestedEventID is the requested event that spawned this
	// proposal. The validated or denied event appended on review uses it
	// as the causation id.
	RequestedEventID id.ID `json:"requested_event_id"`

	// CorrelationID is carried from the requested event so the review
	// outcome lands in the same workflow chain.
	CorrelationID id.ID `json:"correlation_id"`

	// UserID is the user the intent was produced for. The review outcome
	// event is appended under this user, not under the reviewer.
	UserID string `json:"user_id"`

	// Payload is the intent data, replayed verbatim on approval.
	Payload json.RawMessage `json:"payload,omitempty"`

	// Metadata is carried from the requested event.
	Metadata map[string]string `json:"metadata,omitempty"`

	// Source is the producer class of the requested event.
	Source eventlog.Source `json:"source"`

	// Status is the current review state.
	Status Status `json:"status"`

	// ReviewedBy is the user who decided the proposal.
	ReviewedBy string `json:"reviewed_by,omitempty"`

	// ReviewComment is the reviewer's note, required on rejection.
	ReviewComment string `json:"review_comment,omitempty"`

	// ReviewedAt is when the decision was recorded.
	ReviewedAt *time.Time `json:"reviewed_at,omitempty"`

	// ExpiresAt is the decision deadline. The sweeper flips pending
	// proposals past this time to expired.
	ExpiresAt time.Time `json:"expires_at"`
}

// ListOpts configures filtering and pagination for proposal listing.
type ListOpts struct {
	Offset int
	Limit  int
	Status *Status
}
