// Package eventlog defines the immutable event record, the parsed event
// type form, and the persistence contract for the append-only log that
// every state change in Spindle flows through.
package eventlog

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/lorekeep/spindle/id"
)

// AggregateType classifies the aggregate an event belongs to.
type AggregateType string

// The closed set of aggregate types.
const (
	// AggregateEntity covers user-visible content records such as notes
	// and notebooks.
	AggregateEntity AggregateType = "entity"

	// AggregateRelation covers link records between entities, such as
	// tag attachments.
	AggregateRelation AggregateType = "relation"

	// AggregateUser covers per-user account and preference records.
	AggregateUser AggregateType = "user"

	// AggregateSystem covers internal bookkeeping records.
	AggregateSystem AggregateType = "system"
)

// Valid reports whether t is one of the known aggregate types.
func (t AggregateType) Valid() bool {
	switch t {
	case AggregateEntity, AggregateRelation, AggregateUser, AggregateSystem:
		return true
	}

	return false
}

// Source identifies the producer class of an event.
type Source string

// Known event sources. SourceAI marks intents produced by automated
// assistants; the validator routes those through the proposal flow when
// the workspace policy does not auto-approve them.
const (
	SourceAPI        Source = "api"
	SourceAutomation Source = "automation"
	SourceAI         Source = "ai"
	SourceSync       Source = "sync"
	SourceMigration  Source = "migration"
	SourceSystem     Source = "system"
)

// Valid reports whether s is one of the known sources.
func (s Source) Valid() bool {
	switch s {
	case SourceAPI, SourceAutomation, SourceAI, SourceSync, SourceMigration, SourceSystem:
		return true
	}

	return false
}

// Event is one immutable record in the append-only log. Events are never
// updated or deleted after append, so Event does not embed the mutable
// entity base; Timestamp is the only time it carries.
type Event struct {
	// ID is the unique TypeID for this event.
	ID id.ID `json:"id"`

	// Timestamp is the append time, assigned by the store.
	Timestamp time.Time `json:"timestamp"`

	// AggregateID identifies the aggregate this event belongs to.
	// Versions are gapless per aggregate.
	AggregateID string `json:"aggregateId"`

	// AggregateType classifies the aggregate.
	AggregateType AggregateType `json:"aggregateType"`

	// Type is the dot-separated event type in subject.action.phase form
	// (e.g. "note.create.requested").
	Type string `json:"eventType"`

	// UserID is the owning tenant. All reads are scoped by it.
	UserID string `json:"userId"`

	// Data is the event payload: intent data for requested events,
	// carried-through data for validated events, and the full completion
	// payload for completed events.
	Data json.RawMessage `json:"data"`

	// Metadata holds request scope and producer annotations.
	Metadata map[string]string `json:"metadata,omitempty"`

	// Version is the per-aggregate sequence number, assigned by the
	// store at append. Gapless, starting at 1.
	Version int64 `json:"version"`

	// CausationID is the event that directly caused this one, when any.
	CausationID id.ID `json:"causationId,omitzero"`

	// CorrelationID groups every event of one logical workflow. Minted
	// by the publisher when the caller does not supply one.
	CorrelationID id.ID `json:"correlationId,omitzero"`

	// Source identifies the producer class.
	Source Source `json:"source"`

	// IdempotencyKey is an optional producer-supplied request id, unique
	// per user. It is a storage column, not part of the wire shape.
	IdempotencyKey string `json:"-"`
}

// ParsedType returns the event's type in parsed form.
func (e *Event) ParsedType() (Type, error) {
	return ParseType(e.Type)
}

// Validate checks the structural invariants of an event before append.
func (e *Event) Validate() error {
	if e.ID.IsNil() {
		return &ValidationError{Field: "id", Message: "is required"}
	}

	if e.AggregateID == "" {
		return &ValidationError{Field: "aggregateId", Message: "is required"}
	}

	if !e.AggregateType.Valid() {
		return &ValidationError{Field: "aggregateType", Message: fmt.Sprintf("unknown value %q", e.AggregateType)}
	}

	if e.UserID == "" {
		return &ValidationError{Field: "userId", Message: "is required"}
	}

	if _, err := ParseType(e.Type); err != nil {
		return &ValidationError{Field: "eventType", Message: err.Error()}
	}

	if !e.Source.Valid() {
		return &ValidationError{Field: "source", Message: fmt.Sprintf("unknown value %q", e.Source)}
	}

	return nil
}

// ValidationError describes an invalid event field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("eventlog: field %q %s", e.Field, e.Message)
}
