package eventlog

import (
	"fmt"
	"strings"
)

// Phase is the lifecycle stage encoded in the last segment of an event type.
type Phase string

// The four phases of the intent protocol.
const (
	// PhaseRequested marks an unvalidated intent.
	PhaseRequested Phase = "requested"

	// PhaseValidated marks an intent that passed authorization and policy.
	PhaseValidated Phase = "validated"

	// PhaseCompleted marks a validated intent whose executor finished.
	PhaseCompleted Phase = "completed"

	// PhaseDenied marks an intent rejected by the validator or a reviewer.
	PhaseDenied Phase = "denied"
)

// Valid reports whether p is one of the four protocol phases.
func (p Phase) Valid() bool {
	switch p {
	case PhaseRequested, PhaseValidated, PhaseCompleted, PhaseDenied:
		return true
	}

	return false
}

// Type is the parsed form of an event type string. Handlers receive it
// instead of re-splitting the dot form at every decision point.
type Type struct {
	// Subject names the record kind, e.g. "note" or "tag".
	Subject string

	// Action names the operation, e.g. "create" or "attach".
	Action string

	// Phase is the protocol stage.
	Phase Phase
}

// ParseType parses a dot-form event type ("subject.action.phase") into its
// parsed form. All three segments must be non-empty and the phase must be
// one of the four protocol phases.
func ParseType(s string) (Type, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return Type{}, fmt.Errorf("eventlog: type %q: want subject.action.phase", s)
	}

	for _, p := range parts {
		if p == "" {
			return Type{}, fmt.Errorf("eventlog: type %q: empty segment", s)
		}
	}

	phase := Phase(parts[2])
	if !phase.Valid() {
		return Type{}, fmt.Errorf("eventlog: type %q: unknown phase %q", s, parts[2])
	}

	return Type{Subject: parts[0], Action: parts[1], Phase: phase}, nil
}

// MustParseType is like ParseType but panics on error. Use for hardcoded
// type values in registrations and tests.
func MustParseType(s string) Type {
	t, err := ParseType(s)
	if err != nil {
		panic(err)
	}

	return t
}

// String returns the dot form subject.action.phase.
func (t Type) String() string {
	return t.Subject + "." + t.Action + "." + string(t.Phase)
}

// Intent returns the phase-less form subject.action, the key the validator
// and proposal flow use to identify one logical command.
func (t Type) Intent() string {
	return t.Subject + "." + t.Action
}

// WithPhase returns a copy of t at a different phase.
func (t Type) WithPhase(p Phase) Type {
	t.Phase = p
	return t
}
