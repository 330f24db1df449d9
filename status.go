package spindle

import (
	"context"
	"fmt"

	"github.com/lorekeep/spindle/dispatch"
	"github.com/lorekeep/spindle/eventlog"
	"github.com/lorekeep/spindle/id"
	"github.com/lorekeep/spindle/proposal"
)

// IntentState is the resolved lifecycle stage of one requested intent.
type IntentState string

const (
	// IntentPending means the validator has not decided yet.
	IntentPending IntentState = "pending"

	// IntentAwaitingApproval means the intent is parked behind an open
	// proposal.
	IntentAwaitingApproval IntentState = "awaiting-approval"

	// IntentDenied means the validator or a reviewer rejected the
	// intent.
	IntentDenied IntentState = "denied"

	// IntentExpired means the proposal passed its review deadline
	// unapproved.
	IntentExpired IntentState = "expired"

	// IntentValidated means the intent passed validation and its
	// executor has not finished yet.
	IntentValidated IntentState = "validated"

	// IntentCompleted means the executor finished.
	IntentCompleted IntentState = "completed"

	// IntentStuck means the executor exhausted its attempts. The
	// failing job carries the last error and lands in the dead letter
	// queue for replay.
	IntentStuck IntentState = "stuck"
)

// IntentStatus is the resolved state of one intent plus the records
// behind the resolution.
type IntentStatus struct {
	State     IntentState        `json:"state"`
	Requested *eventlog.Event    `json:"requested"`
	Outcome   *eventlog.Event    `json:"outcome,omitempty"`
	Completed *eventlog.Event    `json:"completed,omitempty"`
	Proposal  *proposal.Proposal `json:"proposal,omitempty"`
	StuckJob  *dispatch.Job      `json:"stuckJob,omitempty"`
}

// Err translates the state into the pipeline's error taxonomy, for
// callers surfacing intent progress as a request outcome. Completed and
// still-executing intents return nil.
func (s *IntentStatus) Err() error {
	switch s.State {
	case IntentPending, IntentAwaitingApproval:
		return ErrValidationPending
	case IntentDenied, IntentExpired:
		return ErrPermissionDenied
	case IntentStuck:
		return ErrExecutorStepFailure
	}

	return nil
}

// Intent resolves the lifecycle state of a requested event by walking
// its causation chain: the validator's outcome event, the proposal
// parked on it, the executor's completion, and the executor job's fate.
func (p *Pipeline) Intent(ctx context.Context, reqID id.ID) (*IntentStatus, error) {
	req, err := p.store.GetEvent(ctx, reqID)
	if err != nil {
		return nil, err
	}

	typ, err := req.ParsedType()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEventType, err)
	}
	if typ.Phase != eventlog.PhaseRequested {
		return nil, fmt.Errorf("spindle: intent status: %s is a %s event, not a request", reqID, typ.Phase)
	}

	st := &IntentStatus{State: IntentPending, Requested: req}

	children, err := p.store.ListByCausation(ctx, reqID)
	if err != nil {
		return nil, err
	}
	for _, child := range children {
		ct, err := child.ParsedType()
		if err != nil {
			continue
		}
		switch ct.Phase {
		case eventlog.PhaseValidated:
			st.State = IntentValidated
			st.Outcome = child
		case eventlog.PhaseDenied:
			st.State = IntentDenied
			st.Outcome = child
		}
	}

	switch st.State {
	case IntentValidated:
		return p.resolveExecution(ctx, st)
	case IntentDenied:
		return st, nil
	}

	prp, err := p.store.FindProposalByRequest(ctx, reqID)
	if err != nil {
		return nil, err
	}
	if prp != nil {
		st.Proposal = prp
		switch prp.Status {
		case proposal.StatusPending:
			st.State = IntentAwaitingApproval
		case proposal.StatusExpired:
			st.State = IntentExpired
		case proposal.StatusRejected:
			st.State = IntentDenied
		case proposal.StatusApproved:
			// The validated event lands before the row flips, so an
			// approved proposal without one means we raced the append.
			// Report awaiting so callers poll again.
			st.State = IntentAwaitingApproval
		}
	}

	return st, nil
}

// resolveExecution decides between validated, completed, and stuck by
// walking the validated event's children and its executor job.
func (p *Pipeline) resolveExecution(ctx context.Context, st *IntentStatus) (*IntentStatus, error) {
	children, err := p.store.ListByCausation(ctx, st.Outcome.ID)
	if err != nil {
		return nil, err
	}
	for _, child := range children {
		ct, err := child.ParsedType()
		if err != nil {
			continue
		}
		if ct.Phase == eventlog.PhaseCompleted {
			st.State = IntentCompleted
			st.Completed = child
			return st, nil
		}
	}

	jobs, err := p.store.ListJobsByEvent(ctx, st.Outcome.ID)
	if err != nil {
		return nil, err
	}
	for _, j := range jobs {
		if j.Group != dispatch.GroupExecFast && j.Group != dispatch.GroupExecSlow {
			continue
		}
		if j.State == dispatch.StateFailed {
			st.State = IntentStuck
			st.StuckJob = j
			return st, nil
		}
	}

	return st, nil
}
