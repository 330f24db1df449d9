// Package validator is the single authority that advances requested
// intents. For each requested event it checks the subject against the
// registry, the producer's role against the definition's floor, and the
// workspace policy for AI-produced intents. The outcome is exactly one
// of: a validated event, a denied event, or a pending proposal.
package validator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lorekeep/spindle/authz"
	"github.com/lorekeep/spindle/dispatch"
	"github.com/lorekeep/spindle/eventlog"
	"github.com/lorekeep/spindle/id"
	"github.com/lorekeep/spindle/internal/entity"
	"github.com/lorekeep/spindle/proposal"
	"github.com/lorekeep/spindle/registry"
	"github.com/lorekeep/spindle/scope"
)

// Consumer is the handler key the validator registers under.
const Consumer = "validator"

// Pattern claims every requested-phase event.
const Pattern = "*.*.requested"

// DefaultProposalTTL is how long a parked intent waits for a reviewer
// before expiring.
const DefaultProposalTTL = 72 * time.Hour

// Store is the persistence surface the validator needs: causation
// lookups for idempotent re-runs, and proposal reads and writes for the
// approval flow.
type Store interface {
	ListByCausation(ctx context.Context, causationID id.ID) ([]*eventlog.Event, error)
	FindProposalByRequest(ctx context.Context, requestedEventID id.ID) (*proposal.Proposal, error)
	FindOpenProposal(ctx context.Context, workspaceID string, targetType eventlog.AggregateType, targetID, intent string) (*proposal.Proposal, error)
	CreateProposal(ctx context.Context, p *proposal.Proposal) error
}

// Config carries validator tuning.
type Config struct {
	// ProposalTTL is the review deadline for parked intents. Zero means
	// DefaultProposalTTL.
	ProposalTTL time.Duration
}

// Validator decides the fate of requested events.
type Validator struct {
	store      Store
	publisher  eventlog.Publisher
	registry   *registry.Registry
	authorizer authz.Authorizer
	policies   authz.PolicyProvider
	config     Config
	logger     *slog.Logger
}

// New creates a Validator.
func New(store Store, publisher eventlog.Publisher, reg *registry.Registry, authorizer authz.Authorizer, policies authz.PolicyProvider, config Config, logger *slog.Logger) *Validator {
	if config.ProposalTTL <= 0 {
		config.ProposalTTL = DefaultProposalTTL
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Validator{
		store:      store,
		publisher:  publisher,
		registry:   reg,
		authorizer: authorizer,
		policies:   policies,
		config:     config,
		logger:     logger,
	}
}

// Handle processes one requested event. It is safe to re-run: a request
// that already produced an outcome event or a proposal is skipped.
func (v *Validator) Handle(ctx context.Context, task *dispatch.Task) error {
	evt := task.Event

	typ, err := evt.ParsedType()
	if err != nil {
		return dispatch.Permanent(err)
	}
	if typ.Phase != eventlog.PhaseRequested {
		return nil
	}

	done, err := v.alreadyHandled(ctx, evt)
	if err != nil {
		return err
	}
	if done {
		v.logger.DebugContext(ctx, "request already handled", "event_id", evt.ID, "type", evt.Type)
		return nil
	}

	def, ok := v.registry.Definition(typ.Subject)
	if !ok {
		return v.deny(ctx, evt, typ, fmt.Sprintf("unknown subject %q", typ.Subject))
	}
	if !def.ActionAllowed(typ.Action) {
		return v.deny(ctx, evt, typ, fmt.Sprintf("action %q not allowed for subject %q", typ.Action, typ.Subject))
	}

	ws := scope.WorkspaceOf(evt.Metadata, evt.UserID)

	role, err := v.authorizer.HasRole(ctx, evt.UserID, authz.Scope{WorkspaceID: ws, AggregateID: evt.AggregateID})
	if err != nil {
		return fmt.Errorf("validator: role lookup: %w", err)
	}
	if !role.Covers(def.RequiredRole) {
		return v.deny(ctx, evt, typ, fmt.Sprintf("requires role %s, user has %s", def.RequiredRole, role))
	}

	if evt.Source == eventlog.SourceAI {
		policy, err := v.policies.WorkspacePolicy(ctx, ws)
		if err != nil {
			return fmt.Errorf("validator: policy lookup: %w", err)
		}
		if !policy.AIAutoApprove {
			return v.park(ctx, evt, typ, ws)
		}
	}

	return v.approve(ctx, evt, typ)
}

// alreadyHandled reports whether the request already has an outcome: a
// validated or denied child event, or a proposal spawned from it.
func (v *Validator) alreadyHandled(ctx context.Context, evt *eventlog.Event) (bool, error) {
	children, err := v.store.ListByCausation(ctx, evt.ID)
	if err != nil {
		return false, fmt.Errorf("validator: causation lookup: %w", err)
	}
	for _, child := range children {
		ct, err := child.ParsedType()
		if err != nil {
			continue
		}
		if ct.Phase == eventlog.PhaseValidated || ct.Phase == eventlog.PhaseDenied {
			return true, nil
		}
	}

	p, err := v.store.FindProposalByRequest(ctx, evt.ID)
	if err != nil {
		return false, fmt.Errorf("validator: proposal lookup: %w", err)
	}

	return p != nil, nil
}

// approve appends the validated event that releases the intent to its
// executor lane.
func (v *Validator) approve(ctx context.Context, evt *eventlog.Event, typ eventlog.Type) error {
	_, err := v.publisher.Publish(ctx, eventlog.PublishInput{
		Type:          typ.WithPhase(eventlog.PhaseValidated).String(),
		AggregateID:   evt.AggregateID,
		AggregateType: evt.AggregateType,
		UserID:        evt.UserID,
		Data:          evt.Data,
		Metadata:      evt.Metadata,
		Source:        evt.Source,
		CorrelationID: evt.CorrelationID,
		CausationID:   evt.ID,
	})
	if err != nil {
		return fmt.Errorf("validator: publish validated: %w", err)
	}

	return nil
}

// deny appends a denied event and finishes the job cleanly. A denial is
// a decision, not a failure, so no error is returned.
func (v *Validator) deny(ctx context.Context, evt *eventlog.Event, typ eventlog.Type, reason string) error {
	_, err := v.publisher.Publish(ctx, eventlog.PublishInput{
		Type:          typ.WithPhase(eventlog.PhaseDenied).String(),
		AggregateID:   evt.AggregateID,
		AggregateType: evt.AggregateType,
		UserID:        evt.UserID,
		Data:          denial{Reason: reason},
		Metadata:      evt.Metadata,
		Source:        evt.Source,
		CorrelationID: evt.CorrelationID,
		CausationID:   evt.ID,
	})
	if err != nil {
		return fmt.Errorf("validator: publish denied: %w", err)
	}

	v.logger.InfoContext(ctx, "intent denied",
		"event_id", evt.ID,
		"type", evt.Type,
		"user_id", evt.UserID,
		"reason", reason,
	)

	return nil
}

// park records a pending proposal for the intent. Repeated identical
// intents against the same target share the already-open proposal.
func (v *Validator) park(ctx context.Context, evt *eventlog.Event, typ eventlog.Type, ws string) error {
	open, err := v.store.FindOpenProposal(ctx, ws, evt.AggregateType, evt.AggregateID, typ.Intent())
	if err != nil {
		return fmt.Errorf("validator: open proposal lookup: %w", err)
	}
	if open != nil {
		v.logger.DebugContext(ctx, "intent already awaiting review",
			"event_id", evt.ID,
			"proposal_id", open.ID,
		)
		return nil
	}

	p := &proposal.Proposal{
		Entity:           entity.New(),
		ID:               id.NewProposalID(),
		WorkspaceID:      ws,
		TargetType:       evt.AggregateType,
		TargetID:         evt.AggregateID,
		Intent:           typ.Intent(),
		RequestedEventID: evt.ID,
		CorrelationID:    evt.CorrelationID,
		UserID:           evt.UserID,
		Payload:          evt.Data,
		Metadata:         evt.Metadata,
		Source:           evt.Source,
		Status:           proposal.StatusPending,
		ExpiresAt:        time.Now().Add(v.config.ProposalTTL),
	}

	if err := v.store.CreateProposal(ctx, p); err != nil {
		return fmt.Errorf("validator: create proposal: %w", err)
	}

	v.logger.InfoContext(ctx, "intent parked for review",
		"event_id", evt.ID,
		"proposal_id", p.ID,
		"intent", p.Intent,
		"workspace_id", ws,
	)

	return nil
}

// denial is the payload of a denied event.
type denial struct {
	Reason string `json:"reason"`
}
