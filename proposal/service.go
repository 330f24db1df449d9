package proposal

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/lorekeep/spindle/authz"
	"github.com/lorekeep/spindle/eventlog"
	"github.com/lorekeep/spindle/id"
)

// ErrClosed indicates a decision was attempted on a proposal that is no
// longer pending.
var ErrClosed = errors.New("proposal: already decided or expired")

// ErrForbidden indicates the reviewer lacks the admin role on the
// proposal's workspace.
var ErrForbidden = errors.New("proposal: reviewer is not a workspace admin")

// Service provides proposal review operations. Decisions publish their
// outcome event before recording the decision, keyed so a crashed update
// can be retried without appending the outcome twice.
type Service struct {
	store      Store
	publisher  eventlog.Publisher
	authorizer authz.Authorizer
	logger     *slog.Logger
}

// NewService creates a new proposal service.
func NewService(store Store, publisher eventlog.Publisher, authorizer authz.Authorizer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:      store,
		publisher:  publisher,
		authorizer: authorizer,
		logger:     logger,
	}
}

// Get returns a proposal by ID.
func (svc *Service) Get(ctx context.Context, prpID id.ID) (*Proposal, error) {
	return svc.store.GetProposal(ctx, prpID)
}

// List returns proposals for a workspace, newest first.
func (svc *Service) List(ctx context.Context, workspaceID string, opts ListOpts) ([]*Proposal, error) {
	return svc.store.ListProposals(ctx, workspaceID, opts)
}

// Approve accepts a pending proposal. The intent is replayed as a
// validated event under the original user, caused by the requested event
// that spawned the proposal, and the proposal is marked approved.
func (svc *Service) Approve(ctx context.Context, prpID id.ID, reviewerID string) (*Proposal, error) {
	p, err := svc.store.GetProposal(ctx, prpID)
	if err != nil {
		return nil, err
	}

	if !p.Status.Open() {
		return nil, ErrClosed
	}

	if err := svc.authorize(ctx, reviewerID, p.WorkspaceID); err != nil {
		return nil, err
	}

	_, err = svc.publisher.Publish(ctx, eventlog.PublishInput{
		Type:           p.Intent + "." + string(eventlog.PhaseValidated),
		AggregateID:    p.TargetID,
		AggregateType:  p.TargetType,
		UserID:         p.UserID,
		Data:           p.Payload,
		Metadata:       withReviewer(p.Metadata, reviewerID),
		Source:         p.Source,
		CorrelationID:  p.CorrelationID,
		CausationID:    p.RequestedEventID,
		IdempotencyKey: decisionKey(p.ID, StatusApproved),
	})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	p.Status = StatusApproved
	p.ReviewedBy = reviewerID
	p.ReviewedAt = &now

	if err := svc.store.UpdateProposal(ctx, p); err != nil {
		return nil, err
	}

	svc.logger.InfoContext(ctx, "proposal approved",
		"proposal_id", p.ID,
		"intent", p.Intent,
		"reviewed_by", reviewerID,
	)

	return p, nil
}

// Reject declines a pending proposal. A denied event is appended under
// the original user with the reviewer's comment as the reason, and the
// proposal is marked rejected.
func (svc *Service) Reject(ctx context.Context, prpID id.ID, reviewerID, comment string) (*Proposal, error) {
	if comment == "" {
		return nil, &ValidationError{Field: "comment", Message: "required"}
	}

	p, err := svc.store.GetProposal(ctx, prpID)
	if err != nil {
		return nil, err
	}

	if !p.Status.Open() {
		return nil, ErrClosed
	}

	if err := svc.authorize(ctx, reviewerID, p.WorkspaceID); err != nil {
		return nil, err
	}

	_, err = svc.publisher.Publish(ctx, eventlog.PublishInput{
		Type:          p.Intent + "." + string(eventlog.PhaseDenied),
		AggregateID:   p.TargetID,
		AggregateType: p.TargetType,
		UserID:        p.UserID,
		Data: denial{
			Reason:     comment,
			ReviewedBy: reviewerID,
		},
		Metadata:       withReviewer(p.Metadata, reviewerID),
		Source:         p.Source,
		CorrelationID:  p.CorrelationID,
		CausationID:    p.RequestedEventID,
		IdempotencyKey: decisionKey(p.ID, StatusRejected),
	})
	if err != nil {
		return nil, err
	}

	now := time.Now()
	p.Status = StatusRejected
	p.ReviewedBy = reviewerID
	p.ReviewComment = comment
	p.ReviewedAt = &now

	if err := svc.store.UpdateProposal(ctx, p); err != nil {
		return nil, err
	}

	svc.logger.InfoContext(ctx, "proposal rejected",
		"proposal_id", p.ID,
		"intent", p.Intent,
		"reviewed_by", reviewerID,
	)

	return p, nil
}

// ExpireOpen flips every pending proposal past its deadline to expired,
// returning how many were flipped. Expiry appends no event; the intent
// simply never advances.
func (svc *Service) ExpireOpen(ctx context.Context) (int64, error) {
	n, err := svc.store.ExpireProposals(ctx, time.Now())
	if err != nil {
		return 0, err
	}

	if n > 0 {
		svc.logger.InfoContext(ctx, "proposals expired", "count", n)
	}

	return n, nil
}

// CountOpen returns the number of pending proposals across all
// workspaces.
func (svc *Service) CountOpen(ctx context.Context) (int64, error) {
	return svc.store.CountOpenProposals(ctx)
}

// authorize checks that the reviewer holds at least the admin role on
// the workspace. Authorizer errors are returned as-is so callers can
// retry them; an insufficient role maps to ErrForbidden.
func (svc *Service) authorize(ctx context.Context, reviewerID, workspaceID string) error {
	role, err := svc.authorizer.HasRole(ctx, reviewerID, authz.Scope{WorkspaceID: workspaceID})
	if err != nil {
		return err
	}

	if !role.Covers(authz.RoleAdmin) {
		return ErrForbidden
	}

	return nil
}

// decisionKey derives the idempotency key for a review outcome event.
// Keying per proposal and decision lets a retried review call publish
// exactly one outcome event even when the earlier status update crashed.
func decisionKey(prpID id.ID, decision Status) string {
	return "proposal:" + prpID.String() + ":" + string(decision)
}

// withReviewer returns metadata with the reviewer recorded, leaving the
// source map untouched.
func withReviewer(md map[string]string, reviewerID string) map[string]string {
	out := make(map[string]string, len(md)+1)
	for k, v := range md {
		out[k] = v
	}
	out["reviewedBy"] = reviewerID

	return out
}

// denial is the payload of a denied event produced by a rejection.
type denial struct {
	Reason     string `json:"reason"`
	ReviewedBy string `json:"reviewedBy,omitempty"`
}

// ValidationError indicates invalid review input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "proposal validation: " + e.Field + ": " + e.Message
}
