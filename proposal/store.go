package proposal

import (
	"context"
	"time"

	"github.com/lorekeep/spindle/eventlog"
	"github.com/lorekeep/spindle/id"
)

// Store defines the persistence contract for proposals.
type Store interface {
	// CreateProposal persists a new proposal.
	CreateProposal(ctx context.Context, p *Proposal) error

	// GetProposal retrieves a proposal by ID.
	GetProposal(ctx context.Context, prpID id.ID) (*Proposal, error)

	// UpdateProposal persists changes to an existing proposal.
	UpdateProposal(ctx context.Context, p *Proposal) error

	// ListProposals returns proposals for a workspace, newest first.
	ListProposals(ctx context.Context, workspaceID string, opts ListOpts) ([]*Proposal, error)

	// FindOpenProposal returns the pending proposal for the given target
	// and intent, or nil when none is open. The validator uses it to
	// collapse repeated identical intents into one review.
	FindOpenProposal(ctx context.Context, workspaceID string, targetType eventlog.AggregateType, targetID, intent string) (*Proposal, error)

	// FindProposalByRequest returns the proposal spawned by a requested
	// event, or nil when the event never produced one.
	FindProposalByRequest(ctx context.Context, requestedEventID id.ID) (*Proposal, error)

	// ExpireProposals flips every pending proposal whose deadline is at
	// or before now to expired, returning how many were flipped.
	ExpireProposals(ctx context.Context, now time.Time) (int64, error)

	// CountOpenProposals returns the number of pending proposals across
	// all workspaces.
	CountOpenProposals(ctx context.Context) (int64, error)
}
