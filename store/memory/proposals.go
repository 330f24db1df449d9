package memory

import (
	"context"
	"sort"
	"time"

	"github.com/lorekeep/spindle"
	"github.com/lorekeep/spindle/eventlog"
	"github.com/lorekeep/spindle/id"
	"github.com/lorekeep/spindle/proposal"
)

func copyProposal(p *proposal.Proposal) *proposal.Proposal {
	cp := *p
	return &cp
}

// ──────────────────────────────────────────────────
// Proposals
// ──────────────────────────────────────────────────

// CreateProposal persists a new proposal.
func (s *Store) CreateProposal(_ context.Context, p *proposal.Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.proposals[p.ID.String()] = copyProposal(p)

	return nil
}

// GetProposal retrieves a proposal by ID.
func (s *Store) GetProposal(_ context.Context, prpID id.ID) (*proposal.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.proposals[prpID.String()]
	if !ok {
		return nil, spindle.ErrProposalNotFound
	}

	return copyProposal(p), nil
}

// UpdateProposal persists changes to an existing proposal.
func (s *Store) UpdateProposal(_ context.Context, p *proposal.Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := p.ID.String()
	if _, ok := s.proposals[key]; !ok {
		return spindle.ErrProposalNotFound
	}

	p.UpdatedAt = time.Now().UTC()
	s.proposals[key] = copyProposal(p)

	return nil
}

// ListProposals returns proposals for a workspace, newest first.
func (s *Store) ListProposals(_ context.Context, workspaceID string, opts proposal.ListOpts) ([]*proposal.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*proposal.Proposal
	for _, p := range s.proposals {
		if p.WorkspaceID != workspaceID {
			continue
		}

		if opts.Status != nil && p.Status != *opts.Status {
			continue
		}

		out = append(out, copyProposal(p))
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	return applyPagination(out, opts.Offset, opts.Limit), nil
}

// FindOpenProposal returns the pending proposal for the given target and
// intent, or nil when none is open.
func (s *Store) FindOpenProposal(_ context.Context, workspaceID string, targetType eventlog.AggregateType, targetID, intent string) (*proposal.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.proposals {
		if !p.Status.Open() {
			continue
		}

		if p.WorkspaceID == workspaceID && p.TargetType == targetType && p.TargetID == targetID && p.Intent == intent {
			return copyProposal(p), nil
		}
	}

	return nil, nil
}

// FindProposalByRequest returns the proposal spawned by a requested
// event, or nil when the event never produced one.
func (s *Store) FindProposalByRequest(_ context.Context, requestedEventID id.ID) (*proposal.Proposal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.proposals {
		if p.RequestedEventID == requestedEventID {
			return copyProposal(p), nil
		}
	}

	return nil, nil
}

// ExpireProposals flips every pending proposal past its deadline to
// expired.
func (s *Store) ExpireProposals(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, p := range s.proposals {
		if !p.Status.Open() || p.ExpiresAt.After(now) {
			continue
		}

		p.Status = proposal.StatusExpired
		p.UpdatedAt = now
		n++
	}

	return n, nil
}

// CountOpenProposals returns the number of pending proposals across all
// workspaces.
func (s *Store) CountOpenProposals(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, p := range s.proposals {
		if p.Status.Open() {
			n++
		}
	}

	return n, nil
}
