package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/lorekeep/spindle"
	"github.com/lorekeep/spindle/eventlog"
	"github.com/lorekeep/spindle/id"
	"github.com/lorekeep/spindle/proposal"
)

// ──────────────────────────────────────────────────
// Proposals
// ──────────────────────────────────────────────────

// CreateProposal persists a new proposal.
func (s *Store) CreateProposal(ctx context.Context, p *proposal.Proposal) error {
	metadata, err := marshalJSON(p.Metadata)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO spindle_proposals (`+proposalColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID,
		p.WorkspaceID,
		p.TargetType,
		p.TargetID,
		p.Intent,
		p.RequestedEventID,
		p.CorrelationID,
		p.UserID,
		string(p.Payload),
		metadata,
		p.Source,
		p.Status,
		p.ReviewedBy,
		p.ReviewComment,
		formatTimePtr(p.ReviewedAt),
		formatTime(p.ExpiresAt),
		formatTime(p.CreatedAt),
		formatTime(p.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: create proposal: %w", err)
	}

	return nil
}

// GetProposal returns a proposal by ID.
func (s *Store) GetProposal(ctx context.Context, prpID id.ID) (*proposal.Proposal, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+proposalColumns+` FROM spindle_proposals WHERE id = ?`,
		prpID,
	)

	p, err := scanProposal(row)
	if isNoRows(err) {
		return nil, spindle.ErrProposalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get proposal: %w", err)
	}

	return p, nil
}

// UpdateProposal persists a proposal's decision fields.
func (s *Store) UpdateProposal(ctx context.Context, p *proposal.Proposal) error {
	p.UpdatedAt = time.Now().UTC()

	n, err := execAffect(ctx, s.db,
		`UPDATE spindle_proposals
		 SET status = ?, reviewed_by = ?, review_comment = ?, reviewed_at = ?,
		     expires_at = ?, updated_at = ?
		 WHERE id = ?`,
		p.Status,
		p.ReviewedBy,
		p.ReviewComment,
		formatTimePtr(p.ReviewedAt),
		formatTime(p.ExpiresAt),
		formatTime(p.UpdatedAt),
		p.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: update proposal: %w", err)
	}
	if n == 0 {
		return spindle.ErrProposalNotFound
	}

	return nil
}

// ListProposals returns a workspace's proposals, newest first.
func (s *Store) ListProposals(ctx context.Context, workspaceID string, opts proposal.ListOpts) ([]*proposal.Proposal, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + proposalColumns + ` FROM spindle_proposals WHERE workspace_id = ?`)
	args := []any{workspaceID}

	if opts.Status != nil {
		sb.WriteString(` AND status = ?`)
		args = append(args, *opts.Status)
	}

	sb.WriteString(` ORDER BY created_at DESC`)

	switch {
	case opts.Limit > 0:
		sb.WriteString(` LIMIT ?`)
		args = append(args, opts.Limit)
	case opts.Offset > 0:
		sb.WriteString(` LIMIT -1`)
	}
	if opts.Offset > 0 {
		sb.WriteString(` OFFSET ?`)
		args = append(args, opts.Offset)
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list proposals: %w", err)
	}

	return collectRows(rows, scanProposal)
}

// FindOpenProposal returns the pending proposal for a target and intent,
// or nil when none is open.
func (s *Store) FindOpenProposal(ctx context.Context, workspaceID string, targetType eventlog.AggregateType, targetID, intent string) (*proposal.Proposal, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+proposalColumns+` FROM spindle_proposals
		 WHERE workspace_id = ? AND target_type = ? AND target_id = ? AND intent = ? AND status = 'pending'
		 ORDER BY created_at DESC
		 LIMIT 1`,
		workspaceID, targetType, targetID, intent,
	)

	p, err := scanProposal(row)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: find open proposal: %w", err)
	}

	return p, nil
}

// FindProposalByRequest returns the proposal spawned by a requested
// event, or nil when the event never produced one.
func (s *Store) FindProposalByRequest(ctx context.Context, requestedEventID id.ID) (*proposal.Proposal, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+proposalColumns+` FROM spindle_proposals WHERE requested_event_id = ? LIMIT 1`,
		requestedEventID,
	)

	p, err := scanProposal(row)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: find proposal by request: %w", err)
	}

	return p, nil
}

// ExpireProposals flips every overdue pending proposal to expired.
func (s *Store) ExpireProposals(ctx context.Context, now time.Time) (int64, error) {
	n, err := execAffect(ctx, s.db,
		`UPDATE spindle_proposals
		 SET status = 'expired', updated_at = ?
		 WHERE status = 'pending' AND expires_at <= ?`,
		formatTime(now), formatTime(now),
	)
	if err != nil {
		return 0, fmt.Errorf("sqlite: expire proposals: %w", err)
	}

	return n, nil
}

// CountOpenProposals returns the number of pending proposals.
func (s *Store) CountOpenProposals(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM spindle_proposals WHERE status = 'pending'`,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite: count open proposals: %w", err)
	}

	return n, nil
}
