package postgres

import (
	"context"
	"fmt"
	"strconv"
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
	_, err := s.pool.Exec(ctx,
		`INSERT INTO spindle_proposals (`+proposalColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		p.ID,
		p.WorkspaceID,
		p.TargetType,
		p.TargetID,
		p.Intent,
		p.RequestedEventID,
		p.CorrelationID,
		p.UserID,
		p.Payload,
		p.Metadata,
		p.Source,
		p.Status,
		p.ReviewedBy,
		p.ReviewComment,
		p.ReviewedAt,
		p.ExpiresAt,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create proposal: %w", err)
	}

	return nil
}

// GetProposal returns a proposal by ID.
func (s *Store) GetProposal(ctx context.Context, prpID id.ID) (*proposal.Proposal, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+proposalColumns+` FROM spindle_proposals WHERE id = $1`,
		prpID,
	)

	p, err := scanProposal(row)
	if isNoRows(err) {
		return nil, spindle.ErrProposalNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get proposal: %w", err)
	}

	return p, nil
}

// UpdateProposal persists a proposal's decision fields.
func (s *Store) UpdateProposal(ctx context.Context, p *proposal.Proposal) error {
	p.UpdatedAt = time.Now().UTC()

	tag, err := s.pool.Exec(ctx,
		`UPDATE spindle_proposals
		 SET status = $2, reviewed_by = $3, review_comment = $4, reviewed_at = $5,
		     expires_at = $6, updated_at = $7
		 WHERE id = $1`,
		p.ID,
		p.Status,
		p.ReviewedBy,
		p.ReviewComment,
		p.ReviewedAt,
		p.ExpiresAt,
		p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update proposal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return spindle.ErrProposalNotFound
	}

	return nil
}

// ListProposals returns a workspace's proposals, newest first.
func (s *Store) ListProposals(ctx context.Context, workspaceID string, opts proposal.ListOpts) ([]*proposal.Proposal, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + proposalColumns + ` FROM spindle_proposals WHERE workspace_id = $1`)
	args := []any{workspaceID}

	if opts.Status != nil {
		args = append(args, *opts.Status)
		sb.WriteString(` AND status = $` + strconv.Itoa(len(args)))
	}

	sb.WriteString(` ORDER BY created_at DESC`)

	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		sb.WriteString(` LIMIT $` + strconv.Itoa(len(args)))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		sb.WriteString(` OFFSET $` + strconv.Itoa(len(args)))
	}

	rows, err := s.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list proposals: %w", err)
	}

	return collectRows(rows, scanProposal)
}

// FindOpenProposal returns the pending proposal for a target and intent,
// or nil when none is open.
func (s *Store) FindOpenProposal(ctx context.Context, workspaceID string, targetType eventlog.AggregateType, targetID, intent string) (*proposal.Proposal, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+proposalColumns+` FROM spindle_proposals
		 WHERE workspace_id = $1 AND target_type = $2 AND target_id = $3 AND intent = $4 AND status = 'pending'
		 ORDER BY created_at DESC
		 LIMIT 1`,
		workspaceID, targetType, targetID, intent,
	)

	p, err := scanProposal(row)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: find open proposal: %w", err)
	}

	return p, nil
}

// FindProposalByRequest returns the proposal spawned by a requested
// event, or nil when the event never produced one.
func (s *Store) FindProposalByRequest(ctx context.Context, requestedEventID id.ID) (*proposal.Proposal, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+proposalColumns+` FROM spindle_proposals WHERE requested_event_id = $1 LIMIT 1`,
		requestedEventID,
	)

	p, err := scanProposal(row)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: find proposal by request: %w", err)
	}

	return p, nil
}

// ExpireProposals flips every overdue pending proposal to expired.
func (s *Store) ExpireProposals(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE spindle_proposals
		 SET status = 'expired', updated_at = $1
		 WHERE status = 'pending' AND expires_at <= $1`,
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("postgres: expire proposals: %w", err)
	}

	return tag.RowsAffected(), nil
}

// CountOpenProposals returns the number of pending proposals.
func (s *Store) CountOpenProposals(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM spindle_proposals WHERE status = 'pending'`,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count open proposals: %w", err)
	}

	return n, nil
}
