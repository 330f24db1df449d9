package proposal

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/lorekeep/spindle/authz"
	"github.com/lorekeep/spindle/eventlog"
	"github.com/lorekeep/spindle/id"
	"github.com/lorekeep/spindle/internal/entity"
)

var errNotFound = errors.New("not found")

type fakeStore struct {
	proposals map[string]*Proposal
}

func newFakeStore(ps ...*Proposal) *fakeStore {
	s := &fakeStore{proposals: make(map[string]*Proposal)}
	for _, p := range ps {
		s.proposals[p.ID.String()] = p
	}
	return s
}

func (s *fakeStore) CreateProposal(_ context.Context, p *Proposal) error {
	s.proposals[p.ID.String()] = p
	return nil
}

func (s *fakeStore) GetProposal(_ context.Context, prpID id.ID) (*Proposal, error) {
	p, ok := s.proposals[prpID.String()]
	if !ok {
		return nil, errNotFound
	}
	return p, nil
}

func (s *fakeStore) UpdateProposal(_ context.Context, p *Proposal) error {
	if _, ok := s.proposals[p.ID.String()]; !ok {
		return errNotFound
	}
	s.proposals[p.ID.String()] = p
	return nil
}

func (s *fakeStore) ListProposals(_ context.Context, workspaceID string, opts ListOpts) ([]*Proposal, error) {
	var out []*Proposal
	for _, p := range s.proposals {
		if p.WorkspaceID != workspaceID {
			continue
		}
		if opts.Status != nil && p.Status != *opts.Status {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *fakeStore) FindOpenProposal(_ context.Context, workspaceID string, targetType eventlog.AggregateType, targetID, intent string) (*Proposal, error) {
	for _, p := range s.proposals {
		if p.Status.Open() && p.WorkspaceID == workspaceID && p.TargetType == targetType && p.TargetID == targetID && p.Intent == intent {
			return p, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) FindProposalByRequest(_ context.Context, requestedEventID id.ID) (*Proposal, error) {
	for _, p := range s.proposals {
		if p.RequestedEventID == requestedEventID {
			return p, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) ExpireProposals(_ context.Context, now time.Time) (int64, error) {
	var n int64
	for _, p := range s.proposals {
		if p.Status.Open() && !p.ExpiresAt.After(now) {
			p.Status = StatusExpired
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) CountOpenProposals(_ context.Context) (int64, error) {
	var n int64
	for _, p := range s.proposals {
		if p.Status.Open() {
			n++
		}
	}
	return n, nil
}

type capturePublisher struct {
	inputs []eventlog.PublishInput
	err    error
}

func (p *capturePublisher) Publish(_ context.Context, in eventlog.PublishInput) (*eventlog.Event, error) {
	if p.err != nil {
		return nil, p.err
	}
	p.inputs = append(p.inputs, in)
	return &eventlog.Event{ID: id.NewEventID(), Type: in.Type}, nil
}

func pendingProposal() *Proposal {
	return &Proposal{
		Entity:           entity.New(),
		ID:               id.NewProposalID(),
		WorkspaceID:      "ws-1",
		TargetType:       eventlog.AggregateEntity,
		TargetID:         "note-1",
		Intent:           "note.create",
		RequestedEventID: id.NewEventID(),
		CorrelationID:    id.NewCorrelationID(),
		UserID:           "user-1",
		Payload:          json.RawMessage(`{"title":"hello"}`),
		Metadata:         map[string]string{"workspaceId": "ws-1"},
		Source:           eventlog.SourceAI,
		Status:           StatusPending,
		ExpiresAt:        time.Now().Add(time.Hour),
	}
}

func newTestService(store Store, pub *capturePublisher) *Service {
	auth := authz.NewStaticAuthorizer()
	auth.Grant("ws-1", "admin-1", authz.RoleAdmin)
	auth.Grant("ws-1", "editor-1", authz.RoleEditor)
	return NewService(store, pub, auth, nil)
}

func TestApprove(t *testing.T) {
	p := pendingProposal()
	store := newFakeStore(p)
	pub := &capturePublisher{}
	svc := newTestService(store, pub)

	got, err := svc.Approve(context.Background(), p.ID, "admin-1")
	if err != nil {
		t.Fatalf("Approve() error = %v", err)
	}

	if got.Status != StatusApproved {
		t.Errorf("status = %q, want %q", got.Status, StatusApproved)
	}
	if got.ReviewedBy != "admin-1" {
		t.Errorf("reviewed_by = %q, want %q", got.ReviewedBy, "admin-1")
	}
	if got.ReviewedAt == nil {
		t.Error("reviewed_at not set")
	}

	if len(pub.inputs) != 1 {
		t.Fatalf("published %d events, want 1", len(pub.inputs))
	}

	in := pub.inputs[0]
	if in.Type != "note.create.validated" {
		t.Errorf("type = %q, want %q", in.Type, "note.create.validated")
	}
	if in.CausationID != p.RequestedEventID {
		t.Errorf("causation = %v, want requested event %v", in.CausationID, p.RequestedEventID)
	}
	if in.CorrelationID != p.CorrelationID {
		t.Errorf("correlation = %v, want %v", in.CorrelationID, p.CorrelationID)
	}
	if in.UserID != "user-1" {
		t.Errorf("user = %q, want original requester", in.UserID)
	}
	if in.Metadata["reviewedBy"] != "admin-1" {
		t.Errorf("metadata reviewedBy = %q, want %q", in.Metadata["reviewedBy"], "admin-1")
	}
	if in.IdempotencyKey == "" {
		t.Error("idempotency key not set")
	}

	data, err := json.Marshal(in.Data)
	if err != nil {
		t.Fatalf("marshal published data: %v", err)
	}
	if string(data) != `{"title":"hello"}` {
		t.Errorf("data = %s, want original payload", data)
	}
}

func TestApproveRequiresAdmin(t *testing.T) {
	p := pendingProposal()
	store := newFakeStore(p)
	pub := &capturePublisher{}
	svc := newTestService(store, pub)

	if _, err := svc.Approve(context.Background(), p.ID, "editor-1"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("Approve() error = %v, want ErrForbidden", err)
	}

	if p.Status != StatusPending {
		t.Errorf("status = %q, want untouched pending", p.Status)
	}
	if len(pub.inputs) != 0 {
		t.Errorf("published %d events, want 0", len(pub.inputs))
	}
}

func TestApproveClosedProposal(t *testing.T) {
	p := pendingProposal()
	p.Status = StatusRejected
	store := newFakeStore(p)
	pub := &capturePublisher{}
	svc := newTestService(store, pub)

	if _, err := svc.Approve(context.Background(), p.ID, "admin-1"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Approve() error = %v, want ErrClosed", err)
	}
}

func TestReject(t *testing.T) {
	p := pendingProposal()
	store := newFakeStore(p)
	pub := &capturePublisher{}
	svc := newTestService(store, pub)

	got, err := svc.Reject(context.Background(), p.ID, "admin-1", "duplicate of note-7")
	if err != nil {
		t.Fatalf("Reject() error = %v", err)
	}

	if got.Status != StatusRejected {
		t.Errorf("status = %q, want %q", got.Status, StatusRejected)
	}
	if got.ReviewComment != "duplicate of note-7" {
		t.Errorf("review_comment = %q", got.ReviewComment)
	}

	if len(pub.inputs) != 1 {
		t.Fatalf("published %d events, want 1", len(pub.inputs))
	}

	in := pub.inputs[0]
	if in.Type != "note.create.denied" {
		t.Errorf("type = %q, want %q", in.Type, "note.create.denied")
	}
	if in.CausationID != p.RequestedEventID {
		t.Errorf("causation = %v, want requested event %v", in.CausationID, p.RequestedEventID)
	}

	data, err := json.Marshal(in.Data)
	if err != nil {
		t.Fatalf("marshal published data: %v", err)
	}
	var d denial
	if err := json.Unmarshal(data, &d); err != nil {
		t.Fatalf("unmarshal denial: %v", err)
	}
	if d.Reason != "duplicate of note-7" || d.ReviewedBy != "admin-1" {
		t.Errorf("denial = %+v", d)
	}
}

func TestRejectRequiresComment(t *testing.T) {
	p := pendingProposal()
	svc := newTestService(newFakeStore(p), &capturePublisher{})

	_, err := svc.Reject(context.Background(), p.ID, "admin-1", "")

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Reject() error = %v, want ValidationError", err)
	}
	if verr.Field != "comment" {
		t.Errorf("field = %q, want %q", verr.Field, "comment")
	}
}

func TestApprovePublishFailureLeavesPending(t *testing.T) {
	p := pendingProposal()
	store := newFakeStore(p)
	pub := &capturePublisher{err: errors.New("append failed")}
	svc := newTestService(store, pub)

	if _, err := svc.Approve(context.Background(), p.ID, "admin-1"); err == nil {
		t.Fatal("Approve() error = nil, want publish failure")
	}

	if p.Status != StatusPending {
		t.Errorf("status = %q, want pending so the decision can be retried", p.Status)
	}
}

func TestExpireOpen(t *testing.T) {
	overdue := pendingProposal()
	overdue.ExpiresAt = time.Now().Add(-time.Minute)
	fresh := pendingProposal()
	decided := pendingProposal()
	decided.Status = StatusApproved
	decided.ExpiresAt = time.Now().Add(-time.Hour)

	store := newFakeStore(overdue, fresh, decided)
	pub := &capturePublisher{}
	svc := newTestService(store, pub)

	n, err := svc.ExpireOpen(context.Background())
	if err != nil {
		t.Fatalf("ExpireOpen() error = %v", err)
	}
	if n != 1 {
		t.Errorf("expired %d, want 1", n)
	}

	if overdue.Status != StatusExpired {
		t.Errorf("overdue status = %q, want expired", overdue.Status)
	}
	if fresh.Status != StatusPending {
		t.Errorf("fresh status = %q, want pending", fresh.Status)
	}
	if decided.Status != StatusApproved {
		t.Errorf("decided status = %q, want approved", decided.Status)
	}
	if len(pub.inputs) != 0 {
		t.Errorf("expiry published %d events, want 0", len(pub.inputs))
	}
}
