package validator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/lorekeep/spindle/authz"
	"github.com/lorekeep/spindle/dispatch"
	"github.com/lorekeep/spindle/eventlog"
	"github.com/lorekeep/spindle/id"
	"github.com/lorekeep/spindle/proposal"
	"github.com/lorekeep/spindle/registry"
)

type fakeStore struct {
	byCausation map[string][]*eventlog.Event
	proposals   []*proposal.Proposal
}

func newFakeStore() *fakeStore {
	return &fakeStore{byCausation: make(map[string][]*eventlog.Event)}
}

func (s *fakeStore) ListByCausation(_ context.Context, causationID id.ID) ([]*eventlog.Event, error) {
	return s.byCausation[causationID.String()], nil
}

func (s *fakeStore) FindProposalByRequest(_ context.Context, requestedEventID id.ID) (*proposal.Proposal, error) {
	for _, p := range s.proposals {
		if p.RequestedEventID == requestedEventID {
			return p, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) FindOpenProposal(_ context.Context, workspaceID string, targetType eventlog.AggregateType, targetID, intent string) (*proposal.Proposal, error) {
	for _, p := range s.proposals {
		if p.Status.Open() && p.WorkspaceID == workspaceID && p.TargetType == targetType && p.TargetID == targetID && p.Intent == intent {
			return p, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) CreateProposal(_ context.Context, p *proposal.Proposal) error {
	s.proposals = append(s.proposals, p)
	return nil
}

type capturePublisher struct {
	inputs []eventlog.PublishInput
}

func (p *capturePublisher) Publish(_ context.Context, in eventlog.PublishInput) (*eventlog.Event, error) {
	p.inputs = append(p.inputs, in)
	return &eventlog.Event{ID: id.NewEventID(), Type: in.Type}, nil
}

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()

	reg, err := registry.NewBuilder().
		Register(registry.Definition{
			Subject:       "note",
			AggregateType: eventlog.AggregateEntity,
			Actions:       []string{"create", "update", "delete"},
			RequiredRole:  authz.RoleEditor,
			Lane:          registry.LaneSlow,
		}, nil).
		Register(registry.Definition{
			Subject:       "workspace",
			AggregateType: eventlog.AggregateSystem,
			RequiredRole:  authz.RoleAdmin,
		}, nil).
		Build()
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}

	return reg
}

func requested(eventType, userID string, source eventlog.Source) *eventlog.Event {
	return &eventlog.Event{
		ID:            id.NewEventID(),
		Timestamp:     time.Now(),
		AggregateID:   "note-1",
		AggregateType: eventlog.AggregateEntity,
		Type:          eventType,
		UserID:        userID,
		Data:          json.RawMessage(`{"title":"hello"}`),
		Version:       1,
		CorrelationID: id.NewCorrelationID(),
		Source:        source,
	}
}

func taskFor(evt *eventlog.Event) *dispatch.Task {
	j := &dispatch.Job{
		ID:       id.NewJobID(),
		Group:    dispatch.GroupValidator,
		Consumer: Consumer,
		EventID:  evt.ID,
	}
	return dispatch.NewTask(j, evt, nil)
}

type env struct {
	store    *fakeStore
	pub      *capturePublisher
	auth     *authz.StaticAuthorizer
	policies *authz.StaticPolicies
	v        *Validator
}

func newEnv(t *testing.T) *env {
	t.Helper()

	e := &env{
		store:    newFakeStore(),
		pub:      &capturePublisher{},
		auth:     authz.NewStaticAuthorizer(),
		policies: authz.NewStaticPolicies(),
	}
	e.v = New(e.store, e.pub, testRegistry(t), e.auth, e.policies, Config{}, nil)

	return e
}

func (e *env) published(t *testing.T) eventlog.PublishInput {
	t.Helper()

	if len(e.pub.inputs) != 1 {
		t.Fatalf("published %d events, want 1", len(e.pub.inputs))
	}

	return e.pub.inputs[0]
}

func TestHandleValidates(t *testing.T) {
	e := newEnv(t)
	evt := requested("note.create.requested", "user-1", eventlog.SourceAPI)

	if err := e.v.Handle(context.Background(), taskFor(evt)); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	in := e.published(t)
	if in.Type != "note.create.validated" {
		t.Errorf("type = %q, want note.create.validated", in.Type)
	}
	if in.CausationID != evt.ID {
		t.Errorf("causation = %v, want request %v", in.CausationID, evt.ID)
	}
	if in.CorrelationID != evt.CorrelationID {
		t.Errorf("correlation = %v, want %v", in.CorrelationID, evt.CorrelationID)
	}
	if in.UserID != "user-1" {
		t.Errorf("user = %q", in.UserID)
	}
}

func TestHandleDeniesInsufficientRole(t *testing.T) {
	e := newEnv(t)
	evt := requested("note.create.requested", "user-2", eventlog.SourceAPI)
	evt.Metadata = map[string]string{"workspaceId": "ws-1"}
	e.auth.Grant("ws-1", "user-2", authz.RoleViewer)

	if err := e.v.Handle(context.Background(), taskFor(evt)); err != nil {
		t.Fatalf("Handle() error = %v, denial must not fail the job", err)
	}

	in := e.published(t)
	if in.Type != "note.create.denied" {
		t.Fatalf("type = %q, want note.create.denied", in.Type)
	}

	data, _ := json.Marshal(in.Data)
	if !strings.Contains(string(data), "requires role editor") {
		t.Errorf("denial payload = %s, want role reason", data)
	}
}

func TestHandleDeniesUnknownSubject(t *testing.T) {
	e := newEnv(t)
	evt := requested("widget.create.requested", "user-1", eventlog.SourceAPI)

	if err := e.v.Handle(context.Background(), taskFor(evt)); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if in := e.published(t); in.Type != "widget.create.denied" {
		t.Errorf("type = %q, want widget.create.denied", in.Type)
	}
}

func TestHandleDeniesForbiddenAction(t *testing.T) {
	e := newEnv(t)
	evt := requested("note.archive.requested", "user-1", eventlog.SourceAPI)

	if err := e.v.Handle(context.Background(), taskFor(evt)); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if in := e.published(t); in.Type != "note.archive.denied" {
		t.Errorf("type = %q, want note.archive.denied", in.Type)
	}
}

func TestHandleAIAutoApprove(t *testing.T) {
	e := newEnv(t)
	evt := requested("note.create.requested", "user-1", eventlog.SourceAI)

	if err := e.v.Handle(context.Background(), taskFor(evt)); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if in := e.published(t); in.Type != "note.create.validated" {
		t.Errorf("type = %q, want validated under the default auto-approve policy", in.Type)
	}
	if len(e.store.proposals) != 0 {
		t.Errorf("created %d proposals, want 0", len(e.store.proposals))
	}
}

func TestHandleAIParksProposal(t *testing.T) {
	e := newEnv(t)
	e.policies.Set("user-1", authz.Policy{AIAutoApprove: false})
	evt := requested("note.create.requested", "user-1", eventlog.SourceAI)

	if err := e.v.Handle(context.Background(), taskFor(evt)); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if len(e.pub.inputs) != 0 {
		t.Fatalf("published %d events, want 0 while awaiting review", len(e.pub.inputs))
	}
	if len(e.store.proposals) != 1 {
		t.Fatalf("created %d proposals, want 1", len(e.store.proposals))
	}

	p := e.store.proposals[0]
	if p.Status != proposal.StatusPending {
		t.Errorf("status = %q, want pending", p.Status)
	}
	if p.Intent != "note.create" {
		t.Errorf("intent = %q, want note.create", p.Intent)
	}
	if p.RequestedEventID != evt.ID {
		t.Errorf("requested event = %v, want %v", p.RequestedEventID, evt.ID)
	}
	if p.WorkspaceID != "user-1" {
		t.Errorf("workspace = %q, want personal workspace fallback", p.WorkspaceID)
	}
	if string(p.Payload) != `{"title":"hello"}` {
		t.Errorf("payload = %s", p.Payload)
	}

	wantExpiry := time.Now().Add(DefaultProposalTTL)
	if p.ExpiresAt.Before(wantExpiry.Add(-time.Minute)) || p.ExpiresAt.After(wantExpiry.Add(time.Minute)) {
		t.Errorf("expires_at = %v, want about %v", p.ExpiresAt, wantExpiry)
	}
}

func TestHandleAISharesOpenProposal(t *testing.T) {
	e := newEnv(t)
	e.policies.Set("user-1", authz.Policy{AIAutoApprove: false})

	first := requested("note.create.requested", "user-1", eventlog.SourceAI)
	second := requested("note.create.requested", "user-1", eventlog.SourceAI)

	if err := e.v.Handle(context.Background(), taskFor(first)); err != nil {
		t.Fatalf("Handle(first) error = %v", err)
	}
	if err := e.v.Handle(context.Background(), taskFor(second)); err != nil {
		t.Fatalf("Handle(second) error = %v", err)
	}

	if len(e.store.proposals) != 1 {
		t.Errorf("created %d proposals, want the open one shared", len(e.store.proposals))
	}
}

func TestHandleSkipsAlreadyHandled(t *testing.T) {
	e := newEnv(t)
	evt := requested("note.create.requested", "user-1", eventlog.SourceAPI)
	e.store.byCausation[evt.ID.String()] = []*eventlog.Event{
		{ID: id.NewEventID(), Type: "note.create.validated"},
	}

	if err := e.v.Handle(context.Background(), taskFor(evt)); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if len(e.pub.inputs) != 0 {
		t.Errorf("published %d events, want 0 on re-run", len(e.pub.inputs))
	}
}

func TestHandleIgnoresOtherPhases(t *testing.T) {
	e := newEnv(t)
	evt := requested("note.create.validated", "user-1", eventlog.SourceAPI)

	if err := e.v.Handle(context.Background(), taskFor(evt)); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if len(e.pub.inputs) != 0 {
		t.Errorf("published %d events, want 0", len(e.pub.inputs))
	}
}

func TestHandleBadTypeIsPermanent(t *testing.T) {
	e := newEnv(t)
	evt := requested("note.create.requested", "user-1", eventlog.SourceAPI)
	evt.Type = "not-a-type"

	err := e.v.Handle(context.Background(), taskFor(evt))

	var perm *dispatch.PermanentError
	if !errors.As(err, &perm) {
		t.Fatalf("Handle() error = %v, want PermanentError", err)
	}
}
