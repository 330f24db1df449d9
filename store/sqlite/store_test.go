package sqlite

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/lorekeep/spindle"
	"github.com/lorekeep/spindle/deadletter"
	"github.com/lorekeep/spindle/dispatch"
	"github.com/lorekeep/spindle/eventlog"
	"github.com/lorekeep/spindle/id"
	"github.com/lorekeep/spindle/internal/entity"
	"github.com/lorekeep/spindle/proposal"
	"github.com/lorekeep/spindle/webhook"
)

func ctx() context.Context { return context.Background() }

// newStore opens a migrated in-memory database. Each test gets its own.
func newStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })

	if err := s.Migrate(ctx()); err != nil {
		t.Fatal(err)
	}

	return s
}

func testEvent(aggregateID, userID, typ string) *eventlog.Event {
	return &eventlog.Event{
		ID:            id.NewEventID(),
		AggregateID:   aggregateID,
		AggregateType: eventlog.AggregateEntity,
		Type:          typ,
		UserID:        userID,
		Data:          json.RawMessage(`{"title":"hi"}`),
		Metadata:      map[string]string{"workspaceId": "ws-1"},
		Source:        eventlog.SourceAPI,
		CorrelationID: id.NewCorrelationID(),
	}
}

func testJob(group string, evtID id.ID) *dispatch.Job {
	return &dispatch.Job{
		Entity:        entity.New(),
		ID:            id.NewJobID(),
		Group:         group,
		Consumer:      "validator",
		EventID:       evtID,
		State:         dispatch.StatePending,
		MaxAttempts:   5,
		NextAttemptAt: time.Now().Add(-time.Second),
	}
}

func TestEventRoundTrip(t *testing.T) {
	s := newStore(t)

	evt := testEvent("note-1", "user-1", "note.create.requested")
	evt.CausationID = id.NewEventID()
	if err := s.AppendEvent(ctx(), 0, evt); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetEvent(ctx(), evt.ID)
	if err != nil {
		t.Fatal(err)
	}

	if got.ID != evt.ID {
		t.Fatalf("expected id %s, got %s", evt.ID, got.ID)
	}
	if got.Version != 1 {
		t.Fatalf("expected version 1, got %d", got.Version)
	}
	if got.Type != evt.Type || got.AggregateType != eventlog.AggregateEntity || got.Source != eventlog.SourceAPI {
		t.Fatalf("unexpected round trip: %+v", got)
	}
	if string(got.Data) != `{"title":"hi"}` {
		t.Fatalf("unexpected data %s", got.Data)
	}
	if got.Metadata["workspaceId"] != "ws-1" {
		t.Fatalf("unexpected metadata %v", got.Metadata)
	}
	if got.CausationID != evt.CausationID || got.CorrelationID != evt.CorrelationID {
		t.Fatal("expected causation and correlation to survive")
	}
	if got.Timestamp.IsZero() {
		t.Fatal("expected timestamp to be assigned")
	}

	if _, err := s.GetEvent(ctx(), id.NewEventID()); !errors.Is(err, spindle.ErrEventNotFound) {
		t.Fatalf("expected ErrEventNotFound, got %v", err)
	}
}

func TestAppendConflictAndIdempotency(t *testing.T) {
	s := newStore(t)

	first := testEvent("note-1", "user-1", "note.create.requested")
	first.IdempotencyKey = "req-1"
	if err := s.AppendEvent(ctx(), 0, first); err != nil {
		t.Fatal(err)
	}

	stale := testEvent("note-1", "user-1", "note.update.requested")
	if err := s.AppendEvent(ctx(), 0, stale); !errors.Is(err, spindle.ErrConcurrencyConflict) {
		t.Fatalf("expected ErrConcurrencyConflict, got %v", err)
	}

	dup := testEvent("note-1", "user-1", "note.update.requested")
	dup.IdempotencyKey = "req-1"
	if err := s.AppendEvent(ctx(), 1, dup); !errors.Is(err, spindle.ErrDuplicateIdempotencyKey) {
		t.Fatalf("expected ErrDuplicateIdempotencyKey, got %v", err)
	}

	got, err := s.EventByIdempotencyKey(ctx(), "user-1", "req-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != first.ID {
		t.Fatalf("expected %s, got %s", first.ID, got.ID)
	}

	head, err := s.AggregateVersion(ctx(), "note-1")
	if err != nil {
		t.Fatal(err)
	}
	if head != 1 {
		t.Fatalf("expected head 1, got %d", head)
	}
}

func TestAppendBatchAssignsSequentialVersions(t *testing.T) {
	s := newStore(t)

	batch := []*eventlog.Event{
		testEvent("note-1", "user-1", "note.create.requested"),
		testEvent("note-1", "user-1", "note.create.validated"),
	}
	if err := s.AppendBatch(ctx(), 0, batch); err != nil {
		t.Fatal(err)
	}

	stream, err := s.AggregateStream(ctx(), "note-1", eventlog.StreamOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(stream) != 2 {
		t.Fatalf("expected 2 events, got %d", len(stream))
	}
	for i, evt := range stream {
		if evt.Version != int64(i)+1 {
			t.Fatalf("expected version %d, got %d", i+1, evt.Version)
		}
	}
}

func TestStreamsAndFilters(t *testing.T) {
	s := newStore(t)

	types := []string{"note.create.requested", "note.create.validated", "note.create.completed"}
	for i, typ := range types {
		if err := s.AppendEvent(ctx(), int64(i), testEvent("note-1", "user-1", typ)); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.AppendEvent(ctx(), 0, testEvent("note-2", "user-2", "note.create.requested")); err != nil {
		t.Fatal(err)
	}

	window, err := s.AggregateStream(ctx(), "note-1", eventlog.StreamOpts{FromVersion: 2, ToVersion: 3})
	if err != nil {
		t.Fatal(err)
	}
	if len(window) != 2 || window[0].Version != 2 {
		t.Fatalf("unexpected window %+v", window)
	}

	byType, err := s.AggregateStream(ctx(), "note-1", eventlog.StreamOpts{Types: []string{"note.create.completed"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(byType) != 1 || byType[0].Type != "note.create.completed" {
		t.Fatalf("unexpected type filter result %+v", byType)
	}

	user, err := s.UserStream(ctx(), "user-1", eventlog.UserStreamOpts{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(user) != 2 {
		t.Fatalf("expected 2 events, got %d", len(user))
	}
	if user[0].Version < user[1].Version {
		t.Fatal("expected newest first")
	}
}

func TestCorrelationAndCausation(t *testing.T) {
	s := newStore(t)

	root := testEvent("note-1", "user-1", "note.create.requested")
	if err := s.AppendEvent(ctx(), 0, root); err != nil {
		t.Fatal(err)
	}

	child := testEvent("note-1", "user-1", "note.create.validated")
	child.CorrelationID = root.CorrelationID
	child.CausationID = root.ID
	if err := s.AppendEvent(ctx(), 1, child); err != nil {
		t.Fatal(err)
	}

	correlated, err := s.CorrelatedEvents(ctx(), root.CorrelationID)
	if err != nil {
		t.Fatal(err)
	}
	if len(correlated) != 2 || correlated[0].ID != root.ID {
		t.Fatalf("unexpected correlated set %+v", correlated)
	}

	children, err := s.ListByCausation(ctx(), root.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(children) != 1 || children[0].ID != child.ID {
		t.Fatalf("unexpected children %+v", children)
	}
}

func TestJobClaimCycle(t *testing.T) {
	s := newStore(t)

	evt := testEvent("note-1", "user-1", "note.create.requested")
	if err := s.AppendEvent(ctx(), 0, evt); err != nil {
		t.Fatal(err)
	}

	due := testJob(dispatch.GroupValidator, evt.ID)
	future := testJob(dispatch.GroupValidator, evt.ID)
	future.NextAttemptAt = time.Now().Add(time.Hour)
	if err := s.EnqueueJobs(ctx(), []*dispatch.Job{due, future}); err != nil {
		t.Fatal(err)
	}

	claimed, err := s.DequeueJobs(ctx(), dispatch.GroupValidator, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(claimed) != 1 || claimed[0].ID != due.ID {
		t.Fatalf("expected only the due job, got %+v", claimed)
	}
	if claimed[0].State != dispatch.StateRunning {
		t.Fatalf("expected running, got %s", claimed[0].State)
	}

	again, err := s.DequeueJobs(ctx(), dispatch.GroupValidator, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 0 {
		t.Fatalf("expected claimed job to stay claimed, got %d", len(again))
	}

	j := claimed[0]
	j.State = dispatch.StateSucceeded
	j.AttemptCount = 1
	j.MarkStep("project")
	now := time.Now().UTC()
	j.CompletedAt = &now
	if err := s.UpdateJob(ctx(), j); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetJob(ctx(), j.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != dispatch.StateSucceeded || got.AttemptCount != 1 {
		t.Fatalf("unexpected job %+v", got)
	}
	if !got.StepDone("project") {
		t.Fatal("expected step marker to survive")
	}
	if got.CompletedAt == nil {
		t.Fatal("expected completed_at to survive")
	}

	byEvent, err := s.ListJobsByEvent(ctx(), evt.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(byEvent) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(byEvent))
	}

	n, err := s.CountJobs(ctx(), dispatch.GroupValidator, dispatch.StatePending)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 pending job, got %d", n)
	}
}

func TestProposalLifecycle(t *testing.T) {
	s := newStore(t)

	p := &proposal.Proposal{
		Entity:           entity.New(),
		ID:               id.NewProposalID(),
		WorkspaceID:      "ws-1",
		TargetType:       eventlog.AggregateEntity,
		TargetID:         "note-1",
		Intent:           "note.create",
		RequestedEventID: id.NewEventID(),
		CorrelationID:    id.NewCorrelationID(),
		UserID:           "user-1",
		Payload:          json.RawMessage(`{"title":"draft"}`),
		Source:           eventlog.SourceAI,
		Status:           proposal.StatusPending,
		ExpiresAt:        time.Now().Add(-time.Minute),
	}
	if err := s.CreateProposal(ctx(), p); err != nil {
		t.Fatal(err)
	}

	open, err := s.FindOpenProposal(ctx(), "ws-1", eventlog.AggregateEntity, "note-1", "note.create")
	if err != nil {
		t.Fatal(err)
	}
	if open == nil || open.ID != p.ID {
		t.Fatalf("expected open proposal, got %+v", open)
	}

	byRequest, err := s.FindProposalByRequest(ctx(), p.RequestedEventID)
	if err != nil {
		t.Fatal(err)
	}
	if byRequest == nil || byRequest.ID != p.ID {
		t.Fatalf("expected proposal by request, got %+v", byRequest)
	}

	flipped, err := s.ExpireProposals(ctx(), time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	if flipped != 1 {
		t.Fatalf("expected 1 expired, got %d", flipped)
	}

	got, err := s.GetProposal(ctx(), p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != proposal.StatusExpired {
		t.Fatalf("expected expired, got %s", got.Status)
	}

	n, err := s.CountOpenProposals(ctx())
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("expected 0 open, got %d", n)
	}
}

func TestSubscriptionMatchAndDeliveries(t *testing.T) {
	s := newStore(t)

	sub := &webhook.Subscription{
		Entity:     entity.New(),
		ID:         id.NewSubscriptionID(),
		UserID:     "user-1",
		URL:        "https://example.com/hook",
		Secret:     "whsec_secret",
		EventTypes: []string{"note.create.completed"},
		Active:     true,
	}
	other := &webhook.Subscription{
		Entity:     entity.New(),
		ID:         id.NewSubscriptionID(),
		UserID:     "user-1",
		URL:        "https://example.com/other",
		Secret:     "whsec_other",
		EventTypes: []string{"tag.create.completed"},
		Active:     true,
	}
	for _, x := range []*webhook.Subscription{sub, other} {
		if err := s.CreateSubscription(ctx(), x); err != nil {
			t.Fatal(err)
		}
	}

	matched, err := s.MatchSubscriptions(ctx(), "user-1", "note.create.completed")
	if err != nil {
		t.Fatal(err)
	}
	if len(matched) != 1 || matched[0].ID != sub.ID {
		t.Fatalf("unexpected match %+v", matched)
	}
	if matched[0].EventTypes[0] != "note.create.completed" {
		t.Fatalf("expected event types to survive, got %v", matched[0].EventTypes)
	}

	evtID := id.NewEventID()
	d := &webhook.Delivery{
		Entity:         entity.New(),
		ID:             id.NewDeliveryID(),
		SubscriptionID: sub.ID,
		EventID:        evtID,
		Status:         webhook.DeliveryPending,
		Attempt:        1,
	}
	if err := s.CreateDelivery(ctx(), d); err != nil {
		t.Fatal(err)
	}

	now := time.Now().UTC()
	d.Status = webhook.DeliverySuccess
	d.ResponseStatus = 200
	d.LatencyMs = 42
	d.DeliveredAt = &now
	if err := s.UpdateDelivery(ctx(), d); err != nil {
		t.Fatal(err)
	}

	rowsBySub, err := s.ListDeliveries(ctx(), sub.ID, webhook.DeliveryListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(rowsBySub) != 1 || rowsBySub[0].Status != webhook.DeliverySuccess || rowsBySub[0].ResponseStatus != 200 {
		t.Fatalf("unexpected delivery rows %+v", rowsBySub)
	}
	if rowsBySub[0].DeliveredAt == nil {
		t.Fatal("expected delivered_at to survive")
	}

	n, err := s.CountDeliveries(ctx(), sub.ID, evtID)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 delivery, got %d", n)
	}

	if err := s.TouchSubscription(ctx(), sub.ID, now); err != nil {
		t.Fatal(err)
	}
	touched, err := s.GetSubscription(ctx(), sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if touched.LastTriggeredAt == nil {
		t.Fatal("expected last_triggered_at to be set")
	}
}

func TestDeadLetterReplayCycle(t *testing.T) {
	s := newStore(t)

	entry := &deadletter.Entry{
		Entity:       entity.New(),
		ID:           id.NewDeadLetterID(),
		JobID:        id.NewJobID(),
		EventID:      id.NewEventID(),
		Group:        dispatch.GroupExecSlow,
		Consumer:     "note",
		EventType:    "note.create.validated",
		UserID:       "user-1",
		Error:        "upload failed",
		AttemptCount: 5,
		MaxAttempts:  5,
		FailedAt:     time.Now().UTC(),
	}
	if err := s.PushDeadLetter(ctx(), entry); err != nil {
		t.Fatal(err)
	}

	if err := s.ReplayDeadLetter(ctx(), entry.ID); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetDeadLetter(ctx(), entry.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ReplayedAt == nil {
		t.Fatal("expected replayed_at to be set")
	}

	jobs, err := s.ListJobsByEvent(ctx(), entry.EventID)
	if err != nil {
		t.Fatal(err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected 1 replay job, got %d", len(jobs))
	}
	if jobs[0].State != dispatch.StatePending || jobs[0].AttemptCount != 0 {
		t.Fatalf("expected fresh pending job, got %+v", jobs[0])
	}
	if jobs[0].Consumer != "note" || jobs[0].Group != dispatch.GroupExecSlow {
		t.Fatalf("expected consumer and group to carry over, got %+v", jobs[0])
	}

	purged, err := s.PurgeDeadLetters(ctx(), time.Now().Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if purged != 1 {
		t.Fatalf("expected 1 purged, got %d", purged)
	}
}
