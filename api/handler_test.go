package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lorekeep/spindle"
	"github.com/lorekeep/spindle/api"
	"github.com/lorekeep/spindle/authz"
	"github.com/lorekeep/spindle/dispatch"
	"github.com/lorekeep/spindle/eventlog"
	"github.com/lorekeep/spindle/registry"
	"github.com/lorekeep/spindle/store/memory"
)

type echoExecutor struct{}

func (echoExecutor) Prepare(_ context.Context, evt *eventlog.Event, _ eventlog.Type, _ *dispatch.Task) (json.RawMessage, error) {
	return evt.Data, nil
}

func (echoExecutor) Apply(context.Context, *eventlog.Event, eventlog.Type, json.RawMessage) error {
	return nil
}

// testServer creates a Handler backed by a memory-store pipeline and
// returns the test server. The pipeline is started so intents resolve.
func testServer(t *testing.T) *httptest.Server {
	t.Helper()

	reg, err := registry.NewBuilder().
		Register(registry.Definition{
			Subject:       "note",
			AggregateType: eventlog.AggregateEntity,
			Actions:       []string{"create", "update"},
			RequiredRole:  authz.RoleEditor,
			Lane:          registry.LaneFast,
		}, echoExecutor{}).
		Build()
	if err != nil {
		t.Fatal(err)
	}

	p, err := spindle.New(
		spindle.WithStore(memory.New()),
		spindle.WithRegistry(reg),
		spindle.WithPollInterval(10*time.Millisecond),
	)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { p.Stop(context.Background()) })

	return httptest.NewServer(api.NewHandler(p, nil))
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(context.Background(), method, url, r)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode body: %v", err)
	}
}

func publishNote(t *testing.T, srv *httptest.Server, aggregateID string) map[string]any {
	t.Helper()
	resp := doJSON(t, "POST", srv.URL+"/events", map[string]any{
		"eventType":   "note.create.requested",
		"aggregateId": aggregateID,
		"userId":      "u1",
		"data":        map[string]any{"title": "hello"},
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("publish: expected 202, got %d", resp.StatusCode)
	}
	var evt map[string]any
	decodeBody(t, resp, &evt)
	return evt
}

// --- Events ---

func TestPublishAndReadBack(t *testing.T) {
	srv := testServer(t)
	defer srv.Close()

	evt := publishNote(t, srv, "note-1")
	evtID, _ := evt["id"].(string)
	if evtID == "" {
		t.Fatalf("expected event id, got %v", evt)
	}
	if evt["version"] != float64(1) {
		t.Fatalf("expected version 1, got %v", evt["version"])
	}

	// Get by id.
	resp := doJSON(t, "GET", srv.URL+"/events/"+evtID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", resp.StatusCode)
	}
	var got map[string]any
	decodeBody(t, resp, &got)
	if got["eventType"] != "note.create.requested" {
		t.Fatalf("expected note.create.requested, got %v", got["eventType"])
	}

	// Aggregate stream contains it.
	resp = doJSON(t, "GET", srv.URL+"/aggregates/note-1/events", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stream: expected 200, got %d", resp.StatusCode)
	}
	var events []map[string]any
	decodeBody(t, resp, &events)
	if len(events) == 0 {
		t.Fatal("expected events in the aggregate stream")
	}

	// Version endpoint agrees.
	resp = doJSON(t, "GET", srv.URL+"/aggregates/note-1/version", nil)
	var ver map[string]int64
	decodeBody(t, resp, &ver)
	if ver["version"] < 1 {
		t.Fatalf("expected version >= 1, got %d", ver["version"])
	}

	// User stream sees the user's activity.
	resp = doJSON(t, "GET", srv.URL+"/users/u1/events", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("user stream: expected 200, got %d", resp.StatusCode)
	}
	decodeBody(t, resp, &events)
	if len(events) == 0 {
		t.Fatal("expected events in the user stream")
	}
}

func TestPublishValidation(t *testing.T) {
	srv := testServer(t)
	defer srv.Close()

	// Missing fields.
	resp := doJSON(t, "POST", srv.URL+"/events", map[string]any{
		"eventType": "note.create.requested",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Unregistered subject.
	resp = doJSON(t, "POST", srv.URL+"/events", map[string]any{
		"eventType":   "task.create.requested",
		"aggregateId": "task-1",
		"userId":      "u1",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown subject, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Malformed type.
	resp = doJSON(t, "POST", srv.URL+"/events", map[string]any{
		"eventType":   "nonsense",
		"aggregateId": "x",
		"userId":      "u1",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed type, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestIntentStatusEndpoint(t *testing.T) {
	srv := testServer(t)
	defer srv.Close()

	evt := publishNote(t, srv, "note-2")
	evtID := evt["id"].(string)

	// The pipeline is running; completion lands shortly.
	deadline := time.Now().Add(5 * time.Second)
	var st map[string]any
	for time.Now().Before(deadline) {
		resp := doJSON(t, "GET", srv.URL+"/intents/"+evtID+"/status", nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status: expected 200, got %d", resp.StatusCode)
		}
		decodeBody(t, resp, &st)
		if st["state"] == "completed" {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if st["state"] != "completed" {
		t.Fatalf("intent never completed: %v", st["state"])
	}
	if st["completed"] == nil {
		t.Fatal("expected the completion event in the status payload")
	}
}

// --- Subscriptions ---

func TestSubscriptions_CRUD(t *testing.T) {
	srv := testServer(t)
	defer srv.Close()

	// Create returns the secret once.
	resp := doJSON(t, "POST", srv.URL+"/subscriptions", map[string]any{
		"user_id":     "u1",
		"url":         "https://example.com/hook",
		"event_types": []string{"note.create.completed"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d", resp.StatusCode)
	}
	var created struct {
		Subscription map[string]any `json:"subscription"`
		Secret       string         `json:"secret"`
	}
	decodeBody(t, resp, &created)
	if created.Secret == "" {
		t.Fatal("expected a generated secret")
	}
	subID, _ := created.Subscription["id"].(string)
	if subID == "" {
		t.Fatalf("expected subscription id, got %v", created.Subscription)
	}

	// Invalid input is a 400.
	resp = doJSON(t, "POST", srv.URL+"/subscriptions", map[string]any{
		"user_id": "u1",
		"url":     "https://example.com/hook",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("create without event types: expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// List by user.
	resp = doJSON(t, "GET", srv.URL+"/subscriptions?user=u1", nil)
	var subs []map[string]any
	decodeBody(t, resp, &subs)
	if len(subs) != 1 {
		t.Fatalf("expected 1 subscription, got %d", len(subs))
	}

	// Rotate.
	resp = doJSON(t, "POST", srv.URL+"/subscriptions/"+subID+"/rotate", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("rotate: expected 200, got %d", resp.StatusCode)
	}
	var rotated map[string]string
	decodeBody(t, resp, &rotated)
	if rotated["secret"] == "" || rotated["secret"] == created.Secret {
		t.Fatal("expected a fresh secret")
	}

	// Deliveries start empty.
	resp = doJSON(t, "GET", srv.URL+"/subscriptions/"+subID+"/deliveries", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("deliveries: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Delete, then 404.
	resp = doJSON(t, "DELETE", srv.URL+"/subscriptions/"+subID, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete: expected 204, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doJSON(t, "GET", srv.URL+"/subscriptions/"+subID, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("get after delete: expected 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

// --- Proposals ---

func TestProposalRoutes(t *testing.T) {
	srv := testServer(t)
	defer srv.Close()

	// Workspace filter is required.
	resp := doJSON(t, "GET", srv.URL+"/proposals", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = doJSON(t, "GET", srv.URL+"/proposals?workspace=ws-1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var proposals []map[string]any
	decodeBody(t, resp, &proposals)
	if len(proposals) != 0 {
		t.Fatalf("expected no proposals, got %d", len(proposals))
	}

	// Unknown proposal id.
	resp = doJSON(t, "POST", srv.URL+"/proposals/not-an-id/approve", map[string]any{
		"reviewerId": "u1",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad id, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

// --- Ops ---

func TestStatsAndHealth(t *testing.T) {
	srv := testServer(t)
	defer srv.Close()

	resp := doJSON(t, "GET", srv.URL+"/stats", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats: expected 200, got %d", resp.StatusCode)
	}
	var stats map[string]any
	decodeBody(t, resp, &stats)
	if _, ok := stats["pendingJobs"]; !ok {
		t.Fatalf("expected pendingJobs in stats, got %v", stats)
	}

	resp = doJSON(t, "GET", srv.URL+"/healthz", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestDeadLetterRoutes(t *testing.T) {
	srv := testServer(t)
	defer srv.Close()

	resp := doJSON(t, "GET", srv.URL+"/deadletter", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", resp.StatusCode)
	}
	var entries []map[string]any
	decodeBody(t, resp, &entries)
	if len(entries) != 0 {
		t.Fatalf("expected empty dead letter queue, got %d", len(entries))
	}

	// Bulk replay with a window that matches nothing.
	resp = doJSON(t, "POST", srv.URL+"/deadletter/replay", map[string]any{
		"from": time.Now().Add(-time.Hour).Format(time.RFC3339),
		"to":   time.Now().Format(time.RFC3339),
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("bulk replay: expected 200, got %d", resp.StatusCode)
	}
	var replayed map[string]int64
	decodeBody(t, resp, &replayed)
	if replayed["replayed"] != 0 {
		t.Fatalf("expected 0 replayed, got %d", replayed["replayed"])
	}
}
