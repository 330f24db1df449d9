package scope

import (
	"context"
	"testing"
)

func TestCaptureRoundTrip(t *testing.T) {
	ctx := Attach(context.Background(), Scope{WorkspaceID: "ws-1", RequestID: "req-9"})

	got := Capture(ctx)
	if got.WorkspaceID != "ws-1" || got.RequestID != "req-9" {
		t.Errorf("Capture = %+v", got)
	}

	if got := Capture(context.Background()); got != (Scope{}) {
		t.Errorf("bare context should capture zero scope, got %+v", got)
	}
}

func TestStamp(t *testing.T) {
	ctx := Attach(context.Background(), Scope{WorkspaceID: "ws-1", ClientID: "cli-2"})

	md := Stamp(ctx, nil)
	if md[MetaWorkspaceID] != "ws-1" || md[MetaClientID] != "cli-2" {
		t.Errorf("Stamp = %v", md)
	}
	if _, ok := md[MetaRequestID]; ok {
		t.Error("empty request id should not be stamped")
	}

	// Caller-provided metadata wins over captured scope.
	md = Stamp(ctx, map[string]string{MetaWorkspaceID: "ws-override"})
	if md[MetaWorkspaceID] != "ws-override" {
		t.Errorf("existing key overwritten: %v", md)
	}

	// No scope attached, nil map stays nil.
	if md := Stamp(context.Background(), nil); md != nil {
		t.Errorf("expected nil metadata, got %v", md)
	}
}

func TestWorkspaceOf(t *testing.T) {
	if ws := WorkspaceOf(map[string]string{MetaWorkspaceID: "ws-1"}, "alice"); ws != "ws-1" {
		t.Errorf("WorkspaceOf = %q", ws)
	}

	if ws := WorkspaceOf(nil, "alice"); ws != "alice" {
		t.Errorf("fallback WorkspaceOf = %q, want personal workspace", ws)
	}
}
