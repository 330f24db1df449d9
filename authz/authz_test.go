package authz

import (
	"context"
	"testing"
)

func TestRoleCovers(t *testing.T) {
	tests := []struct {
		name string
		have Role
		min  Role
		want bool
	}{
		{"owner covers editor", RoleOwner, RoleEditor, true},
		{"editor covers editor", RoleEditor, RoleEditor, true},
		{"viewer below editor", RoleViewer, RoleEditor, false},
		{"none below viewer", RoleNone, RoleViewer, false},
		{"admin covers viewer", RoleAdmin, RoleViewer, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.have.Covers(tt.min); got != tt.want {
				t.Errorf("%s.Covers(%s) = %v, want %v", tt.have, tt.min, got, tt.want)
			}
		})
	}
}

func TestParseRole(t *testing.T) {
	role, err := ParseRole("editor")
	if err != nil {
		t.Fatalf("ParseRole(editor): %v", err)
	}
	if role != RoleEditor {
		t.Errorf("got %v", role)
	}

	if _, err := ParseRole("superuser"); err == nil {
		t.Error("expected error for unknown role")
	}
}

func TestStaticAuthorizer(t *testing.T) {
	a := NewStaticAuthorizer()
	a.Grant("ws-1", "alice", RoleEditor)

	role, err := a.HasRole(context.Background(), "alice", Scope{WorkspaceID: "ws-1"})
	if err != nil {
		t.Fatalf("HasRole: %v", err)
	}
	if role != RoleEditor {
		t.Errorf("granted role = %v, want editor", role)
	}

	// Personal workspace: workspace ID equals user ID.
	role, _ = a.HasRole(context.Background(), "bob", Scope{WorkspaceID: "bob"})
	if role != RoleOwner {
		t.Errorf("personal workspace role = %v, want owner", role)
	}

	// No grant, foreign workspace.
	role, _ = a.HasRole(context.Background(), "bob", Scope{WorkspaceID: "ws-1"})
	if role != RoleNone {
		t.Errorf("foreign workspace role = %v, want none", role)
	}

	a.Revoke("ws-1", "alice")
	role, _ = a.HasRole(context.Background(), "alice", Scope{WorkspaceID: "ws-1"})
	if role != RoleNone {
		t.Errorf("revoked role = %v, want none", role)
	}
}

func TestStaticPolicies(t *testing.T) {
	p := NewStaticPolicies()

	policy, err := p.WorkspacePolicy(context.Background(), "ws-1")
	if err != nil {
		t.Fatalf("WorkspacePolicy: %v", err)
	}
	if !policy.AIAutoApprove {
		t.Error("default policy should auto approve AI intents")
	}

	p.Set("ws-1", Policy{AIAutoApprove: false})
	policy, _ = p.WorkspacePolicy(context.Background(), "ws-1")
	if policy.AIAutoApprove {
		t.Error("explicit policy not applied")
	}
}
