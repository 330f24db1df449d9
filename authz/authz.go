package authz

import "context"

// Scope names the target of a permission check.
type Scope struct {
	// WorkspaceID is the workspace the intent mutates. By convention a
	// user's personal workspace shares the user's ID.
	WorkspaceID string

	// AggregateID optionally narrows the check to one record for
	// implementations with per-record ACLs.
	AggregateID string
}

// Authorizer resolves the role a user holds over a scope. Implementations
// return RoleNone (not an error) when the user has no access; errors are
// reserved for lookup failures and are retried by the caller.
type Authorizer interface {
	HasRole(ctx context.Context, userID string, s Scope) (Role, error)
}

// Policy holds the per-workspace switches the validator consults.
type Policy struct {
	// AIAutoApprove lets AI-sourced intents skip the proposal flow.
	AIAutoApprove bool
}

// DefaultPolicy is the policy applied when a workspace has no explicit one.
func DefaultPolicy() Policy {
	return Policy{AIAutoApprove: true}
}

// PolicyProvider resolves the policy for a workspace.
type PolicyProvider interface {
	WorkspacePolicy(ctx context.Context, workspaceID string) (Policy, error)
}
