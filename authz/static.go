package authz

import (
	"context"
	"sync"
)

// StaticAuthorizer is an in-memory Authorizer backed by explicit grants.
// Users hold RoleOwner over their personal workspace (the workspace whose
// ID equals their user ID) without a grant.
type StaticAuthorizer struct {
	mu     sync.RWMutex
	grants map[string]Role
}

// NewStaticAuthorizer returns an empty StaticAuthorizer.
func NewStaticAuthorizer() *StaticAuthorizer {
	return &StaticAuthorizer{grants: make(map[string]Role)}
}

// Grant records a role for a user in a workspace, replacing any prior grant.
func (a *StaticAuthorizer) Grant(workspaceID, userID string, role Role) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.grants[workspaceID+"/"+userID] = role
}

// Revoke removes a user's grant in a workspace.
func (a *StaticAuthorizer) Revoke(workspaceID, userID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.grants, workspaceID+"/"+userID)
}

// HasRole implements Authorizer.
func (a *StaticAuthorizer) HasRole(_ context.Context, userID string, s Scope) (Role, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if role, ok := a.grants[s.WorkspaceID+"/"+userID]; ok {
		return role, nil
	}

	if s.WorkspaceID == userID {
		return RoleOwner, nil
	}

	return RoleNone, nil
}

// StaticPolicies is an in-memory PolicyProvider with a fallback default.
type StaticPolicies struct {
	mu       sync.RWMutex
	policies map[string]Policy
	fallback Policy
}

// NewStaticPolicies returns a StaticPolicies that answers DefaultPolicy
// for workspaces without an explicit entry.
func NewStaticPolicies() *StaticPolicies {
	return &StaticPolicies{
		policies: make(map[string]Policy),
		fallback: DefaultPolicy(),
	}
}

// Set records the policy for a workspace.
func (p *StaticPolicies) Set(workspaceID string, policy Policy) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.policies[workspaceID] = policy
}

// WorkspacePolicy implements PolicyProvider.
func (p *StaticPolicies) WorkspacePolicy(_ context.Context, workspaceID string) (Policy, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if policy, ok := p.policies[workspaceID]; ok {
		return policy, nil
	}

	return p.fallback, nil
}

var (
	_ Authorizer     = (*StaticAuthorizer)(nil)
	_ PolicyProvider = (*StaticPolicies)(nil)
)
