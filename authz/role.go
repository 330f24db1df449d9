// Package authz defines the authorization port the validator consults
// before promoting an intent, plus static in-memory implementations for
// tests and single-node deployments.
package authz

import "fmt"

// Role is an ordered permission level within a workspace.
type Role int

// Roles in ascending order of capability.
const (
	RoleNone Role = iota
	RoleViewer
	RoleEditor
	RoleAdmin
	RoleOwner
)

var roleNames = map[Role]string{
	RoleNone:   "none",
	RoleViewer: "viewer",
	RoleEditor: "editor",
	RoleAdmin:  "admin",
	RoleOwner:  "owner",
}

// String returns the lowercase role name.
func (r Role) String() string {
	if name, ok := roleNames[r]; ok {
		return name
	}

	return fmt.Sprintf("role(%d)", int(r))
}

// Covers reports whether r grants at least the capability of min.
func (r Role) Covers(min Role) bool {
	return r >= min
}

// ParseRole parses a lowercase role name.
func ParseRole(s string) (Role, error) {
	for r, name := range roleNames {
		if name == s {
			return r, nil
		}
	}

	return RoleNone, fmt.Errorf("authz: unknown role %q", s)
}
