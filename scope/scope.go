// Package scope carries multi-tenant request scope through context and
// stamps it onto event metadata at publish time. Embedders attach the
// scope in their authentication middleware; the pipeline captures it so
// every event records the workspace and request it originated from.
package scope

import "context"

type contextKey struct{}

// Metadata keys the pipeline writes captured scope under.
const (
	MetaWorkspaceID = "workspaceId"
	MetaRequestID   = "requestId"
	MetaClientID    = "clientId"
)

// Scope is the per-request tenant context.
type Scope struct {
	// WorkspaceID is the workspace the request operates in.
	WorkspaceID string

	// RequestID is the inbound request id, for tracing chains across
	// the log.
	RequestID string

	// ClientID identifies the calling client or device.
	ClientID string
}

// Attach returns a context carrying s.
func Attach(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// Capture extracts the scope from ctx. The zero Scope is returned when
// none is attached.
func Capture(ctx context.Context) Scope {
	s, _ := ctx.Value(contextKey{}).(Scope)
	return s
}

// Stamp writes the non-empty fields of the scope attached to ctx into
// metadata, returning the map (allocating it when nil and there is
// something to write). Existing keys are not overwritten so explicit
// caller metadata wins.
func Stamp(ctx context.Context, metadata map[string]string) map[string]string {
	s := Capture(ctx)
	if s == (Scope{}) {
		return metadata
	}

	if metadata == nil {
		metadata = make(map[string]string, 3)
	}

	put := func(key, val string) {
		if val == "" {
			return
		}
		if _, exists := metadata[key]; !exists {
			metadata[key] = val
		}
	}

	put(MetaWorkspaceID, s.WorkspaceID)
	put(MetaRequestID, s.RequestID)
	put(MetaClientID, s.ClientID)

	return metadata
}

// WorkspaceOf returns the workspace recorded in event metadata, falling
// back to the owning user's personal workspace when absent.
func WorkspaceOf(metadata map[string]string, userID string) string {
	if ws := metadata[MetaWorkspaceID]; ws != "" {
		return ws
	}

	return userID
}
