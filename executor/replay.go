package executor

import (
	"context"
	"fmt"

	"github.com/lorekeep/spindle/eventlog"
)

// StreamSource reads the version-ordered history of one aggregate.
type StreamSource interface {
	AggregateStream(ctx context.Context, aggregateID string, opts eventlog.StreamOpts) ([]*eventlog.Event, error)
}

// Rebuild reconstructs an aggregate's projection from the log alone by
// folding its completed events, in version order, through the owning
// executor's Apply. Events whose subject has no executor contribute
// nothing. Returns how many events were folded.
//
// Apply is deterministic and idempotent, so Rebuild may run against a
// live projection to repair drift, not only against an empty one.
func Rebuild(ctx context.Context, src StreamSource, resolver Resolver, aggregateID string) (int, error) {
	events, err := src.AggregateStream(ctx, aggregateID, eventlog.StreamOpts{})
	if err != nil {
		return 0, fmt.Errorf("executor: rebuild %q: read stream: %w", aggregateID, err)
	}

	folded := 0
	for _, evt := range events {
		typ, err := evt.ParsedType()
		if err != nil || typ.Phase != eventlog.PhaseCompleted {
			continue
		}

		exec, ok := resolver.ExecutorFor(typ.Subject)
		if !ok {
			continue
		}

		if err := exec.Apply(ctx, evt, typ, evt.Data); err != nil {
			return folded, fmt.Errorf("executor: rebuild %q: apply %s at version %d: %w", aggregateID, evt.Type, evt.Version, err)
		}
		folded++
	}

	return folded, nil
}
