// Package spindle provides an event-sourced command pipeline for Go.
//
// Spindle is a library, not a service. Import it into your application
// to get an append-only event log with per-aggregate optimistic
// concurrency, a three-phase intent protocol (requested, validated,
// completed) with role checks and human-in-the-loop proposals for AI
// writes, idempotent executors, and signed webhook fan-out.
//
// Key features:
//   - Append-only event store with gapless per-aggregate versions and
//     batch appends
//   - Intent validation with role checks, JSON Schema payloads, and a
//     proposal flow that parks AI writes for review
//   - Fast and slow executor lanes with bounded retries, step-level
//     idempotency, and a replayable dead letter queue
//   - Per-user webhook subscriptions with HMAC-SHA256 signed deliveries
//   - Pluggable stores (Postgres, SQLite, Memory) behind one interface
//
// Quick start:
//
//	reg, err := registry.NewBuilder().
//	    Register(registry.Definition{
//	        Subject:       "note",
//	        AggregateType: eventlog.AggregateEntity,
//	        Actions:       []string{"create", "update"},
//	        RequiredRole:  authz.RoleEditor,
//	        Lane:          registry.LaneFast,
//	    }, noteExecutor).
//	    Build()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	p, err := spindle.New(
//	    spindle.WithStore(memoryStore),
//	    spindle.WithRegistry(reg),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	p.Start(ctx)
//	defer p.Stop(ctx)
//
//	evt, err := p.Publish(ctx, eventlog.PublishInput{
//	    Type:        "note.create.requested",
//	    AggregateID: "note-42",
//	    UserID:      "user-1",
//	    Data:        map[string]any{"title": "Reading list"},
//	})
package spindle
