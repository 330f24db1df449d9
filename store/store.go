// Package store defines the composite Store interface for all Spindle
// persistence.
//
// Each subsystem defines its own store interface; the aggregate Store
// composes them all, so one backend serves the event log, the job
// queue, the proposals, the webhook tables, and the dead letter surface
// from a single transactional domain.
package store

import (
	"context"

	"github.com/lorekeep/spindle/deadletter"
	"github.com/lorekeep/spindle/dispatch"
	"github.com/lorekeep/spindle/eventlog"
	"github.com/lorekeep/spindle/proposal"
	"github.com/lorekeep/spindle/webhook"
)

// Store is the aggregate persistence interface.
type Store interface {
	eventlog.Store
	dispatch.Store
	proposal.Store
	webhook.Store
	deadletter.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks database connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
