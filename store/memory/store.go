// Package memory provides an in-memory Store implementation for unit
// testing and single-process deployments.
package memory

import (
	"context"
	"sync"

	"github.com/lorekeep/spindle"
	"github.com/lorekeep/spindle/deadletter"
	"github.com/lorekeep/spindle/dispatch"
	"github.com/lorekeep/spindle/eventlog"
	"github.com/lorekeep/spindle/proposal"
	spindlestore "github.com/lorekeep/spindle/store"
	"github.com/lorekeep/spindle/webhook"
)

// compile-time interface check.
var _ spindlestore.Store = (*Store)(nil)

// Store is an in-memory implementation of store.Store.
type Store struct {
	mu sync.RWMutex

	events          map[string]*eventlog.Event   // keyed by ID string
	byAggregate     map[string][]*eventlog.Event // append order, index = version-1
	eventsByIdemKey map[string]*eventlog.Event   // keyed by userID+"\x00"+key

	jobs      map[string]*dispatch.Job // keyed by ID string
	locked    map[string]bool          // simulates SKIP LOCKED
	proposals map[string]*proposal.Proposal

	subscriptions map[string]*webhook.Subscription
	deliveries    map[string]*webhook.Delivery

	dlEntries map[string]*deadletter.Entry

	closed bool
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		events:          make(map[string]*eventlog.Event),
		byAggregate:     make(map[string][]*eventlog.Event),
		eventsByIdemKey: make(map[string]*eventlog.Event),
		jobs:            make(map[string]*dispatch.Job),
		locked:          make(map[string]bool),
		proposals:       make(map[string]*proposal.Proposal),
		subscriptions:   make(map[string]*webhook.Subscription),
		deliveries:      make(map[string]*webhook.Delivery),
		dlEntries:       make(map[string]*deadletter.Entry),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

// Migrate is a no-op for the in-memory store.
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping reports whether the store is open.
func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return spindle.ErrStoreClosed
	}
	return nil
}

// Close marks the store as closed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// ──────────────────────────────────────────────────
// Helpers
// ──────────────────────────────────────────────────

func idemKey(userID, key string) string {
	return userID + "\x00" + key
}

func applyPagination[T any](items []*T, offset, limit int) []*T {
	if offset > 0 && offset < len(items) {
		items = items[offset:]
	} else if offset >= len(items) && offset > 0 {
		return nil
	}

	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}

	return items
}
