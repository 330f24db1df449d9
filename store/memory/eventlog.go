package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/lorekeep/spindle"
	"github.com/lorekeep/spindle/eventlog"
	"github.com/lorekeep/spindle/id"
)

func copyEvent(e *eventlog.Event) *eventlog.Event {
	cp := *e
	return &cp
}

// ──────────────────────────────────────────────────
// Event log
// ──────────────────────────────────────────────────

// AppendEvent appends one event at version expected+1. The aggregate
// head is the length of its slice, so the version chain stays gapless by
// construction.
func (s *Store) AppendEvent(_ context.Context, expected int64, evt *eventlog.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if evt.IdempotencyKey != "" {
		if _, ok := s.eventsByIdemKey[idemKey(evt.UserID, evt.IdempotencyKey)]; ok {
			return spindle.ErrDuplicateIdempotencyKey
		}
	}

	if head := int64(len(s.byAggregate[evt.AggregateID])); expected != head {
		return spindle.ErrConcurrencyConflict
	}

	s.insertEvent(evt, expected+1, time.Now().UTC())

	return nil
}

// AppendBatch appends events to one aggregate all-or-nothing. Every
// check runs before the first write so a failed batch leaves no trace.
func (s *Store) AppendBatch(_ context.Context, expected int64, evts []*eventlog.Event) error {
	if len(evts) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	aggregateID := evts[0].AggregateID
	seen := make(map[string]bool)

	for _, evt := range evts {
		if evt.AggregateID != aggregateID {
			return fmt.Errorf("memory: append batch: events span aggregates %q and %q", aggregateID, evt.AggregateID)
		}

		if evt.IdempotencyKey == "" {
			continue
		}

		k := idemKey(evt.UserID, evt.IdempotencyKey)
		if seen[k] {
			return spindle.ErrDuplicateIdempotencyKey
		}

		if _, ok := s.eventsByIdemKey[k]; ok {
			return spindle.ErrDuplicateIdempotencyKey
		}

		seen[k] = true
	}

	if head := int64(len(s.byAggregate[aggregateID])); expected != head {
		return spindle.ErrConcurrencyConflict
	}

	now := time.Now().UTC()
	for i, evt := range evts {
		s.insertEvent(evt, expected+int64(i)+1, now)
	}

	return nil
}

// insertEvent assumes s.mu is held and all preconditions passed.
func (s *Store) insertEvent(evt *eventlog.Event, version int64, now time.Time) {
	evt.Version = version
	evt.Timestamp = now

	cp := copyEvent(evt)
	s.events[cp.ID.String()] = cp
	s.byAggregate[cp.AggregateID] = append(s.byAggregate[cp.AggregateID], cp)

	if cp.IdempotencyKey != "" {
		s.eventsByIdemKey[idemKey(cp.UserID, cp.IdempotencyKey)] = cp
	}
}

// GetEvent returns an event by ID.
func (s *Store) GetEvent(_ context.Context, evtID id.ID) (*eventlog.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	evt, ok := s.events[evtID.String()]
	if !ok {
		return nil, spindle.ErrEventNotFound
	}

	return copyEvent(evt), nil
}

// AggregateStream returns an aggregate's events in ascending version order.
func (s *Store) AggregateStream(_ context.Context, aggregateID string, opts eventlog.StreamOpts) ([]*eventlog.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*eventlog.Event
	for _, evt := range s.byAggregate[aggregateID] {
		if opts.FromVersion > 0 && evt.Version < opts.FromVersion {
			continue
		}

		if opts.ToVersion > 0 && evt.Version > opts.ToVersion {
			continue
		}

		if !matchesType(evt, opts.Types) {
			continue
		}

		out = append(out, copyEvent(evt))
	}

	return out, nil
}

// UserStream returns a user's events in descending timestamp order.
func (s *Store) UserStream(_ context.Context, userID string, opts eventlog.UserStreamOpts) ([]*eventlog.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var cutoff time.Time
	if opts.Days > 0 {
		cutoff = time.Now().UTC().AddDate(0, 0, -opts.Days)
	}

	var out []*eventlog.Event
	for _, evt := range s.events {
		if evt.UserID != userID {
			continue
		}

		if opts.Days > 0 && evt.Timestamp.Before(cutoff) {
			continue
		}

		if !matchesType(evt, opts.Types) {
			continue
		}

		if !matchesAggregateType(evt, opts.AggregateTypes) {
			continue
		}

		out = append(out, copyEvent(evt))
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Version > out[j].Version
		}

		return out[i].Timestamp.After(out[j].Timestamp)
	})

	return applyPagination(out, opts.Offset, opts.Limit), nil
}

// CorrelatedEvents returns every event sharing a correlation ID in
// ascending timestamp order.
func (s *Store) CorrelatedEvents(_ context.Context, correlationID id.ID) ([]*eventlog.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*eventlog.Event
	for _, evt := range s.events {
		if evt.CorrelationID != correlationID {
			continue
		}

		out = append(out, copyEvent(evt))
	}

	sortByTimestampAsc(out)

	return out, nil
}

// AggregateVersion returns the current head version, 0 when the
// aggregate has no events.
func (s *Store) AggregateVersion(_ context.Context, aggregateID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return int64(len(s.byAggregate[aggregateID])), nil
}

// ListByCausation returns the direct children of an event in ascending
// timestamp order.
func (s *Store) ListByCausation(_ context.Context, causationID id.ID) ([]*eventlog.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*eventlog.Event
	for _, evt := range s.events {
		if evt.CausationID != causationID {
			continue
		}

		out = append(out, copyEvent(evt))
	}

	sortByTimestampAsc(out)

	return out, nil
}

// EventByIdempotencyKey returns the event previously appended with the
// given user-scoped idempotency key.
func (s *Store) EventByIdempotencyKey(_ context.Context, userID, key string) (*eventlog.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	evt, ok := s.eventsByIdemKey[idemKey(userID, key)]
	if !ok {
		return nil, spindle.ErrEventNotFound
	}

	return copyEvent(evt), nil
}

func sortByTimestampAsc(evts []*eventlog.Event) {
	sort.Slice(evts, func(i, j int) bool {
		if evts[i].Timestamp.Equal(evts[j].Timestamp) {
			return evts[i].Version < evts[j].Version
		}

		return evts[i].Timestamp.Before(evts[j].Timestamp)
	})
}

func matchesType(evt *eventlog.Event, types []string) bool {
	if len(types) == 0 {
		return true
	}

	for _, t := range types {
		if evt.Type == t {
			return true
		}
	}

	return false
}

func matchesAggregateType(evt *eventlog.Event, types []eventlog.AggregateType) bool {
	if len(types) == 0 {
		return true
	}

	for _, t := range types {
		if evt.AggregateType == t {
			return true
		}
	}

	return false
}
