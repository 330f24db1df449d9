package memory

import (
	"context"
	"sort"
	"time"

	"github.com/lorekeep/spindle"
	"github.com/lorekeep/spindle/deadletter"
	"github.com/lorekeep/spindle/dispatch"
	"github.com/lorekeep/spindle/id"
	"github.com/lorekeep/spindle/internal/entity"
)

func copyEntry(e *deadletter.Entry) *deadletter.Entry {
	cp := *e
	return &cp
}

// ──────────────────────────────────────────────────
// Dead letters
// ──────────────────────────────────────────────────

// PushDeadLetter records a permanently failed job.
func (s *Store) PushDeadLetter(_ context.Context, entry *deadletter.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.dlEntries[entry.ID.String()] = copyEntry(entry)

	return nil
}

// ListDeadLetters returns entries, newest first, optionally filtered.
func (s *Store) ListDeadLetters(_ context.Context, opts deadletter.ListOpts) ([]*deadletter.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*deadletter.Entry
	for _, e := range s.dlEntries {
		if opts.Group != "" && e.Group != opts.Group {
			continue
		}

		if opts.UserID != "" && e.UserID != opts.UserID {
			continue
		}

		if opts.From != nil && e.FailedAt.Before(*opts.From) {
			continue
		}

		if opts.To != nil && e.FailedAt.After(*opts.To) {
			continue
		}

		out = append(out, copyEntry(e))
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].FailedAt.After(out[j].FailedAt)
	})

	return applyPagination(out, opts.Offset, opts.Limit), nil
}

// GetDeadLetter returns an entry by ID.
func (s *Store) GetDeadLetter(_ context.Context, dlID id.ID) (*deadletter.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.dlEntries[dlID.String()]
	if !ok {
		return nil, spindle.ErrDeadLetterNotFound
	}

	return copyEntry(e), nil
}

// ReplayDeadLetter enqueues a fresh pending job for the entry's event
// and consumer and records the replay time.
func (s *Store) ReplayDeadLetter(_ context.Context, dlID id.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.dlEntries[dlID.String()]
	if !ok {
		return spindle.ErrDeadLetterNotFound
	}

	s.replayEntry(e, time.Now().UTC())

	return nil
}

// ReplayDeadLetters replays every not-yet-replayed entry that failed in
// the window.
func (s *Store) ReplayDeadLetters(_ context.Context, from, to time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()

	var n int64
	for _, e := range s.dlEntries {
		if e.ReplayedAt != nil {
			continue
		}

		if e.FailedAt.Before(from) || e.FailedAt.After(to) {
			continue
		}

		s.replayEntry(e, now)
		n++
	}

	return n, nil
}

// replayEntry assumes s.mu is held.
func (s *Store) replayEntry(e *deadletter.Entry, now time.Time) {
	j := &dispatch.Job{
		Entity:        entity.New(),
		ID:            id.NewJobID(),
		Group:         e.Group,
		Consumer:      e.Consumer,
		EventID:       e.EventID,
		State:         dispatch.StatePending,
		MaxAttempts:   e.MaxAttempts,
		NextAttemptAt: now,
	}

	s.jobs[j.ID.String()] = j
	e.ReplayedAt = &now
	e.UpdatedAt = now
}

// PurgeDeadLetters deletes entries that failed before the threshold.
func (s *Store) PurgeDeadLetters(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for key, e := range s.dlEntries {
		if !e.FailedAt.Before(before) {
			continue
		}

		delete(s.dlEntries, key)
		n++
	}

	return n, nil
}

// CountDeadLetters returns the total number of entries.
func (s *Store) CountDeadLetters(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return int64(len(s.dlEntries)), nil
}
