package deadletter

import (
	"context"
	"time"

	"github.com/lorekeep/spindle/id"
)

// Store defines the persistence contract for the dead letter surface.
type Store interface {
	// PushDeadLetter records a permanently failed job.
	PushDeadLetter(ctx context.Context, entry *Entry) error

	// ListDeadLetters returns entries, newest first, optionally filtered.
	ListDeadLetters(ctx context.Context, opts ListOpts) ([]*Entry, error)

	// GetDeadLetter returns an entry by ID.
	GetDeadLetter(ctx context.Context, dlID id.ID) (*Entry, error)

	// ReplayDeadLetter enqueues a fresh pending job for the entry's
	// event and consumer, with a reset attempt budget, and records the
	// replay time on the entry.
	ReplayDeadLetter(ctx context.Context, dlID id.ID) error

	// ReplayDeadLetters replays every entry that failed in the window,
	// returning how many were replayed.
	ReplayDeadLetters(ctx context.Context, from, to time.Time) (int64, error)

	// PurgeDeadLetters deletes entries that failed before the threshold,
	// returning how many were removed.
	PurgeDeadLetters(ctx context.Context, before time.Time) (int64, error)

	// CountDeadLetters returns the total number of entries.
	CountDeadLetters(ctx context.Context) (int64, error)
}
