package deadletter

import (
	"context"
	"log/slog"
	"time"

	"github.com/lorekeep/spindle/dispatch"
	"github.com/lorekeep/spindle/eventlog"
	"github.com/lorekeep/spindle/id"
	"github.com/lorekeep/spindle/internal/entity"
)

// Service manages the dead letter surface.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService creates a new dead letter service.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		logger: logger,
	}
}

// PushFailed creates an entry from a permanently failed job. Implements
// dispatch.DeadLetterPusher; evt is nil when the event could not be
// loaded.
func (svc *Service) PushFailed(ctx context.Context, j *dispatch.Job, evt *eventlog.Event, lastError string) error {
	entry := &Entry{
		Entity:       entity.New(),
		ID:           id.NewDeadLetterID(),
		JobID:        j.ID,
		EventID:      j.EventID,
		Group:        j.Group,
		Consumer:     j.Consumer,
		Error:        lastError,
		AttemptCount: j.AttemptCount,
		MaxAttempts:  j.MaxAttempts,
		FailedAt:     time.Now().UTC(),
	}
	if evt != nil {
		entry.EventType = evt.Type
		entry.UserID = evt.UserID
	}

	return svc.store.PushDeadLetter(ctx, entry)
}

// List returns entries matching the given options.
func (svc *Service) List(ctx context.Context, opts ListOpts) ([]*Entry, error) {
	return svc.store.ListDeadLetters(ctx, opts)
}

// Get returns an entry by ID.
func (svc *Service) Get(ctx context.Context, dlID id.ID) (*Entry, error) {
	return svc.store.GetDeadLetter(ctx, dlID)
}

// Replay re-enqueues a single entry as a fresh job.
func (svc *Service) Replay(ctx context.Context, dlID id.ID) error {
	if err := svc.store.ReplayDeadLetter(ctx, dlID); err != nil {
		return err
	}

	svc.logger.InfoContext(ctx, "dead letter replayed", "entry_id", dlID)

	return nil
}

// ReplayBulk re-enqueues every entry that failed within a time range.
func (svc *Service) ReplayBulk(ctx context.Context, from, to time.Time) (int64, error) {
	n, err := svc.store.ReplayDeadLetters(ctx, from, to)
	if err != nil {
		return 0, err
	}

	if n > 0 {
		svc.logger.InfoContext(ctx, "dead letters replayed", "count", n)
	}

	return n, nil
}

// Purge removes old entries.
func (svc *Service) Purge(ctx context.Context, before time.Time) (int64, error) {
	return svc.store.PurgeDeadLetters(ctx, before)
}

// Count returns the total number of entries.
func (svc *Service) Count(ctx context.Context) (int64, error) {
	return svc.store.CountDeadLetters(ctx)
}

var _ dispatch.DeadLetterPusher = (*Service)(nil)
