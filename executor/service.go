package executor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lorekeep/spindle/dispatch"
	"github.com/lorekeep/spindle/eventlog"
	"github.com/lorekeep/spindle/id"
)

// Pattern returns the claim pattern for one subject's validated events.
func Pattern(subject string) string {
	return subject + ".*.validated"
}

// Store is the event lookup surface the service needs for idempotent
// re-runs.
type Store interface {
	ListByCausation(ctx context.Context, causationID id.ID) ([]*eventlog.Event, error)
}

// Broadcaster pushes a completed event to the owning user's live
// clients. Implementations must not block on slow consumers; a lost
// broadcast is acceptable, the log remains the source of truth.
type Broadcaster interface {
	Send(ctx context.Context, userID string, evt *eventlog.Event) error
}

// Service drives executors from the dispatch runners. One instance
// serves every subject; the resolver picks the executor per event.
type Service struct {
	store       Store
	publisher   eventlog.Publisher
	resolver    Resolver
	broadcaster Broadcaster
	logger      *slog.Logger
}

// NewService creates an executor service. A nil broadcaster disables
// live notifications.
func NewService(store Store, publisher eventlog.Publisher, resolver Resolver, broadcaster Broadcaster, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	return &Service{
		store:       store,
		publisher:   publisher,
		resolver:    resolver,
		broadcaster: broadcaster,
		logger:      logger,
	}
}

// Handle runs one validated event to completion: the executor's Prepare
// produces the completion payload, Apply folds it into the projection,
// and the completed event is appended with the validated event as its
// cause. Re-runs of an already completed event are skipped.
func (svc *Service) Handle(ctx context.Context, task *dispatch.Task) error {
	evt := task.Event

	typ, err := evt.ParsedType()
	if err != nil {
		return dispatch.Permanent(err)
	}
	if typ.Phase != eventlog.PhaseValidated {
		return nil
	}

	exec, ok := svc.resolver.ExecutorFor(typ.Subject)
	if !ok {
		return dispatch.Permanent(fmt.Errorf("executor: no executor for subject %q", typ.Subject))
	}

	done, err := svc.alreadyCompleted(ctx, evt)
	if err != nil {
		return err
	}
	if done {
		svc.logger.DebugContext(ctx, "event already completed", "event_id", evt.ID, "type", evt.Type)
		return nil
	}

	payload, err := exec.Prepare(ctx, evt, typ, task)
	if err != nil {
		return fmt.Errorf("executor: prepare %s: %w", evt.Type, err)
	}
	if payload == nil {
		payload = evt.Data
	}

	if err := exec.Apply(ctx, evt, typ, payload); err != nil {
		return fmt.Errorf("executor: apply %s: %w", evt.Type, err)
	}

	completed, err := svc.publisher.Publish(ctx, eventlog.PublishInput{
		Type:          typ.WithPhase(eventlog.PhaseCompleted).String(),
		AggregateID:   evt.AggregateID,
		AggregateType: evt.AggregateType,
		UserID:        evt.UserID,
		Data:          payload,
		Metadata:      evt.Metadata,
		Source:        evt.Source,
		CorrelationID: evt.CorrelationID,
		CausationID:   evt.ID,
	})
	if err != nil {
		return fmt.Errorf("executor: publish completed: %w", err)
	}

	svc.announce(ctx, completed)

	return nil
}

// alreadyCompleted reports whether the validated event already has a
// completed child from a previous attempt.
func (svc *Service) alreadyCompleted(ctx context.Context, evt *eventlog.Event) (bool, error) {
	children, err := svc.store.ListByCausation(ctx, evt.ID)
	if err != nil {
		return false, fmt.Errorf("executor: causation lookup: %w", err)
	}

	for _, child := range children {
		ct, err := child.ParsedType()
		if err != nil {
			continue
		}
		if ct.Phase == eventlog.PhaseCompleted {
			return true, nil
		}
	}

	return false, nil
}

// announce pushes the completed event to the user's live clients. Lost
// broadcasts are logged and dropped.
func (svc *Service) announce(ctx context.Context, evt *eventlog.Event) {
	if svc.broadcaster == nil {
		return
	}

	if err := svc.broadcaster.Send(ctx, evt.UserID, evt); err != nil {
		svc.logger.WarnContext(ctx, "broadcast failed",
			"event_id", evt.ID,
			"user_id", evt.UserID,
			"error", err,
		)
	}
}
