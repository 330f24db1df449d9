package spindle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lorekeep/spindle/dispatch"
	"github.com/lorekeep/spindle/eventlog"
	"github.com/lorekeep/spindle/id"
	"github.com/lorekeep/spindle/internal/entity"
	"github.com/lorekeep/spindle/registry"
	"github.com/lorekeep/spindle/scope"
	"github.com/lorekeep/spindle/validator"
	"github.com/lorekeep/spindle/webhook"
)

// Publish validates, appends, and routes one event. It is the single
// write path into the log; the validator, the proposal review flow, and
// the executors all publish through it.
//
// The critical path:
//  1. Parse the type and check it against the registry definition.
//  2. Validate requested-phase payloads against the subject's schema.
//  3. Stamp ambient scope onto metadata and mint ids.
//  4. Append at the aggregate head, retrying a bounded number of times
//     when a concurrent writer moves it first.
//  5. Route follow-up jobs: a validator job for requested intents, an
//     executor job for validated intents, webhook fan-out for all.
//
// Re-publishing with an already used idempotency key returns the stored
// event without appending. If routing fails after the append, the
// stored event is returned alongside the error.
func (p *Pipeline) Publish(ctx context.Context, in eventlog.PublishInput) (*eventlog.Event, error) {
	typ, err := eventlog.ParseType(in.Type)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEventType, err)
	}

	def, ok := p.registry.Definition(typ.Subject)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, typ.Subject)
	}
	if !def.ActionAllowed(typ.Action) {
		return nil, fmt.Errorf("%w: action %q not allowed for subject %q", ErrUnknownEventType, typ.Action, typ.Subject)
	}

	if in.UserID == "" {
		return nil, errors.New("spindle: publish: user id is required")
	}
	if in.AggregateID == "" {
		return nil, errors.New("spindle: publish: aggregate id is required")
	}

	aggType := in.AggregateType
	if aggType == "" {
		aggType = def.AggregateType
	} else if aggType != def.AggregateType {
		return nil, fmt.Errorf("%w: subject %q aggregates %s, not %s", ErrInvalidEventType, typ.Subject, def.AggregateType, aggType)
	}

	source := in.Source
	if source == "" {
		source = eventlog.SourceAPI
	}
	if !source.Valid() {
		return nil, fmt.Errorf("spindle: publish: unknown source %q", source)
	}

	data, err := marshalData(in.Data)
	if err != nil {
		return nil, fmt.Errorf("spindle: publish: encode data: %w", err)
	}

	if typ.Phase == eventlog.PhaseRequested {
		if err := p.registry.ValidatePayload(typ.Subject, data); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSchemaViolation, err)
		}
	}

	if in.IdempotencyKey != "" {
		existing, err := p.store.EventByIdempotencyKey(ctx, in.UserID, in.IdempotencyKey)
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, ErrEventNotFound) {
			return nil, err
		}
	}

	correlation := in.CorrelationID
	if correlation.IsNil() {
		correlation = id.NewCorrelationID()
	}

	evt := &eventlog.Event{
		ID:             id.NewEventID(),
		AggregateID:    in.AggregateID,
		AggregateType:  aggType,
		Type:           typ.String(),
		UserID:         in.UserID,
		Data:           data,
		Metadata:       scope.Stamp(ctx, in.Metadata),
		CausationID:    in.CausationID,
		CorrelationID:  correlation,
		Source:         source,
		IdempotencyKey: in.IdempotencyKey,
	}

	if err := p.append(ctx, evt); err != nil {
		// A key collision here means a concurrent publish with the same
		// key won the race; hand back its event.
		if in.IdempotencyKey != "" && errors.Is(err, ErrDuplicateIdempotencyKey) {
			return p.store.EventByIdempotencyKey(ctx, in.UserID, in.IdempotencyKey)
		}
		return nil, err
	}

	if p.metrics != nil {
		p.metrics.RecordAppend(string(evt.AggregateType), string(typ.Phase))
	}

	if err := p.routeJobs(ctx, evt, typ); err != nil {
		return evt, fmt.Errorf("spindle: route jobs: %w", err)
	}

	p.logger.DebugContext(ctx, "event published",
		"event_id", evt.ID,
		"type", evt.Type,
		"aggregate_id", evt.AggregateID,
		"version", evt.Version,
	)

	return evt, nil
}

// append writes evt at the aggregate head. Head conflicts are retried
// by re-reading the current version, bounded by PublishRetries.
func (p *Pipeline) append(ctx context.Context, evt *eventlog.Event) error {
	retries := p.config.PublishRetries
	if retries < 1 {
		retries = 1
	}

	var err error
	for attempt := 0; attempt < retries; attempt++ {
		var head int64
		head, err = p.store.AggregateVersion(ctx, evt.AggregateID)
		if err != nil {
			return err
		}

		err = p.store.AppendEvent(ctx, head, evt)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrConcurrencyConflict) {
			return err
		}
		if p.metrics != nil {
			p.metrics.AppendConflicts.Inc()
		}
	}

	return err
}

// routeJobs enqueues the follow-up work for a freshly appended event.
// Webhook jobs get a single attempt; failed deliveries are redelivered
// explicitly rather than retried on a schedule.
func (p *Pipeline) routeJobs(ctx context.Context, evt *eventlog.Event, typ eventlog.Type) error {
	now := time.Now().UTC()

	newJob := func(group, consumer string, maxAttempts int) *dispatch.Job {
		return &dispatch.Job{
			Entity:        entity.New(),
			ID:            id.NewJobID(),
			Group:         group,
			Consumer:      consumer,
			EventID:       evt.ID,
			State:         dispatch.StatePending,
			MaxAttempts:   maxAttempts,
			NextAttemptAt: now,
		}
	}

	jobs := []*dispatch.Job{
		newJob(dispatch.GroupWebhook, webhook.Consumer, 1),
	}

	switch typ.Phase {
	case eventlog.PhaseRequested:
		jobs = append(jobs, newJob(dispatch.GroupValidator, validator.Consumer, p.config.MaxRetries))
	case eventlog.PhaseValidated:
		if _, ok := p.registry.ExecutorFor(typ.Subject); ok {
			def, _ := p.registry.Definition(typ.Subject)
			group := dispatch.GroupExecFast
			if def.Lane == registry.LaneSlow {
				group = dispatch.GroupExecSlow
			}
			jobs = append(jobs, newJob(group, typ.Subject, p.config.MaxRetries))
		}
	}

	return p.store.EnqueueJobs(ctx, jobs)
}

// marshalData serializes the payload once. Raw JSON passes through
// untouched so stored bytes match what the caller signed or diffed.
func marshalData(v any) (json.RawMessage, error) {
	switch d := v.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return d, nil
	case []byte:
		return json.RawMessage(d), nil
	}

	return json.Marshal(v)
}

var _ eventlog.Publisher = (*Pipeline)(nil)
