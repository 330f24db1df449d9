package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/lorekeep/spindle/eventlog"
	"github.com/lorekeep/spindle/id"
	"github.com/lorekeep/spindle/observability"
)

// RunnerStore is the interface a runner needs for job operations.
type RunnerStore interface {
	// DequeueJobs claims up to limit due pending jobs of a group,
	// marking them running.
	DequeueJobs(ctx context.Context, group string, limit int) ([]*Job, error)
	UpdateJob(ctx context.Context, j *Job) error
	GetEvent(ctx context.Context, evtID id.ID) (*eventlog.Event, error)
}

// DeadLetterPusher records permanently failed jobs on the dead letter
// surface. evt may be nil when the event could not be loaded.
type DeadLetterPusher interface {
	PushFailed(ctx context.Context, j *Job, evt *eventlog.Event, lastError string) error
}

// Handler processes one task. A nil return marks the job succeeded; an
// error schedules a retry until attempts run out, unless wrapped with
// Permanent.
type Handler func(ctx context.Context, t *Task) error

// RunnerConfig holds per-group runner configuration.
type RunnerConfig struct {
	Group        string
	Concurrency  int
	PollInterval time.Duration
	BatchSize    int

	// JobTimeout caps one handler invocation. Zero means no cap.
	JobTimeout time.Duration

	RetrySchedule []time.Duration
	Metrics       *observability.Metrics
	Tracer        *observability.Tracer
}

type registration struct {
	pattern string
	handler Handler
}

// Runner is the worker pool serving one consumer group. It polls the job
// table for due work and executes handlers under a bounded semaphore.
type Runner struct {
	store    RunnerStore
	retrier  *Retrier
	dlq      DeadLetterPusher
	config   RunnerConfig
	logger   *slog.Logger
	handlers map[string]registration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner creates a runner for one group. Handlers are registered
// before Start; there is no registration after the loop begins.
func NewRunner(store RunnerStore, dlq DeadLetterPusher, cfg RunnerConfig, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		store:    store,
		retrier:  NewRetrier(cfg.RetrySchedule),
		dlq:      dlq,
		config:   cfg,
		logger:   logger,
		handlers: make(map[string]registration),
	}
}

// Register binds a consumer key to a handler. The claim pattern guards
// execution: events not matching it complete the job as a skip. Passing
// "*" claims everything routed to the consumer.
func (r *Runner) Register(consumer, pattern string, h Handler) {
	r.handlers[consumer] = registration{pattern: pattern, handler: h}
}

// Start begins the poll loop.
func (r *Runner) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.pollLoop(ctx)
	}()
}

// Stop cancels the poll loop and waits for in-flight jobs to complete.
func (r *Runner) Stop(_ context.Context) {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

// pollLoop periodically dequeues due jobs and dispatches them to workers.
func (r *Runner) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(r.config.PollInterval)
	defer ticker.Stop()

	sem := make(chan struct{}, r.config.Concurrency)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			batch, err := r.store.DequeueJobs(ctx, r.config.Group, r.config.BatchSize)
			if err != nil {
				r.logger.ErrorContext(ctx, "dequeue failed", "group", r.config.Group, "error", err)
				continue
			}

			for _, j := range batch {
				select {
				case <-ctx.Done():
					return
				case sem <- struct{}{}:
				}

				r.wg.Add(1)
				go func(job *Job) {
					defer r.wg.Done()
					defer func() { <-sem }()
					r.process(ctx, job)
				}(j)
			}
		}
	}
}

// process handles a single job: fetch the event, run the handler, decide,
// update.
func (r *Runner) process(ctx context.Context, j *Job) {
	var span trace.Span
	if r.config.Tracer != nil {
		ctx, span = r.config.Tracer.StartJobSpan(ctx, j.ID.String(), r.config.Group, j.Consumer, j.EventID.String())
	}

	start := time.Now()

	evt, err := r.store.GetEvent(ctx, j.EventID)
	if err != nil {
		r.logger.ErrorContext(ctx, "get event failed",
			"job_id", j.ID, "event_id", j.EventID, "error", err)
		j.AttemptCount++
		r.settle(ctx, j, nil, fmt.Errorf("get event: %w", err), time.Since(start))
		if span != nil {
			r.config.Tracer.EndJobSpan(span, "error", err.Error())
		}
		return
	}

	reg, ok := r.handlers[j.Consumer]
	if !ok {
		j.AttemptCount++
		r.settle(ctx, j, evt, Permanent(fmt.Errorf("no handler for consumer %q", j.Consumer)), time.Since(start))
		if span != nil {
			r.config.Tracer.EndJobSpan(span, "error", "no handler")
		}
		return
	}

	// Events outside the consumer's claim complete as a skip.
	if !Match(reg.pattern, evt.Type) {
		now := time.Now().UTC()
		j.State = StateSucceeded
		j.CompletedAt = &now
		if updateErr := r.store.UpdateJob(ctx, j); updateErr != nil {
			r.logger.ErrorContext(ctx, "update job failed", "job_id", j.ID, "error", updateErr)
		}
		if r.config.Metrics != nil {
			r.config.Metrics.RecordJob(r.config.Group, "skipped", time.Since(start).Seconds())
		}
		if span != nil {
			r.config.Tracer.EndJobSpan(span, "skipped", "")
		}
		return
	}

	j.AttemptCount++

	task := NewTask(j, evt, func(saveCtx context.Context) error {
		return r.store.UpdateJob(saveCtx, j)
	})

	jobCtx := ctx
	if r.config.JobTimeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, r.config.JobTimeout)
		defer cancel()
	}

	handlerErr := reg.handler(jobCtx, task)
	r.settle(ctx, j, evt, handlerErr, time.Since(start))

	if span != nil {
		outcome := "succeeded"
		msg := ""
		if handlerErr != nil {
			outcome = "failed"
			msg = handlerErr.Error()
		}
		r.config.Tracer.EndJobSpan(span, outcome, msg)
	}
}

// settle records the outcome of an attempt on the job row.
func (r *Runner) settle(ctx context.Context, j *Job, evt *eventlog.Event, handlerErr error, elapsed time.Duration) {
	seconds := elapsed.Seconds()

	if handlerErr == nil {
		now := time.Now().UTC()
		j.State = StateSucceeded
		j.LastError = ""
		j.CompletedAt = &now
		if r.config.Metrics != nil {
			r.config.Metrics.RecordJob(r.config.Group, "succeeded", seconds)
		}
		r.logger.DebugContext(ctx, "job succeeded",
			"job_id", j.ID, "group", r.config.Group, "consumer", j.Consumer, "attempt", j.AttemptCount)
	} else {
		j.LastError = handlerErr.Error()

		switch r.retrier.Decide(handlerErr, j) {
		case Retry:
			j.State = StatePending
			j.NextAttemptAt = r.retrier.ComputeNextAttempt(j.AttemptCount)
			if r.config.Metrics != nil {
				r.config.Metrics.RecordJob(r.config.Group, "retried", seconds)
			}
			r.logger.DebugContext(ctx, "job retry scheduled",
				"job_id", j.ID, "attempt", j.AttemptCount, "next_at", j.NextAttemptAt, "error", handlerErr)

		case DeadLetter:
			now := time.Now().UTC()
			j.State = StateFailed
			j.CompletedAt = &now
			if r.dlq != nil {
				if dlqErr := r.dlq.PushFailed(ctx, j, evt, handlerErr.Error()); dlqErr != nil {
					r.logger.ErrorContext(ctx, "push to dead letter failed",
						"job_id", j.ID, "error", dlqErr)
				}
			}
			if r.config.Metrics != nil {
				r.config.Metrics.RecordJob(r.config.Group, "failed", seconds)
				r.config.Metrics.DeadLetterSize.Inc()
			}

			var stepErr *StepError
			if errors.As(handlerErr, &stepErr) {
				r.logger.WarnContext(ctx, "job failed permanently",
					"job_id", j.ID, "group", r.config.Group, "step", stepErr.Step, "error", handlerErr)
			} else {
				r.logger.WarnContext(ctx, "job failed permanently",
					"job_id", j.ID, "group", r.config.Group, "error", handlerErr)
			}
		}
	}

	if updateErr := r.store.UpdateJob(ctx, j); updateErr != nil {
		r.logger.ErrorContext(ctx, "update job failed",
			"job_id", j.ID, "error", updateErr)
	}
}
