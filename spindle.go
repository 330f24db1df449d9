package spindle

import (
	"context"
	"errors"
	"time"

	"github.com/lorekeep/spindle/deadletter"
	"github.com/lorekeep/spindle/dispatch"
	"github.com/lorekeep/spindle/eventlog"
	"github.com/lorekeep/spindle/executor"
	"github.com/lorekeep/spindle/id"
	"github.com/lorekeep/spindle/proposal"
	"github.com/lorekeep/spindle/registry"
	"github.com/lorekeep/spindle/store"
	"github.com/lorekeep/spindle/validator"
	"github.com/lorekeep/spindle/webhook"
)

// wireServices initializes the internal services after options have been applied.
func (p *Pipeline) wireServices() {
	p.proposalSvc = proposal.NewService(p.store, p, p.authorizer, p.logger)

	p.webhookSvc = webhook.NewService(p.store, p.logger)

	p.dlqSvc = deadletter.NewService(p.store, p.logger)

	p.broker = webhook.NewBroker(p.store, webhook.BrokerConfig{
		RequestTimeout: p.config.RequestTimeout,
		Metrics:        p.metrics,
		Tracer:         p.tracer,
	}, p.logger)

	p.validator = validator.New(p.store, p, p.registry, p.authorizer, p.policies, validator.Config{
		ProposalTTL: p.config.ProposalTTL,
	}, p.logger)

	p.executorSvc = executor.NewService(p.store, p, p.registry, p.broadcaster, p.logger)

	p.runners = p.buildRunners()
}

// buildRunners assembles one worker pool per dispatch group. The
// validator and webhook runners each serve a single consumer; the two
// executor runners serve one consumer per registered subject, split by
// lane.
func (p *Pipeline) buildRunners() []*dispatch.Runner {
	cfg := func(group string, concurrency int, jobTimeout time.Duration) dispatch.RunnerConfig {
		return dispatch.RunnerConfig{
			Group:         group,
			Concurrency:   concurrency,
			PollInterval:  p.config.PollInterval,
			BatchSize:     p.config.BatchSize,
			JobTimeout:    jobTimeout,
			RetrySchedule: p.config.RetrySchedule,
			Metrics:       p.metrics,
			Tracer:        p.tracer,
		}
	}

	vr := dispatch.NewRunner(p.store, p.dlqSvc, cfg(dispatch.GroupValidator, p.config.Concurrency.Validator, 0), p.logger)
	vr.Register(validator.Consumer, validator.Pattern, p.validator.Handle)

	fast := dispatch.NewRunner(p.store, p.dlqSvc, cfg(dispatch.GroupExecFast, p.config.Concurrency.Fast, 0), p.logger)
	slow := dispatch.NewRunner(p.store, p.dlqSvc, cfg(dispatch.GroupExecSlow, p.config.Concurrency.Slow, p.config.SlowJobTimeout), p.logger)
	for _, subject := range p.registry.Subjects() {
		if _, ok := p.registry.ExecutorFor(subject); !ok {
			continue
		}
		def, _ := p.registry.Definition(subject)
		r := fast
		if def.Lane == registry.LaneSlow {
			r = slow
		}
		r.Register(subject, executor.Pattern(subject), p.executorSvc.Handle)
	}

	wr := dispatch.NewRunner(p.store, p.dlqSvc, cfg(dispatch.GroupWebhook, p.config.Concurrency.Webhook, 0), p.logger)
	wr.Register(webhook.Consumer, "*", p.broker.Handle)

	return []*dispatch.Runner{vr, fast, slow, wr}
}

// Start begins the dispatch runners and the proposal expiry sweep.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return ErrAlreadyRunning
	}
	p.running = true

	for _, r := range p.runners {
		r.Start(ctx)
	}

	sweepCtx, cancel := context.WithCancel(ctx)
	p.sweepCancel = cancel
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.sweepLoop(sweepCtx)
	}()

	p.logger.InfoContext(ctx, "pipeline started",
		"subjects", len(p.registry.Subjects()),
		"poll_interval", p.config.PollInterval,
	)

	return nil
}

// Stop shuts down the runners and waits for in-flight jobs, up to the
// configured shutdown timeout.
func (p *Pipeline) Stop(ctx context.Context) {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel := p.sweepCancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	stopCtx, done := context.WithTimeout(ctx, p.config.ShutdownTimeout)
	defer done()

	finished := make(chan struct{})
	go func() {
		for _, r := range p.runners {
			r.Stop(stopCtx)
		}
		p.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		p.logger.Info("pipeline stopped")
	case <-stopCtx.Done():
		p.logger.Warn("pipeline stop timed out", "timeout", p.config.ShutdownTimeout)
	}
}

// sweepLoop expires overdue proposals on a fixed cadence and refreshes
// the backlog gauges while it is at it.
func (p *Pipeline) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(p.config.ProposalSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweep(ctx)
		}
	}
}

func (p *Pipeline) sweep(ctx context.Context) {
	expired, err := p.proposalSvc.ExpireOpen(ctx)
	if err != nil {
		p.logger.ErrorContext(ctx, "proposal sweep failed", "error", err)
		return
	}
	if expired > 0 {
		p.logger.InfoContext(ctx, "proposals expired", "count", expired)
	}

	if p.metrics == nil {
		return
	}
	if open, err := p.proposalSvc.CountOpen(ctx); err == nil {
		p.metrics.ProposalsOpen.Set(float64(open))
	}
	if size, err := p.dlqSvc.Count(ctx); err == nil {
		p.metrics.DeadLetterSize.Set(float64(size))
	}
}

// Approve approves a pending proposal, appending the validated event
// before the proposal row flips. The reviewer must hold the admin role
// in the proposal's workspace.
func (p *Pipeline) Approve(ctx context.Context, prpID id.ID, reviewerID string) (*proposal.Proposal, error) {
	prp, err := p.proposalSvc.Approve(ctx, prpID, reviewerID)
	return prp, mapProposalErr(err)
}

// Reject rejects a pending proposal, appending the denied event before
// the proposal row flips.
func (p *Pipeline) Reject(ctx context.Context, prpID id.ID, reviewerID, comment string) (*proposal.Proposal, error) {
	prp, err := p.proposalSvc.Reject(ctx, prpID, reviewerID, comment)
	return prp, mapProposalErr(err)
}

func mapProposalErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, proposal.ErrClosed):
		return ErrProposalClosed
	case errors.Is(err, proposal.ErrForbidden):
		return ErrPermissionDenied
	}
	return err
}

// Redeliver re-sends a previously attempted webhook delivery, recording
// the new attempt as its own delivery row.
func (p *Pipeline) Redeliver(ctx context.Context, dlvID id.ID) (*webhook.Delivery, error) {
	return p.broker.Redeliver(ctx, dlvID)
}

// FailedJobs lists jobs whose attempts are exhausted, newest first.
// Exhausted jobs also land in the dead letter queue for replay.
func (p *Pipeline) FailedJobs(ctx context.Context, opts dispatch.ListOpts) ([]*dispatch.Job, error) {
	failed := dispatch.StateFailed
	opts.State = &failed
	return p.store.ListJobs(ctx, opts)
}

// Stats is a point-in-time snapshot of the pipeline backlog.
type Stats struct {
	PendingJobs   map[string]int64 `json:"pendingJobs"`
	OpenProposals int64            `json:"openProposals"`
	DeadLetters   int64            `json:"deadLetters"`
}

// Stats reports pending job counts per group alongside the open
// proposal and dead letter backlogs.
func (p *Pipeline) Stats(ctx context.Context) (*Stats, error) {
	groups := []string{
		dispatch.GroupValidator,
		dispatch.GroupExecFast,
		dispatch.GroupExecSlow,
		dispatch.GroupWebhook,
	}

	pending := make(map[string]int64, len(groups))
	for _, g := range groups {
		n, err := p.store.CountJobs(ctx, g, dispatch.StatePending)
		if err != nil {
			return nil, err
		}
		pending[g] = n
	}

	open, err := p.proposalSvc.CountOpen(ctx)
	if err != nil {
		return nil, err
	}

	dead, err := p.dlqSvc.Count(ctx)
	if err != nil {
		return nil, err
	}

	return &Stats{PendingJobs: pending, OpenProposals: open, DeadLetters: dead}, nil
}

// GetEvent returns one event by id.
func (p *Pipeline) GetEvent(ctx context.Context, evtID id.ID) (*eventlog.Event, error) {
	return p.store.GetEvent(ctx, evtID)
}

// AggregateStream returns an aggregate's events in version order.
func (p *Pipeline) AggregateStream(ctx context.Context, aggregateID string, opts eventlog.StreamOpts) ([]*eventlog.Event, error) {
	return p.store.AggregateStream(ctx, aggregateID, opts)
}

// UserStream returns a user's events newest first.
func (p *Pipeline) UserStream(ctx context.Context, userID string, opts eventlog.UserStreamOpts) ([]*eventlog.Event, error) {
	return p.store.UserStream(ctx, userID, opts)
}

// CorrelatedEvents returns every event sharing a correlation id, oldest
// first.
func (p *Pipeline) CorrelatedEvents(ctx context.Context, correlationID id.ID) ([]*eventlog.Event, error) {
	return p.store.CorrelatedEvents(ctx, correlationID)
}

// AggregateVersion returns the aggregate's current head version, zero
// for an unknown aggregate.
func (p *Pipeline) AggregateVersion(ctx context.Context, aggregateID string) (int64, error) {
	return p.store.AggregateVersion(ctx, aggregateID)
}

// Proposals returns the proposal review service.
func (p *Pipeline) Proposals() *proposal.Service {
	return p.proposalSvc
}

// Webhooks returns the webhook subscription service.
func (p *Pipeline) Webhooks() *webhook.Service {
	return p.webhookSvc
}

// DeadLetters returns the dead letter service.
func (p *Pipeline) DeadLetters() *deadletter.Service {
	return p.dlqSvc
}

// Registry returns the event type registry.
func (p *Pipeline) Registry() *registry.Registry {
	return p.registry
}

// Store returns the underlying store.
func (p *Pipeline) Store() store.Store {
	return p.store
}
