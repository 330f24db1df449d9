package spindle

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lorekeep/spindle/authz"
	"github.com/lorekeep/spindle/deadletter"
	"github.com/lorekeep/spindle/dispatch"
	"github.com/lorekeep/spindle/executor"
	"github.com/lorekeep/spindle/observability"
	"github.com/lorekeep/spindle/proposal"
	"github.com/lorekeep/spindle/registry"
	"github.com/lorekeep/spindle/store"
	"github.com/lorekeep/spindle/validator"
	"github.com/lorekeep/spindle/webhook"
)

// Pipeline is the root event pipeline. It owns the write path into the
// log, the dispatch runners that drive validators, executors, and
// webhook deliveries, and the management services around them.
type Pipeline struct {
	config      Config
	store       store.Store
	registry    *registry.Registry
	authorizer  authz.Authorizer
	policies    authz.PolicyProvider
	broadcaster executor.Broadcaster
	metrics     *observability.Metrics
	tracer      *observability.Tracer
	logger      *slog.Logger

	validator   *validator.Validator
	executorSvc *executor.Service
	broker      *webhook.Broker
	proposalSvc *proposal.Service
	webhookSvc  *webhook.Service
	dlqSvc      *deadletter.Service

	runners []*dispatch.Runner

	mu          sync.Mutex
	running     bool
	sweepCancel context.CancelFunc
	wg          sync.WaitGroup
}

// Option configures a Pipeline instance.
type Option func(*Pipeline) error

// New creates a new Pipeline with the given options. A store and a
// registry are required.
func New(opts ...Option) (*Pipeline, error) {
	p := &Pipeline{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	if p.store == nil {
		return nil, ErrNoStore
	}
	if p.registry == nil {
		return nil, ErrNoRegistry
	}
	if p.authorizer == nil {
		// Personal workspaces stay writable without explicit grants.
		p.authorizer = authz.NewStaticAuthorizer()
	}
	if p.policies == nil {
		p.policies = authz.NewStaticPolicies()
	}
	p.wireServices()
	return p, nil
}

// WithStore sets the persistence backend for the Pipeline instance.
func WithStore(s store.Store) Option {
	return func(p *Pipeline) error {
		p.store = s
		return nil
	}
}

// WithRegistry sets the event type registry. The registry is immutable
// after Build; every publishable subject must be registered up front.
func WithRegistry(reg *registry.Registry) Option {
	return func(p *Pipeline) error {
		p.registry = reg
		return nil
	}
}

// WithAuthorizer sets the role resolver consulted by the validator and
// the proposal review flow.
func WithAuthorizer(a authz.Authorizer) Option {
	return func(p *Pipeline) error {
		p.authorizer = a
		return nil
	}
}

// WithPolicies sets the per-workspace policy provider.
func WithPolicies(pp authz.PolicyProvider) Option {
	return func(p *Pipeline) error {
		p.policies = pp
		return nil
	}
}

// WithBroadcaster sets the live channel completed events are announced
// on. Without one, completions are only observable through the log and
// webhooks.
func WithBroadcaster(b executor.Broadcaster) Option {
	return func(p *Pipeline) error {
		p.broadcaster = b
		return nil
	}
}

// WithLogger sets the structured logger for the Pipeline instance.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		p.logger = logger
		return nil
	}
}

// WithMetrics registers Prometheus metrics on reg and attaches them to
// the pipeline.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(p *Pipeline) error {
		p.metrics = observability.NewMetrics(reg)
		return nil
	}
}

// WithTracing enables OpenTelemetry spans around job execution and
// webhook deliveries.
func WithTracing() Option {
	return func(p *Pipeline) error {
		p.tracer = observability.NewTracer()
		return nil
	}
}

// WithConcurrency sets the worker pool sizes per dispatch group. Zero
// fields keep their defaults.
func WithConcurrency(c Concurrency) Option {
	return func(p *Pipeline) error {
		if c.Validator > 0 {
			p.config.Concurrency.Validator = c.Validator
		}
		if c.Fast > 0 {
			p.config.Concurrency.Fast = c.Fast
		}
		if c.Slow > 0 {
			p.config.Concurrency.Slow = c.Slow
		}
		if c.Webhook > 0 {
			p.config.Concurrency.Webhook = c.Webhook
		}
		return nil
	}
}

// WithPollInterval sets how often each runner checks for due jobs.
func WithPollInterval(d time.Duration) Option {
	return func(p *Pipeline) error {
		p.config.PollInterval = d
		return nil
	}
}

// WithBatchSize sets the maximum number of jobs dequeued per poll cycle.
func WithBatchSize(n int) Option {
	return func(p *Pipeline) error {
		p.config.BatchSize = n
		return nil
	}
}

// WithRequestTimeout sets the HTTP timeout per webhook delivery attempt.
func WithRequestTimeout(d time.Duration) Option {
	return func(p *Pipeline) error {
		p.config.RequestTimeout = d
		return nil
	}
}

// WithMaxRetries sets the maximum number of attempts for validator and
// executor jobs.
func WithMaxRetries(n int) Option {
	return func(p *Pipeline) error {
		p.config.MaxRetries = n
		return nil
	}
}

// WithRetrySchedule sets the backoff intervals between job attempts.
func WithRetrySchedule(schedule []time.Duration) Option {
	return func(p *Pipeline) error {
		p.config.RetrySchedule = schedule
		return nil
	}
}

// WithSlowJobTimeout caps one slow-lane executor invocation.
func WithSlowJobTimeout(d time.Duration) Option {
	return func(p *Pipeline) error {
		p.config.SlowJobTimeout = d
		return nil
	}
}

// WithPublishRetries sets how many times Publish retries after a
// concurrency conflict.
func WithPublishRetries(n int) Option {
	return func(p *Pipeline) error {
		p.config.PublishRetries = n
		return nil
	}
}

// WithProposalTTL sets the review deadline for parked intents.
func WithProposalTTL(d time.Duration) Option {
	return func(p *Pipeline) error {
		p.config.ProposalTTL = d
		return nil
	}
}

// WithProposalSweepInterval sets how often overdue proposals expire.
func WithProposalSweepInterval(d time.Duration) Option {
	return func(p *Pipeline) error {
		p.config.ProposalSweepInterval = d
		return nil
	}
}

// WithShutdownTimeout sets the maximum time to wait for in-flight jobs
// on shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(p *Pipeline) error {
		p.config.ShutdownTimeout = d
		return nil
	}
}
