package spindle

import "time"

// Concurrency sets the worker pool size per dispatch group.
type Concurrency struct {
	// Validator is the number of workers deciding requested intents.
	Validator int

	// Fast is the number of workers for single-step executors. Fast
	// intents are expected to finish in milliseconds, so this pool runs
	// wide.
	Fast int

	// Slow is the number of workers for multi-step executors.
	Slow int

	// Webhook is the number of workers delivering webhooks.
	Webhook int
}

// Config holds the configuration for a Pipeline instance.
type Config struct {
	// Concurrency sets the worker pool sizes.
	Concurrency Concurrency

	// PollInterval is how often each runner checks for due jobs.
	PollInterval time.Duration

	// BatchSize is the maximum number of jobs dequeued per poll cycle.
	BatchSize int

	// RequestTimeout is the HTTP timeout per webhook delivery attempt.
	RequestTimeout time.Duration

	// MaxRetries is the maximum number of attempts for validator and
	// executor jobs. Webhook jobs always get a single attempt; failed
	// deliveries are redelivered explicitly.
	MaxRetries int

	// RetrySchedule defines the backoff intervals between job attempts.
	RetrySchedule []time.Duration

	// SlowJobTimeout caps one slow-lane executor invocation. Zero means
	// no cap.
	SlowJobTimeout time.Duration

	// PublishRetries is how many times Publish re-reads the aggregate
	// head and re-appends after a concurrency conflict.
	PublishRetries int

	// ProposalTTL is the review deadline for intents parked behind a
	// proposal.
	ProposalTTL time.Duration

	// ProposalSweepInterval is how often open proposals past their
	// deadline are expired.
	ProposalSweepInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for in-flight jobs on
	// shutdown.
	ShutdownTimeout time.Duration
}

// DefaultRetrySchedule defines the default backoff intervals between job
// attempts.
var DefaultRetrySchedule = []time.Duration{
	30 * time.Second,
	2 * time.Minute,
	10 * time.Minute,
	30 * time.Minute,
	2 * time.Hour,
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Concurrency: Concurrency{
			Validator: 16,
			Fast:      100,
			Slow:      8,
			Webhook:   10,
		},
		PollInterval:          1 * time.Second,
		BatchSize:             50,
		RequestTimeout:        30 * time.Second,
		MaxRetries:            5,
		RetrySchedule:         DefaultRetrySchedule,
		SlowJobTimeout:        2 * time.Minute,
		PublishRetries:        3,
		ProposalTTL:           72 * time.Hour,
		ProposalSweepInterval: 1 * time.Minute,
		ShutdownTimeout:       30 * time.Second,
	}
}
