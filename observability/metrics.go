// Package observability provides the prometheus instruments and
// OpenTelemetry tracing used across the pipeline.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the metric instruments for Spindle.
type Metrics struct {
	EventsAppended  *prometheus.CounterVec
	AppendConflicts prometheus.Counter
	JobsTotal       *prometheus.CounterVec
	JobDuration     *prometheus.HistogramVec
	QueueDepth      *prometheus.GaugeVec
	WebhooksTotal   *prometheus.CounterVec
	WebhookLatency  prometheus.Histogram
	DeadLetterSize  prometheus.Gauge
	ProposalsOpen   prometheus.Gauge
}

// NewMetrics creates and registers the Spindle instruments. A nil
// registerer falls back to prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		EventsAppended: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "spindle_events_appended_total",
			Help: "Events appended to the log.",
		}, []string{"aggregate_type", "phase"}),
		AppendConflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "spindle_append_conflicts_total",
			Help: "Appends rejected on an expected-version mismatch.",
		}),
		JobsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "spindle_jobs_total",
			Help: "Job attempts by group and outcome.",
		}, []string{"group", "outcome"}),
		JobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "spindle_job_duration_seconds",
			Help:    "Handler duration by group.",
			Buckets: prometheus.DefBuckets,
		}, []string{"group"}),
		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "spindle_queue_depth",
			Help: "Pending jobs by group.",
		}, []string{"group"}),
		WebhooksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "spindle_webhook_deliveries_total",
			Help: "Webhook delivery attempts by status.",
		}, []string{"status"}),
		WebhookLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "spindle_webhook_latency_seconds",
			Help:    "Webhook request latency.",
			Buckets: prometheus.DefBuckets,
		}),
		DeadLetterSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "spindle_dead_letter_size",
			Help: "Entries currently on the dead letter surface.",
		}),
		ProposalsOpen: factory.NewGauge(prometheus.GaugeOpts{
			Name: "spindle_proposals_open",
			Help: "Proposals currently pending review.",
		}),
	}
}

// RecordAppend records a successful append.
func (m *Metrics) RecordAppend(aggregateType, phase string) {
	m.EventsAppended.WithLabelValues(aggregateType, phase).Inc()
}

// RecordJob records a job attempt outcome and its duration.
func (m *Metrics) RecordJob(group, outcome string, seconds float64) {
	m.JobsTotal.WithLabelValues(group, outcome).Inc()
	m.JobDuration.WithLabelValues(group).Observe(seconds)
}

// RecordWebhook records a webhook delivery attempt.
func (m *Metrics) RecordWebhook(status string, seconds float64) {
	m.WebhooksTotal.WithLabelValues(status).Inc()
	m.WebhookLatency.Observe(seconds)
}
