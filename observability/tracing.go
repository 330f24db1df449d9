package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/lorekeep/spindle"

// Tracer provides OpenTelemetry tracing for Spindle.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a new Spindle tracer.
func NewTracer() *Tracer {
	return &Tracer{
		tracer: otel.Tracer(tracerName),
	}
}

// StartJobSpan starts a new span for one job attempt.
func (t *Tracer) StartJobSpan(ctx context.Context, jobID, group, consumer, eventID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "spindle.job",
		trace.WithAttributes(
			attribute.String("spindle.job_id", jobID),
			attribute.String("spindle.group", group),
			attribute.String("spindle.consumer", consumer),
			attribute.String("spindle.event_id", eventID),
		),
	)
}

// EndJobSpan ends a job span with its outcome.
func (t *Tracer) EndJobSpan(span trace.Span, outcome, err string) {
	span.SetAttributes(attribute.String("spindle.outcome", outcome))
	if err != "" {
		span.SetAttributes(attribute.String("spindle.error", err))
	}
	span.End()
}

// StartDeliverySpan starts a new span for a webhook delivery attempt.
func (t *Tracer) StartDeliverySpan(ctx context.Context, deliveryID, subscriptionID, eventID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "spindle.webhook",
		trace.WithAttributes(
			attribute.String("spindle.delivery_id", deliveryID),
			attribute.String("spindle.subscription_id", subscriptionID),
			attribute.String("spindle.event_id", eventID),
		),
	)
}

// EndDeliverySpan ends a delivery span with result attributes.
func (t *Tracer) EndDeliverySpan(span trace.Span, statusCode, latencyMs int, err string) {
	span.SetAttributes(
		attribute.Int("http.status_code", statusCode),
		attribute.Int("spindle.latency_ms", latencyMs),
	)
	if err != "" {
		span.SetAttributes(attribute.String("spindle.error", err))
	}
	span.End()
}
