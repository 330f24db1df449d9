package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/lorekeep/spindle/dispatch"
	"github.com/lorekeep/spindle/eventlog"
	"github.com/lorekeep/spindle/id"
	"github.com/lorekeep/spindle/internal/entity"
	"github.com/lorekeep/spindle/observability"
	"github.com/lorekeep/spindle/ratelimit"
)

// Consumer is the broker's handler key on the webhook group.
const Consumer = "webhook"

// ErrInactive is returned when redelivering to a disabled subscription.
var ErrInactive = errors.New("webhook: subscription is inactive")

// BrokerStore is the interface the broker needs.
type BrokerStore interface {
	GetSubscription(ctx context.Context, subID id.ID) (*Subscription, error)
	MatchSubscriptions(ctx context.Context, userID, eventType string) ([]*Subscription, error)
	TouchSubscription(ctx context.Context, subID id.ID, at time.Time) error
	CreateDelivery(ctx context.Context, d *Delivery) error
	UpdateDelivery(ctx context.Context, d *Delivery) error
	GetDelivery(ctx context.Context, dlvID id.ID) (*Delivery, error)
	CountDeliveries(ctx context.Context, subID, evtID id.ID) (int, error)
	GetEvent(ctx context.Context, evtID id.ID) (*eventlog.Event, error)
}

// BrokerConfig holds broker configuration.
type BrokerConfig struct {
	RequestTimeout time.Duration
	Metrics        *observability.Metrics
	Tracer         *observability.Tracer
}

// Broker fans one event out to every matching subscription. Deliveries to
// different subscriptions are independent: they run concurrently and one
// failure never blocks another. A failed delivery is recorded and left
// alone; there is no automatic retry.
type Broker struct {
	store   BrokerStore
	sender  *Sender
	limiter *ratelimit.Limiter
	config  BrokerConfig
	logger  *slog.Logger
}

// NewBroker creates a broker.
func NewBroker(store BrokerStore, cfg BrokerConfig, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		store:   store,
		sender:  NewSender(cfg.RequestTimeout),
		limiter: ratelimit.New(),
		config:  cfg,
		logger:  logger,
	}
}

// Handle is the dispatch handler for the webhook group. It succeeds once
// every matching subscription has a settled delivery row, whatever the
// individual outcomes were.
func (b *Broker) Handle(ctx context.Context, t *dispatch.Task) error {
	evt := t.Event

	subs, err := b.store.MatchSubscriptions(ctx, evt.UserID, evt.Type)
	if err != nil {
		return fmt.Errorf("match subscriptions: %w", err)
	}

	if len(subs) == 0 {
		return nil
	}

	body, err := json.Marshal(evt)
	if err != nil {
		return dispatch.Permanent(fmt.Errorf("marshal event: %w", err))
	}

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(sub *Subscription) {
			defer wg.Done()

			attempt, countErr := b.store.CountDeliveries(ctx, sub.ID, evt.ID)
			if countErr != nil {
				b.logger.ErrorContext(ctx, "count deliveries failed",
					"subscription_id", sub.ID, "event_id", evt.ID, "error", countErr)
				attempt = 0
			}

			b.deliver(ctx, sub, evt, body, attempt+1)
		}(sub)
	}
	wg.Wait()

	return nil
}

// Redeliver manually re-sends the event of a previously failed delivery,
// writing a fresh row with the next attempt number.
func (b *Broker) Redeliver(ctx context.Context, dlvID id.ID) (*Delivery, error) {
	prev, err := b.store.GetDelivery(ctx, dlvID)
	if err != nil {
		return nil, err
	}

	sub, err := b.store.GetSubscription(ctx, prev.SubscriptionID)
	if err != nil {
		return nil, err
	}

	if !sub.Active {
		return nil, ErrInactive
	}

	evt, err := b.store.GetEvent(ctx, prev.EventID)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}

	attempt, err := b.store.CountDeliveries(ctx, sub.ID, evt.ID)
	if err != nil {
		return nil, err
	}

	return b.deliver(ctx, sub, evt, body, attempt+1), nil
}

// deliver performs one attempt against one subscription and records its
// row. The row is created pending before the request and settled after.
func (b *Broker) deliver(ctx context.Context, sub *Subscription, evt *eventlog.Event, body []byte, attempt int) *Delivery {
	d := &Delivery{
		Entity:         entity.New(),
		ID:             id.NewDeliveryID(),
		SubscriptionID: sub.ID,
		EventID:        evt.ID,
		Status:         DeliveryPending,
		Attempt:        attempt,
	}

	var span trace.Span
	if b.config.Tracer != nil {
		ctx, span = b.config.Tracer.StartDeliverySpan(ctx, d.ID.String(), sub.ID.String(), evt.ID.String())
	}

	if err := b.store.CreateDelivery(ctx, d); err != nil {
		b.logger.ErrorContext(ctx, "create delivery failed",
			"subscription_id", sub.ID, "event_id", evt.ID, "error", err)
		if span != nil {
			b.config.Tracer.EndDeliverySpan(span, 0, 0, err.Error())
		}
		return d
	}

	if err := b.limiter.Wait(ctx, sub.ID.String(), sub.RateLimit); err != nil {
		b.settle(ctx, d, Result{Error: fmt.Sprintf("rate limit wait: %v", err)})
		if span != nil {
			b.config.Tracer.EndDeliverySpan(span, 0, 0, d.Error)
		}
		return d
	}

	res := b.sender.Send(ctx, sub, evt, body, d)
	b.settle(ctx, d, res)

	if d.Status == DeliverySuccess {
		if err := b.store.TouchSubscription(ctx, sub.ID, *d.DeliveredAt); err != nil {
			b.logger.ErrorContext(ctx, "touch subscription failed",
				"subscription_id", sub.ID, "error", err)
		}
	}

	if span != nil {
		b.config.Tracer.EndDeliverySpan(span, d.ResponseStatus, d.LatencyMs, d.Error)
	}

	return d
}

// settle writes the attempt outcome onto the delivery row.
func (b *Broker) settle(ctx context.Context, d *Delivery, res Result) {
	d.ResponseStatus = res.StatusCode
	d.LatencyMs = res.LatencyMs

	if res.StatusCode >= 200 && res.StatusCode < 300 {
		now := time.Now().UTC()
		d.Status = DeliverySuccess
		d.DeliveredAt = &now
		d.Error = ""
		b.logger.DebugContext(ctx, "webhook delivered",
			"delivery_id", d.ID, "subscription_id", d.SubscriptionID, "status", res.StatusCode, "latency_ms", res.LatencyMs)
	} else {
		d.Status = DeliveryFailed
		d.Error = res.Error
		if d.Error == "" {
			d.Error = fmt.Sprintf("status %d: %s", res.StatusCode, res.Response)
		}
		b.logger.WarnContext(ctx, "webhook delivery failed",
			"delivery_id", d.ID, "subscription_id", d.SubscriptionID, "status", res.StatusCode, "error", d.Error)
	}

	if b.config.Metrics != nil {
		b.config.Metrics.RecordWebhook(string(d.Status), float64(res.LatencyMs)/1000.0)
	}

	if err := b.store.UpdateDelivery(ctx, d); err != nil {
		b.logger.ErrorContext(ctx, "update delivery failed", "delivery_id", d.ID, "error", err)
	}
}
