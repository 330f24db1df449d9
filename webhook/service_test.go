package webhook_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/lorekeep/spindle"
	"github.com/lorekeep/spindle/id"
	"github.com/lorekeep/spindle/internal/entity"
	"github.com/lorekeep/spindle/store/memory"
	"github.com/lorekeep/spindle/webhook"
)

func newService() (*webhook.Service, *memory.Store) {
	store := memory.New()
	svc := webhook.NewService(store, nil)
	return svc, store
}

func TestCreateSubscription(t *testing.T) {
	svc, _ := newService()

	sub, err := svc.Create(ctx(), webhook.Input{
		UserID:     "user-1",
		URL:        "https://example.com/hooks",
		EventTypes: []string{"note.create.completed"},
	})
	if err != nil {
		t.Fatal(err)
	}

	if sub.ID.Prefix() != id.PrefixSubscription {
		t.Fatalf("got prefix %q", sub.ID.Prefix())
	}
	if !sub.Active {
		t.Fatal("expected new subscriptions to be active")
	}
	if !strings.HasPrefix(sub.Secret, "whsec_") {
		t.Fatalf("expected a generated secret, got %q", sub.Secret)
	}
}

func TestCreateSubscriptionValidation(t *testing.T) {
	svc, _ := newService()

	cases := []struct {
		name  string
		in    webhook.Input
		field string
	}{
		{
			name:  "bad url",
			in:    webhook.Input{UserID: "user-1", URL: "not a url", EventTypes: []string{"note.create.completed"}},
			field: "url",
		},
		{
			name:  "missing user",
			in:    webhook.Input{URL: "https://example.com/hooks", EventTypes: []string{"note.create.completed"}},
			field: "user_id",
		},
		{
			name:  "no event types",
			in:    webhook.Input{UserID: "user-1", URL: "https://example.com/hooks"},
			field: "event_types",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(ctx(), tc.in)

			var verr *webhook.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Field != tc.field {
				t.Fatalf("expected field %q, got %q", tc.field, verr.Field)
			}
		})
	}
}

func TestUpdateSubscription(t *testing.T) {
	svc, _ := newService()

	sub, err := svc.Create(ctx(), webhook.Input{
		UserID:     "user-1",
		URL:        "https://example.com/hooks",
		EventTypes: []string{"note.create.completed"},
	})
	if err != nil {
		t.Fatal(err)
	}

	updated, err := svc.Update(ctx(), sub.ID, webhook.Input{
		URL:        "https://example.com/hooks/v2",
		EventTypes: []string{"note.create.completed", "note.delete.completed"},
	})
	if err != nil {
		t.Fatal(err)
	}

	if updated.URL != "https://example.com/hooks/v2" {
		t.Fatalf("got url %q", updated.URL)
	}
	if len(updated.EventTypes) != 2 {
		t.Fatalf("got %d event types", len(updated.EventTypes))
	}

	if _, err := svc.Update(ctx(), id.NewSubscriptionID(), webhook.Input{}); !errors.Is(err, spindle.ErrSubscriptionNotFound) {
		t.Fatalf("expected ErrSubscriptionNotFound, got %v", err)
	}
}

func TestRotateSecret(t *testing.T) {
	svc, store := newService()

	sub, err := svc.Create(ctx(), webhook.Input{
		UserID:     "user-1",
		URL:        "https://example.com/hooks",
		EventTypes: []string{"note.create.completed"},
	})
	if err != nil {
		t.Fatal(err)
	}

	rotated, err := svc.RotateSecret(ctx(), sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if rotated == sub.Secret {
		t.Fatal("expected a new secret")
	}

	fresh, _ := store.GetSubscription(ctx(), sub.ID)
	if fresh.Secret != rotated {
		t.Fatal("expected the rotated secret to be persisted")
	}
}

func TestSetActiveAndList(t *testing.T) {
	svc, _ := newService()

	sub, err := svc.Create(ctx(), webhook.Input{
		UserID:     "user-1",
		URL:        "https://example.com/hooks",
		EventTypes: []string{"note.create.completed"},
	})
	if err != nil {
		t.Fatal(err)
	}

	if err := svc.SetActive(ctx(), sub.ID, false); err != nil {
		t.Fatal(err)
	}

	active := true
	list, err := svc.List(ctx(), "user-1", webhook.ListOpts{Active: &active})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 0 {
		t.Fatalf("expected no active subscriptions, got %d", len(list))
	}

	list, err = svc.List(ctx(), "user-1", webhook.ListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 subscription, got %d", len(list))
	}
}

func TestServiceDeliveries(t *testing.T) {
	svc, store := newService()

	sub, err := svc.Create(ctx(), webhook.Input{
		UserID:     "user-1",
		URL:        "https://example.com/hooks",
		EventTypes: []string{"note.create.completed"},
	})
	if err != nil {
		t.Fatal(err)
	}

	first := &webhook.Delivery{
		Entity:         entity.New(),
		ID:             id.NewDeliveryID(),
		SubscriptionID: sub.ID,
		EventID:        id.NewEventID(),
		Status:         webhook.DeliveryFailed,
		Attempt:        1,
	}
	first.CreatedAt = time.Now().Add(-time.Minute)
	second := &webhook.Delivery{
		Entity:         entity.New(),
		ID:             id.NewDeliveryID(),
		SubscriptionID: sub.ID,
		EventID:        first.EventID,
		Status:         webhook.DeliverySuccess,
		Attempt:        2,
	}

	for _, d := range []*webhook.Delivery{first, second} {
		if err := store.CreateDelivery(ctx(), d); err != nil {
			t.Fatal(err)
		}
	}

	rows, err := svc.Deliveries(ctx(), sub.ID, webhook.DeliveryListOpts{})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || rows[0].ID != second.ID {
		t.Fatalf("expected newest first, got %d rows", len(rows))
	}
}
