package memory

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/hookrelay"
	"github.com/xraph/hookrelay/delivery"
	"github.com/xraph/hookrelay/dlq"
	"github.com/xraph/hookrelay/event"
	"github.com/xraph/hookrelay/id"
	"github.com/xraph/hookrelay/internal/entity"
	"github.com/xraph/hookrelay/topic"
	"github.com/xraph/hookrelay/webhook"
)

func ctx() context.Context { return context.Background() }

// ──────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────

func TestLifecycle(t *testing.T) {
	s := New()

	if err := s.Migrate(ctx()); err != nil {
		t.Fatal(err)
	}
	if err := s.Ping(ctx()); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Ping(ctx()); !errors.Is(err, hookrelay.ErrStoreClosed) {
		t.Fatalf("expected ErrStoreClosed, got %v", err)
	}
}

// ──────────────────────────────────────────────────
// webhook.Store / topic.Store
// ──────────────────────────────────────────────────

func TestWebhookCRUD(t *testing.T) {
	s := New()

	wh := &webhook.Webhook{
		Entity:   entity.New(),
		ID:       id.NewWebhookID(),
		ClientID: "client-1",
		URL:      "https://example.com/hook",
		Headers:  map[string]string{"X-A": "1"},
		Active:   true,
	}
	if err := s.CreateWebhook(ctx(), wh); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetWebhook(ctx(), wh.ID)
	if err != nil {
		t.Fatal(err)
	}
	got.Headers["X-A"] = "mutated"
	again, _ := s.GetWebhook(ctx(), wh.ID)
	if again.Headers["X-A"] != "1" {
		t.Fatal("expected reads to return copies")
	}

	got.Active = false
	if err := s.UpdateWebhook(ctx(), got); err != nil {
		t.Fatal(err)
	}
	inactive := false
	list, err := s.ListWebhooks(ctx(), webhook.ListOpts{ClientID: "client-1", Active: &inactive})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("expected 1 inactive webhook, got %d", len(list))
	}
	if n, _ := s.CountWebhooks(ctx(), webhook.ListOpts{ClientID: "other"}); n != 0 {
		t.Fatalf("expected 0 webhooks for other client, got %d", n)
	}

	if _, err := s.GetWebhook(ctx(), id.NewWebhookID()); !errors.Is(err, hookrelay.ErrWebhookNotFound) {
		t.Fatalf("expected ErrWebhookNotFound, got %v", err)
	}
	missing := &webhook.Webhook{ID: id.NewWebhookID()}
	if err := s.UpdateWebhook(ctx(), missing); !errors.Is(err, hookrelay.ErrWebhookNotFound) {
		t.Fatalf("expected ErrWebhookNotFound, got %v", err)
	}
}

func TestTopicCRUD(t *testing.T) {
	s := New()

	tp := &topic.Topic{Entity: entity.New(), ID: id.NewTopicID(), Name: "order.created", Active: true}
	if err := s.CreateTopic(ctx(), tp); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetTopic(ctx(), tp.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Name != "order.created" {
		t.Fatalf("unexpected topic %q", got.Name)
	}
	if n, _ := s.CountTopics(ctx()); n != 1 {
		t.Fatalf("expected 1 topic, got %d", n)
	}
	if _, err := s.GetTopic(ctx(), id.NewTopicID()); !errors.Is(err, hookrelay.ErrTopicNotFound) {
		t.Fatalf("expected ErrTopicNotFound, got %v", err)
	}
}

// ──────────────────────────────────────────────────
// event.Store
// ──────────────────────────────────────────────────

func newEvent(whID id.ID, key string) *event.Event {
	return &event.Event{
		Entity:         entity.New(),
		ID:             id.NewEventID(),
		WebhookID:      whID,
		ClientID:       "client-1",
		TopicID:        id.NewTopicID(),
		Payload:        json.RawMessage(`{"a":1}`),
		IdempotencyKey: key,
		EventTimestamp: time.Now().UTC(),
	}
}

func TestEventIdempotencyKey(t *testing.T) {
	s := New()
	whID := id.NewWebhookID()

	first := newEvent(whID, "k1")
	if err := s.CreateEvent(ctx(), first); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateEvent(ctx(), newEvent(whID, "k1")); !errors.Is(err, hookrelay.ErrDuplicateIdempotencyKey) {
		t.Fatalf("expected ErrDuplicateIdempotencyKey, got %v", err)
	}

	got, err := s.GetEventByIdempotencyKey(ctx(), "k1")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID.String() != first.ID.String() {
		t.Fatal("expected the original event")
	}

	if err := s.CreateEvent(ctx(), newEvent(whID, "k2")); err != nil {
		t.Fatal(err)
	}
	list, err := s.ListEvents(ctx(), event.ListOpts{WebhookID: whID, Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("expected page of 1, got %d", len(list))
	}
	if n, _ := s.CountEvents(ctx(), event.ListOpts{WebhookID: whID}); n != 2 {
		t.Fatalf("expected 2 events, got %d", n)
	}

	future := time.Now().Add(time.Hour)
	if n, _ := s.CountEvents(ctx(), event.ListOpts{From: &future}); n != 0 {
		t.Fatalf("expected no events after now, got %d", n)
	}
}

// ──────────────────────────────────────────────────
// delivery.Store
// ──────────────────────────────────────────────────

func newDelivery(evtID id.ID, status delivery.Status) *delivery.Delivery {
	return &delivery.Delivery{
		Entity:    entity.New(),
		ID:        id.NewDeliveryID(),
		EventID:   evtID,
		WebhookID: id.NewWebhookID(),
		JobID:     id.NewJobID(),
		Status:    status,
		Initiator: delivery.System(),
	}
}

func TestDeliveryOnePendingPerEvent(t *testing.T) {
	s := New()
	evtID := id.NewEventID()

	first := newDelivery(evtID, delivery.StatusPending)
	if err := s.CreateDelivery(ctx(), first); err != nil {
		t.Fatal(err)
	}
	if err := s.CreateDelivery(ctx(), newDelivery(evtID, delivery.StatusPending)); !errors.Is(err, hookrelay.ErrDeliveryInProgress) {
		t.Fatalf("expected ErrDeliveryInProgress, got %v", err)
	}

	// Updating the pending delivery itself is allowed.
	first.AttemptCount = 2
	if err := s.UpdateDelivery(ctx(), first); err != nil {
		t.Fatal(err)
	}

	first.Status = delivery.StatusFailed
	if err := s.UpdateDelivery(ctx(), first); err != nil {
		t.Fatal(err)
	}
	second := newDelivery(evtID, delivery.StatusPending)
	if err := s.CreateDelivery(ctx(), second); err != nil {
		t.Fatalf("expected second lineage after failure, got %v", err)
	}

	// Moving the failed one back to pending now conflicts.
	first.Status = delivery.StatusPending
	if err := s.UpdateDelivery(ctx(), first); !errors.Is(err, hookrelay.ErrDeliveryInProgress) {
		t.Fatalf("expected ErrDeliveryInProgress, got %v", err)
	}
}

func TestDeliveryConcurrentPendingInsert(t *testing.T) {
	s := New()
	evtID := id.NewEventID()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.CreateDelivery(ctx(), newDelivery(evtID, delivery.StatusPending)); err == nil {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if created != 1 {
		t.Fatalf("expected exactly one pending delivery, got %d", created)
	}
}

func TestLatestDeliveryAndByJob(t *testing.T) {
	s := New()
	evtID := id.NewEventID()

	if _, err := s.LatestDelivery(ctx(), evtID); !errors.Is(err, hookrelay.ErrDeliveryNotFound) {
		t.Fatalf("expected ErrDeliveryNotFound, got %v", err)
	}

	older := newDelivery(evtID, delivery.StatusFailed)
	newer := newDelivery(evtID, delivery.StatusFailed)
	newer.CreatedAt = older.CreatedAt // same timestamp: insertion order decides
	for _, d := range []*delivery.Delivery{older, newer} {
		if err := s.CreateDelivery(ctx(), d); err != nil {
			t.Fatal(err)
		}
	}

	latest, err := s.LatestDelivery(ctx(), evtID)
	if err != nil {
		t.Fatal(err)
	}
	if latest.ID.String() != newer.ID.String() {
		t.Fatal("expected the most recently inserted delivery")
	}

	byJob, err := s.GetDeliveryByJob(ctx(), older.JobID)
	if err != nil {
		t.Fatal(err)
	}
	if byJob.ID.String() != older.ID.String() {
		t.Fatal("expected delivery by job ID")
	}

	failed := delivery.StatusFailed
	if n, _ := s.CountDeliveries(ctx(), delivery.ListOpts{EventID: evtID, Status: &failed}); n != 2 {
		t.Fatalf("expected 2 failed deliveries, got %d", n)
	}
}

// ──────────────────────────────────────────────────
// dlq.Store
// ──────────────────────────────────────────────────

func TestEscalateExactlyOnce(t *testing.T) {
	s := New()
	d := newDelivery(id.NewEventID(), delivery.StatusFailed)
	if err := s.CreateDelivery(ctx(), d); err != nil {
		t.Fatal(err)
	}

	newEntry := func() *dlq.Entry {
		return &dlq.Entry{
			Entity:       entity.New(),
			ID:           id.NewDLQID(),
			DeliveryID:   d.ID,
			EventID:      d.EventID,
			WebhookID:    d.WebhookID,
			Status:       dlq.StatusDLQ,
			AttemptCount: 3,
			FailedAt:     time.Now().UTC(),
		}
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		escalated int
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Escalate(ctx(), newEntry(), time.Now())
			if err == nil {
				mu.Lock()
				escalated++
				mu.Unlock()
			} else if !errors.Is(err, hookrelay.ErrAlreadyEscalated) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if escalated != 1 {
		t.Fatalf("expected exactly one escalation, got %d", escalated)
	}
	if n, _ := s.CountDLQ(ctx(), dlq.ListOpts{EventID: d.EventID}); n != 1 {
		t.Fatalf("expected 1 DLQ entry, got %d", n)
	}
	got, _ := s.GetDelivery(ctx(), d.ID)
	if got.PermanentlyFailedAt == nil {
		t.Fatal("expected permanently_failed_at to be set")
	}

	orphan := newEntry()
	orphan.DeliveryID = id.NewDeliveryID()
	if err := s.Escalate(ctx(), orphan, time.Now()); !errors.Is(err, hookrelay.ErrDeliveryNotFound) {
		t.Fatalf("expected ErrDeliveryNotFound, got %v", err)
	}
	if _, err := s.GetDLQ(ctx(), id.NewDLQID()); !errors.Is(err, hookrelay.ErrDLQNotFound) {
		t.Fatalf("expected ErrDLQNotFound, got %v", err)
	}
}

func TestEscalatePendingDeliveryBecomesFailed(t *testing.T) {
	s := New()
	d := newDelivery(id.NewEventID(), delivery.StatusPending)
	if err := s.CreateDelivery(ctx(), d); err != nil {
		t.Fatal(err)
	}
	entry := &dlq.Entry{
		Entity:     entity.New(),
		ID:         id.NewDLQID(),
		DeliveryID: d.ID,
		EventID:    d.EventID,
		WebhookID:  d.WebhookID,
		Status:     dlq.StatusDLQ,
	}
	if err := s.Escalate(ctx(), entry, time.Now()); err != nil {
		t.Fatal(err)
	}

	got, _ := s.GetDelivery(ctx(), d.ID)
	if got.Status != delivery.StatusFailed {
		t.Fatalf("expected failed, got %s", got.Status)
	}
	if err := s.CreateDelivery(ctx(), newDelivery(d.EventID, delivery.StatusPending)); err != nil {
		t.Fatalf("expected a new pending delivery to be accepted, got %v", err)
	}
}
