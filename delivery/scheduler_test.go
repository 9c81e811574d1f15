package delivery_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/xraph/hookrelay/delivery"
	"github.com/xraph/hookrelay/id"
	"github.com/xraph/hookrelay/queue"
	"github.com/xraph/hookrelay/webhook"
)

func TestScheduler_CarriesRetryPolicy(t *testing.T) {
	h := newHarness(t)
	wh, evt := h.seed(t, "http://example.invalid", webhook.RetryPolicy{MaxAttempts: 5, InitialDelayMs: 250})

	j, err := h.sched.Schedule(ctx(), evt, wh)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if j.MaxAttempts != 5 {
		t.Fatalf("expected 5 attempts, got %d", j.MaxAttempts)
	}
	if j.Backoff.Type != queue.BackoffExponential || j.Backoff.Delay != 250*time.Millisecond {
		t.Fatalf("expected exponential 250ms backoff, got %+v", j.Backoff)
	}
	if j.State != queue.StateWaiting {
		t.Fatalf("expected waiting job, got %s", j.State)
	}

	var data delivery.JobData
	if err := json.Unmarshal(j.Data, &data); err != nil {
		t.Fatalf("decode job data: %v", err)
	}
	if data.EventID.String() != evt.ID.String() {
		t.Fatalf("expected event %s, got %s", evt.ID, data.EventID)
	}
	if data.Initiator.Type != delivery.InitiatorSystem {
		t.Fatalf("expected system initiator, got %q", data.Initiator.Type)
	}
}

func TestScheduler_DefaultPolicy(t *testing.T) {
	h := newHarness(t)
	wh, evt := h.seed(t, "http://example.invalid", webhook.RetryPolicy{})

	j, err := h.sched.Schedule(ctx(), evt, wh)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if j.MaxAttempts != webhook.DefaultMaxAttempts {
		t.Fatalf("expected %d attempts, got %d", webhook.DefaultMaxAttempts, j.MaxAttempts)
	}
	if j.Backoff.Delay != webhook.DefaultInitialDelayMs*time.Millisecond {
		t.Fatalf("expected default delay, got %v", j.Backoff.Delay)
	}
}

func TestScheduler_Options(t *testing.T) {
	h := newHarness(t)
	wh, evt := h.seed(t, "http://example.invalid", webhook.RetryPolicy{})

	jobID := id.NewJobID()
	user := delivery.Initiator{Type: delivery.InitiatorUser, ID: "ops@example.com"}
	j, err := h.sched.Schedule(ctx(), evt, wh, delivery.WithJobID(jobID), delivery.WithInitiator(user))
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if j.ID.String() != jobID.String() {
		t.Fatalf("expected pinned job ID %s, got %s", jobID, j.ID)
	}

	var data delivery.JobData
	if err := json.Unmarshal(j.Data, &data); err != nil {
		t.Fatalf("decode job data: %v", err)
	}
	if data.Initiator != user {
		t.Fatalf("expected initiator %+v, got %+v", user, data.Initiator)
	}

	if _, err := h.sched.Schedule(ctx(), evt, wh, delivery.WithJobID(jobID)); err == nil {
		t.Fatal("expected error when reusing a job ID")
	}
}
