package delivery_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/hookrelay"
	"github.com/xraph/hookrelay/delivery"
	"github.com/xraph/hookrelay/event"
	"github.com/xraph/hookrelay/id"
	"github.com/xraph/hookrelay/internal/entity"
	"github.com/xraph/hookrelay/queue"
	memqueue "github.com/xraph/hookrelay/queue/memory"
	"github.com/xraph/hookrelay/ratelimit"
	"github.com/xraph/hookrelay/store/memory"
	"github.com/xraph/hookrelay/webhook"
)

func ctx() context.Context { return context.Background() }

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	store *memory.Store
	queue *queue.Queue
	sched *delivery.Scheduler
	clock *clock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := memory.New()
	clk := &clock{now: time.Now().UTC()}
	q := queue.New("deliveries", memqueue.New(), queue.WithClock(clk.Now))
	q.Process(delivery.NewWorker(st, delivery.NewSender()).Handle)
	return &harness{
		store: st,
		queue: q,
		sched: delivery.NewScheduler(q, nil),
		clock: clk,
	}
}

func (h *harness) seed(t *testing.T, url string, policy webhook.RetryPolicy) (*webhook.Webhook, *event.Event) {
	t.Helper()
	wh := &webhook.Webhook{
		Entity:      entity.New(),
		ID:          id.NewWebhookID(),
		ClientID:    "client-1",
		URL:         url,
		Secret:      "whsec_test",
		RetryPolicy: policy,
		TimeoutMs:   2000,
		Active:      true,
	}
	if err := h.store.CreateWebhook(ctx(), wh); err != nil {
		t.Fatalf("create webhook: %v", err)
	}
	evt := &event.Event{
		Entity:         entity.New(),
		ID:             id.NewEventID(),
		WebhookID:      wh.ID,
		ClientID:       wh.ClientID,
		TopicID:        id.NewTopicID(),
		Payload:        json.RawMessage(`{"order_id": 42}`),
		IdempotencyKey: "key-" + id.NewEventID().String(),
		EventTimestamp: time.Now().UTC(),
	}
	if err := h.store.CreateEvent(ctx(), evt); err != nil {
		t.Fatalf("create event: %v", err)
	}
	return wh, evt
}

func (h *harness) runOnce(t *testing.T) {
	t.Helper()
	ran, err := h.queue.ProcessNext(ctx())
	if err != nil {
		t.Fatalf("process next: %v", err)
	}
	if !ran {
		t.Fatal("expected a due job")
	}
}

func TestWorker_Success(t *testing.T) {
	bodies := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies <- b
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	h := newHarness(t)
	_, evt := h.seed(t, srv.URL, webhook.RetryPolicy{})

	j, err := h.sched.Schedule(ctx(), evt, mustWebhook(t, h, evt))
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	h.runOnce(t)

	if got := <-bodies; string(got) != `{"order_id":42}` {
		t.Fatalf("expected compact payload, got %q", got)
	}

	d, err := h.store.GetDeliveryByJob(ctx(), j.ID)
	if err != nil {
		t.Fatalf("get delivery: %v", err)
	}
	if d.Status != delivery.StatusSuccess {
		t.Fatalf("expected success, got %s", d.Status)
	}
	if d.AttemptCount != 1 {
		t.Fatalf("expected 1 attempt, got %d", d.AttemptCount)
	}
	if d.CompletedAt == nil {
		t.Fatal("expected CompletedAt to be set")
	}
	if d.LastResponse == nil || d.LastResponse.Status != http.StatusOK {
		t.Fatalf("expected recorded 200 response, got %+v", d.LastResponse)
	}
	if d.Initiator.Type != delivery.InitiatorSystem {
		t.Fatalf("expected system initiator, got %q", d.Initiator.Type)
	}

	stored, _ := h.queue.Get(ctx(), j.ID)
	if stored.State != queue.StateCompleted {
		t.Fatalf("expected completed job, got %s", stored.State)
	}
}

func TestWorker_FailureRecordsAttemptAndRetries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	h := newHarness(t)
	_, evt := h.seed(t, srv.URL, webhook.RetryPolicy{MaxAttempts: 3, InitialDelayMs: 1000})

	j, err := h.sched.Schedule(ctx(), evt, mustWebhook(t, h, evt))
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	h.runOnce(t)

	d, err := h.store.GetDeliveryByJob(ctx(), j.ID)
	if err != nil {
		t.Fatalf("get delivery: %v", err)
	}
	if d.Status != delivery.StatusFailed {
		t.Fatalf("expected failed, got %s", d.Status)
	}
	if d.LastError == nil || d.LastError.Code != delivery.CodeHTTPStatus {
		t.Fatalf("expected http_status error, got %+v", d.LastError)
	}
	if d.NextRetryAt == nil {
		t.Fatal("expected NextRetryAt while attempts remain")
	}
	if d.CompletedAt != nil {
		t.Fatal("CompletedAt must stay nil on failure")
	}

	stored, _ := h.queue.Get(ctx(), j.ID)
	if stored.State != queue.StateDelayed || stored.AttemptsMade != 1 {
		t.Fatalf("expected delayed job after 1 attempt, got %s/%d", stored.State, stored.AttemptsMade)
	}

	// Same job, same delivery: the second attempt updates the lineage.
	h.clock.Advance(time.Second)
	h.runOnce(t)
	d, _ = h.store.GetDeliveryByJob(ctx(), j.ID)
	if d.AttemptCount != 2 {
		t.Fatalf("expected attempt count 2, got %d", d.AttemptCount)
	}

	h.clock.Advance(2 * time.Second)
	h.runOnce(t)
	d, _ = h.store.GetDeliveryByJob(ctx(), j.ID)
	if d.AttemptCount != 3 || d.NextRetryAt != nil {
		t.Fatalf("expected final attempt without retry time, got %d/%v", d.AttemptCount, d.NextRetryAt)
	}
	if hits.Load() != 3 {
		t.Fatalf("expected 3 requests, got %d", hits.Load())
	}

	n, err := h.store.CountDeliveries(ctx(), delivery.ListOpts{EventID: evt.ID})
	if err != nil || n != 1 {
		t.Fatalf("expected one delivery per lineage, got %d (%v)", n, err)
	}
}

func TestWorker_InactiveWebhookFailsAttempt(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	h := newHarness(t)
	wh, evt := h.seed(t, srv.URL, webhook.RetryPolicy{MaxAttempts: 1})

	j, err := h.sched.Schedule(ctx(), evt, wh)
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	wh.Active = false
	if err := h.store.UpdateWebhook(ctx(), wh); err != nil {
		t.Fatalf("update webhook: %v", err)
	}
	h.runOnce(t)

	if hits.Load() != 0 {
		t.Fatal("inactive webhook must not be called")
	}
	d, err := h.store.GetDeliveryByJob(ctx(), j.ID)
	if err != nil {
		t.Fatalf("get delivery: %v", err)
	}
	if d.LastError == nil || d.LastError.Code != delivery.CodeWebhookDisabled {
		t.Fatalf("expected webhook_disabled, got %+v", d.LastError)
	}
}

func TestWorker_MissingEventIsUnrecoverable(t *testing.T) {
	st := memory.New()
	w := delivery.NewWorker(st, delivery.NewSender())

	data, _ := json.Marshal(delivery.JobData{EventID: id.NewEventID(), Initiator: delivery.System()})
	err := w.Handle(ctx(), &queue.Job{ID: id.NewJobID(), Data: data, MaxAttempts: 3})
	if !queue.IsUnrecoverable(err) {
		t.Fatalf("expected unrecoverable error, got %v", err)
	}
	if !errors.Is(err, hookrelay.ErrEventNotFound) {
		t.Fatalf("expected ErrEventNotFound in chain, got %v", err)
	}
}

func TestWorker_UndecodableJobIsUnrecoverable(t *testing.T) {
	w := delivery.NewWorker(memory.New(), nil)
	err := w.Handle(ctx(), &queue.Job{ID: id.NewJobID(), Data: json.RawMessage(`not json`)})
	if !queue.IsUnrecoverable(err) {
		t.Fatalf("expected unrecoverable error, got %v", err)
	}
}

func TestWorker_SucceededDeliveryIsNotResent(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	h := newHarness(t)
	_, evt := h.seed(t, srv.URL, webhook.RetryPolicy{})
	w := delivery.NewWorker(h.store, delivery.NewSender())

	jobID := id.NewJobID()
	d := &delivery.Delivery{
		Entity:       entity.New(),
		ID:           id.NewDeliveryID(),
		EventID:      evt.ID,
		WebhookID:    evt.WebhookID,
		JobID:        jobID,
		Status:       delivery.StatusSuccess,
		AttemptCount: 1,
		MaxAttempts:  3,
	}
	if err := h.store.CreateDelivery(ctx(), d); err != nil {
		t.Fatalf("create delivery: %v", err)
	}

	data, _ := json.Marshal(delivery.JobData{EventID: evt.ID})
	if err := w.Handle(ctx(), &queue.Job{ID: jobID, Data: data, AttemptsMade: 1, MaxAttempts: 3}); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if hits.Load() != 0 {
		t.Fatal("a succeeded delivery must not be resent")
	}
}

func TestWorker_DuplicateJobForPendingEvent(t *testing.T) {
	h := newHarness(t)
	_, evt := h.seed(t, "http://127.0.0.1:1", webhook.RetryPolicy{})
	w := delivery.NewWorker(h.store, delivery.NewSender())

	pending := &delivery.Delivery{
		Entity:    entity.New(),
		ID:        id.NewDeliveryID(),
		EventID:   evt.ID,
		WebhookID: evt.WebhookID,
		JobID:     id.NewJobID(),
		Status:    delivery.StatusPending,
	}
	if err := h.store.CreateDelivery(ctx(), pending); err != nil {
		t.Fatalf("create delivery: %v", err)
	}

	data, _ := json.Marshal(delivery.JobData{EventID: evt.ID})
	err := w.Handle(ctx(), &queue.Job{ID: id.NewJobID(), Data: data, MaxAttempts: 3})
	if !queue.IsUnrecoverable(err) || !errors.Is(err, hookrelay.ErrDeliveryInProgress) {
		t.Fatalf("expected unrecoverable ErrDeliveryInProgress, got %v", err)
	}
}

func TestWorker_FailedAttemptReturnsAttemptError(t *testing.T) {
	h := newHarness(t)
	_, evt := h.seed(t, "http://127.0.0.1:1", webhook.RetryPolicy{})
	w := delivery.NewWorker(h.store, delivery.NewSender())

	data, _ := json.Marshal(delivery.JobData{EventID: evt.ID})
	err := w.Handle(ctx(), &queue.Job{ID: id.NewJobID(), Data: data, MaxAttempts: 1})

	var attemptErr *delivery.AttemptError
	if !errors.As(err, &attemptErr) {
		t.Fatalf("expected *AttemptError, got %T: %v", err, err)
	}
	if attemptErr.Detail.Code != delivery.CodeNetwork {
		t.Fatalf("expected network code, got %q", attemptErr.Detail.Code)
	}
}

func mustWebhook(t *testing.T, h *harness, evt *event.Event) *webhook.Webhook {
	t.Helper()
	wh, err := h.store.GetWebhook(ctx(), evt.WebhookID)
	if err != nil {
		t.Fatalf("get webhook: %v", err)
	}
	return wh
}

// flakyStore fails the first failSuccess writes of a successful delivery.
type flakyStore struct {
	*memory.Store
	failSuccess atomic.Int32
}

func (s *flakyStore) UpdateDelivery(ctx context.Context, d *delivery.Delivery) error {
	if d.Status == delivery.StatusSuccess && s.failSuccess.Add(-1) >= 0 {
		return errors.New("database is locked")
	}
	return s.Store.UpdateDelivery(ctx, d)
}

func TestWorker_SuccessRecordIsRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	h := newHarness(t)
	_, evt := h.seed(t, srv.URL, webhook.RetryPolicy{})
	st := &flakyStore{Store: h.store}
	st.failSuccess.Store(2)
	w := delivery.NewWorker(st, delivery.NewSender())

	jobID := id.NewJobID()
	data, _ := json.Marshal(delivery.JobData{EventID: evt.ID})
	if err := w.Handle(ctx(), &queue.Job{ID: jobID, Data: data, MaxAttempts: 3}); err != nil {
		t.Fatalf("expected the success to be recorded on retry, got %v", err)
	}

	d, err := h.store.GetDeliveryByJob(ctx(), jobID)
	if err != nil {
		t.Fatal(err)
	}
	if d.Status != delivery.StatusSuccess {
		t.Fatalf("expected success, got %s", d.Status)
	}
	if n := hits.Load(); n != 1 {
		t.Fatalf("expected one request, got %d", n)
	}
}

func TestWorker_UnrecordedSuccessFailsTheRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	h := newHarness(t)
	_, evt := h.seed(t, srv.URL, webhook.RetryPolicy{})
	st := &flakyStore{Store: h.store}
	st.failSuccess.Store(100)
	w := delivery.NewWorker(st, delivery.NewSender())

	data, _ := json.Marshal(delivery.JobData{EventID: evt.ID})
	if err := w.Handle(ctx(), &queue.Job{ID: id.NewJobID(), Data: data, MaxAttempts: 3}); err == nil {
		t.Fatal("expected an error so the queue runs the job again")
	}
}

func TestWorker_RateLimitWaitHasOwnCode(t *testing.T) {
	h := newHarness(t)
	wh, evt := h.seed(t, "http://127.0.0.1:1", webhook.RetryPolicy{})
	wh.RateLimit = 1
	if err := h.store.UpdateWebhook(ctx(), wh); err != nil {
		t.Fatal(err)
	}

	limiter := ratelimit.New()
	limiter.Allow(wh.ID.String(), 1)
	w := delivery.NewWorker(h.store, delivery.NewSender(), delivery.WithRateLimiter(limiter))

	runCtx, cancel := context.WithTimeout(ctx(), 20*time.Millisecond)
	defer cancel()

	jobID := id.NewJobID()
	data, _ := json.Marshal(delivery.JobData{EventID: evt.ID})
	err := w.Handle(runCtx, &queue.Job{ID: jobID, Data: data, MaxAttempts: 3})

	var attemptErr *delivery.AttemptError
	if !errors.As(err, &attemptErr) {
		t.Fatalf("expected *AttemptError, got %T: %v", err, err)
	}
	if attemptErr.Detail.Code != delivery.CodeRateLimited {
		t.Fatalf("expected rate_limited code, got %q", attemptErr.Detail.Code)
	}

	d, err := h.store.GetDeliveryByJob(ctx(), jobID)
	if err != nil {
		t.Fatal(err)
	}
	if d.LastError == nil || d.LastError.Code != delivery.CodeRateLimited {
		t.Fatalf("expected rate_limited recorded on the delivery, got %+v", d.LastError)
	}
}
