// Package engine assembles the hookrelay pipeline: idempotent ingestion, the
// delivery queue and its worker, escalation to the DLQ and guarded replay.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/xraph/hookrelay"
	"github.com/xraph/hookrelay/delivery"
	"github.com/xraph/hookrelay/dlq"
	"github.com/xraph/hookrelay/event"
	"github.com/xraph/hookrelay/id"
	"github.com/xraph/hookrelay/internal/entity"
	"github.com/xraph/hookrelay/observability"
	"github.com/xraph/hookrelay/queue"
	"github.com/xraph/hookrelay/ratelimit"
	"github.com/xraph/hookrelay/store"
	"github.com/xraph/hookrelay/topic"
	"github.com/xraph/hookrelay/webhook"
)

// Engine is the root webhook relay.
type Engine struct {
	config     hookrelay.Config
	store      store.Store
	backend    queue.Backend
	queueOpts  []queue.Option
	httpClient *http.Client
	metrics    *observability.Metrics
	tracer     *observability.Tracer
	logger     *slog.Logger

	queue     *queue.Queue
	webhooks  *webhook.Service
	topics    *topic.Registry
	scheduler *delivery.Scheduler
	worker    *delivery.Worker
	dlqSvc    *dlq.Service

	mu      sync.Mutex
	stopCh  chan struct{}
	gaugeWg sync.WaitGroup
}

// New creates an Engine with the given options. A store and a queue backend
// are required.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		config: hookrelay.DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	if e.store == nil {
		return nil, hookrelay.ErrNoStore
	}
	if e.backend == nil {
		return nil, hookrelay.ErrNoQueue
	}
	e.wireServices()
	return e, nil
}

// wireServices initializes the internal services after options have been applied.
func (e *Engine) wireServices() {
	qopts := []queue.Option{
		queue.WithConcurrency(e.config.Concurrency),
		queue.WithPollInterval(e.config.PollInterval),
		queue.WithStaleJobThreshold(e.config.StaleJobThreshold),
		queue.WithLogger(e.logger),
	}
	e.queue = queue.New(e.config.QueueName, e.backend, append(qopts, e.queueOpts...)...)

	e.webhooks = webhook.NewService(e.store, e.logger)
	e.topics = topic.NewRegistry(e.store, e.config.TopicCacheTTL, e.logger)
	e.scheduler = delivery.NewScheduler(e.queue, e.logger)

	senderOpts := []delivery.SenderOption{delivery.WithDefaultTimeout(e.config.DefaultTimeout)}
	if e.httpClient != nil {
		senderOpts = append(senderOpts, delivery.WithHTTPClient(e.httpClient))
	}
	workerOpts := []delivery.WorkerOption{
		delivery.WithRateLimiter(ratelimit.New()),
		delivery.WithMetrics(e.metrics),
		delivery.WithWorkerLogger(e.logger),
	}
	if e.tracer != nil {
		workerOpts = append(workerOpts, delivery.WithTracer(e.tracer))
	}
	e.worker = delivery.NewWorker(e.store, delivery.NewSender(senderOpts...), workerOpts...)

	e.dlqSvc = dlq.NewService(e.store, e.scheduler,
		dlq.WithMetrics(e.metrics),
		dlq.WithLogger(e.logger),
	)

	e.queue.Process(e.worker.Handle)
	e.queue.OnFailed(e.dlqSvc.Escalate)
}

// Start launches the delivery workers. It returns immediately.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.queue.Start(ctx); err != nil {
		return fmt.Errorf("engine: start queue: %w", err)
	}

	if e.metrics != nil {
		e.mu.Lock()
		if e.stopCh == nil {
			e.stopCh = make(chan struct{})
			e.gaugeWg.Add(1)
			go e.depthLoop(e.stopCh)
		}
		e.mu.Unlock()
	}
	return nil
}

// Stop drains the delivery workers. In-flight deliveries get up to
// Config.ShutdownTimeout (or the ctx deadline, whichever comes first).
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.stopCh != nil {
		close(e.stopCh)
		e.stopCh = nil
	}
	e.mu.Unlock()
	e.gaugeWg.Wait()

	if e.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.ShutdownTimeout)
		defer cancel()
	}
	return e.queue.Stop(ctx)
}

func (e *Engine) depthLoop(stop <-chan struct{}) {
	defer e.gaugeWg.Done()

	interval := e.config.PollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			depth, err := e.queue.Depth(context.Background())
			if err != nil {
				e.logger.Warn("queue depth unavailable", "error", err)
				continue
			}
			e.metrics.SetQueueDepth(depth)
		}
	}
}

// Ingest stores an event and schedules its first delivery.
//
// The idempotency key decides whether the event is new. A repeated key returns
// the original event with created=false, including when two callers race on
// the same key. If the first call stored the event but failed to enqueue its
// job, the repeated call enqueues it under the job ID recorded on the event.
func (e *Engine) Ingest(ctx context.Context, in event.Input) (*event.Event, bool, error) {
	payload, err := in.Validate()
	if err != nil {
		return nil, false, err
	}

	existing, err := e.store.GetEventByIdempotencyKey(ctx, in.IdempotencyKey)
	switch {
	case err == nil:
		e.metrics.RecordIngest(false)
		if err := e.ensureScheduled(ctx, existing); err != nil {
			return existing, false, err
		}
		return existing, false, nil
	case !errors.Is(err, hookrelay.ErrEventNotFound):
		return nil, false, fmt.Errorf("engine: lookup idempotency key: %w", err)
	}

	wh, err := e.store.GetWebhook(ctx, in.WebhookID)
	if err != nil {
		return nil, false, err
	}
	if !wh.Active {
		return nil, false, fmt.Errorf("%w: %s", hookrelay.ErrWebhookDisabled, wh.ID)
	}

	tp, err := e.topics.Get(ctx, in.TopicID)
	if err != nil {
		return nil, false, err
	}
	if !tp.Active {
		return nil, false, fmt.Errorf("%w: %s", hookrelay.ErrTopicDisabled, tp.ID)
	}
	if err := e.topics.ValidatePayload(tp, payload); err != nil {
		return nil, false, fmt.Errorf("%w: %s", hookrelay.ErrPayloadValidationFailed, err.Error())
	}

	evt := &event.Event{
		Entity:         entity.New(),
		ID:             id.NewEventID(),
		WebhookID:      wh.ID,
		ClientID:       wh.ClientID,
		TopicID:        tp.ID,
		Payload:        payload,
		IdempotencyKey: in.IdempotencyKey,
		EventTimestamp: eventTimestamp(in.EventTimestamp),
		JobID:          id.NewJobID(),
	}
	if err := e.store.CreateEvent(ctx, evt); err != nil {
		if !errors.Is(err, hookrelay.ErrDuplicateIdempotencyKey) {
			return nil, false, fmt.Errorf("engine: persist event: %w", err)
		}
		existing, getErr := e.store.GetEventByIdempotencyKey(ctx, in.IdempotencyKey)
		if getErr != nil {
			return nil, false, fmt.Errorf("engine: load existing event: %w", getErr)
		}
		e.metrics.RecordIngest(false)
		if err := e.ensureScheduled(ctx, existing); err != nil {
			return existing, false, err
		}
		return existing, false, nil
	}

	if err := e.scheduleFirst(ctx, evt, wh); err != nil {
		e.logger.ErrorContext(ctx, "event stored but delivery not scheduled",
			"event_id", evt.ID.String(),
			"error", err,
		)
		return evt, true, err
	}

	e.metrics.RecordIngest(true)
	e.logger.DebugContext(ctx, "event ingested",
		"event_id", evt.ID.String(),
		"webhook_id", wh.ID.String(),
		"job_id", evt.JobID.String(),
	)
	return evt, true, nil
}

// ensureScheduled enqueues the first delivery job of an already stored event
// when neither a delivery nor the job exists.
func (e *Engine) ensureScheduled(ctx context.Context, evt *event.Event) error {
	if evt.JobID.IsNil() {
		return nil
	}

	_, err := e.store.LatestDelivery(ctx, evt.ID)
	switch {
	case err == nil:
		return nil
	case !errors.Is(err, hookrelay.ErrDeliveryNotFound):
		return fmt.Errorf("engine: lookup delivery: %w", err)
	}

	_, err = e.queue.Get(ctx, evt.JobID)
	switch {
	case err == nil:
		return nil
	case !errors.Is(err, hookrelay.ErrJobNotFound):
		return fmt.Errorf("engine: lookup job: %w", err)
	}

	wh, err := e.store.GetWebhook(ctx, evt.WebhookID)
	if err != nil {
		return err
	}
	if err := e.scheduleFirst(ctx, evt, wh); err != nil {
		return err
	}
	e.logger.InfoContext(ctx, "scheduled delivery of previously stored event",
		"event_id", evt.ID.String(),
		"job_id", evt.JobID.String(),
	)
	return nil
}

// scheduleFirst enqueues the job named on the event. Losing the push to a
// concurrent ingest of the same key is success.
func (e *Engine) scheduleFirst(ctx context.Context, evt *event.Event, wh *webhook.Webhook) error {
	_, err := e.scheduler.Schedule(ctx, evt, wh, delivery.WithJobID(evt.JobID))
	if err != nil && !errors.Is(err, hookrelay.ErrJobExists) {
		return fmt.Errorf("engine: schedule delivery: %w", err)
	}
	return nil
}

// eventTimestamp returns the caller's event timestamp, or now.
func eventTimestamp(ts *time.Time) time.Time {
	if ts == nil || ts.IsZero() {
		return time.Now().UTC()
	}
	return ts.UTC()
}

// Replay schedules a new delivery for a DLQ entry.
func (e *Engine) Replay(ctx context.Context, dlqID id.ID, initiator delivery.Initiator) (*dlq.ReplayResult, error) {
	return e.dlqSvc.Replay(ctx, dlqID, initiator)
}

// Webhooks returns the webhook management service.
func (e *Engine) Webhooks() *webhook.Service { return e.webhooks }

// Topics returns the topic registry.
func (e *Engine) Topics() *topic.Registry { return e.topics }

// DLQ returns the DLQ service.
func (e *Engine) DLQ() *dlq.Service { return e.dlqSvc }

// Store returns the underlying store.
func (e *Engine) Store() store.Store { return e.store }

// Queue returns the delivery queue.
func (e *Engine) Queue() *queue.Queue { return e.queue }

// Config returns the effective configuration.
func (e *Engine) Config() hookrelay.Config { return e.config }
