package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/hookrelay"
	"github.com/xraph/hookrelay/event"
	"github.com/xraph/hookrelay/id"
	"github.com/xraph/hookrelay/internal/entity"
	"github.com/xraph/hookrelay/observability"
	"github.com/xraph/hookrelay/queue"
	"github.com/xraph/hookrelay/ratelimit"
	"github.com/xraph/hookrelay/webhook"
)

// WorkerStore is the persistence the worker needs.
type WorkerStore interface {
	GetEvent(ctx context.Context, evtID id.ID) (*event.Event, error)
	GetWebhook(ctx context.Context, whID id.ID) (*webhook.Webhook, error)
	CreateDelivery(ctx context.Context, d *Delivery) error
	UpdateDelivery(ctx context.Context, d *Delivery) error
	GetDeliveryByJob(ctx context.Context, jobID id.ID) (*Delivery, error)
}

// Worker executes one delivery attempt per queue job run. Register Handle as
// the queue handler.
type Worker struct {
	store   WorkerStore
	sender  *Sender
	limiter *ratelimit.Limiter
	metrics *observability.Metrics
	tracer  *observability.Tracer
	logger  *slog.Logger
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithRateLimiter enforces per-webhook rate limits before each attempt.
func WithRateLimiter(l *ratelimit.Limiter) WorkerOption {
	return func(w *Worker) { w.limiter = l }
}

// WithMetrics records attempt outcomes.
func WithMetrics(m *observability.Metrics) WorkerOption {
	return func(w *Worker) { w.metrics = m }
}

// WithTracer wraps each attempt in a span.
func WithTracer(t *observability.Tracer) WorkerOption {
	return func(w *Worker) { w.tracer = t }
}

// WithWorkerLogger sets the worker logger.
func WithWorkerLogger(l *slog.Logger) WorkerOption {
	return func(w *Worker) { w.logger = l }
}

// NewWorker creates a worker.
func NewWorker(store WorkerStore, sender *Sender, opts ...WorkerOption) *Worker {
	w := &Worker{
		store:  store,
		sender: sender,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.sender == nil {
		w.sender = NewSender()
	}
	return w
}

// Handle runs one attempt of a delivery job. A failed attempt is recorded on
// the delivery before the error is returned to the queue.
func (w *Worker) Handle(ctx context.Context, j *queue.Job) error {
	var data JobData
	if err := json.Unmarshal(j.Data, &data); err != nil {
		w.logger.ErrorContext(ctx, "undecodable delivery job",
			"job_id", j.ID.String(), "error", err)
		return queue.Unrecoverable(fmt.Errorf("decode job data: %w", err))
	}

	evt, err := w.store.GetEvent(ctx, data.EventID)
	if err != nil {
		if errors.Is(err, hookrelay.ErrEventNotFound) {
			w.logger.ErrorContext(ctx, "event missing for delivery job",
				"job_id", j.ID.String(), "event_id", data.EventID.String())
			return queue.Unrecoverable(fmt.Errorf("load event %s: %w", data.EventID, err))
		}
		return fmt.Errorf("load event %s: %w", data.EventID, err)
	}

	wh, err := w.store.GetWebhook(ctx, evt.WebhookID)
	if err != nil {
		if errors.Is(err, hookrelay.ErrWebhookNotFound) {
			w.logger.ErrorContext(ctx, "webhook missing for delivery job",
				"job_id", j.ID.String(), "event_id", evt.ID.String(), "webhook_id", evt.WebhookID.String())
			return queue.Unrecoverable(fmt.Errorf("load webhook %s: %w", evt.WebhookID, err))
		}
		return fmt.Errorf("load webhook %s: %w", evt.WebhookID, err)
	}

	body, err := evt.Body()
	if err != nil {
		w.logger.ErrorContext(ctx, "event payload is not valid JSON",
			"event_id", evt.ID.String(), "error", err)
		return queue.Unrecoverable(fmt.Errorf("encode event %s: %w", evt.ID, err))
	}

	d, done, err := w.begin(ctx, j, evt, data.Initiator, body)
	if err != nil || done {
		return err
	}

	var span trace.Span
	if w.tracer != nil {
		ctx, span = w.tracer.StartDeliverySpan(ctx, d.ID.String(), evt.ID.String(), wh.ID.String(), d.AttemptCount)
	}

	result := w.attempt(ctx, wh, evt, d, body)

	if span != nil {
		status, errMsg := 0, ""
		if result.Response != nil {
			status = result.Response.Status
		}
		if result.Error != nil {
			errMsg = result.Error.Code
		}
		w.tracer.EndDeliverySpan(span, status, int(result.Duration.Milliseconds()), errMsg)
	}

	return w.finish(ctx, j, d, result)
}

// begin finds or creates the delivery for this job and marks it pending.
// done is true when the job has nothing left to do.
func (w *Worker) begin(ctx context.Context, j *queue.Job, evt *event.Event, initiator Initiator, body []byte) (*Delivery, bool, error) {
	attempt := j.AttemptsMade + 1

	d, err := w.store.GetDeliveryByJob(ctx, j.ID)
	switch {
	case err == nil:
		if d.Status == StatusSuccess {
			w.logger.InfoContext(ctx, "delivery already succeeded, skipping attempt",
				"delivery_id", d.ID.String(), "job_id", j.ID.String())
			return d, true, nil
		}
		d.Status = StatusPending
		if attempt > d.AttemptCount {
			d.AttemptCount = attempt
		}
		d.MaxAttempts = j.MaxAttempts
		d.NextRetryAt = nil
		d.Payload = body
		d.Touch()
		if err := w.store.UpdateDelivery(ctx, d); err != nil {
			return nil, false, fmt.Errorf("mark delivery %s pending: %w", d.ID, err)
		}
		return d, false, nil

	case errors.Is(err, hookrelay.ErrDeliveryNotFound):
		d = &Delivery{
			Entity:       entity.New(),
			ID:           id.NewDeliveryID(),
			EventID:      evt.ID,
			WebhookID:    evt.WebhookID,
			JobID:        j.ID,
			Payload:      body,
			Status:       StatusPending,
			AttemptCount: attempt,
			MaxAttempts:  j.MaxAttempts,
			Initiator:    initiator,
		}
		if err := w.store.CreateDelivery(ctx, d); err != nil {
			if errors.Is(err, hookrelay.ErrDeliveryInProgress) {
				// Another lineage owns the event; this job is a duplicate.
				w.logger.WarnContext(ctx, "event already has a pending delivery, dropping job",
					"event_id", evt.ID.String(), "job_id", j.ID.String())
				return nil, false, queue.Unrecoverable(err)
			}
			return nil, false, fmt.Errorf("create delivery: %w", err)
		}
		return d, false, nil

	default:
		return nil, false, fmt.Errorf("load delivery for job %s: %w", j.ID, err)
	}
}

func (w *Worker) attempt(ctx context.Context, wh *webhook.Webhook, evt *event.Event, d *Delivery, body []byte) Result {
	if !wh.Active {
		return Result{Error: &ErrorDetail{
			Message: "webhook is disabled",
			Code:    CodeWebhookDisabled,
		}}
	}

	if w.limiter != nil {
		if err := w.limiter.Wait(ctx, wh.ID.String(), wh.RateLimit); err != nil {
			return Result{Error: &ErrorDetail{
				Message: fmt.Sprintf("rate limit wait: %v", err),
				Code:    CodeRateLimited,
			}}
		}
	}

	return w.sender.Send(ctx, Request{
		Webhook:    wh,
		EventID:    evt.ID.String(),
		DeliveryID: d.ID.String(),
		Body:       body,
	})
}

// finish records the attempt outcome. A failure is returned so the queue
// retries or escalates.
func (w *Worker) finish(ctx context.Context, j *queue.Job, d *Delivery, result Result) error {
	// Recording must survive a cancelled attempt.
	ctx = context.WithoutCancel(ctx)
	now := time.Now().UTC()

	d.LastResponse = result.Response
	d.UpdatedAt = now

	if result.Success() {
		d.Status = StatusSuccess
		d.LastError = nil
		d.NextRetryAt = nil
		d.CompletedAt = &now
		w.metrics.RecordDelivery(string(StatusSuccess), result.Duration.Seconds())

		if err := w.recordSuccess(ctx, d); err != nil {
			// Left pending, the delivery would block replay of the event
			// forever. Rerunning the job resends the event and records again.
			w.logger.ErrorContext(ctx, "failed to record successful delivery",
				"delivery_id", d.ID.String(), "error", err)
			return fmt.Errorf("record successful delivery %s: %w", d.ID, err)
		}
		w.logger.DebugContext(ctx, "delivered",
			"delivery_id", d.ID.String(),
			"event_id", d.EventID.String(),
			"attempt", d.AttemptCount,
			"status", result.Response.Status,
		)
		return nil
	}

	d.Status = StatusFailed
	d.LastError = result.Error
	d.NextRetryAt = nil
	if d.AttemptCount < j.MaxAttempts {
		next := now.Add(j.Backoff.Next(d.AttemptCount))
		d.NextRetryAt = &next
	}
	w.metrics.RecordDelivery(string(StatusFailed), result.Duration.Seconds())

	if err := w.store.UpdateDelivery(ctx, d); err != nil {
		w.logger.ErrorContext(ctx, "failed to record delivery failure",
			"delivery_id", d.ID.String(), "error", err)
	}
	w.logger.WarnContext(ctx, "delivery attempt failed",
		"delivery_id", d.ID.String(),
		"event_id", d.EventID.String(),
		"attempt", d.AttemptCount,
		"max_attempts", j.MaxAttempts,
		"code", result.Error.Code,
		"error", result.Error.Message,
	)
	return &AttemptError{Detail: *result.Error}
}

// successRecordTries bounds the store writes that record a delivered event.
const successRecordTries = 3

func (w *Worker) recordSuccess(ctx context.Context, d *Delivery) error {
	var err error
	for try := 1; try <= successRecordTries; try++ {
		if err = w.store.UpdateDelivery(ctx, d); err == nil {
			return nil
		}
		w.logger.WarnContext(ctx, "retrying success record",
			"delivery_id", d.ID.String(), "try", try, "error", err)
		if try < successRecordTries {
			time.Sleep(time.Duration(try) * 50 * time.Millisecond)
		}
	}
	return err
}

// AttemptError is returned to the queue when an attempt fails.
type AttemptError struct {
	Detail ErrorDetail
}

func (e *AttemptError) Error() string {
	return fmt.Sprintf("delivery attempt failed (%s): %s", e.Detail.Code, e.Detail.Message)
}
