package dlq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/hookrelay"
	"github.com/xraph/hookrelay/delivery"
	"github.com/xraph/hookrelay/event"
	"github.com/xraph/hookrelay/id"
	"github.com/xraph/hookrelay/internal/entity"
	"github.com/xraph/hookrelay/observability"
	"github.com/xraph/hookrelay/queue"
	"github.com/xraph/hookrelay/webhook"
)

// ServiceStore is the persistence the DLQ service needs.
type ServiceStore interface {
	Store
	GetEvent(ctx context.Context, evtID id.ID) (*event.Event, error)
	GetWebhook(ctx context.Context, whID id.ID) (*webhook.Webhook, error)
	CreateDelivery(ctx context.Context, d *delivery.Delivery) error
	UpdateDelivery(ctx context.Context, d *delivery.Delivery) error
	GetDeliveryByJob(ctx context.Context, jobID id.ID) (*delivery.Delivery, error)
	LatestDelivery(ctx context.Context, evtID id.ID) (*delivery.Delivery, error)
}

// Scheduler enqueues delivery jobs.
type Scheduler interface {
	Schedule(ctx context.Context, evt *event.Event, wh *webhook.Webhook, opts ...delivery.ScheduleOption) (*queue.Job, error)
}

// Service escalates exhausted deliveries and replays DLQ entries.
type Service struct {
	store     ServiceStore
	scheduler Scheduler
	metrics   *observability.Metrics
	logger    *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithMetrics records escalations and replays.
func WithMetrics(m *observability.Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// NewService creates a new DLQ service.
func NewService(store ServiceStore, scheduler Scheduler, opts ...ServiceOption) *Service {
	svc := &Service{
		store:     store,
		scheduler: scheduler,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// ──────────────────────────────────────────────────
// Escalation
// ──────────────────────────────────────────────────

// Escalate moves the lineage of an exhausted job to the DLQ. It has the
// queue.FailedHook signature and is safe to call more than once per job.
func (svc *Service) Escalate(ctx context.Context, j *queue.Job, cause error) error {
	var data delivery.JobData
	if err := json.Unmarshal(j.Data, &data); err != nil {
		return fmt.Errorf("dlq: decode job data: %w", err)
	}

	d, err := svc.resolveFailed(ctx, j, data.EventID)
	if err != nil {
		return err
	}
	if d == nil {
		svc.logger.WarnContext(ctx, "no delivery to escalate",
			"job_id", j.ID.String(), "event_id", data.EventID.String())
		return nil
	}
	if d.Status == delivery.StatusSuccess {
		svc.logger.InfoContext(ctx, "delivery succeeded, nothing to escalate",
			"delivery_id", d.ID.String())
		return nil
	}

	attempts := d.AttemptCount
	if j.AttemptsMade > attempts {
		attempts = j.AttemptsMade
	}
	lastErr := d.LastError
	if lastErr == nil && cause != nil {
		lastErr = errorDetail(cause)
	}

	failedAt := time.Now().UTC()
	entry := &Entry{
		Entity:       entity.New(),
		ID:           id.NewDLQID(),
		DeliveryID:   d.ID,
		EventID:      d.EventID,
		WebhookID:    d.WebhookID,
		Payload:      d.Payload,
		Status:       StatusDLQ,
		AttemptCount: attempts,
		LastError:    lastErr,
		LastResponse: d.LastResponse,
		FailedAt:     failedAt,
	}

	if err := svc.store.Escalate(ctx, entry, failedAt); err != nil {
		if errors.Is(err, hookrelay.ErrAlreadyEscalated) {
			svc.logger.DebugContext(ctx, "delivery already escalated",
				"delivery_id", d.ID.String())
			return nil
		}
		return fmt.Errorf("dlq: escalate delivery %s: %w", d.ID, err)
	}

	svc.metrics.RecordEscalation()
	svc.logger.WarnContext(ctx, "delivery moved to DLQ",
		"dlq_id", entry.ID.String(),
		"delivery_id", d.ID.String(),
		"event_id", d.EventID.String(),
		"attempt_count", attempts,
	)
	return nil
}

// resolveFailed returns the delivery driven by j, falling back to the newest
// delivery of the event. It returns nil when there is nothing to escalate.
func (svc *Service) resolveFailed(ctx context.Context, j *queue.Job, evtID id.ID) (*delivery.Delivery, error) {
	d, err := svc.store.GetDeliveryByJob(ctx, j.ID)
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, hookrelay.ErrDeliveryNotFound) {
		return nil, fmt.Errorf("dlq: load delivery for job %s: %w", j.ID, err)
	}

	d, err = svc.store.LatestDelivery(ctx, evtID)
	if errors.Is(err, hookrelay.ErrDeliveryNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dlq: load latest delivery for event %s: %w", evtID, err)
	}
	// A pending lineage found by event belongs to another job.
	if d.Status == delivery.StatusPending {
		return nil, nil
	}
	return d, nil
}

func errorDetail(cause error) *delivery.ErrorDetail {
	var attemptErr *delivery.AttemptError
	if errors.As(cause, &attemptErr) {
		detail := attemptErr.Detail
		return &detail
	}
	return &delivery.ErrorDetail{Message: cause.Error()}
}

// ──────────────────────────────────────────────────
// Replay
// ──────────────────────────────────────────────────

// Replay re-drives the event of a DLQ entry. The entry itself is left as is.
//
// The newest delivery of the event decides: pending is rejected with
// hookrelay.ErrReplayInProgress, success short-circuits, failed or none
// schedules a fresh lineage recorded under initiator.
func (svc *Service) Replay(ctx context.Context, dlqID id.ID, initiator delivery.Initiator) (*ReplayResult, error) {
	entry, err := svc.store.GetDLQ(ctx, dlqID)
	if err != nil {
		return nil, err
	}

	latest, err := svc.store.LatestDelivery(ctx, entry.EventID)
	if err != nil && !errors.Is(err, hookrelay.ErrDeliveryNotFound) {
		return nil, fmt.Errorf("dlq: load latest delivery: %w", err)
	}
	if latest != nil {
		switch latest.Status {
		case delivery.StatusPending:
			svc.metrics.RecordReplay("in_progress")
			return nil, hookrelay.ErrReplayInProgress
		case delivery.StatusSuccess:
			svc.metrics.RecordReplay(string(ReplayAlreadySucceeded))
			return &ReplayResult{Status: ReplayAlreadySucceeded, DeliveryID: latest.ID}, nil
		}
	}

	evt, err := svc.store.GetEvent(ctx, entry.EventID)
	if err != nil {
		return nil, fmt.Errorf("dlq: load event %s: %w", entry.EventID, err)
	}
	wh, err := svc.store.GetWebhook(ctx, evt.WebhookID)
	if err != nil {
		return nil, fmt.Errorf("dlq: load webhook %s: %w", evt.WebhookID, err)
	}
	if !wh.Active {
		return nil, hookrelay.ErrWebhookDisabled
	}

	body, err := evt.Body()
	if err != nil {
		return nil, fmt.Errorf("dlq: encode event %s: %w", evt.ID, err)
	}

	// The pending row goes in first, so the one-pending-per-event rule
	// decides concurrent replays.
	d := &delivery.Delivery{
		Entity:      entity.New(),
		ID:          id.NewDeliveryID(),
		EventID:     evt.ID,
		WebhookID:   wh.ID,
		JobID:       id.NewJobID(),
		Payload:     body,
		Status:      delivery.StatusPending,
		MaxAttempts: wh.RetryPolicy.WithDefaults().MaxAttempts,
		Initiator:   initiator,
	}
	if err := svc.store.CreateDelivery(ctx, d); err != nil {
		if errors.Is(err, hookrelay.ErrDeliveryInProgress) {
			svc.metrics.RecordReplay("in_progress")
			return nil, hookrelay.ErrReplayInProgress
		}
		return nil, fmt.Errorf("dlq: create replay delivery: %w", err)
	}

	j, err := svc.scheduler.Schedule(ctx, evt, wh,
		delivery.WithInitiator(initiator),
		delivery.WithJobID(d.JobID),
	)
	if err != nil {
		now := time.Now().UTC()
		d.Status = delivery.StatusFailed
		d.LastError = &delivery.ErrorDetail{Message: err.Error(), Code: delivery.CodeEnqueueFailed}
		d.UpdatedAt = now
		if uErr := svc.store.UpdateDelivery(context.WithoutCancel(ctx), d); uErr != nil {
			svc.logger.ErrorContext(ctx, "failed to record enqueue failure",
				"delivery_id", d.ID.String(), "error", uErr)
		}
		return nil, fmt.Errorf("dlq: schedule replay: %w", err)
	}

	svc.metrics.RecordReplay(string(ReplayEnqueued))
	svc.logger.InfoContext(ctx, "dlq entry replayed",
		"dlq_id", entry.ID.String(),
		"event_id", evt.ID.String(),
		"delivery_id", d.ID.String(),
		"job_id", j.ID.String(),
		"initiator_type", string(initiator.Type),
		"initiator_id", initiator.ID,
	)
	return &ReplayResult{Status: ReplayEnqueued, DeliveryID: d.ID, JobID: j.ID}, nil
}

// ──────────────────────────────────────────────────
// Reads
// ──────────────────────────────────────────────────

// Get returns a DLQ entry by ID.
func (svc *Service) Get(ctx context.Context, dlqID id.ID) (*Entry, error) {
	return svc.store.GetDLQ(ctx, dlqID)
}

// List returns DLQ entries matching opts.
func (svc *Service) List(ctx context.Context, opts ListOpts) ([]*Entry, error) {
	return svc.store.ListDLQ(ctx, opts)
}

// Count returns the number of DLQ entries matching opts.
func (svc *Service) Count(ctx context.Context, opts ListOpts) (int64, error) {
	return svc.store.CountDLQ(ctx, opts)
}
