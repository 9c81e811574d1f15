package delivery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xraph/hookrelay/event"
	"github.com/xraph/hookrelay/id"
	"github.com/xraph/hookrelay/queue"
	"github.com/xraph/hookrelay/webhook"
)

// Enqueuer is the part of the queue the scheduler needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, data any, opts queue.Options) (*queue.Job, error)
}

// Scheduler turns a stored event into a queued delivery job carrying the
// webhook's retry policy.
type Scheduler struct {
	queue  Enqueuer
	logger *slog.Logger
}

// NewScheduler creates a scheduler publishing to q.
func NewScheduler(q Enqueuer, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{queue: q, logger: logger}
}

// ScheduleOption configures a single Schedule call.
type ScheduleOption func(*scheduleOptions)

type scheduleOptions struct {
	initiator Initiator
	jobID     id.ID
}

// WithInitiator records who triggered the delivery. Defaults to System().
func WithInitiator(in Initiator) ScheduleOption {
	return func(o *scheduleOptions) { o.initiator = in }
}

// WithJobID pins the job ID, so a delivery can be recorded before the job exists.
func WithJobID(jobID id.ID) ScheduleOption {
	return func(o *scheduleOptions) { o.jobID = jobID }
}

// Schedule enqueues a new delivery job for evt. Every call enqueues a new job;
// callers must not schedule an event that already has a pending delivery.
func (s *Scheduler) Schedule(ctx context.Context, evt *event.Event, wh *webhook.Webhook, opts ...ScheduleOption) (*queue.Job, error) {
	o := scheduleOptions{initiator: System()}
	for _, opt := range opts {
		opt(&o)
	}

	policy := wh.RetryPolicy.WithDefaults()
	j, err := s.queue.Enqueue(ctx, JobData{EventID: evt.ID, Initiator: o.initiator}, queue.Options{
		JobID:       o.jobID,
		MaxAttempts: policy.MaxAttempts,
		Backoff:     queue.Exponential(policy.InitialDelay()),
	})
	if err != nil {
		return nil, fmt.Errorf("schedule delivery: %w", err)
	}

	s.logger.DebugContext(ctx, "delivery scheduled",
		"event_id", evt.ID.String(),
		"webhook_id", wh.ID.String(),
		"job_id", j.ID.String(),
		"max_attempts", policy.MaxAttempts,
		"initiator", string(o.initiator.Type),
	)
	return j, nil
}
