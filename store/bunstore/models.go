package bunstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"github.com/xraph/hookrelay/delivery"
	"github.com/xraph/hookrelay/dlq"
	"github.com/xraph/hookrelay/event"
	"github.com/xraph/hookrelay/id"
	"github.com/xraph/hookrelay/internal/entity"
	"github.com/xraph/hookrelay/topic"
	"github.com/xraph/hookrelay/webhook"
)

type webhookModel struct {
	bun.BaseModel `bun:"table:hookrelay_webhooks,alias:wh"`

	ID             string            `bun:"id,pk"`
	ClientID       string            `bun:"client_id,notnull"`
	URL            string            `bun:"url,notnull"`
	Description    string            `bun:"description,notnull"`
	Secret         string            `bun:"secret,notnull"`
	MaxAttempts    int               `bun:"max_attempts,notnull"`
	InitialDelayMs int               `bun:"initial_delay_ms,notnull"`
	TimeoutMs      int               `bun:"timeout_ms,notnull"`
	RateLimit      int               `bun:"rate_limit,notnull"`
	Headers        map[string]string `bun:"headers,type:jsonb"`
	Active         bool              `bun:"active,notnull"`
	CreatedAt      time.Time         `bun:"created_at,notnull"`
	UpdatedAt      time.Time         `bun:"updated_at,notnull"`
}

func toWebhookModel(wh *webhook.Webhook) *webhookModel {
	return &webhookModel{
		ID:             wh.ID.String(),
		ClientID:       wh.ClientID,
		URL:            wh.URL,
		Description:    wh.Description,
		Secret:         wh.Secret,
		MaxAttempts:    wh.RetryPolicy.MaxAttempts,
		InitialDelayMs: wh.RetryPolicy.InitialDelayMs,
		TimeoutMs:      wh.TimeoutMs,
		RateLimit:      wh.RateLimit,
		Headers:        wh.Headers,
		Active:         wh.Active,
		CreatedAt:      wh.CreatedAt,
		UpdatedAt:      wh.UpdatedAt,
	}
}

func fromWebhookModel(m *webhookModel) (*webhook.Webhook, error) {
	whID, err := id.ParseWebhookID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse webhook ID %q: %w", m.ID, err)
	}
	return &webhook.Webhook{
		Entity:      entity.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:          whID,
		ClientID:    m.ClientID,
		URL:         m.URL,
		Description: m.Description,
		Secret:      m.Secret,
		RetryPolicy: webhook.RetryPolicy{
			MaxAttempts:    m.MaxAttempts,
			InitialDelayMs: m.InitialDelayMs,
		},
		TimeoutMs: m.TimeoutMs,
		RateLimit: m.RateLimit,
		Headers:   m.Headers,
		Active:    m.Active,
	}, nil
}

type topicModel struct {
	bun.BaseModel `bun:"table:hookrelay_topics,alias:tp"`

	ID          string    `bun:"id,pk"`
	Name        string    `bun:"name,notnull"`
	Description string    `bun:"description,notnull"`
	Schema      string    `bun:"schema,notnull"`
	Active      bool      `bun:"active,notnull"`
	CreatedAt   time.Time `bun:"created_at,notnull"`
	UpdatedAt   time.Time `bun:"updated_at,notnull"`
}

func toTopicModel(t *topic.Topic) *topicModel {
	return &topicModel{
		ID:          t.ID.String(),
		Name:        t.Name,
		Description: t.Description,
		Schema:      string(t.Schema),
		Active:      t.Active,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

func fromTopicModel(m *topicModel) (*topic.Topic, error) {
	topicID, err := id.ParseTopicID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse topic ID %q: %w", m.ID, err)
	}
	t := &topic.Topic{
		Entity:      entity.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:          topicID,
		Name:        m.Name,
		Description: m.Description,
		Active:      m.Active,
	}
	if m.Schema != "" {
		t.Schema = json.RawMessage(m.Schema)
	}
	return t, nil
}

type eventModel struct {
	bun.BaseModel `bun:"table:hookrelay_events,alias:ev"`

	ID             string    `bun:"id,pk"`
	WebhookID      string    `bun:"webhook_id,notnull"`
	ClientID       string    `bun:"client_id,notnull"`
	TopicID        string    `bun:"topic_id,notnull"`
	Payload        string    `bun:"payload,notnull"`
	IdempotencyKey string    `bun:"idempotency_key,notnull,unique"`
	JobID          string    `bun:"job_id,notnull"`
	EventTimestamp time.Time `bun:"event_timestamp,notnull"`
	CreatedAt      time.Time `bun:"created_at,notnull"`
	UpdatedAt      time.Time `bun:"updated_at,notnull"`
}

func toEventModel(evt *event.Event) *eventModel {
	return &eventModel{
		ID:             evt.ID.String(),
		WebhookID:      evt.WebhookID.String(),
		ClientID:       evt.ClientID,
		TopicID:        evt.TopicID.String(),
		Payload:        string(evt.Payload),
		IdempotencyKey: evt.IdempotencyKey,
		JobID:          evt.JobID.String(),
		EventTimestamp: evt.EventTimestamp,
		CreatedAt:      evt.CreatedAt,
		UpdatedAt:      evt.UpdatedAt,
	}
}

func fromEventModel(m *eventModel) (*event.Event, error) {
	evtID, err := id.ParseEventID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse event ID %q: %w", m.ID, err)
	}
	whID, err := id.ParseWebhookID(m.WebhookID)
	if err != nil {
		return nil, fmt.Errorf("parse webhook ID %q: %w", m.WebhookID, err)
	}
	topicID, err := id.ParseTopicID(m.TopicID)
	if err != nil {
		return nil, fmt.Errorf("parse topic ID %q: %w", m.TopicID, err)
	}
	var jobID id.ID
	if m.JobID != "" {
		if jobID, err = id.ParseJobID(m.JobID); err != nil {
			return nil, fmt.Errorf("parse job ID %q: %w", m.JobID, err)
		}
	}
	return &event.Event{
		Entity:         entity.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:             evtID,
		WebhookID:      whID,
		ClientID:       m.ClientID,
		TopicID:        topicID,
		Payload:        json.RawMessage(m.Payload),
		IdempotencyKey: m.IdempotencyKey,
		JobID:          jobID,
		EventTimestamp: m.EventTimestamp,
	}, nil
}

type deliveryModel struct {
	bun.BaseModel `bun:"table:hookrelay_deliveries,alias:d"`

	ID                  string                `bun:"id,pk"`
	EventID             string                `bun:"event_id,notnull"`
	WebhookID           string                `bun:"webhook_id,notnull"`
	JobID               string                `bun:"job_id,notnull,unique"`
	Payload             string                `bun:"payload,notnull"`
	Status              string                `bun:"status,notnull"`
	AttemptCount        int                   `bun:"attempt_count,notnull"`
	MaxAttempts         int                   `bun:"max_attempts,notnull"`
	NextRetryAt         *time.Time            `bun:"next_retry_at"`
	LastError           *delivery.ErrorDetail `bun:"last_error,type:jsonb"`
	LastResponse        *delivery.Response    `bun:"last_response,type:jsonb"`
	InitiatorType       string                `bun:"initiator_type,notnull"`
	InitiatorID         string                `bun:"initiator_id,notnull"`
	CompletedAt         *time.Time            `bun:"completed_at"`
	PermanentlyFailedAt *time.Time            `bun:"permanently_failed_at"`
	CreatedAt           time.Time             `bun:"created_at,notnull"`
	UpdatedAt           time.Time             `bun:"updated_at,notnull"`
}

// attemptColumns are the columns UpdateDelivery writes.
var attemptColumns = []string{
	"status", "attempt_count", "max_attempts", "payload", "next_retry_at",
	"last_error", "last_response", "completed_at", "updated_at",
}

func toDeliveryModel(d *delivery.Delivery) *deliveryModel {
	return &deliveryModel{
		ID:                  d.ID.String(),
		EventID:             d.EventID.String(),
		WebhookID:           d.WebhookID.String(),
		JobID:               d.JobID.String(),
		Payload:             string(d.Payload),
		Status:              string(d.Status),
		AttemptCount:        d.AttemptCount,
		MaxAttempts:         d.MaxAttempts,
		NextRetryAt:         d.NextRetryAt,
		LastError:           d.LastError,
		LastResponse:        d.LastResponse,
		InitiatorType:       string(d.Initiator.Type),
		InitiatorID:         d.Initiator.ID,
		CompletedAt:         d.CompletedAt,
		PermanentlyFailedAt: d.PermanentlyFailedAt,
		CreatedAt:           d.CreatedAt,
		UpdatedAt:           d.UpdatedAt,
	}
}

func fromDeliveryModel(m *deliveryModel) (*delivery.Delivery, error) {
	delID, err := id.ParseDeliveryID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse delivery ID %q: %w", m.ID, err)
	}
	evtID, err := id.ParseEventID(m.EventID)
	if err != nil {
		return nil, fmt.Errorf("parse event ID %q: %w", m.EventID, err)
	}
	whID, err := id.ParseWebhookID(m.WebhookID)
	if err != nil {
		return nil, fmt.Errorf("parse webhook ID %q: %w", m.WebhookID, err)
	}
	jobID, err := id.ParseWithPrefix(m.JobID, id.PrefixJob)
	if err != nil {
		return nil, fmt.Errorf("parse job ID %q: %w", m.JobID, err)
	}
	return &delivery.Delivery{
		Entity:       entity.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:           delID,
		EventID:      evtID,
		WebhookID:    whID,
		JobID:        jobID,
		Payload:      json.RawMessage(m.Payload),
		Status:       delivery.Status(m.Status),
		AttemptCount: m.AttemptCount,
		MaxAttempts:  m.MaxAttempts,
		NextRetryAt:  m.NextRetryAt,
		LastError:    m.LastError,
		LastResponse: m.LastResponse,
		Initiator: delivery.Initiator{
			Type: delivery.InitiatorType(m.InitiatorType),
			ID:   m.InitiatorID,
		},
		CompletedAt:         m.CompletedAt,
		PermanentlyFailedAt: m.PermanentlyFailedAt,
	}, nil
}

type dlqEntryModel struct {
	bun.BaseModel `bun:"table:hookrelay_dlq,alias:dq"`

	ID           string                `bun:"id,pk"`
	DeliveryID   string                `bun:"delivery_id,notnull,unique"`
	EventID      string                `bun:"event_id,notnull"`
	WebhookID    string                `bun:"webhook_id,notnull"`
	Payload      string                `bun:"payload,notnull"`
	Status       string                `bun:"status,notnull"`
	AttemptCount int                   `bun:"attempt_count,notnull"`
	LastError    *delivery.ErrorDetail `bun:"last_error,type:jsonb"`
	LastResponse *delivery.Response    `bun:"last_response,type:jsonb"`
	FailedAt     time.Time             `bun:"failed_at,notnull"`
	CreatedAt    time.Time             `bun:"created_at,notnull"`
	UpdatedAt    time.Time             `bun:"updated_at,notnull"`
}

func toDLQEntryModel(e *dlq.Entry, failedAt time.Time) *dlqEntryModel {
	return &dlqEntryModel{
		ID:           e.ID.String(),
		DeliveryID:   e.DeliveryID.String(),
		EventID:      e.EventID.String(),
		WebhookID:    e.WebhookID.String(),
		Payload:      string(e.Payload),
		Status:       e.Status,
		AttemptCount: e.AttemptCount,
		LastError:    e.LastError,
		LastResponse: e.LastResponse,
		FailedAt:     failedAt,
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
	}
}

func fromDLQEntryModel(m *dlqEntryModel) (*dlq.Entry, error) {
	dlqID, err := id.ParseDLQID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("parse DLQ ID %q: %w", m.ID, err)
	}
	delID, err := id.ParseDeliveryID(m.DeliveryID)
	if err != nil {
		return nil, fmt.Errorf("parse delivery ID %q: %w", m.DeliveryID, err)
	}
	evtID, err := id.ParseEventID(m.EventID)
	if err != nil {
		return nil, fmt.Errorf("parse event ID %q: %w", m.EventID, err)
	}
	whID, err := id.ParseWebhookID(m.WebhookID)
	if err != nil {
		return nil, fmt.Errorf("parse webhook ID %q: %w", m.WebhookID, err)
	}
	return &dlq.Entry{
		Entity:       entity.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:           dlqID,
		DeliveryID:   delID,
		EventID:      evtID,
		WebhookID:    whID,
		Payload:      json.RawMessage(m.Payload),
		Status:       m.Status,
		AttemptCount: m.AttemptCount,
		LastError:    m.LastError,
		LastResponse: m.LastResponse,
		FailedAt:     m.FailedAt,
	}, nil
}
