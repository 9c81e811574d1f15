package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/hookrelay/delivery"
	"github.com/xraph/hookrelay/dlq"
	"github.com/xraph/hookrelay/event"
	"github.com/xraph/hookrelay/id"
	"github.com/xraph/hookrelay/internal/entity"
	"github.com/xraph/hookrelay/topic"
	"github.com/xraph/hookrelay/webhook"
)

// --- Webhook models ---

type webhookModel struct {
	grove.BaseModel `grove:"table:hookrelay_webhooks"`

	ID             string            `grove:"id,pk"`
	ClientID       string            `grove:"client_id"`
	URL            string            `grove:"url"`
	Description    string            `grove:"description"`
	Secret         string            `grove:"secret"`
	MaxAttempts    int               `grove:"max_attempts"`
	InitialDelayMs int               `grove:"initial_delay_ms"`
	TimeoutMs      int               `grove:"timeout_ms"`
	RateLimit      int               `grove:"rate_limit"`
	Headers        map[string]string `grove:"headers,type:jsonb"`
	Active         bool              `grove:"active"`
	CreatedAt      time.Time         `grove:"created_at"`
	UpdatedAt      time.Time         `grove:"updated_at"`
}

func toWebhookModel(wh *webhook.Webhook) *webhookModel {
	headers := wh.Headers
	if headers == nil {
		headers = map[string]string{}
	}
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
		Headers:        headers,
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

// --- Topic models ---

type topicModel struct {
	grove.BaseModel `grove:"table:hookrelay_topics"`

	ID          string          `grove:"id,pk"`
	Name        string          `grove:"name"`
	Description string          `grove:"description"`
	Schema      json.RawMessage `grove:"schema,type:jsonb"`
	Active      bool            `grove:"active"`
	CreatedAt   time.Time       `grove:"created_at"`
	UpdatedAt   time.Time       `grove:"updated_at"`
}

func toTopicModel(t *topic.Topic) *topicModel {
	return &topicModel{
		ID:          t.ID.String(),
		Name:        t.Name,
		Description: t.Description,
		Schema:      t.Schema,
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
	return &topic.Topic{
		Entity:      entity.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:          topicID,
		Name:        m.Name,
		Description: m.Description,
		Schema:      m.Schema,
		Active:      m.Active,
	}, nil
}

// --- Event models ---

// Payloads are stored as TEXT so the exact bytes survive a round trip.
type eventModel struct {
	grove.BaseModel `grove:"table:hookrelay_events"`

	ID             string    `grove:"id,pk"`
	WebhookID      string    `grove:"webhook_id"`
	ClientID       string    `grove:"client_id"`
	TopicID        string    `grove:"topic_id"`
	Payload        string    `grove:"payload"`
	IdempotencyKey string    `grove:"idempotency_key"`
	JobID          string    `grove:"job_id"`
	EventTimestamp time.Time `grove:"event_timestamp"`
	CreatedAt      time.Time `grove:"created_at"`
	UpdatedAt      time.Time `grove:"updated_at"`
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

// --- Delivery models ---

type deliveryModel struct {
	grove.BaseModel `grove:"table:hookrelay_deliveries"`

	ID                  string          `grove:"id,pk"`
	EventID             string          `grove:"event_id"`
	WebhookID           string          `grove:"webhook_id"`
	JobID               string          `grove:"job_id"`
	Payload             string          `grove:"payload"`
	Status              string          `grove:"status"`
	AttemptCount        int             `grove:"attempt_count"`
	MaxAttempts         int             `grove:"max_attempts"`
	NextRetryAt         *time.Time      `grove:"next_retry_at"`
	LastError           json.RawMessage `grove:"last_error,type:jsonb"`
	LastResponse        json.RawMessage `grove:"last_response,type:jsonb"`
	InitiatorType       string          `grove:"initiator_type"`
	InitiatorID         string          `grove:"initiator_id"`
	CompletedAt         *time.Time      `grove:"completed_at"`
	PermanentlyFailedAt *time.Time      `grove:"permanently_failed_at"`
	CreatedAt           time.Time       `grove:"created_at"`
	UpdatedAt           time.Time       `grove:"updated_at"`
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
		LastError:           marshalOptional(d.LastError),
		LastResponse:        marshalOptional(d.LastResponse),
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
	d := &delivery.Delivery{
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
		Initiator: delivery.Initiator{
			Type: delivery.InitiatorType(m.InitiatorType),
			ID:   m.InitiatorID,
		},
		CompletedAt:         m.CompletedAt,
		PermanentlyFailedAt: m.PermanentlyFailedAt,
	}
	if d.LastError, err = unmarshalOptional[delivery.ErrorDetail](m.LastError); err != nil {
		return nil, fmt.Errorf("decode last error of %s: %w", m.ID, err)
	}
	if d.LastResponse, err = unmarshalOptional[delivery.Response](m.LastResponse); err != nil {
		return nil, fmt.Errorf("decode last response of %s: %w", m.ID, err)
	}
	return d, nil
}

// --- DLQ models ---

type dlqEntryModel struct {
	grove.BaseModel `grove:"table:hookrelay_dlq"`

	ID           string          `grove:"id,pk"`
	DeliveryID   string          `grove:"delivery_id"`
	EventID      string          `grove:"event_id"`
	WebhookID    string          `grove:"webhook_id"`
	Payload      string          `grove:"payload"`
	Status       string          `grove:"status"`
	AttemptCount int             `grove:"attempt_count"`
	LastError    json.RawMessage `grove:"last_error,type:jsonb"`
	LastResponse json.RawMessage `grove:"last_response,type:jsonb"`
	FailedAt     time.Time       `grove:"failed_at"`
	CreatedAt    time.Time       `grove:"created_at"`
	UpdatedAt    time.Time       `grove:"updated_at"`
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
	entry := &dlq.Entry{
		Entity:       entity.Entity{CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ID:           dlqID,
		DeliveryID:   delID,
		EventID:      evtID,
		WebhookID:    whID,
		Payload:      json.RawMessage(m.Payload),
		Status:       m.Status,
		AttemptCount: m.AttemptCount,
		FailedAt:     m.FailedAt,
	}
	if entry.LastError, err = unmarshalOptional[delivery.ErrorDetail](m.LastError); err != nil {
		return nil, fmt.Errorf("decode last error of %s: %w", m.ID, err)
	}
	if entry.LastResponse, err = unmarshalOptional[delivery.Response](m.LastResponse); err != nil {
		return nil, fmt.Errorf("decode last response of %s: %w", m.ID, err)
	}
	return entry, nil
}

// marshalOptional encodes v, or returns nil (SQL NULL) for a nil pointer.
func marshalOptional[T any](v *T) json.RawMessage {
	if v == nil {
		return nil
	}
	b, _ := json.Marshal(v) //nolint:errcheck // plain structs always encode
	return b
}

func unmarshalOptional[T any](raw json.RawMessage) (*T, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil //nolint:nilnil // absent value
	}
	v := new(T)
	if err := json.Unmarshal(raw, v); err != nil {
		return nil, err
	}
	return v, nil
}
