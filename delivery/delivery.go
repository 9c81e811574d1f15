// Package delivery records and performs webhook delivery attempts. A Delivery
// is one lineage of attempts for an event, tied to a single queue job.
package delivery

import (
	"encoding/json"
	"time"

	"github.com/xraph/hookrelay/id"
	"github.com/xraph/hookrelay/internal/entity"
)

// Status is the state of a delivery lineage.
type Status string

const (
	// StatusPending indicates an attempt is queued or running.
	StatusPending Status = "pending"

	// StatusSuccess indicates the target accepted the event. Terminal.
	StatusSuccess Status = "success"

	// StatusFailed indicates the most recent attempt failed.
	StatusFailed Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSuccess, StatusFailed:
		return true
	}
	return false
}

// Error codes recorded in ErrorDetail.Code.
const (
	CodeTimeout         = "timeout"
	CodeRateLimited     = "rate_limited"
	CodeNetwork         = "network"
	CodeHTTPStatus      = "http_status"
	CodeRequest         = "request"
	CodeWebhookDisabled = "webhook_disabled"
	CodeEnqueueFailed   = "enqueue_failed"
)

// InitiatorType tells who started a delivery lineage.
type InitiatorType string

const (
	// InitiatorSystem marks deliveries started by ingestion.
	InitiatorSystem InitiatorType = "system"

	// InitiatorUser marks deliveries started by a manual replay.
	InitiatorUser InitiatorType = "user"
)

// Initiator records who triggered a delivery.
type Initiator struct {
	Type InitiatorType `json:"type"`
	ID   string        `json:"id,omitempty"`
}

// System is the initiator of deliveries scheduled by ingestion.
func System() Initiator { return Initiator{Type: InitiatorSystem} }

// ErrorDetail describes why an attempt failed.
type ErrorDetail struct {
	Message    string `json:"message"`
	Code       string `json:"code"`
	DurationMs int64  `json:"duration_ms"`
}

// Response is the captured HTTP response of an attempt.
type Response struct {
	Status     int               `json:"status"`
	StatusText string            `json:"status_text"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       string            `json:"body,omitempty"`
	DurationMs int64             `json:"duration_ms"`
}

// Delivery is one lineage of attempts to send an event to its webhook.
type Delivery struct {
	entity.Entity

	// ID is the unique TypeID for this delivery.
	ID id.ID `json:"id"`

	// EventID references the event being delivered.
	EventID id.ID `json:"event_id"`

	// WebhookID references the target webhook.
	WebhookID id.ID `json:"webhook_id"`

	// JobID is the queue job driving this lineage.
	JobID id.ID `json:"job_id"`

	// Payload is the exact body sent to the target.
	Payload json.RawMessage `json:"payload,omitempty"`

	Status Status `json:"status"`

	// AttemptCount equals the queue's attempts made plus one while an attempt runs.
	// It never decreases.
	AttemptCount int `json:"attempt_count"`

	MaxAttempts int `json:"max_attempts"`

	// NextRetryAt is when the queue will run the next attempt, if any remain.
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`

	LastError    *ErrorDetail `json:"last_error,omitempty"`
	LastResponse *Response    `json:"last_response,omitempty"`

	Initiator Initiator `json:"initiator"`

	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// PermanentlyFailedAt is set once, together with the DLQ entry.
	PermanentlyFailedAt *time.Time `json:"permanently_failed_at,omitempty"`
}

// ListOpts configures filtering and pagination for delivery listing.
type ListOpts struct {
	Offset    int
	Limit     int
	EventID   id.ID
	WebhookID id.ID
	Status    *Status
	From      *time.Time
	To        *time.Time
}

// JobData is the queue job payload. The worker re-reads the event, so the
// payload itself is never carried.
type JobData struct {
	EventID   id.ID     `json:"event_id"`
	Initiator Initiator `json:"initiator"`
}
