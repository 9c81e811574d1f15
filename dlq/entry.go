// Package dlq holds deliveries that exhausted their attempts, and the
// escalation and replay logic around them.
package dlq

import (
	"encoding/json"
	"time"

	"github.com/xraph/hookrelay/delivery"
	"github.com/xraph/hookrelay/id"
	"github.com/xraph/hookrelay/internal/entity"
)

// StatusDLQ is the fixed status of every entry.
const StatusDLQ = "dlq"

// Entry is the terminal-failure record of one delivery lineage. Entries are
// never mutated; replay creates a new delivery instead.
type Entry struct {
	entity.Entity

	// ID is the unique TypeID for this DLQ entry.
	ID id.ID `json:"id"`

	// DeliveryID references the failed delivery. Unique across entries.
	DeliveryID id.ID `json:"delivery_id"`

	// EventID references the original event.
	EventID id.ID `json:"event_id"`

	// WebhookID references the target webhook.
	WebhookID id.ID `json:"webhook_id"`

	// Payload is the body that failed to deliver.
	Payload json.RawMessage `json:"payload,omitempty"`

	Status string `json:"status"`

	// AttemptCount is the number of attempts made before escalation.
	AttemptCount int `json:"attempt_count"`

	LastError    *delivery.ErrorDetail `json:"last_error,omitempty"`
	LastResponse *delivery.Response    `json:"last_response,omitempty"`

	// FailedAt is when the delivery permanently failed.
	FailedAt time.Time `json:"failed_at"`
}

// ListOpts configures filtering and pagination for DLQ listing.
type ListOpts struct {
	Offset    int
	Limit     int
	EventID   id.ID
	WebhookID id.ID
	From      *time.Time
	To        *time.Time
}

// ReplayStatus is the outcome of a replay request.
type ReplayStatus string

const (
	// ReplayEnqueued means a new delivery lineage was scheduled.
	ReplayEnqueued ReplayStatus = "enqueued"

	// ReplayAlreadySucceeded means the event was delivered since escalation.
	ReplayAlreadySucceeded ReplayStatus = "already_succeeded"
)

// ReplayResult is returned by Service.Replay.
type ReplayResult struct {
	Status     ReplayStatus `json:"status"`
	DeliveryID id.ID        `json:"delivery_id"`
	JobID      id.ID        `json:"job_id,omitzero"`
}
