// Package event defines ingested events, the append-only log the delivery
// pipeline reads from.
package event

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/xraph/hookrelay/id"
	"github.com/xraph/hookrelay/internal/entity"
)

// Event is one occurrence to be delivered to a single webhook. Events are
// never mutated after creation.
type Event struct {
	entity.Entity

	// ID is the unique TypeID for this event.
	ID id.ID `json:"id"`

	// WebhookID is the fixed delivery target.
	WebhookID id.ID `json:"webhook_id"`

	// ClientID is the owning client of the target webhook at ingestion time.
	ClientID string `json:"client_id"`

	// TopicID is the topic the event was published under.
	TopicID id.ID `json:"topic_id"`

	// Payload is the opaque JSON document delivered to the webhook.
	Payload json.RawMessage `json:"payload"`

	// IdempotencyKey is globally unique; re-ingesting it returns this event.
	IdempotencyKey string `json:"idempotency_key"`

	// EventTimestamp is when the event occurred according to the producer.
	EventTimestamp time.Time `json:"event_timestamp"`

	// JobID is allocated before the event is stored and names its first
	// delivery job, so a repeated ingest can tell whether that job was ever
	// enqueued.
	JobID id.ID `json:"job_id"`
}

// Body returns the canonical request body for the event: the payload as
// compact JSON. The same bytes are signed and sent.
func (e *Event) Body() ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, e.Payload); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ListOpts configures filtering and pagination for event listing.
type ListOpts struct {
	Offset    int
	Limit     int
	WebhookID id.ID
	ClientID  string
	From      *time.Time
	To        *time.Time
}
