package event

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/xraph/hookrelay/id"
)

// maxIdempotencyKeyLen bounds caller supplied idempotency keys.
const maxIdempotencyKeyLen = 255

// Input is the ingestion payload for an event.
type Input struct {
	WebhookID      id.ID           `json:"webhook_id"`
	TopicID        id.ID           `json:"topic_id"`
	Payload        json.RawMessage `json:"payload"`
	IdempotencyKey string          `json:"idempotency_key"`
	EventTimestamp *time.Time      `json:"event_timestamp,omitempty"`
}

// Validate checks required fields and that the payload is a JSON document.
// It returns the compacted payload on success.
func (in Input) Validate() (json.RawMessage, error) {
	if in.WebhookID.IsNil() {
		return nil, &ValidationError{Field: "webhook_id", Message: "required"}
	}
	if in.TopicID.IsNil() {
		return nil, &ValidationError{Field: "topic_id", Message: "required"}
	}
	if in.IdempotencyKey == "" {
		return nil, &ValidationError{Field: "idempotency_key", Message: "required"}
	}
	if len(in.IdempotencyKey) > maxIdempotencyKeyLen {
		return nil, &ValidationError{Field: "idempotency_key", Message: "too long"}
	}
	if len(bytes.TrimSpace(in.Payload)) == 0 {
		return nil, &ValidationError{Field: "payload", Message: "required"}
	}

	var buf bytes.Buffer
	if err := json.Compact(&buf, in.Payload); err != nil {
		return nil, &ValidationError{Field: "payload", Message: "must be valid JSON"}
	}
	return buf.Bytes(), nil
}

// ValidationError indicates invalid input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "event validation: " + e.Field + ": " + e.Message
}
