package hookrelay

import "errors"

// Sentinel errors returned by hookrelay operations.
var (
	// ErrNoStore is returned when an engine is created without a store.
	ErrNoStore = errors.New("hookrelay: store is required")

	// ErrNoQueue is returned when an engine is created without a queue backend.
	ErrNoQueue = errors.New("hookrelay: queue backend is required")

	// ErrWebhookNotFound is returned when a webhook cannot be found.
	ErrWebhookNotFound = errors.New("hookrelay: webhook not found")

	// ErrWebhookDisabled is returned when ingesting an event for an inactive webhook.
	ErrWebhookDisabled = errors.New("hookrelay: webhook is disabled")

	// ErrTopicNotFound is returned when a topic cannot be found.
	ErrTopicNotFound = errors.New("hookrelay: topic not found")

	// ErrTopicDisabled is returned when ingesting an event for an inactive topic.
	ErrTopicDisabled = errors.New("hookrelay: topic is disabled")

	// ErrPayloadValidationFailed is returned when an event payload fails the topic's JSON Schema.
	ErrPayloadValidationFailed = errors.New("hookrelay: payload validation failed")

	// ErrEventNotFound is returned when an event cannot be found.
	ErrEventNotFound = errors.New("hookrelay: event not found")

	// ErrDuplicateIdempotencyKey is returned by stores when an event with the same idempotency key already exists.
	ErrDuplicateIdempotencyKey = errors.New("hookrelay: duplicate idempotency key")

	// ErrDeliveryNotFound is returned when a delivery cannot be found.
	ErrDeliveryNotFound = errors.New("hookrelay: delivery not found")

	// ErrDeliveryInProgress is returned by stores when a second pending delivery would be recorded for an event.
	ErrDeliveryInProgress = errors.New("hookrelay: delivery already pending for event")

	// ErrDLQNotFound is returned when a DLQ entry cannot be found.
	ErrDLQNotFound = errors.New("hookrelay: dlq entry not found")

	// ErrAlreadyEscalated is returned when a delivery already has a DLQ entry.
	ErrAlreadyEscalated = errors.New("hookrelay: delivery already escalated")

	// ErrReplayInProgress is returned when replaying a DLQ entry whose event has a pending delivery.
	ErrReplayInProgress = errors.New("hookrelay: a delivery is already in progress for this event")

	// ErrJobNotFound is returned when a queue job cannot be found.
	ErrJobNotFound = errors.New("hookrelay: job not found")

	// ErrJobExists is returned when enqueueing a job whose ID is already taken.
	ErrJobExists = errors.New("hookrelay: job already exists")

	// ErrNoHandler is returned when a queue is started without a handler.
	ErrNoHandler = errors.New("hookrelay: queue handler is required")

	// ErrStoreClosed is returned when a store operation is attempted after the store is closed.
	ErrStoreClosed = errors.New("hookrelay: store is closed")

	// ErrMigrationFailed is returned when a database migration fails.
	ErrMigrationFailed = errors.New("hookrelay: migration failed")
)
