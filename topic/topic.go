// Package topic manages the topics events are published under. A topic may
// carry a JSON Schema that payloads are validated against at ingestion.
package topic

import (
	"encoding/json"

	"github.com/xraph/hookrelay/id"
	"github.com/xraph/hookrelay/internal/entity"
)

// Topic is a named category of events.
type Topic struct {
	entity.Entity

	// ID is the unique TypeID for this topic.
	ID id.ID `json:"id"`

	// Name is the human-readable topic name (e.g. "invoice.paid").
	Name string `json:"name"`

	// Description explains when events of this topic are emitted.
	Description string `json:"description,omitempty"`

	// Schema is an optional JSON Schema document for payloads.
	Schema json.RawMessage `json:"schema,omitempty"`

	// Active reports whether new events are accepted for this topic.
	Active bool `json:"active"`
}

// Input is the creation payload for topics.
type Input struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema,omitempty"`
}

// ListOpts configures pagination for topic listing.
type ListOpts struct {
	Offset int
	Limit  int
}

// ValidationError indicates invalid input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "topic validation: " + e.Field + ": " + e.Message
}
