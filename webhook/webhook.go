// Package webhook defines registered delivery destinations and their retry
// policy.
package webhook

import (
	"time"

	"github.com/xraph/hookrelay/id"
	"github.com/xraph/hookrelay/internal/entity"
)

// DefaultTimeoutMs is the per-attempt HTTP timeout used when a webhook does not set one.
const DefaultTimeoutMs = 5000

// MaxTimeoutMs caps the per-attempt HTTP timeout. It stays well below the
// queue's stale job threshold.
const MaxTimeoutMs = 120000

// Webhook is a destination registered by a client. Events target exactly one webhook.
type Webhook struct {
	entity.Entity

	// ID is the unique TypeID for this webhook.
	ID id.ID `json:"id"`

	// ClientID identifies the client application that owns this webhook.
	ClientID string `json:"client_id"`

	// URL is the delivery target.
	URL string `json:"url"`

	// Description is a human-readable description.
	Description string `json:"description,omitempty"`

	// Secret is the HMAC signing secret. Never serialized.
	Secret string `json:"-"`

	// RetryPolicy controls how many attempts a delivery gets and how they back off.
	RetryPolicy RetryPolicy `json:"retry_policy"`

	// TimeoutMs bounds each HTTP attempt. 0 means DefaultTimeoutMs.
	TimeoutMs int `json:"timeout_ms"`

	// RateLimit is the maximum deliveries per second. 0 means unlimited.
	RateLimit int `json:"rate_limit"`

	// Headers are custom HTTP headers sent with each delivery.
	Headers map[string]string `json:"headers,omitempty"`

	// Active reports whether new events are accepted for this webhook.
	Active bool `json:"active"`
}

// Timeout returns the per-attempt HTTP timeout.
func (w *Webhook) Timeout() time.Duration {
	if w.TimeoutMs <= 0 {
		return DefaultTimeoutMs * time.Millisecond
	}
	return time.Duration(w.TimeoutMs) * time.Millisecond
}

// ListOpts configures filtering and pagination for webhook listing.
type ListOpts struct {
	Offset   int
	Limit    int
	ClientID string
	Active   *bool
}
