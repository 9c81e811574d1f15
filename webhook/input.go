package webhook

// Input is the creation payload for webhooks.
type Input struct {
	// ClientID identifies the client application that owns the webhook.
	ClientID string `json:"client_id"`

	// URL is the delivery target.
	URL string `json:"url"`

	// Description is a human-readable description.
	Description string `json:"description"`

	// Secret is the HMAC signing secret. Auto-generated if empty.
	Secret string `json:"secret"`

	// RetryPolicy overrides the default retry policy.
	RetryPolicy RetryPolicy `json:"retry_policy"`

	// TimeoutMs bounds each HTTP attempt. 0 means the default.
	TimeoutMs int `json:"timeout_ms"`

	// RateLimit is the maximum deliveries per second. 0 means unlimited.
	RateLimit int `json:"rate_limit"`

	// Headers are custom HTTP headers sent with each delivery.
	Headers map[string]string `json:"headers,omitempty"`
}

// UpdateInput modifies a webhook. Nil fields are left unchanged.
type UpdateInput struct {
	URL         *string           `json:"url"`
	Description *string           `json:"description"`
	RetryPolicy *RetryPolicy      `json:"retry_policy"`
	TimeoutMs   *int              `json:"timeout_ms"`
	RateLimit   *int              `json:"rate_limit"`
	Headers     map[string]string `json:"headers"`
	Active      *bool             `json:"active"`
}
