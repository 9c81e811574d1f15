package webhook

import (
	"fmt"
	"time"
)

// Retry policy defaults and bounds.
const (
	DefaultMaxAttempts    = 3
	DefaultInitialDelayMs = 1000

	maxAttemptsLimit  = 25
	maxInitialDelayMs = int(time.Hour / time.Millisecond)
)

// RetryPolicy is the per-webhook retry configuration. Backoff is exponential:
// the n-th retry waits InitialDelayMs * 2^(n-1).
type RetryPolicy struct {
	// MaxAttempts is the total number of tries, the first one included.
	MaxAttempts int `json:"max_attempts"`

	// InitialDelayMs is the delay before the first retry.
	InitialDelayMs int `json:"initial_delay_ms"`
}

// DefaultRetryPolicy returns the policy applied when a webhook sets none.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    DefaultMaxAttempts,
		InitialDelayMs: DefaultInitialDelayMs,
	}
}

// WithDefaults fills zero fields from DefaultRetryPolicy.
func (p RetryPolicy) WithDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.InitialDelayMs <= 0 {
		p.InitialDelayMs = DefaultInitialDelayMs
	}
	return p
}

// InitialDelay returns InitialDelayMs as a duration.
func (p RetryPolicy) InitialDelay() time.Duration {
	return time.Duration(p.InitialDelayMs) * time.Millisecond
}

// Validate rejects out-of-range values. Zero values are allowed and mean "default".
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 0 || p.MaxAttempts > maxAttemptsLimit {
		return &ValidationError{
			Field:   "retry_policy.max_attempts",
			Message: fmt.Sprintf("must be between 1 and %d", maxAttemptsLimit),
		}
	}
	if p.InitialDelayMs < 0 || p.InitialDelayMs > maxInitialDelayMs {
		return &ValidationError{
			Field:   "retry_policy.initial_delay_ms",
			Message: fmt.Sprintf("must be between 1 and %d", maxInitialDelayMs),
		}
	}
	return nil
}
