package hookrelay

import "time"

// Config holds the runtime configuration of a hookrelay engine.
type Config struct {
	// QueueName is the queue delivery jobs are published to.
	QueueName string

	// Concurrency is the number of delivery worker goroutines.
	Concurrency int

	// PollInterval is how often an idle worker checks the queue for due jobs.
	PollInterval time.Duration

	// StaleJobThreshold returns jobs stuck in the active state to the queue once
	// exceeded. Zero disables the reaper. Keep it above the largest webhook timeout.
	StaleJobThreshold time.Duration

	// ShutdownTimeout is the maximum time to wait for in-flight deliveries on shutdown.
	ShutdownTimeout time.Duration

	// DefaultTimeout is the HTTP timeout used when a webhook does not set one.
	DefaultTimeout time.Duration

	// TopicCacheTTL is the TTL for the in-memory topic cache.
	// Set to 0 to keep cached topics until invalidated.
	TopicCacheTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		QueueName:         "webhook-delivery",
		Concurrency:       3,
		PollInterval:      500 * time.Millisecond,
		StaleJobThreshold: 5 * time.Minute,
		ShutdownTimeout:   30 * time.Second,
		DefaultTimeout:    5 * time.Second,
		TopicCacheTTL:     30 * time.Second,
	}
}
