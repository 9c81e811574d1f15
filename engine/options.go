package engine

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/xraph/hookrelay"
	"github.com/xraph/hookrelay/observability"
	"github.com/xraph/hookrelay/queue"
	"github.com/xraph/hookrelay/store"
)

// Option configures an Engine.
type Option func(*Engine) error

// WithStore sets the persistence backend.
func WithStore(s store.Store) Option {
	return func(e *Engine) error {
		e.store = s
		return nil
	}
}

// WithQueueBackend sets the job storage the delivery queue runs on.
func WithQueueBackend(b queue.Backend) Option {
	return func(e *Engine) error {
		e.backend = b
		return nil
	}
}

// WithQueueOptions passes extra options to the delivery queue.
func WithQueueOptions(opts ...queue.Option) Option {
	return func(e *Engine) error {
		e.queueOpts = append(e.queueOpts, opts...)
		return nil
	}
}

// WithConfig replaces the whole engine configuration.
func WithConfig(cfg hookrelay.Config) Option {
	return func(e *Engine) error {
		e.config = cfg
		return nil
	}
}

// WithLogger sets the structured logger for the engine and its services.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) error {
		e.logger = logger
		return nil
	}
}

// WithHTTPClient sets the client used for outbound deliveries.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) error {
		e.httpClient = c
		return nil
	}
}

// WithMetrics enables Prometheus instruments.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) error {
		e.metrics = m
		return nil
	}
}

// WithTracer enables a span per delivery attempt.
func WithTracer(t *observability.Tracer) Option {
	return func(e *Engine) error {
		e.tracer = t
		return nil
	}
}

// WithConcurrency sets the number of delivery worker goroutines.
func WithConcurrency(n int) Option {
	return func(e *Engine) error {
		e.config.Concurrency = n
		return nil
	}
}

// WithPollInterval sets how often idle workers check the queue for due jobs.
func WithPollInterval(d time.Duration) Option {
	return func(e *Engine) error {
		e.config.PollInterval = d
		return nil
	}
}

// WithShutdownTimeout sets the maximum time to wait for in-flight deliveries on shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(e *Engine) error {
		e.config.ShutdownTimeout = d
		return nil
	}
}

// WithTopicCacheTTL sets the TTL of the topic cache.
func WithTopicCacheTTL(d time.Duration) Option {
	return func(e *Engine) error {
		e.config.TopicCacheTTL = d
		return nil
	}
}
