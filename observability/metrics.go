package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the hookrelay Prometheus instruments. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	EventsIngestedTotal  prometheus.Counter
	DuplicateEventsTotal prometheus.Counter
	DeliveriesTotal      *prometheus.CounterVec
	DeliveryLatency      prometheus.Histogram
	DLQEntriesTotal      prometheus.Counter
	ReplaysTotal         *prometheus.CounterVec
	QueueDepth           prometheus.Gauge
}

// NewMetrics creates the hookrelay instruments and registers them with reg.
// Pass prometheus.DefaultRegisterer to expose them on the default /metrics handler.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		EventsIngestedTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "hookrelay_events_ingested_total",
			Help: "Events accepted for delivery.",
		}),
		DuplicateEventsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "hookrelay_events_duplicate_total",
			Help: "Ingest calls answered with an existing event for the same idempotency key.",
		}),
		DeliveriesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hookrelay_delivery_attempts_total",
			Help: "Delivery attempts by outcome.",
		}, []string{"status"}),
		DeliveryLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "hookrelay_delivery_latency_seconds",
			Help:    "Latency of delivery attempts.",
			Buckets: prometheus.DefBuckets,
		}),
		DLQEntriesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "hookrelay_dlq_entries_total",
			Help: "Deliveries escalated to the dead letter queue.",
		}),
		ReplaysTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hookrelay_dlq_replays_total",
			Help: "DLQ replay requests by result.",
		}, []string{"result"}),
		QueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "hookrelay_queue_depth",
			Help: "Delivery jobs waiting to run.",
		}),
	}
}

// RecordIngest counts an ingest call.
func (m *Metrics) RecordIngest(created bool) {
	if m == nil {
		return
	}
	if created {
		m.EventsIngestedTotal.Inc()
		return
	}
	m.DuplicateEventsTotal.Inc()
}

// RecordDelivery records a delivery attempt with the given status and latency.
func (m *Metrics) RecordDelivery(status string, latencySeconds float64) {
	if m == nil {
		return
	}
	m.DeliveriesTotal.WithLabelValues(status).Inc()
	m.DeliveryLatency.Observe(latencySeconds)
}

// RecordEscalation counts a new DLQ entry.
func (m *Metrics) RecordEscalation() {
	if m == nil {
		return
	}
	m.DLQEntriesTotal.Inc()
}

// RecordReplay counts a replay request by result.
func (m *Metrics) RecordReplay(result string) {
	if m == nil {
		return
	}
	m.ReplaysTotal.WithLabelValues(result).Inc()
}

// SetQueueDepth reports the current queue depth.
func (m *Metrics) SetQueueDepth(depth int64) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(depth))
}
