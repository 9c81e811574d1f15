package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/xraph/hookrelay"

// Tracer provides OpenTelemetry tracing for deliveries.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a tracer from the global OpenTelemetry provider.
func NewTracer() *Tracer {
	return &Tracer{
		tracer: otel.Tracer(tracerName),
	}
}

// NewTracerFromProvider creates a tracer from an explicit provider.
func NewTracerFromProvider(tp trace.TracerProvider) *Tracer {
	return &Tracer{
		tracer: tp.Tracer(tracerName),
	}
}

// StartDeliverySpan starts a new span for a delivery attempt.
func (t *Tracer) StartDeliverySpan(ctx context.Context, deliveryID, eventID, webhookID string, attempt int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "hookrelay.delivery",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("hookrelay.delivery_id", deliveryID),
			attribute.String("hookrelay.event_id", eventID),
			attribute.String("hookrelay.webhook_id", webhookID),
			attribute.Int("hookrelay.attempt", attempt),
		),
	)
}

// EndDeliverySpan ends a delivery span with result attributes.
func (t *Tracer) EndDeliverySpan(span trace.Span, statusCode, latencyMs int, errMsg string) {
	span.SetAttributes(
		attribute.Int("http.status_code", statusCode),
		attribute.Int("hookrelay.latency_ms", latencyMs),
	)
	if errMsg != "" {
		span.SetAttributes(attribute.String("hookrelay.error", errMsg))
		span.SetStatus(codes.Error, errMsg)
	}
	span.End()
}
