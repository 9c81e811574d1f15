package observability_test

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/trace/noop"

	"github.com/xraph/hookrelay/observability"
)

func TestTracer_DeliverySpan(t *testing.T) {
	tr := observability.NewTracerFromProvider(noop.NewTracerProvider())

	ctx, span := tr.StartDeliverySpan(context.Background(), "del_1", "evt_1", "wh_1", 1)
	if ctx == nil || span == nil {
		t.Fatal("expected a context and span")
	}
	tr.EndDeliverySpan(span, 500, 12, "http_status")
}
