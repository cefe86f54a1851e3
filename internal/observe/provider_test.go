package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
)

func TestSetup(t *testing.T) {
	tel, err := Setup(WithVersion("test"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The global providers must be the ones Setup built: instruments created
	// through the global provider record without error, and tracing yields a
	// recordable span context.
	m, err := NewMetrics(otel.GetMeterProvider())
	if err != nil {
		t.Fatalf("instrument creation against global provider: %v", err)
	}
	ctx := context.Background()
	m.ConnectAttempts.Add(ctx, 1)

	_, span := StartSpan(ctx, "test.op")
	if !span.SpanContext().IsValid() {
		t.Error("expected a valid span context from the registered tracer provider")
	}
	span.End()

	if err := tel.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
