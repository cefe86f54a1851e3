package observe

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

// Telemetry owns the process-global OpenTelemetry providers for the client.
// Obtain one from [Setup] and call [Telemetry.Shutdown] when the client
// exits.
type Telemetry struct {
	meters *sdkmetric.MeterProvider
	traces *sdktrace.TracerProvider
}

// SetupOption configures [Setup].
type SetupOption func(*setupConfig)

type setupConfig struct {
	version string
	spans   sdktrace.SpanExporter
}

// WithVersion sets the service version reported in the telemetry resource.
func WithVersion(v string) SetupOption {
	return func(c *setupConfig) { c.version = v }
}

// WithSpanExporter exports spans through exp. Without it, spans are recorded
// in-process only, which is enough for [Logger] to correlate log lines by
// trace id.
func WithSpanExporter(exp sdktrace.SpanExporter) SetupOption {
	return func(c *setupConfig) { c.spans = exp }
}

// Setup registers the global OTel meter and tracer providers for the client.
// Metrics flow through a Prometheus reader so the debug listener can serve
// them on /metrics.
func Setup(opts ...SetupOption) (*Telemetry, error) {
	var sc setupConfig
	for _, opt := range opts {
		opt(&sc)
	}

	attrs := []attribute.KeyValue{semconv.ServiceName("voxlink")}
	if sc.version != "" {
		attrs = append(attrs, semconv.ServiceVersion(sc.version))
	}
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL, attrs...),
	)
	if err != nil {
		return nil, fmt.Errorf("observe: build resource: %w", err)
	}

	reader, err := promexporter.New()
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus reader: %w", err)
	}

	t := &Telemetry{
		meters: sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(reader),
		),
	}

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if sc.spans != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(sc.spans))
	}
	t.traces = sdktrace.NewTracerProvider(tpOpts...)

	otel.SetMeterProvider(t.meters)
	otel.SetTracerProvider(t.traces)
	return t, nil
}

// Shutdown flushes and stops both providers. Call once, from main.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(
		t.meters.Shutdown(ctx),
		t.traces.Shutdown(ctx),
	)
}
