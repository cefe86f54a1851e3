// Package observe provides application-wide observability primitives for
// voxlink: OpenTelemetry metrics, tracing helpers, and structured-logging
// glue.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [Setup] so that metrics can be
// scraped from the local debug listener. A package-level default [Metrics]
// instance ([Default]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// meterName is the instrumentation scope name used for all voxlink metrics.
const meterName = "github.com/voxlink-ai/voxlink"

// Metrics holds all OpenTelemetry metric instruments for the client.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Connection lifecycle ---

	// ConnectAttempts counts dial attempts. Use with attribute:
	//   attribute.String("result", "ok"|"error")
	ConnectAttempts metric.Int64Counter

	// Disconnects counts connection losses (any cause).
	Disconnects metric.Int64Counter

	// ConnectedTime tracks how long individual connections stayed up.
	ConnectedTime metric.Float64Histogram

	// --- Wire traffic ---

	// AudioFramesSent counts outbound microphone frames handed to the
	// transport.
	AudioFramesSent metric.Int64Counter

	// AudioFramesDropped counts outbound microphone frames dropped because
	// the transport was backed up or disconnected.
	AudioFramesDropped metric.Int64Counter

	// EventsDropped counts inbound events evicted from the replay buffer
	// under sustained consumer backpressure.
	EventsDropped metric.Int64Counter

	// --- Session ---

	// ChunksCaptured counts energy-gated capture chunks delivered upstream.
	ChunksCaptured metric.Int64Counter

	// PlaybackBytes counts synthesized-speech bytes fed to the playback pipe.
	PlaybackBytes metric.Int64Counter

	// PingLatency tracks application-level ping/pong round-trip time.
	PingLatency metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for interactive round-trip and connection-lifetime measurements.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.ConnectAttempts, err = m.Int64Counter("voxlink.conn.attempts",
		metric.WithDescription("Number of connection dial attempts."),
	); err != nil {
		return nil, err
	}
	if met.Disconnects, err = m.Int64Counter("voxlink.conn.disconnects",
		metric.WithDescription("Number of connection losses."),
	); err != nil {
		return nil, err
	}
	if met.ConnectedTime, err = m.Float64Histogram("voxlink.conn.uptime",
		metric.WithDescription("How long individual connections stayed up."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AudioFramesSent, err = m.Int64Counter("voxlink.audio.frames_sent",
		metric.WithDescription("Outbound microphone frames handed to the transport."),
	); err != nil {
		return nil, err
	}
	if met.AudioFramesDropped, err = m.Int64Counter("voxlink.audio.frames_dropped",
		metric.WithDescription("Outbound microphone frames dropped under backpressure."),
	); err != nil {
		return nil, err
	}
	if met.EventsDropped, err = m.Int64Counter("voxlink.conn.events_dropped",
		metric.WithDescription("Inbound events evicted under consumer backpressure."),
	); err != nil {
		return nil, err
	}
	if met.ChunksCaptured, err = m.Int64Counter("voxlink.capture.chunks",
		metric.WithDescription("Energy-gated capture chunks delivered upstream."),
	); err != nil {
		return nil, err
	}
	if met.PlaybackBytes, err = m.Int64Counter("voxlink.playback.bytes",
		metric.WithDescription("Synthesized speech bytes fed to the playback pipe."),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if met.PingLatency, err = m.Float64Histogram("voxlink.ping.latency",
		metric.WithDescription("Application-level ping/pong round-trip time."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// Default returns the package-level Metrics instance backed by the global
// OTel meter provider. Before [Setup] runs, the global provider is a
// no-op, so recording through the default instance is always safe.
func Default() *Metrics {
	defaultOnce.Do(func() {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			// Instrument creation cannot fail on the no-op provider; fall
			// back to it so recording stays safe if a real provider does.
			m, _ = NewMetrics(noop.NewMeterProvider())
		}
		defaultMetrics = m
	})
	return defaultMetrics
}
