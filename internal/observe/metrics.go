// Package observe wires Dictoxa into OpenTelemetry. Instruments live on
// [Metrics]; [InitProvider] exports them to Prometheus and installs the
// tracer, and [Middleware] traces, logs and times every HTTP request.
// Session-scoped code gets a correlated logger from [Logger].
package observe

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Dictoxa metrics.
const meterName = "github.com/MrWong99/dictoxa"

// Metrics holds the application's instruments. All fields are safe for
// concurrent use.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks LLM cleanup and command latency. Use with attribute:
	//   attribute.String("purpose", "cleanup"|"command")
	LLMDuration metric.Float64Histogram

	// PipelineDuration tracks stop-to-result latency of a dictation session.
	PipelineDuration metric.Float64Histogram

	// AudioDuration tracks the length of the audio captured per session.
	AudioDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// Sessions counts started recording sessions. Use with attribute:
	//   attribute.String("mode", ...)
	Sessions metric.Int64Counter

	// Results counts sessions by outcome. Use with attributes:
	//   attribute.String("mode", ...), attribute.String("outcome", "result"|"empty"|"cancelled"|"error")
	Results metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// CleanupFailures counts LLM cleanup calls that failed and were skipped.
	CleanupFailures metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of recording sessions in progress.
	ActiveSessions metric.Int64UpDownCounter

	// ActiveConnections tracks the number of connected dictation clients.
	ActiveConnections metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...), attribute.Int("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// audioBuckets defines histogram bucket boundaries (in seconds) for captured
// audio length.
var audioBuckets = []float64{
	0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600,
}

// NewMetrics creates every instrument on a meter from mp. Tests pass their own
// provider so readings do not leak between them.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var errs []error
	seconds := func(name, desc string, buckets []float64) metric.Float64Histogram {
		opts := []metric.Float64HistogramOption{metric.WithDescription(desc), metric.WithUnit("s")}
		if buckets != nil {
			opts = append(opts, metric.WithExplicitBucketBoundaries(buckets...))
		}
		h, err := m.Float64Histogram(name, opts...)
		errs = append(errs, err)
		return h
	}
	counter := func(name, desc string) metric.Int64Counter {
		c, err := m.Int64Counter(name, metric.WithDescription(desc))
		errs = append(errs, err)
		return c
	}
	gauge := func(name, desc string) metric.Int64UpDownCounter {
		g, err := m.Int64UpDownCounter(name, metric.WithDescription(desc))
		errs = append(errs, err)
		return g
	}

	met := &Metrics{
		STTDuration:      seconds("dictoxa.stt.duration", "Latency of speech-to-text transcription.", latencyBuckets),
		LLMDuration:      seconds("dictoxa.llm.duration", "Latency of LLM cleanup and command transforms.", latencyBuckets),
		PipelineDuration: seconds("dictoxa.pipeline.duration", "Latency from stop of recording to final text.", latencyBuckets),
		AudioDuration:    seconds("dictoxa.audio.duration", "Length of captured audio per session.", audioBuckets),

		ProviderRequests: counter("dictoxa.provider.requests", "Provider API requests by provider, kind and status."),
		Sessions:         counter("dictoxa.sessions", "Recording sessions started by mode."),
		Results:          counter("dictoxa.results", "Finished sessions by mode and outcome."),
		ProviderErrors:   counter("dictoxa.provider.errors", "Provider errors by provider and kind."),
		CleanupFailures:  counter("dictoxa.cleanup.failures", "LLM cleanup failures that fell back to the uncleaned text."),

		ActiveSessions:    gauge("dictoxa.active_sessions", "Recording sessions in progress."),
		ActiveConnections: gauge("dictoxa.active_connections", "Connected dictation clients."),

		HTTPRequestDuration: seconds("dictoxa.http.request.duration", "HTTP request latency by method, route and status.", nil),
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("observe: create instruments: %w", err)
	}
	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest records a provider request counter increment with
// the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordSessionStart counts a started session and raises the active gauge.
func (m *Metrics) RecordSessionStart(ctx context.Context, mode string) {
	m.Sessions.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode)))
	m.ActiveSessions.Add(ctx, 1)
}

// RecordSessionEnd counts a finished session by outcome and lowers the
// active gauge.
func (m *Metrics) RecordSessionEnd(ctx context.Context, mode, outcome string) {
	m.Results.Add(ctx, 1, metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("outcome", outcome),
	))
	m.ActiveSessions.Add(ctx, -1)
}

// RecordStage records a stage latency on h.
func RecordStage(ctx context.Context, h metric.Float64Histogram, d time.Duration, attrs ...attribute.KeyValue) {
	h.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
}
