// Package observe provides application-wide observability primitives for
// Sibyl: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Sibyl metrics.
const meterName = "github.com/MrWong99/sibyl"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// SynthDuration tracks backend synthesis latency. Use with attribute:
	//   attribute.String("provider", ...)
	SynthDuration metric.Float64Histogram

	// StretchDuration tracks FFT time-stretch latency.
	StretchDuration metric.Float64Histogram

	// JobDuration tracks end-to-end job latency (synthesis through file
	// write). Use with attribute: attribute.String("status", ...)
	JobDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts backend calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts backend errors. Use with attribute:
	//   attribute.String("provider", ...)
	ProviderErrors metric.Int64Counter

	// JobsCompleted counts finished jobs. Use with attributes:
	//   attribute.String("mode", ...), attribute.String("status", ...)
	JobsCompleted metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Use with
	// attributes: attribute.String("backend", ...), attribute.String("to", ...)
	BreakerTransitions metric.Int64Counter

	// AudioSeconds accumulates the duration of audio produced, in seconds.
	AudioSeconds metric.Float64Counter

	// --- Gauges ---

	// ActiveStreams tracks the number of live streaming synthesis sessions.
	ActiveStreams metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). Model
// inference on CPU routinely takes whole seconds, so the buckets reach
// further than typical HTTP-service defaults.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.SynthDuration, err = m.Float64Histogram("sibyl.synth.duration",
		metric.WithDescription("Latency of backend speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.StretchDuration, err = m.Float64Histogram("sibyl.stretch.duration",
		metric.WithDescription("Latency of FFT time-stretching."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.JobDuration, err = m.Float64Histogram("sibyl.job.duration",
		metric.WithDescription("End-to-end job latency by status."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("sibyl.provider.requests",
		metric.WithDescription("Total backend requests by provider and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("sibyl.provider.errors",
		metric.WithDescription("Total backend errors by provider."),
	); err != nil {
		return nil, err
	}
	if met.JobsCompleted, err = m.Int64Counter("sibyl.jobs.completed",
		metric.WithDescription("Total finished jobs by mode and status."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("sibyl.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by backend and target state."),
	); err != nil {
		return nil, err
	}
	if met.AudioSeconds, err = m.Float64Counter("sibyl.audio.seconds",
		metric.WithDescription("Total seconds of audio produced."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveStreams, err = m.Int64UpDownCounter("sibyl.active_streams",
		metric.WithDescription("Number of live streaming synthesis sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("sibyl.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
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

// RecordProviderRequest is a convenience method that records a backend
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a backend error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("provider", provider)),
	)
}

// RecordJob is a convenience method that records one finished job and its
// duration in seconds.
func (m *Metrics) RecordJob(ctx context.Context, mode, status string, seconds float64) {
	m.JobsCompleted.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("mode", mode),
			attribute.String("status", status),
		),
	)
	m.JobDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordBreakerTransition is a convenience method that records a circuit
// breaker state change. Wire it into the breaker's OnStateChange hook.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, backend, to string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("backend", backend),
			attribute.String("to", to),
		),
	)
}
