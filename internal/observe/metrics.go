// Package observe provides application-wide observability primitives for
// Meetscribe: OpenTelemetry metrics, structured-logging helpers, and the
// Prometheus exporter bridge.
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

// meterName is the instrumentation scope name used for all Meetscribe metrics.
const meterName = "github.com/meetscribe/meetscribe"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per processing stage ---

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// TranslateDuration tracks per-segment translation latency.
	TranslateDuration metric.Float64Histogram

	// SummaryDuration tracks summary generation latency.
	SummaryDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// Recordings counts finished recordings by outcome ("completed",
	// "no_speech", "failed").
	Recordings metric.Int64Counter

	// RecordingCost accumulates estimated API spend in USD.
	RecordingCost metric.Float64Counter

	// --- Error counters ---

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live recording sessions (0 or 1).
	ActiveSessions metric.Int64UpDownCounter

	// DetectedMeetings tracks the number of meetings currently visible in
	// browser tabs.
	DetectedMeetings metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds). The upper
// buckets are generous because transcribing a long meeting is slow.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.STTDuration, err = m.Float64Histogram("meetscribe.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TranslateDuration, err = m.Float64Histogram("meetscribe.translate.duration",
		metric.WithDescription("Latency of per-segment translation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SummaryDuration, err = m.Float64Histogram("meetscribe.summary.duration",
		metric.WithDescription("Latency of summary generation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("meetscribe.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.Recordings, err = m.Int64Counter("meetscribe.recordings",
		metric.WithDescription("Total finished recordings by outcome."),
	); err != nil {
		return nil, err
	}
	if met.RecordingCost, err = m.Float64Counter("meetscribe.recording.cost",
		metric.WithDescription("Estimated API spend in USD."),
		metric.WithUnit("{USD}"),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("meetscribe.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("meetscribe.active_sessions",
		metric.WithDescription("Number of live recording sessions."),
	); err != nil {
		return nil, err
	}
	if met.DetectedMeetings, err = m.Int64UpDownCounter("meetscribe.detected_meetings",
		metric.WithDescription("Number of meetings currently visible in browser tabs."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("meetscribe.http.request.duration",
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

// RecordProviderRequest is a convenience method that records a provider
// request counter increment with the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordRecording is a convenience method that records one finished
// recording with its outcome and estimated cost.
func (m *Metrics) RecordRecording(ctx context.Context, platform, outcome string, costUSD float64) {
	attrs := metric.WithAttributes(
		attribute.String("platform", platform),
		attribute.String("outcome", outcome),
	)
	m.Recordings.Add(ctx, 1, attrs)
	if costUSD > 0 {
		m.RecordingCost.Add(ctx, costUSD, attrs)
	}
}
