// Package observe provides application-wide observability primitives for
// talkback: OpenTelemetry metrics, distributed tracing, structured logging,
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
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all talkback metrics.
const meterName = "github.com/MrWong99/talkback"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Recording client ---

	// SessionsStarted counts recording sessions that acquired the microphone.
	SessionsStarted metric.Int64Counter

	// CaptureErrors counts failed microphone acquisitions and finalizations.
	// Use with attribute:
	//   attribute.String("kind", ...)  // permission, device, finalize
	CaptureErrors metric.Int64Counter

	// Uploads counts finished uploads. Use with attributes:
	//   attribute.String("status", ...), attribute.String("kind", ...)
	Uploads metric.Int64Counter

	// UploadDuration tracks the time from sending a recording to receiving
	// the answer.
	UploadDuration metric.Float64Histogram

	// PayloadBytes tracks the size of uploaded recordings.
	PayloadBytes metric.Int64Histogram

	// ActiveRecordings tracks whether a recording is in progress.
	ActiveRecordings metric.Int64UpDownCounter

	// --- Processing backend ---

	// STTDuration tracks speech-to-text transcription latency.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks LLM inference latency.
	LLMDuration metric.Float64Histogram

	// ProcessDuration tracks end-to-end handling of one recording.
	ProcessDuration metric.Float64Histogram

	// AudioDuration tracks the playback length of received recordings.
	AudioDuration metric.Float64Histogram

	// ProviderRequests counts provider API calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("route", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for a
// transcribe-then-complete round trip.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60,
}

// payloadBuckets defines histogram bucket boundaries (in bytes) for uploaded
// recordings: 16 kHz mono PCM is 32 KB per second.
var payloadBuckets = []float64{
	16 << 10, 64 << 10, 256 << 10, 1 << 20, 4 << 20, 16 << 20, 64 << 20,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Client.
	if met.SessionsStarted, err = m.Int64Counter("talkback.sessions.started",
		metric.WithDescription("Total recording sessions that acquired the microphone."),
	); err != nil {
		return nil, err
	}
	if met.CaptureErrors, err = m.Int64Counter("talkback.capture.errors",
		metric.WithDescription("Total microphone acquisition and finalization failures by kind."),
	); err != nil {
		return nil, err
	}
	if met.Uploads, err = m.Int64Counter("talkback.uploads",
		metric.WithDescription("Total finished uploads by status and error kind."),
	); err != nil {
		return nil, err
	}
	if met.UploadDuration, err = m.Float64Histogram("talkback.upload.duration",
		metric.WithDescription("Latency from sending a recording to receiving the answer."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PayloadBytes, err = m.Int64Histogram("talkback.upload.payload_size",
		metric.WithDescription("Size of uploaded recordings."),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(payloadBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ActiveRecordings, err = m.Int64UpDownCounter("talkback.active_recordings",
		metric.WithDescription("Number of recordings in progress."),
	); err != nil {
		return nil, err
	}

	// Backend.
	if met.STTDuration, err = m.Float64Histogram("talkback.stt.duration",
		metric.WithDescription("Latency of speech-to-text transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("talkback.llm.duration",
		metric.WithDescription("Latency of LLM inference."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ProcessDuration, err = m.Float64Histogram("talkback.process.duration",
		metric.WithDescription("End-to-end latency of processing one recording."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AudioDuration, err = m.Float64Histogram("talkback.audio.duration",
		metric.WithDescription("Playback length of received recordings."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("talkback.provider.requests",
		metric.WithDescription("Total provider API requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("talkback.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("talkback.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
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

// RecordCaptureError records a failed microphone acquisition or
// finalization.
func (m *Metrics) RecordCaptureError(ctx context.Context, kind string) {
	m.CaptureErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordUpload records one finished upload. kind is empty on success.
func (m *Metrics) RecordUpload(ctx context.Context, kind string, d time.Duration, payloadBytes int) {
	status := "ok"
	if kind != "" {
		status = "error"
	}
	m.Uploads.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("status", status),
			attribute.String("kind", kind),
		),
	)
	m.UploadDuration.Record(ctx, d.Seconds())
	m.PayloadBytes.Record(ctx, int64(payloadBytes))
}
