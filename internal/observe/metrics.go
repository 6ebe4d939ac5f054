// Package observe provides application-wide observability primitives for
// flowcall: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all flowcall metrics.
const meterName = "github.com/snehlabs/flowcall"

// Metrics holds all OpenTelemetry metric instruments for the client.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// ExchangeDuration tracks the round trip of a single-shot voice
	// exchange, from request send to response received.
	ExchangeDuration metric.Float64Histogram

	// ClipDuration tracks the playback length of flushed audio clips.
	ClipDuration metric.Float64Histogram

	// --- Counters ---

	// CaptureChunks counts microphone capture slices. Use with attribute:
	//   attribute.String("status", "sent"|"discarded"|"error")
	CaptureChunks metric.Int64Counter

	// TransportEvents counts realtime socket events by type. Use with:
	//   attribute.String("type", ...)
	TransportEvents metric.Int64Counter

	// ClipsEnqueued counts audio clips handed to the playback queue.
	ClipsEnqueued metric.Int64Counter

	// ClipsPlayed counts clips that finished playback. Use with attribute:
	//   attribute.String("status", "ok"|"error")
	ClipsPlayed metric.Int64Counter

	// WatchdogRetries counts watchdog-triggered resends.
	WatchdogRetries metric.Int64Counter

	// WatchdogExhaustions counts requests abandoned after the retry budget.
	WatchdogExhaustions metric.Int64Counter

	// --- Error counters ---

	// TransportErrors counts socket failures by kind. Use with attribute:
	//   attribute.String("kind", "dial"|"read"|"write"|"protocol")
	TransportErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveCalls tracks the number of live calls (0 or 1 in practice).
	ActiveCalls metric.Int64UpDownCounter

	// SpeakingClips tracks the remote-speaking count used for echo gating:
	// clips currently playing or within their post-playback grace period.
	SpeakingClips metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks diagnostics endpoint request processing
	// time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice round-trip latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.ExchangeDuration, err = m.Float64Histogram("flowcall.exchange.duration",
		metric.WithDescription("Round-trip latency of a single-shot voice exchange."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ClipDuration, err = m.Float64Histogram("flowcall.clip.duration",
		metric.WithDescription("Playback length of flushed audio clips."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.CaptureChunks, err = m.Int64Counter("flowcall.capture.chunks",
		metric.WithDescription("Microphone capture slices by status."),
	); err != nil {
		return nil, err
	}
	if met.TransportEvents, err = m.Int64Counter("flowcall.transport.events",
		metric.WithDescription("Realtime socket events received by type."),
	); err != nil {
		return nil, err
	}
	if met.ClipsEnqueued, err = m.Int64Counter("flowcall.clips.enqueued",
		metric.WithDescription("Audio clips handed to the playback queue."),
	); err != nil {
		return nil, err
	}
	if met.ClipsPlayed, err = m.Int64Counter("flowcall.clips.played",
		metric.WithDescription("Audio clips that finished playback by status."),
	); err != nil {
		return nil, err
	}
	if met.WatchdogRetries, err = m.Int64Counter("flowcall.watchdog.retries",
		metric.WithDescription("Watchdog-triggered request resends."),
	); err != nil {
		return nil, err
	}
	if met.WatchdogExhaustions, err = m.Int64Counter("flowcall.watchdog.exhaustions",
		metric.WithDescription("Requests abandoned after exhausting the retry budget."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.TransportErrors, err = m.Int64Counter("flowcall.transport.errors",
		metric.WithDescription("Realtime socket failures by kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveCalls, err = m.Int64UpDownCounter("flowcall.active_calls",
		metric.WithDescription("Number of live calls."),
	); err != nil {
		return nil, err
	}
	if met.SpeakingClips, err = m.Int64UpDownCounter("flowcall.speaking_clips",
		metric.WithDescription("Clips currently playing or within their grace period."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("flowcall.http.request.duration",
		metric.WithDescription("Diagnostics endpoint request latency by method and path."),
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

// RecordCaptureChunk records one microphone capture slice with its outcome.
func (m *Metrics) RecordCaptureChunk(ctx context.Context, status string) {
	m.CaptureChunks.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordTransportEvent records one received socket event by type.
func (m *Metrics) RecordTransportEvent(ctx context.Context, eventType string) {
	m.TransportEvents.Add(ctx, 1,
		metric.WithAttributes(attribute.String("type", eventType)),
	)
}

// RecordTransportError records one socket failure by kind.
func (m *Metrics) RecordTransportError(ctx context.Context, kind string) {
	m.TransportErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("kind", kind)),
	)
}

// RecordClipPlayed records one finished clip playback with its outcome.
func (m *Metrics) RecordClipPlayed(ctx context.Context, status string) {
	m.ClipsPlayed.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}
