// Package observe provides application-wide observability primitives for
// the consent verification service: OpenTelemetry metrics, tracing helpers,
// structured logging enrichment, and HTTP middleware that ties them
// together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still
// be scraped via the standard /metrics endpoint. A package-level default
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

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/natalietdg/context-md-sub001"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// EventDuration tracks per-recognition-event processing latency. Use
	// with attribute: attribute.String("mode", ...)
	EventDuration metric.Float64Histogram

	// AlignDuration tracks sentence-alignment scoring latency.
	AlignDuration metric.Float64Histogram

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes: attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram

	// --- Counters ---

	// SessionsStarted counts verification sessions started, by mode.
	SessionsStarted metric.Int64Counter

	// EventsProcessed counts recognition events processed, by mode.
	EventsProcessed metric.Int64Counter

	// Completions counts sessions that reached full script verification,
	// by mode.
	Completions metric.Int64Counter

	// Restarts counts recognizer stream restarts after transient ends.
	Restarts metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live verification sessions.
	ActiveSessions metric.Int64UpDownCounter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// per-event alignment work, which is fast compared to network time.
var latencyBuckets = []float64{
	0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.EventDuration, err = m.Float64Histogram("consent.event.duration",
		metric.WithDescription("Latency of processing one recognition event."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.AlignDuration, err = m.Float64Histogram("consent.align.duration",
		metric.WithDescription("Latency of scoring a transcript buffer against candidate lines."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("consent.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.SessionsStarted, err = m.Int64Counter("consent.sessions.started",
		metric.WithDescription("Total verification sessions started, by mode."),
	); err != nil {
		return nil, err
	}
	if met.EventsProcessed, err = m.Int64Counter("consent.events.processed",
		metric.WithDescription("Total recognition events processed, by mode."),
	); err != nil {
		return nil, err
	}
	if met.Completions, err = m.Int64Counter("consent.sessions.completed",
		metric.WithDescription("Total sessions that verified the full script, by mode."),
	); err != nil {
		return nil, err
	}
	if met.Restarts, err = m.Int64Counter("consent.recognizer.restarts",
		metric.WithDescription("Total recognizer stream restarts after transient ends."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("consent.active_sessions",
		metric.WithDescription("Number of live verification sessions."),
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

// RecordEvent records one processed recognition event: the counter
// increment and the processing-latency observation, both tagged with the
// session mode.
func (m *Metrics) RecordEvent(ctx context.Context, mode string, seconds float64) {
	attrs := metric.WithAttributes(Attr("mode", mode))
	m.EventsProcessed.Add(ctx, 1, attrs)
	m.EventDuration.Record(ctx, seconds, attrs)
}
