// Package observe holds the shopvox telemetry plumbing: the OpenTelemetry
// instruments in [Metrics], span and logger helpers keyed to searches and
// actors, the HTTP [Middleware], and [InitProvider], which bridges metrics to
// a Prometheus scrape endpoint.
//
// Components take a *Metrics through an option and fall back to
// [DefaultMetrics]. Tests build their own with [NewMetrics] over a manual
// reader or a noop provider.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all shopvox metrics.
const meterName = "github.com/MrWong99/shopvox"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// SearchDuration tracks product search round trips. Use with attribute:
	//   attribute.String("status", ...)
	SearchDuration metric.Float64Histogram

	// TranscribeDuration tracks transcription latency. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("status", ...)
	TranscribeDuration metric.Float64Histogram

	// CaptureDuration tracks the length of finished recordings.
	CaptureDuration metric.Float64Histogram

	// --- Counters ---

	// SearchRequests counts resolved searches. Use with attribute:
	//   attribute.String("status", ...)
	SearchRequests metric.Int64Counter

	// SearchSuperseded counts responses discarded because a newer request
	// had been dispatched.
	SearchSuperseded metric.Int64Counter

	// SearchFallbacks counts synthesized result sets. Use with attribute:
	//   attribute.String("reason", ...)
	SearchFallbacks metric.Int64Counter

	// SearchValidationErrors counts searches rejected before dispatch.
	SearchValidationErrors metric.Int64Counter

	// CaptureSessions counts finished recording sessions. Use with attribute:
	//   attribute.String("outcome", ...)
	CaptureSessions metric.Int64Counter

	// HistoryWrites counts history persist attempts. Use with attribute:
	//   attribute.String("status", ...)
	HistoryWrites metric.Int64Counter

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// SearchesInFlight tracks dispatched searches awaiting a response.
	SearchesInFlight metric.Int64UpDownCounter

	// WebSocketClients tracks connected event-stream clients.
	WebSocketClients metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// network round trips.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// recordingBuckets covers spoken queries, which run a few seconds.
var recordingBuckets = []float64{
	0.5, 1, 2, 3, 5, 8, 13, 20, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.SearchDuration, err = m.Float64Histogram("shopvox.search.duration",
		metric.WithDescription("Latency of product search calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TranscribeDuration, err = m.Float64Histogram("shopvox.transcribe.duration",
		metric.WithDescription("Latency of speech transcription."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CaptureDuration, err = m.Float64Histogram("shopvox.capture.duration",
		metric.WithDescription("Length of completed microphone recordings."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(recordingBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.SearchRequests, err = m.Int64Counter("shopvox.search.requests",
		metric.WithDescription("Total resolved product searches by status."),
	); err != nil {
		return nil, err
	}
	if met.SearchSuperseded, err = m.Int64Counter("shopvox.search.superseded",
		metric.WithDescription("Search responses discarded as stale."),
	); err != nil {
		return nil, err
	}
	if met.SearchFallbacks, err = m.Int64Counter("shopvox.search.fallbacks",
		metric.WithDescription("Synthesized result sets by reason."),
	); err != nil {
		return nil, err
	}
	if met.SearchValidationErrors, err = m.Int64Counter("shopvox.search.validation_errors",
		metric.WithDescription("Searches rejected before dispatch."),
	); err != nil {
		return nil, err
	}
	if met.CaptureSessions, err = m.Int64Counter("shopvox.capture.sessions",
		metric.WithDescription("Finished recording sessions by outcome."),
	); err != nil {
		return nil, err
	}
	if met.HistoryWrites, err = m.Int64Counter("shopvox.history.writes",
		metric.WithDescription("Search history persist attempts by status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("shopvox.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.SearchesInFlight, err = m.Int64UpDownCounter("shopvox.search.in_flight",
		metric.WithDescription("Dispatched searches awaiting a response."),
	); err != nil {
		return nil, err
	}
	if met.WebSocketClients, err = m.Int64UpDownCounter("shopvox.ws.clients",
		metric.WithDescription("Connected event-stream clients."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("shopvox.http.request.duration",
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
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
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

// RecordSearch records one resolved search.
func (m *Metrics) RecordSearch(ctx context.Context, status string, seconds float64) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.SearchRequests.Add(ctx, 1, attrs)
	m.SearchDuration.Record(ctx, seconds, attrs)
}

// RecordSuperseded records a stale response being discarded.
func (m *Metrics) RecordSuperseded(ctx context.Context) {
	m.SearchSuperseded.Add(ctx, 1)
}

// RecordFallback records a synthesized result set.
func (m *Metrics) RecordFallback(ctx context.Context, reason string) {
	m.SearchFallbacks.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordValidationError records a search rejected before dispatch.
func (m *Metrics) RecordValidationError(ctx context.Context) {
	m.SearchValidationErrors.Add(ctx, 1)
}

// RecordCapture records a finished recording session. seconds is ignored
// unless the session completed.
func (m *Metrics) RecordCapture(ctx context.Context, outcome string, seconds float64) {
	m.CaptureSessions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	if outcome == "completed" {
		m.CaptureDuration.Record(ctx, seconds)
	}
}

// RecordTranscription records one transcription call.
func (m *Metrics) RecordTranscription(ctx context.Context, provider, status string, seconds float64) {
	m.TranscribeDuration.Record(ctx, seconds,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("status", status),
		),
	)
}

// RecordHistoryWrite records one history persist attempt.
func (m *Metrics) RecordHistoryWrite(ctx context.Context, status string) {
	m.HistoryWrites.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
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
