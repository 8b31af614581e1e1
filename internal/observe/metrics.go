// Package observe provides application-wide observability primitives for
// Dialflow: OpenTelemetry metrics, distributed tracing, structured logging,
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

// meterName is the instrumentation scope name used for all Dialflow metrics.
const meterName = "github.com/dialflow-ai/dialflow"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// LLMDuration tracks LLM completion latency.
	LLMDuration metric.Float64Histogram

	// TTSDuration tracks text-to-speech synthesis latency (cache misses only).
	TTSDuration metric.Float64Histogram

	// TurnDuration tracks the user-turn round trip: dispatch of an
	// accumulated user turn to the first assistant audio frame sent.
	TurnDuration metric.Float64Histogram

	// --- Counters ---

	// CallsPlaced counts outbound call placements. Use with attribute:
	//   attribute.String("status", "ok"|"error")
	CallsPlaced metric.Int64Counter

	// CallOutcomes counts terminal call outcomes. Use with attribute:
	//   attribute.String("reason", ...)
	CallOutcomes metric.Int64Counter

	// BargeIns counts prospect interruptions of assistant playback.
	BargeIns metric.Int64Counter

	// OptOuts counts do-not-call requests honored mid-call.
	OptOuts metric.Int64Counter

	// MeetingsBooked counts confirmed meeting bookings.
	MeetingsBooked metric.Int64Counter

	// Voicemails counts calls answered by a machine.
	Voicemails metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts upstream provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live call sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ActiveObservers tracks the number of connected observer sockets across
	// all sessions.
	ActiveObservers metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
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
	if met.LLMDuration, err = m.Float64Histogram("dialflow.llm.duration",
		metric.WithDescription("Latency of LLM completion."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TTSDuration, err = m.Float64Histogram("dialflow.tts.duration",
		metric.WithDescription("Latency of text-to-speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TurnDuration, err = m.Float64Histogram("dialflow.turn.duration",
		metric.WithDescription("User-turn dispatch to first assistant audio frame."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.CallsPlaced, err = m.Int64Counter("dialflow.calls.placed",
		metric.WithDescription("Total outbound call placements by status."),
	); err != nil {
		return nil, err
	}
	if met.CallOutcomes, err = m.Int64Counter("dialflow.calls.outcomes",
		metric.WithDescription("Total terminal call outcomes by reason."),
	); err != nil {
		return nil, err
	}
	if met.BargeIns, err = m.Int64Counter("dialflow.barge_ins",
		metric.WithDescription("Total prospect interruptions of assistant playback."),
	); err != nil {
		return nil, err
	}
	if met.OptOuts, err = m.Int64Counter("dialflow.opt_outs",
		metric.WithDescription("Total do-not-call requests honored mid-call."),
	); err != nil {
		return nil, err
	}
	if met.MeetingsBooked, err = m.Int64Counter("dialflow.meetings_booked",
		metric.WithDescription("Total confirmed meeting bookings."),
	); err != nil {
		return nil, err
	}
	if met.Voicemails, err = m.Int64Counter("dialflow.voicemails",
		metric.WithDescription("Total calls answered by a machine."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("dialflow.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("dialflow.active_sessions",
		metric.WithDescription("Number of live call sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveObservers, err = m.Int64UpDownCounter("dialflow.active_observers",
		metric.WithDescription("Number of connected observer sockets."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("dialflow.http.request.duration",
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

// RecordCallPlaced records one placement attempt with its status.
func (m *Metrics) RecordCallPlaced(ctx context.Context, status string) {
	m.CallsPlaced.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordCallOutcome records one terminal call outcome by reason.
func (m *Metrics) RecordCallOutcome(ctx context.Context, reason string) {
	m.CallOutcomes.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}
