// Package observe holds the observability plumbing: OpenTelemetry metrics
// with a Prometheus bridge, tracing helpers, trace-aware slog loggers and an
// HTTP middleware for the diagnostics server.
//
// Tests should build their own [Metrics] with [NewMetrics] and a manual
// reader instead of using [DefaultMetrics].
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for every instrument below.
const meterName = "github.com/MrWong99/mouthpiece"

// Status attribute values shared by the counters.
const (
	StatusOK    = "ok"
	StatusError = "error"
	StatusShed  = "shed"
	StatusLate  = "late"
)

// Metrics holds all metric instruments. The OTel types handle their own
// synchronisation.
type Metrics struct {
	// ── Latency ─────────────────────────────────────────────────────────

	// TTSDuration tracks audio query plus synthesis time.
	TTSDuration metric.Float64Histogram

	// LLMDuration tracks chat completion time.
	LLMDuration metric.Float64Histogram

	// UtteranceDuration tracks Speak from synthesis to join.
	UtteranceDuration metric.Float64Histogram

	// FrameLag tracks how late each mouth frame was sent relative to its
	// scheduled deadline.
	FrameLag metric.Float64Histogram

	// ── Counters ────────────────────────────────────────────────────────

	// Frames counts mouth frames by status (ok, error, shed, late).
	Frames metric.Int64Counter

	// Cues counts gesture triggers by trigger id and status.
	Cues metric.Int64Counter

	// HostConnects counts host sessions by channel (mouth, gesture) and
	// status.
	HostConnects metric.Int64Counter

	// ProviderRequests counts provider calls by provider, kind and status.
	ProviderRequests metric.Int64Counter

	// BreakerTransitions counts breaker state changes by name and target
	// state.
	BreakerTransitions metric.Int64Counter

	// ── Gauges ──────────────────────────────────────────────────────────

	// ActiveUtterances is the number of utterances being spoken.
	ActiveUtterances metric.Int64UpDownCounter

	// HTTPRequestDuration tracks diagnostics server latency.
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// lagBuckets cover sub-frame to multi-frame lateness at 60 fps.
var lagBuckets = []float64{
	0.001, 0.002, 0.005, 0.01, 0.0167, 0.033, 0.05, 0.1, 0.25,
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.TTSDuration, err = m.Float64Histogram("mouthpiece.tts.duration",
		metric.WithDescription("Latency of speech synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = m.Float64Histogram("mouthpiece.llm.duration",
		metric.WithDescription("Latency of chat completion."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.UtteranceDuration, err = m.Float64Histogram("mouthpiece.utterance.duration",
		metric.WithDescription("Wall time of one spoken utterance including synthesis."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.FrameLag, err = m.Float64Histogram("mouthpiece.mouth.frame_lag",
		metric.WithDescription("Delay between a mouth frame's deadline and its send."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(lagBuckets...),
	); err != nil {
		return nil, err
	}

	if met.Frames, err = m.Int64Counter("mouthpiece.mouth.frames",
		metric.WithDescription("Mouth parameter frames by status."),
	); err != nil {
		return nil, err
	}
	if met.Cues, err = m.Int64Counter("mouthpiece.gesture.cues",
		metric.WithDescription("Gesture triggers by trigger and status."),
	); err != nil {
		return nil, err
	}
	if met.HostConnects, err = m.Int64Counter("mouthpiece.host.connects",
		metric.WithDescription("Host session connects by channel and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderRequests, err = m.Int64Counter("mouthpiece.provider.requests",
		metric.WithDescription("Provider API requests by provider, kind and status."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("mouthpiece.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by name and state."),
	); err != nil {
		return nil, err
	}

	if met.ActiveUtterances, err = m.Int64UpDownCounter("mouthpiece.active_utterances",
		metric.WithDescription("Number of utterances currently being spoken."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("mouthpiece.http.request.duration",
		metric.WithDescription("Diagnostics HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics], created on first call
// from [otel.GetMeterProvider]. Call it after [InitProvider].
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

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordFrame counts one mouth frame and, for sent frames, its lag.
func (m *Metrics) RecordFrame(ctx context.Context, status string, lagSeconds float64) {
	m.Frames.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	if status == StatusOK || status == StatusError {
		m.FrameLag.Record(ctx, max(lagSeconds, 0))
	}
}

// RecordCue counts one gesture trigger.
func (m *Metrics) RecordCue(ctx context.Context, trigger, status string) {
	m.Cues.Add(ctx, 1, metric.WithAttributes(
		attribute.String("trigger", trigger),
		attribute.String("status", status),
	))
}

// RecordHostConnect counts one host session connect.
func (m *Metrics) RecordHostConnect(ctx context.Context, channel, status string) {
	m.HostConnects.Add(ctx, 1, metric.WithAttributes(
		attribute.String("channel", channel),
		attribute.String("status", status),
	))
}

// RecordProviderRequest counts one provider call.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("kind", kind),
		attribute.String("status", status),
	))
}

// RecordBreakerTransition counts one breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, name, to string) {
	m.BreakerTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("name", name),
		attribute.String("state", to),
	))
}

// Status maps an error to StatusOK or StatusError.
func Status(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusOK
}
