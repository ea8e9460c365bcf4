// Package observe provides application-wide observability primitives for
// callscribe: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported
// for Prometheus scraping by [InitProvider]. A package-level default
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

// meterName is the instrumentation scope name used for all callscribe metrics.
const meterName = "github.com/MrWong99/callscribe"

// Utterance outcome labels for [Metrics.RecordUtterance].
const (
	OutcomeOK           = "ok"
	OutcomeServiceError = "service_error"
	OutcomeMalformed    = "malformed"
	OutcomeEmpty        = "empty"
	OutcomeParseError   = "parse_error"
	OutcomeHTTPError    = "http_error"
	OutcomeTransport    = "transport_error"
	OutcomeCircuitOpen  = "circuit_open"
	OutcomeEncodeError  = "encode_error"
	OutcomeResultDrop   = "result_dropped"
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms ---

	// STTDuration tracks the round trip of one transcription submission.
	STTDuration metric.Float64Histogram

	// UtteranceAudio tracks the audio length of flushed utterances, in
	// seconds of speech.
	UtteranceAudio metric.Float64Histogram

	// --- Counters ---

	// Utterances counts flush attempts by outcome. Use with attribute:
	//   attribute.String("outcome", ...)
	Utterances metric.Int64Counter

	// Flushes counts flush triggers. Use with attribute:
	//   attribute.String("reason", "silence"|"overflow")
	Flushes metric.Int64Counter

	// ChunksDropped counts backpressure drops. Use with attribute:
	//   attribute.String("queue", "audio"|"text")
	ChunksDropped metric.Int64Counter

	// VADOnsets counts confirmed speech onsets.
	VADOnsets metric.Int64Counter

	// PreRollFrames counts frames recovered from pre-roll rings.
	PreRollFrames metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks open transcription sessions.
	ActiveSessions metric.Int64UpDownCounter

	// ActiveWorkers tracks running transcription workers.
	ActiveWorkers metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for remote
// transcription round trips.
var latencyBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30, 60,
}

// audioBuckets covers utterance lengths up to the longest allowed sentence.
var audioBuckets = []float64{
	0.5, 1, 2, 4, 8, 15, 25, 35, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.STTDuration, err = m.Float64Histogram("callscribe.stt.duration",
		metric.WithDescription("Latency of one transcription submission."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.UtteranceAudio, err = m.Float64Histogram("callscribe.utterance.audio",
		metric.WithDescription("Audio length of flushed utterances."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(audioBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Utterances, err = m.Int64Counter("callscribe.utterances",
		metric.WithDescription("Flushed utterances by outcome."),
	); err != nil {
		return nil, err
	}
	if met.Flushes, err = m.Int64Counter("callscribe.flushes",
		metric.WithDescription("Utterance flushes by trigger."),
	); err != nil {
		return nil, err
	}
	if met.ChunksDropped, err = m.Int64Counter("callscribe.chunks.dropped",
		metric.WithDescription("Chunks dropped because a bounded queue was full."),
	); err != nil {
		return nil, err
	}
	if met.VADOnsets, err = m.Int64Counter("callscribe.vad.onsets",
		metric.WithDescription("Confirmed speech onsets."),
	); err != nil {
		return nil, err
	}
	if met.PreRollFrames, err = m.Int64Counter("callscribe.preroll.frames",
		metric.WithDescription("Frames recovered from pre-roll buffers at speech onset."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("callscribe.active_sessions",
		metric.WithDescription("Number of open transcription sessions."),
	); err != nil {
		return nil, err
	}
	if met.ActiveWorkers, err = m.Int64UpDownCounter("callscribe.active_workers",
		metric.WithDescription("Number of running transcription workers."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("callscribe.http.request.duration",
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

// RecordUtterance records one flush outcome.
func (m *Metrics) RecordUtterance(ctx context.Context, outcome string) {
	m.Utterances.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordFlush records one flush trigger.
func (m *Metrics) RecordFlush(ctx context.Context, reason string) {
	m.Flushes.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordDrop records one chunk dropped from the named queue.
func (m *Metrics) RecordDrop(ctx context.Context, queue string) {
	m.ChunksDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("queue", queue)))
}
