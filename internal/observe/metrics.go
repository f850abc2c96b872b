// Package observe holds the OpenTelemetry instruments and tracing helpers of a
// livewire process.
//
// Instruments are recorded through the OTel metrics API and [Init] bridges
// them to a Prometheus registry served on /metrics. Tests build their own
// [Metrics] with [NewMetrics] over a ManualReader instead of sharing
// [DefaultMetrics].
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all livewire metrics.
const meterName = "github.com/MrWong99/livewire"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Capture ---

	// FramesSent counts microphone frames accepted by the session. Use with
	// attribute.String("provider", ...).
	FramesSent metric.Int64Counter

	// FramesRejected counts frames the session refused (closed or invalid).
	FramesRejected metric.Int64Counter

	// --- Playback ---

	// ChunksReceived counts model audio chunks received.
	ChunksReceived metric.Int64Counter

	// ChunksScheduled counts chunks handed to the output device.
	ChunksScheduled metric.Int64Counter

	// DecodeErrors counts chunks dropped because they could not be decoded.
	DecodeErrors metric.Int64Counter

	// PlaybackGaps counts underruns where the device clock overtook the
	// playback cursor.
	PlaybackGaps metric.Int64Counter

	// PlaybackGapDuration tracks the length of playback underruns.
	PlaybackGapDuration metric.Float64Histogram

	// --- Session ---

	// TranscriptChunks counts transcript fragments. Use with
	// attribute.String("source", "input"|"output").
	TranscriptChunks metric.Int64Counter

	// SessionErrors counts sessions that ended with a fatal error. Use with
	// attribute.String("provider", ...).
	SessionErrors metric.Int64Counter

	// ConnectDuration tracks the time from Start until the session opened.
	ConnectDuration metric.Float64Histogram

	// SessionDuration tracks how long sessions stayed running.
	SessionDuration metric.Float64Histogram

	// ActiveSessions tracks the number of running sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attribute.String("method"|"route", ...) and attribute.Int("status", ...).
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// connection and underrun latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// sessionBuckets covers session lifetimes from seconds to an hour.
var sessionBuckets = []float64{
	1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Counters.
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.FramesSent, "livewire.capture.frames_sent", "Microphone frames accepted by the session."},
		{&met.FramesRejected, "livewire.capture.frames_rejected", "Microphone frames rejected by the session."},
		{&met.ChunksReceived, "livewire.playback.chunks_received", "Model audio chunks received."},
		{&met.ChunksScheduled, "livewire.playback.chunks_scheduled", "Model audio chunks scheduled on the output device."},
		{&met.DecodeErrors, "livewire.playback.decode_errors", "Model audio chunks dropped because decoding failed."},
		{&met.PlaybackGaps, "livewire.playback.gaps", "Playback underruns."},
		{&met.TranscriptChunks, "livewire.transcript.chunks", "Transcript fragments by source."},
		{&met.SessionErrors, "livewire.session.errors", "Sessions ended by a fatal error, by provider."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	// Histograms.
	if met.PlaybackGapDuration, err = m.Float64Histogram("livewire.playback.gap.duration",
		metric.WithDescription("Length of playback underruns."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ConnectDuration, err = m.Float64Histogram("livewire.session.connect.duration",
		metric.WithDescription("Time from start until the live session opened."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SessionDuration, err = m.Float64Histogram("livewire.session.duration",
		metric.WithDescription("Lifetime of live sessions."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(sessionBuckets...),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("livewire.active_sessions",
		metric.WithDescription("Number of running live sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("livewire.http.request.duration",
		metric.WithDescription("HTTP request latency by route."),
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

// RecordFrame records one capture frame as sent or rejected.
func (m *Metrics) RecordFrame(ctx context.Context, provider string, accepted bool) {
	attrs := metric.WithAttributes(attribute.String("provider", provider))
	if accepted {
		m.FramesSent.Add(ctx, 1, attrs)
		return
	}
	m.FramesRejected.Add(ctx, 1, attrs)
}

// RecordGap records a playback underrun of length gap.
func (m *Metrics) RecordGap(ctx context.Context, gap time.Duration) {
	m.PlaybackGaps.Add(ctx, 1)
	m.PlaybackGapDuration.Record(ctx, gap.Seconds())
}

// RecordTranscript records a transcript fragment from source ("input" or "output").
func (m *Metrics) RecordTranscript(ctx context.Context, source string) {
	m.TranscriptChunks.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

// RecordSessionError records a session that provider ended with a fatal error.
func (m *Metrics) RecordSessionError(ctx context.Context, provider string) {
	m.SessionErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", provider)))
}
