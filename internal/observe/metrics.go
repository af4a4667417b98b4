// Package observe carries roverlink's telemetry. Instruments live in
// [Metrics]; [Setup] installs the otel providers and the Prometheus bridge
// behind /metrics. Tests build their own [Metrics] on a private meter
// provider with [NewMetrics].
package observe

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/MrWong99/roverlink"

// Metrics holds every roverlink instrument. Durations are in seconds.
type Metrics struct {
	STTDuration metric.Float64Histogram
	LLMDuration metric.Float64Histogram
	// TTSDuration runs until the first synthesized frame.
	TTSDuration metric.Float64Histogram
	// UtteranceDuration is the audio length of emitted utterances.
	UtteranceDuration metric.Float64Histogram

	Utterances         metric.Int64Counter // outcome
	FramesDropped      metric.Int64Counter // stage
	InterlockVerdicts  metric.Int64Counter // action, allowed, reason
	SerialWrites       metric.Int64Counter // result: ok, degraded, error
	SerialReconnects   metric.Int64Counter // result: ok, error
	TelemetryUpdates   metric.Int64Counter
	TelemetryMalformed metric.Int64Counter
	BargeIns           metric.Int64Counter

	ProviderErrors     metric.Int64Counter // provider, kind
	BreakerTransitions metric.Int64Counter // provider, kind, state

	// HTTPRequestDuration is labelled by method, matched route and status.
	HTTPRequestDuration metric.Float64Histogram
}

var (
	// latencyBuckets spans provider round trips from 10ms to 10s.
	latencyBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

	// utteranceBuckets covers the segmenter's 0.7s to 4s window with headroom.
	utteranceBuckets = []float64{0.25, 0.5, 0.75, 1, 1.5, 2, 3, 4, 6}
)

// instruments creates instruments on one meter and keeps every error.
type instruments struct {
	m    metric.Meter
	errs []error
}

func (in *instruments) seconds(name, desc string, buckets ...float64) metric.Float64Histogram {
	opts := []metric.Float64HistogramOption{metric.WithDescription(desc), metric.WithUnit("s")}
	if len(buckets) > 0 {
		opts = append(opts, metric.WithExplicitBucketBoundaries(buckets...))
	}
	h, err := in.m.Float64Histogram(name, opts...)
	in.errs = append(in.errs, err)
	return h
}

func (in *instruments) counter(name, desc string) metric.Int64Counter {
	c, err := in.m.Int64Counter(name, metric.WithDescription(desc))
	in.errs = append(in.errs, err)
	return c
}

// NewMetrics creates the instruments on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	in := &instruments{m: mp.Meter(meterName)}
	met := &Metrics{
		STTDuration:       in.seconds("roverlink.stt.duration", "Latency of speech-to-text transcription.", latencyBuckets...),
		LLMDuration:       in.seconds("roverlink.llm.duration", "Latency of language-model replies.", latencyBuckets...),
		TTSDuration:       in.seconds("roverlink.tts.duration", "Latency until speech synthesis starts streaming.", latencyBuckets...),
		UtteranceDuration: in.seconds("roverlink.utterance.duration", "Audio length of emitted utterances.", utteranceBuckets...),

		Utterances:         in.counter("roverlink.utterances", "Utterances finalised by the segmenter, by outcome."),
		FramesDropped:      in.counter("roverlink.frames.dropped", "Audio frames dropped, by pipeline stage."),
		InterlockVerdicts:  in.counter("roverlink.interlock.verdicts", "Safety interlock decisions by action, outcome and reason."),
		SerialWrites:       in.counter("roverlink.serial.writes", "Command lines written to the actuator board, by result."),
		SerialReconnects:   in.counter("roverlink.serial.reconnects", "Serial port open attempts, by result."),
		TelemetryUpdates:   in.counter("roverlink.telemetry.updates", "Telemetry readings accepted into the store."),
		TelemetryMalformed: in.counter("roverlink.telemetry.malformed", "Telemetry lines rejected as malformed."),
		BargeIns:           in.counter("roverlink.bargein", "Spoken replies cancelled by user speech."),

		ProviderErrors:     in.counter("roverlink.provider.errors", "Provider errors by provider and kind."),
		BreakerTransitions: in.counter("roverlink.provider.breaker.transitions", "Provider breaker state changes by provider, kind and new state."),

		HTTPRequestDuration: in.seconds("roverlink.http.request.duration", "Status server request latency by method, route and status."),
	}
	if err := errors.Join(in.errs...); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns a process-wide [Metrics] built on the global meter
// provider the first time it is called. It panics if that fails.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: default metrics: " + err.Error())
		}
		defaultMetrics = m
	})
	return defaultMetrics
}

// RecordUtterance records a segmenter outcome ("emitted" or "discarded").
func (m *Metrics) RecordUtterance(ctx context.Context, outcome string) {
	m.Utterances.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordFramesDropped records n frames lost at stage.
func (m *Metrics) RecordFramesDropped(ctx context.Context, stage string, n int64) {
	if n <= 0 {
		return
	}
	m.FramesDropped.Add(ctx, n, metric.WithAttributes(attribute.String("stage", stage)))
}

// RecordVerdict records one interlock decision.
func (m *Metrics) RecordVerdict(ctx context.Context, action string, allowed bool, reason string) {
	m.InterlockVerdicts.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("action", action),
			attribute.String("allowed", strconv.FormatBool(allowed)),
			attribute.String("reason", reason),
		),
	)
}

// RecordSerialWrite records a command write result.
func (m *Metrics) RecordSerialWrite(ctx context.Context, result string) {
	m.SerialWrites.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordSerialReconnect records a port open attempt result.
func (m *Metrics) RecordSerialReconnect(ctx context.Context, result string) {
	m.SerialReconnects.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordProviderError counts one failed provider call.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordBreakerTransition counts a provider breaker entering state.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, provider, kind, state string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("state", state),
		),
	)
}
