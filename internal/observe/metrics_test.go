package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// testMeter is a Metrics wired to a manual reader.
type testMeter struct {
	*Metrics
	t      *testing.T
	reader *sdkmetric.ManualReader
}

func newTestMeter(t *testing.T) *testMeter {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return &testMeter{Metrics: m, t: t, reader: reader}
}

func (p *testMeter) metric(name string) metricdata.Metrics {
	p.t.Helper()
	var rm metricdata.ResourceMetrics
	if err := p.reader.Collect(context.Background(), &rm); err != nil {
		p.t.Fatalf("Collect: %v", err)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m
			}
		}
	}
	p.t.Fatalf("no metric %q", name)
	return metricdata.Metrics{}
}

// sum totals the points of counter name carrying key=value.
func (p *testMeter) sum(name, key, value string) int64 {
	p.t.Helper()
	data, ok := p.metric(name).Data.(metricdata.Sum[int64])
	if !ok {
		p.t.Fatalf("%s is not an int64 sum", name)
	}
	var total int64
	for _, dp := range data.DataPoints {
		if v, ok := dp.Attributes.Value(attribute.Key(key)); ok && v.AsString() == value {
			total += dp.Value
		}
	}
	return total
}

func TestDurations(t *testing.T) {
	p := newTestMeter(t)
	ctx := context.Background()
	for _, h := range []struct {
		name string
		rec  func(float64)
	}{
		{"roverlink.stt.duration", func(v float64) { p.STTDuration.Record(ctx, v) }},
		{"roverlink.llm.duration", func(v float64) { p.LLMDuration.Record(ctx, v) }},
		{"roverlink.tts.duration", func(v float64) { p.TTSDuration.Record(ctx, v) }},
		{"roverlink.utterance.duration", func(v float64) { p.UtteranceDuration.Record(ctx, v) }},
	} {
		h.rec(0.25)
		h.rec(0.5)
		hist, ok := p.metric(h.name).Data.(metricdata.Histogram[float64])
		if !ok || len(hist.DataPoints) != 1 {
			t.Fatalf("%s: data = %+v", h.name, p.metric(h.name).Data)
		}
		if dp := hist.DataPoints[0]; dp.Count != 2 || dp.Sum != 0.75 {
			t.Errorf("%s: count %d sum %g, want 2 and 0.75", h.name, dp.Count, dp.Sum)
		}
	}
}

func TestCounters(t *testing.T) {
	tests := []struct {
		name   string
		record func(context.Context, *Metrics)
		metric string
		key    string
		value  string
		want   int64
	}{
		{
			name: "utterances by outcome",
			record: func(ctx context.Context, m *Metrics) {
				m.RecordUtterance(ctx, "emitted")
				m.RecordUtterance(ctx, "emitted")
				m.RecordUtterance(ctx, "discarded")
			},
			metric: "roverlink.utterances", key: "outcome", value: "emitted", want: 2,
		},
		{
			name: "rejections keep their reason",
			record: func(ctx context.Context, m *Metrics) {
				m.RecordVerdict(ctx, "forward", false, "stale telemetry")
				m.RecordVerdict(ctx, "stop", true, "")
			},
			metric: "roverlink.interlock.verdicts", key: "reason", value: "stale telemetry", want: 1,
		},
		{
			name: "allowed verdicts",
			record: func(ctx context.Context, m *Metrics) {
				m.RecordVerdict(ctx, "forward", false, "obstacle")
				m.RecordVerdict(ctx, "stop", true, "")
			},
			metric: "roverlink.interlock.verdicts", key: "allowed", value: "true", want: 1,
		},
		{
			name: "dropped frames ignore non-positive counts",
			record: func(ctx context.Context, m *Metrics) {
				m.RecordFramesDropped(ctx, "capture", 0)
				m.RecordFramesDropped(ctx, "capture", 3)
				m.RecordFramesDropped(ctx, "capture", -1)
			},
			metric: "roverlink.frames.dropped", key: "stage", value: "capture", want: 3,
		},
		{
			name: "degraded serial writes",
			record: func(ctx context.Context, m *Metrics) {
				m.RecordSerialWrite(ctx, "ok")
				m.RecordSerialWrite(ctx, "degraded")
			},
			metric: "roverlink.serial.writes", key: "result", value: "degraded", want: 1,
		},
		{
			name:   "failed reconnects",
			record: func(ctx context.Context, m *Metrics) { m.RecordSerialReconnect(ctx, "error") },
			metric: "roverlink.serial.reconnects", key: "result", value: "error", want: 1,
		},
		{
			name: "provider errors",
			record: func(ctx context.Context, m *Metrics) {
				m.RecordProviderError(ctx, "deepgram", "stt")
				m.RecordProviderError(ctx, "deepgram", "stt")
				m.RecordProviderError(ctx, "ollama", "llm")
			},
			metric: "roverlink.provider.errors", key: "provider", value: "deepgram", want: 2,
		},
		{
			name: "breaker openings",
			record: func(ctx context.Context, m *Metrics) {
				m.RecordBreakerTransition(ctx, "deepgram", "stt", "open")
				m.RecordBreakerTransition(ctx, "deepgram", "stt", "half-open")
			},
			metric: "roverlink.provider.breaker.transitions", key: "state", value: "open", want: 1,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := newTestMeter(t)
			tc.record(context.Background(), p.Metrics)
			if got := p.sum(tc.metric, tc.key, tc.value); got != tc.want {
				t.Errorf("%s{%s=%q} = %d, want %d", tc.metric, tc.key, tc.value, got, tc.want)
			}
		})
	}
}

func TestDefaultMetrics_Memoised(t *testing.T) {
	if DefaultMetrics() != DefaultMetrics() {
		t.Error("DefaultMetrics built twice")
	}
}
