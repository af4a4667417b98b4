package observe

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// installTracer swaps the global tracer provider for one that records into
// memory.
func installTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// captureLogs points the default logger at a buffer for the test.
func captureLogs(t *testing.T) *strings.Builder {
	t.Helper()
	var buf strings.Builder
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestStartUtterance_StagesAreChildren(t *testing.T) {
	exp := installTracer(t)

	ctx, root := StartUtterance(context.Background(), "utt-1")
	_, stt := StartStage(ctx, "stt", "transcribe")
	EndSpan(stt, nil)
	_, llm := StartStage(ctx, "llm", "complete")
	EndSpan(llm, errors.New("timeout"))
	EndSpan(root, nil)

	spans := exp.GetSpans()
	if len(spans) != 3 {
		t.Fatalf("recorded %d spans, want 3", len(spans))
	}
	byName := map[string]tracetest.SpanStub{}
	for _, s := range spans {
		byName[s.Name] = s
	}

	rootSpan := byName["orchestrator.utterance"]
	if rootSpan.Attributes[0] != AttrUtteranceID.String("utt-1") {
		t.Errorf("root attributes = %v", rootSpan.Attributes)
	}
	for _, name := range []string{"stt.transcribe", "llm.complete"} {
		s, ok := byName[name]
		if !ok {
			t.Fatalf("no span %q", name)
		}
		if s.Parent.SpanID() != rootSpan.SpanContext.SpanID() {
			t.Errorf("%s is not a child of the utterance span", name)
		}
	}
	if got := byName["llm.complete"].Status.Code; got != codes.Error {
		t.Errorf("failed stage status = %v, want Error", got)
	}
	if got := byName["stt.transcribe"].Status.Code; got != codes.Unset {
		t.Errorf("ok stage status = %v, want Unset", got)
	}
}

func TestAnnotateVerdict(t *testing.T) {
	exp := installTracer(t)

	ctx, span := StartUtterance(context.Background(), "utt-2")
	AnnotateVerdict(ctx, "forward", false, "stale telemetry")
	span.End()

	events := exp.GetSpans()[0].Events
	if len(events) != 1 || events[0].Name != "interlock.verdict" {
		t.Fatalf("events = %v", events)
	}
	var reason string
	for _, kv := range events[0].Attributes {
		if kv.Key == AttrReason {
			reason = kv.Value.AsString()
		}
	}
	if reason != "stale telemetry" {
		t.Errorf("reason attribute = %q", reason)
	}
}

func TestLogger_TagsUtterance(t *testing.T) {
	installTracer(t)
	buf := captureLogs(t)

	ctx, span := StartUtterance(context.Background(), "utt-3")
	defer span.End()
	Logger(ctx, "stage", "stt").Info("heard")

	line := buf.String()
	for _, want := range []string{"utterance=utt-3", "trace_id=", "span_id=", "stage=stt"} {
		if !strings.Contains(line, want) {
			t.Errorf("log line missing %q: %s", want, line)
		}
	}
}

func TestLogger_PlainContext(t *testing.T) {
	buf := captureLogs(t)

	Logger(context.Background()).Info("idle")

	if line := buf.String(); strings.Contains(line, "trace_id") || strings.Contains(line, "utterance=") {
		t.Errorf("plain context log carries ids: %s", line)
	}
	if got := UtteranceID(context.Background()); got != "" {
		t.Errorf("UtteranceID = %q, want empty", got)
	}
}
