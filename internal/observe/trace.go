package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/roverlink"

// Span attribute keys.
const (
	AttrUtteranceID = attribute.Key("roverlink.utterance.id")
	AttrStage       = attribute.Key("roverlink.stage")
	AttrAction      = attribute.Key("roverlink.command.action")
	AttrAllowed     = attribute.Key("roverlink.command.allowed")
	AttrReason      = attribute.Key("roverlink.command.reason")
)

type utteranceKey struct{}

// StartUtterance opens the root span of one voice turn and remembers id in
// the returned context so [Logger] can tag every line of the turn with it.
func StartUtterance(ctx context.Context, id string) (context.Context, trace.Span) {
	ctx = context.WithValue(ctx, utteranceKey{}, id)
	return otel.Tracer(tracerName).Start(ctx, "orchestrator.utterance",
		trace.WithAttributes(AttrUtteranceID.String(id)))
}

// StartStage opens a child span for one external call of the turn. stage is
// "stt", "llm" or "tts"; op names the call ("transcribe", "complete", ...).
func StartStage(ctx context.Context, stage, op string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, stage+"."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(AttrStage.String(stage)))
}

// EndSpan ends span, marking it failed when err is non-nil.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// AnnotateVerdict attaches the interlock decision for action to the span in
// ctx.
func AnnotateVerdict(ctx context.Context, action string, allowed bool, reason string) {
	span := trace.SpanFromContext(ctx)
	attrs := []attribute.KeyValue{AttrAction.String(action), AttrAllowed.Bool(allowed)}
	if reason != "" {
		attrs = append(attrs, AttrReason.String(reason))
	}
	span.AddEvent("interlock.verdict", trace.WithAttributes(attrs...))
}

// UtteranceID returns the id stored by [StartUtterance], or "".
func UtteranceID(ctx context.Context) string {
	id, _ := ctx.Value(utteranceKey{}).(string)
	return id
}

// Logger returns the default logger tagged with the utterance id and trace
// ids found in ctx, plus attrs.
func Logger(ctx context.Context, attrs ...any) *slog.Logger {
	l := slog.Default()
	if id := UtteranceID(ctx); id != "" {
		l = l.With("utterance", id)
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		l = l.With("trace_id", sc.TraceID().String(), "span_id", sc.SpanID().String())
	}
	if len(attrs) > 0 {
		l = l.With(attrs...)
	}
	return l
}
