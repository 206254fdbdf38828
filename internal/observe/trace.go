package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the shopvox tracer.
const tracerName = "github.com/MrWong99/shopvox"

// Span attribute keys shared across shopvox packages.
const (
	KeySearchToken   = attribute.Key("shopvox.search.token")
	KeySearchQuery   = attribute.Key("shopvox.search.query")
	KeySearchSources = attribute.Key("shopvox.search.sources")
	KeyActorID       = attribute.Key("shopvox.actor_id")
	KeyAudioMIMEType = attribute.Key("shopvox.audio.mime_type")
	KeyAudioBytes    = attribute.Key("shopvox.audio.bytes")
	KeyTool          = attribute.Key("shopvox.mcp.tool")
)

// Tracer returns the shopvox [trace.Tracer] from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a new span and returns the updated context and span. The
// caller must call span.End() when done. The actor from ctx, if any, is
// added to the span.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if actor := ActorFromContext(ctx); actor != "" {
		opts = append(opts, trace.WithAttributes(KeyActorID.String(actor)))
	}
	return Tracer().Start(ctx, name, opts...)
}

// SearchAttributes labels a search dispatch span.
func SearchAttributes(token uint64, query string, sources ...string) trace.SpanStartOption {
	return trace.WithAttributes(
		KeySearchToken.Int64(int64(token)),
		KeySearchQuery.String(query),
		KeySearchSources.StringSlice(sources),
	)
}

// AudioAttributes labels a span that handles a recording.
func AudioAttributes(mimeType string, size int) trace.SpanStartOption {
	return trace.WithAttributes(
		KeyAudioMIMEType.String(mimeType),
		KeyAudioBytes.Int(size),
	)
}

// CorrelationID extracts the trace ID from the OTel span context in ctx.
// Returns the empty string when no active span with a valid trace ID exists.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

type actorKey struct{}

// ContextWithActor returns a copy of ctx carrying the acting user's id.
func ContextWithActor(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, actorKey{}, id)
}

// ActorFromContext returns the actor set by [ContextWithActor], or "".
func ActorFromContext(ctx context.Context) string {
	id, _ := ctx.Value(actorKey{}).(string)
	return id
}

// Logger returns the default [slog.Logger] enriched with trace_id, span_id
// and actor_id from ctx when present.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if actor := ActorFromContext(ctx); actor != "" {
		l = l.With(slog.String("actor_id", actor))
	}
	return l
}
