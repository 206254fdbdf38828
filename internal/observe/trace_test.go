package observe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// useTestTracer installs an in-memory tracer provider globally for the test.
func useTestTracer(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(orig)
		_ = tp.Shutdown(context.Background())
	})
	return exp
}

// captureLogs routes the default logger into a buffer for the test.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

func spanAttr(attrs []attribute.KeyValue, key attribute.Key) (attribute.Value, bool) {
	for _, a := range attrs {
		if a.Key == key {
			return a.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestCorrelationID_EmptyWithoutSpan(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID(background) = %q, want empty", got)
	}
}

func TestStartSpan_SearchAttributes(t *testing.T) {
	exp := useTestTracer(t)

	ctx, span := StartSpan(context.Background(), "search.dispatch",
		SearchAttributes(7, "headphones", "amazon", "ebay"))
	if CorrelationID(ctx) == "" {
		t.Error("StartSpan did not create a span with a trace ID")
	}
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "search.dispatch" {
		t.Fatalf("spans = %+v", spans)
	}
	attrs := spans[0].Attributes
	if v, _ := spanAttr(attrs, KeySearchToken); v.AsInt64() != 7 {
		t.Errorf("token = %v, want 7", v)
	}
	if v, _ := spanAttr(attrs, KeySearchQuery); v.AsString() != "headphones" {
		t.Errorf("query = %v", v)
	}
	if v, _ := spanAttr(attrs, KeySearchSources); strings.Join(v.AsStringSlice(), ",") != "amazon,ebay" {
		t.Errorf("sources = %v", v)
	}
	if _, ok := spanAttr(attrs, KeyActorID); ok {
		t.Error("actor attribute set without an actor in context")
	}
}

func TestStartSpan_TagsActor(t *testing.T) {
	exp := useTestTracer(t)

	ctx := ContextWithActor(context.Background(), "alice")
	_, span := StartSpan(ctx, "voice.handle", AudioAttributes("audio/wav", 3200))
	span.End()

	attrs := exp.GetSpans()[0].Attributes
	if v, _ := spanAttr(attrs, KeyActorID); v.AsString() != "alice" {
		t.Errorf("actor = %v, want alice", v)
	}
	if v, _ := spanAttr(attrs, KeyAudioMIMEType); v.AsString() != "audio/wav" {
		t.Errorf("mime type = %v", v)
	}
	if v, _ := spanAttr(attrs, KeyAudioBytes); v.AsInt64() != 3200 {
		t.Errorf("bytes = %v", v)
	}
}

func TestContextWithActor(t *testing.T) {
	ctx := context.Background()
	if got := ActorFromContext(ctx); got != "" {
		t.Errorf("ActorFromContext(background) = %q", got)
	}
	if got := ContextWithActor(ctx, ""); got != ctx {
		t.Error("empty actor should return ctx unchanged")
	}
	if got := ActorFromContext(ContextWithActor(ctx, "bob")); got != "bob" {
		t.Errorf("ActorFromContext = %q, want bob", got)
	}
}

func TestLogger_Enrichment(t *testing.T) {
	useTestTracer(t)

	tests := []struct {
		name string
		ctx  func() context.Context
		want []string
		not  []string
	}{
		{
			name: "no span",
			ctx:  context.Background,
			not:  []string{"trace_id", "span_id", "actor_id"},
		},
		{
			name: "span",
			ctx: func() context.Context {
				ctx, _ := StartSpan(context.Background(), "log-test")
				return ctx
			},
			want: []string{"trace_id=", "span_id="},
			not:  []string{"actor_id"},
		},
		{
			name: "actor",
			ctx: func() context.Context {
				return ContextWithActor(context.Background(), "carol")
			},
			want: []string{"actor_id=carol"},
			not:  []string{"trace_id"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := captureLogs(t)
			Logger(tt.ctx()).Info("search: dispatched")
			logged := buf.String()
			for _, s := range tt.want {
				if !strings.Contains(logged, s) {
					t.Errorf("log %q missing %q", logged, s)
				}
			}
			for _, s := range tt.not {
				if strings.Contains(logged, s) {
					t.Errorf("log %q should not contain %q", logged, s)
				}
			}
		})
	}
}
