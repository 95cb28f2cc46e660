package observe

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestRequestID(t *testing.T) {
	t.Parallel()

	if got := RequestID(context.Background()); got != "" {
		t.Errorf("RequestID(background) = %q, want empty", got)
	}
	if got := RequestID(WithRequestID(context.Background(), "r-1")); got != "r-1" {
		t.Errorf("RequestID = %q, want r-1", got)
	}

	a := RequestID(WithRequestID(context.Background(), ""))
	b := RequestID(WithRequestID(context.Background(), ""))
	if len(a) != 36 || a == b {
		t.Errorf("generated IDs %q and %q, want distinct UUIDs", a, b)
	}
}

// captureDefault routes the default logger into a buffer for one test.
func captureDefault(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return &buf
}

func TestLogger_Annotations(t *testing.T) {
	buf := captureDefault(t)

	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(tracetest.NewInMemoryExporter()))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx := WithRequestID(context.Background(), "req-42")
	ctx, span := tp.Tracer("test").Start(ctx, "exchange")
	defer span.End()

	Logger(ctx).Info("tool invoked", "tool", "calculate")

	out := buf.String()
	for _, want := range []string{"request_id=req-42", "trace_id=" + CorrelationID(ctx), "span_id=", "tool=calculate"} {
		if !strings.Contains(out, want) {
			t.Errorf("log line missing %q: %s", want, out)
		}
	}
}

func TestLogger_Bare(t *testing.T) {
	buf := captureDefault(t)

	Logger(context.Background()).Info("startup")

	out := buf.String()
	if strings.Contains(out, "trace_id") || strings.Contains(out, "request_id") {
		t.Errorf("unexpected annotations: %s", out)
	}
}

func TestStartSpan_UsesGlobalProvider(t *testing.T) {
	_, _, exp := testSetup(t)

	ctx, span := StartSpan(context.Background(), "orchestrator.run")
	if CorrelationID(ctx) == "" {
		t.Error("span has no trace ID")
	}
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "orchestrator.run" {
		t.Errorf("recorded spans = %v", spans)
	}
}
