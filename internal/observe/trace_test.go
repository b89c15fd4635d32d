package observe

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"regexp"
	"strings"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// useTestTracer installs an in-memory tracer provider as the global one for
// the duration of the test.
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

// captureLogs redirects the default logger into a buffer.
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	orig := slog.Default()
	slog.SetDefault(slog.New(slog.NewTextHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(orig) })
	return &buf
}

var traceIDPattern = regexp.MustCompile(`^[0-9a-f]{32}$`)

func TestStartSpan_EndSpan(t *testing.T) {
	exp := useTestTracer(t)

	tests := []struct {
		name     string
		err      error
		wantCode codes.Code
	}{
		{name: "voice.Speak", wantCode: codes.Ok},
		{name: "voice.Transcribe", err: errors.New("stt: upstream 503"), wantCode: codes.Error},
	}
	for _, tt := range tests {
		ctx, span := StartSpan(context.Background(), tt.name)
		if !traceIDPattern.MatchString(CorrelationID(ctx)) {
			t.Errorf("%s: CorrelationID = %q, want 32 hex chars", tt.name, CorrelationID(ctx))
		}
		EndSpan(span, tt.err)
	}

	spans := exp.GetSpans()
	if len(spans) != len(tests) {
		t.Fatalf("recorded %d spans, want %d", len(spans), len(tests))
	}
	for i, tt := range tests {
		s := spans[i]
		if s.Name != tt.name {
			t.Errorf("span %d name = %q, want %q", i, s.Name, tt.name)
		}
		if s.Status.Code != tt.wantCode {
			t.Errorf("%s status = %v, want %v", tt.name, s.Status.Code, tt.wantCode)
		}
		if tt.err != nil {
			if s.Status.Description != tt.err.Error() {
				t.Errorf("%s description = %q", tt.name, s.Status.Description)
			}
			if len(s.Events) == 0 {
				t.Errorf("%s has no error event", tt.name)
			}
		}
	}
}

func TestCorrelationID(t *testing.T) {
	if got := CorrelationID(context.Background()); got != "" {
		t.Errorf("CorrelationID without span = %q, want empty", got)
	}

	useTestTracer(t)
	seen := make(map[string]bool)
	for range 50 {
		ctx, span := StartSpan(context.Background(), "voice.Speak")
		id := CorrelationID(ctx)
		span.End()
		if seen[id] {
			t.Fatalf("duplicate correlation ID %s", id)
		}
		seen[id] = true
	}
}

func TestLogger(t *testing.T) {
	useTestTracer(t)

	t.Run("with span", func(t *testing.T) {
		buf := captureLogs(t)
		ctx, span := StartSpan(context.Background(), "voice.Transcribe")
		defer span.End()

		Logger(ctx).Info("changes planned", "count", 2)

		out := buf.String()
		for _, want := range []string{"trace_id=" + CorrelationID(ctx), "span_id=", "count=2"} {
			if !strings.Contains(out, want) {
				t.Errorf("log = %q, missing %q", out, want)
			}
		}
	})

	t.Run("without span", func(t *testing.T) {
		buf := captureLogs(t)
		Logger(context.Background()).Info("changes planned")
		if strings.Contains(buf.String(), "trace_id") {
			t.Errorf("log = %q, want no trace_id", buf.String())
		}
	})
}
