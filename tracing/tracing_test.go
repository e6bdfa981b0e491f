package tracing

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// newTestConfig returns a Config backed by an in-memory span recorder.
func newTestConfig(t *testing.T) (*Config, *tracetest.SpanRecorder) {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { _ = tp.Shutdown(t.Context()) })
	return &Config{
		TracerProvider: tp,
		Propagators:    propagation.TraceContext{},
	}, rec
}

func TestStart_RecordsSpanWithAttributes(t *testing.T) {
	cfg, rec := newTestConfig(t)

	_, span := cfg.Start(t.Context(), "tokenbridge.sync", attribute.String("result", "ok"))
	End(span, nil)

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Name() != "tokenbridge.sync" {
		t.Fatalf("unexpected span name %q", spans[0].Name())
	}
	if spans[0].Status().Code != codes.Ok {
		t.Fatalf("expected Ok status, got %v", spans[0].Status().Code)
	}
	assertAttr(t, spans[0].Attributes(), "result", "ok")
}

func TestEnd_RecordsError(t *testing.T) {
	cfg, rec := newTestConfig(t)

	_, span := cfg.Start(t.Context(), "op")
	End(span, errors.New("boom"))

	spans := rec.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	if spans[0].Status().Code != codes.Error {
		t.Fatalf("expected Error status, got %v", spans[0].Status().Code)
	}
	if spans[0].Status().Description != "boom" {
		t.Fatalf("unexpected description %q", spans[0].Status().Description)
	}
}

func TestStartServer_ExtractsParent(t *testing.T) {
	cfg, rec := newTestConfig(t)

	// Create a parent span and inject it into request headers.
	parentCtx, parent := cfg.Start(t.Context(), "client")
	req := httptest.NewRequest(http.MethodGet, "/app.js", nil)
	cfg.Inject(parentCtx, req.Header)
	parent.End()

	_, span := cfg.StartServer(req, "swcache.request")
	End(span, nil)

	spans := rec.Ended()
	if len(spans) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(spans))
	}
	server := spans[1]
	if server.SpanKind() != trace.SpanKindServer {
		t.Fatalf("expected SpanKindServer, got %v", server.SpanKind())
	}
	if server.Parent().TraceID() != spans[0].SpanContext().TraceID() {
		t.Fatal("expected server span to share the injected trace ID")
	}
	assertAttr(t, server.Attributes(), "url.path", "/app.js")
}

func TestNilConfigIsNoop(t *testing.T) {
	var cfg *Config
	_, span := cfg.Start(t.Context(), "noop")
	if span.IsRecording() {
		t.Fatal("expected non-recording span for nil config")
	}
	End(span, nil)
	cfg.Inject(t.Context(), http.Header{})
}

func TestNewStdoutProvider(t *testing.T) {
	var buf bytes.Buffer
	tp, err := NewStdoutProvider(&buf)
	if err != nil {
		t.Fatalf("NewStdoutProvider: %v", err)
	}
	cfg := &Config{TracerProvider: tp}
	_, span := cfg.Start(t.Context(), "exported")
	span.End()
	if err := tp.Shutdown(t.Context()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if !bytes.Contains(buf.Bytes(), []byte("exported")) {
		t.Fatalf("expected exported span in output, got %q", buf.String())
	}
}

func assertAttr(t *testing.T, attrs []attribute.KeyValue, key, want string) {
	t.Helper()
	for _, a := range attrs {
		if string(a.Key) == key {
			if a.Value.AsString() != want {
				t.Errorf("attribute %q = %q, want %q", key, a.Value.AsString(), want)
			}
			return
		}
	}
	t.Errorf("attribute %q not found", key)
}
