package tracing

import (
	"context"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/alexgrankinukr-hash/Company-in-a-box-sub000/internal/config"
)

func TestSetupDisabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TelemetryConfig{}, "dev")
	if err != nil {
		t.Fatal(err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestSetupRejectsProtocol(t *testing.T) {
	_, err := Setup(context.Background(), config.TelemetryConfig{Enabled: true, Endpoint: "localhost:4317", Protocol: "udp"}, "dev")
	if err == nil {
		t.Fatal("expected error for unknown protocol")
	}
}

func TestTraceID(t *testing.T) {
	if got := TraceID(context.Background()); got != "" {
		t.Errorf("TraceID without span = %q", got)
	}

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	span.End()

	if got := TraceID(ctx); len(got) != 32 {
		t.Errorf("TraceID = %q", got)
	}
	if len(sr.Ended()) != 1 {
		t.Errorf("ended spans = %d", len(sr.Ended()))
	}
}
