package otelx

import (
	"context"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestInit_Disabled(t *testing.T) {
	shutdown, err := Init(context.Background(), Options{Enabled: false, Sample: 99})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if _, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider); !ok {
		t.Fatalf("provider = %T", otel.GetTracerProvider())
	}

	_, span := otel.Tracer("test").Start(context.Background(), "lookup")
	if !span.SpanContext().IsValid() {
		t.Fatal("disabled tracing should still mint span IDs")
	}
	if span.IsRecording() {
		t.Fatal("disabled tracing recorded a span")
	}
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}

func TestInit_Propagators(t *testing.T) {
	if _, err := Init(context.Background(), Options{}); err != nil {
		t.Fatal(err)
	}
	fields := map[string]bool{}
	for _, f := range otel.GetTextMapPropagator().Fields() {
		fields[f] = true
	}
	for _, want := range []string{"traceparent", "tracestate", "baggage"} {
		if !fields[want] {
			t.Errorf("propagator missing %s", want)
		}
	}
}

func TestInit_EnabledRequiresEndpoint(t *testing.T) {
	if _, err := Init(context.Background(), Options{Enabled: true}); err == nil {
		t.Fatal("expected error without endpoint")
	}
}

func TestInit_EnabledReturnsPromptly(t *testing.T) {
	start := time.Now()
	shutdown, err := Init(context.Background(), Options{
		Enabled:     true,
		Endpoint:    "127.0.0.1:1",
		Insecure:    true,
		Sample:      1,
		Service:     "vitesheet",
		Component:   "test",
		Version:     "v0.0.0-test",
		DialTimeout: time.Second,
	})
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("Init took %v", elapsed)
	}
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = shutdown(ctx) // no collector is listening
}

func TestServiceName(t *testing.T) {
	if got := (Options{Service: "vitesheet", Component: "server"}).ServiceName(); got != "vitesheet.server" {
		t.Fatalf("got %q", got)
	}
	if got := (Options{Service: "vitesheet"}).ServiceName(); got != "vitesheet" {
		t.Fatalf("got %q", got)
	}
}

func TestSampler(t *testing.T) {
	root := func(s sdktrace.Sampler) sdktrace.SamplingDecision {
		return s.ShouldSample(sdktrace.SamplingParameters{
			ParentContext: context.Background(),
			TraceID:       trace.TraceID{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 1},
			Name:          "root",
		}).Decision
	}
	if root(Sampler(0)) != sdktrace.Drop {
		t.Error("ratio 0 sampled a root")
	}
	if root(Sampler(-1)) != sdktrace.Drop {
		t.Error("negative ratio sampled a root")
	}
	if root(Sampler(1)) != sdktrace.RecordAndSample {
		t.Error("ratio 1 dropped a root")
	}
	if root(Sampler(7)) != sdktrace.RecordAndSample {
		t.Error("ratio above 1 dropped a root")
	}

	parent := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1},
		SpanID:     trace.SpanID{1},
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})
	ctx := trace.ContextWithRemoteSpanContext(context.Background(), parent)
	got := Sampler(0).ShouldSample(sdktrace.SamplingParameters{ParentContext: ctx, TraceID: parent.TraceID(), Name: "child"})
	if got.Decision != sdktrace.RecordAndSample {
		t.Error("sampled parent not followed")
	}
}
