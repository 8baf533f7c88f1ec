// Package otelx installs the global OpenTelemetry tracer provider.
package otelx

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc"

	"github.com/keithlinneman/vitesheet/internal/xerrors"
)

const defaultDialTimeout = 3 * time.Second

type Options struct {
	Enabled   bool
	Endpoint  string // collector host:port
	Insecure  bool
	Sample    float64 // root span ratio, clamped to 0..1
	Service   string
	Component string
	Version   string

	DialTimeout time.Duration
}

// ServiceName is the resource service.name, "service.component" when a
// component is set.
func (o Options) ServiceName() string {
	if o.Component == "" {
		return o.Service
	}
	return o.Service + "." + o.Component
}

// Init sets the global tracer provider and W3C propagators and returns
// its shutdown. When disabled, spans still carry IDs for log and header
// correlation but nothing is sampled or exported.
func Init(ctx context.Context, o Options) (func(context.Context) error, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))

	if !o.Enabled {
		tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sdktrace.NeverSample()))
		otel.SetTracerProvider(tp)
		return tp.Shutdown, nil
	}
	if o.Endpoint == "" {
		return nil, xerrors.New("otlp endpoint is required when tracing is enabled")
	}

	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(o.Endpoint),
		otlptracegrpc.WithDialOption(grpc.WithUserAgent(o.ServiceName() + "/" + o.Version)),
	}
	if o.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	timeout := o.DialTimeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	exp, err := otlptracegrpc.New(dialCtx, opts...)
	if err != nil {
		return nil, xerrors.Wrapf(err, "otlp exporter for %s", o.Endpoint)
	}

	// partial resources are still usable, detector errors are not fatal
	res, _ := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithOS(),
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(o.ServiceName()),
			semconv.ServiceVersionKey.String(o.Version),
		),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(Sampler(o.Sample)),
		sdktrace.WithBatcher(exp,
			sdktrace.WithMaxQueueSize(2048),
			sdktrace.WithBatchTimeout(5*time.Second),
		),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// Sampler follows the caller's sampling decision and samples new roots at
// ratio.
func Sampler(ratio float64) sdktrace.Sampler {
	switch {
	case ratio <= 0:
		return sdktrace.ParentBased(sdktrace.NeverSample())
	case ratio >= 1:
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
	}
}
