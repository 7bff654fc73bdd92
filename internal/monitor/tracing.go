package monitor

import (
	"context"
	"net/url"
	"strings"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

type TracingOptions struct {
	Enabled     bool
	ServiceName string
	Endpoint    string // host:port or URL of an OTLP gRPC collector
	Insecure    bool
	SampleRatio float64
}

// SetupTracing installs a global TracerProvider exporting over OTLP gRPC and
// returns its shutdown function. When tracing is disabled, or the exporter
// cannot be built, spans stay non-recording and shutdown is a no-op.
func SetupTracing(ctx context.Context, opts TracingOptions) func(context.Context) error {
	otel.SetTextMapPropagator(propagation.TraceContext{})
	noop := func(context.Context) error { return nil }
	if !opts.Enabled {
		return noop
	}

	if opts.ServiceName == "" {
		opts.ServiceName = tracerName
	}
	endpoint := normalizeEndpoint(opts.Endpoint)
	if endpoint == "" {
		endpoint = "localhost:4317"
	}
	if opts.SampleRatio <= 0 || opts.SampleRatio > 1 {
		opts.SampleRatio = 1
	}

	expOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
	if opts.Insecure {
		expOpts = append(expOpts, otlptracegrpc.WithInsecure())
	}
	exp, err := otlptracegrpc.New(ctx, expOpts...)
	if err != nil {
		log.Warn().Err(err).Str("endpoint", endpoint).Msg("otlp exporter init failed, tracing disabled")
		return noop
	}

	res, err := resource.Merge(resource.Default(),
		resource.NewSchemaless(attribute.String("service.name", opts.ServiceName)))
	if err != nil {
		res = resource.Default()
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(opts.SampleRatio))),
	)
	otel.SetTracerProvider(tp)

	log.Info().Str("endpoint", endpoint).Float64("sample_ratio", opts.SampleRatio).Msg("tracing enabled")
	return tp.Shutdown
}

// normalizeEndpoint turns a collector URL into the host:port the gRPC
// exporter expects.
func normalizeEndpoint(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		if u, err := url.Parse(raw); err == nil && u.Host != "" {
			return u.Host
		}
	}
	return strings.TrimSuffix(raw, "/")
}
