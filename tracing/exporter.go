package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"google.golang.org/grpc/credentials"
)

// OTLPConfig configures the gRPC OTLP trace exporter, the same transport
// the teacher's Concourse ATC uses for its own build-step spans
// (go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc is a
// direct teacher dependency).
type OTLPConfig struct {
	Address string            `long:"otlp-address" description:"OTLP gRPC endpoint for trace export"`
	Headers map[string]string `long:"otlp-header"  description:"headers to attach to OTLP trace requests"`
	UseTLS  bool              `long:"otlp-use-tls" description:"use TLS for the OTLP connection"`
}

// Configured reports whether c names an exporter endpoint.
func (c OTLPConfig) Configured() bool { return c.Address != "" }

// TracerProvider builds an sdktrace.TracerProvider wired to c's exporter
// and cfg's sampler, or returns (nil, nil, nil) when no endpoint is
// configured — callers fall back to the OTel no-op provider in that case.
// The returned shutdown func flushes and closes the exporter; callers must
// defer it.
func (cfg Config) TracerProvider(ctx context.Context) (*sdktrace.TracerProvider, func(context.Context) error, error) {
	if !cfg.OTLP.Configured() {
		return nil, nil, nil
	}

	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.OTLP.Address),
		otlptracegrpc.WithHeaders(cfg.OTLP.Headers),
	}
	if cfg.OTLP.UseTLS {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, "")))
	} else {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, nil, err
	}

	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName(cfg.ServiceName),
	))
	if err != nil {
		return nil, nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(cfg.Sampler()),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp, tp.Shutdown, nil
}
