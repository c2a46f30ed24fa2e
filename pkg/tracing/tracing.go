// Package tracing sets up OpenTelemetry spans for pipeline stages.
//
// When tracing is disabled every span comes from the no-op provider, so
// callers never check whether tracing is on.
package tracing

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ajitpratap0/starload/pkg/config"
)

const instrumentation = "github.com/ajitpratap0/starload"

// Provider owns the tracer of one process
type Provider struct {
	tracer   trace.Tracer
	shutdown func(context.Context) error
}

// Setup builds a provider from cfg and installs it globally. Spans are
// written to w by the stdout exporter; a nil w means os.Stdout.
func Setup(cfg config.TracingConfig, w io.Writer) (*Provider, error) {
	if !cfg.Enabled || cfg.Exporter == "none" {
		return Disabled(), nil
	}
	if w == nil {
		w = os.Stdout
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(semconv.ServiceNameKey.String(cfg.ServiceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	var exporter sdktrace.SpanExporter
	switch cfg.Exporter {
	case "", "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported trace exporter %q", cfg.Exporter)
	}

	var sampler sdktrace.Sampler
	switch {
	case cfg.SampleRate <= 0:
		sampler = sdktrace.NeverSample()
	case cfg.SampleRate >= 1:
		sampler = sdktrace.AlwaysSample()
	default:
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
		// a batch job ends quickly; export synchronously
		sdktrace.WithSyncer(exporter),
	)
	otel.SetTracerProvider(tp)

	return &Provider{
		tracer:   tp.Tracer(instrumentation),
		shutdown: tp.Shutdown,
	}, nil
}

// Disabled returns a provider whose spans record nothing
func Disabled() *Provider {
	return &Provider{
		tracer:   noop.NewTracerProvider().Tracer(instrumentation),
		shutdown: func(context.Context) error { return nil },
	}
}

// StartStage opens a span for a pipeline stage
func (p *Provider) StartStage(ctx context.Context, stage string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "pipeline."+stage,
		trace.WithAttributes(append(attrs, attribute.String("stage", stage))...))
}

// End closes span, marking it failed when err is non-nil
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// Shutdown flushes and stops the provider
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.shutdown(ctx)
}
