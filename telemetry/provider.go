// Package telemetry wires the core's ambient OpenTelemetry tracing and
// metrics. spec.md's Non-goals exclude a metrics *feature* (per-event
// acknowledgment dashboards, etc.) but ambient instrumentation of the
// core is carried regardless, the way the teacher instruments workflow
// runs (otel/tracing.go, otel/metrics.go).
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Config configures the OpenTelemetry providers.
type Config struct {
	// ServiceName identifies this process in exported telemetry.
	ServiceName string

	// OTLPEndpoint is the collector's host:port for OTLP/HTTP trace export.
	// If empty, no exporter is configured (Provider still works; spans are
	// recorded but not exported). Metrics are not exported in either case.
	OTLPEndpoint string
}

// Provider owns the process-lifetime tracer and meter providers.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	Tracer         trace.Tracer
	Meter          metric.Meter
}

// NewProvider sets up OpenTelemetry tracing and metrics, exporting traces
// via OTLP/HTTP when cfg.OTLPEndpoint is set. The meter provider has no
// reader, so metrics are not exported.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName(cfg.ServiceName),
	))
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	var tp *sdktrace.TracerProvider
	var mp *sdkmetric.MeterProvider

	if cfg.OTLPEndpoint == "" {
		tp = sdktrace.NewTracerProvider(sdktrace.WithResource(res))
		mp = sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))
	} else {
		traceExporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(cfg.OTLPEndpoint))
		if err != nil {
			return nil, fmt.Errorf("telemetry: build trace exporter: %w", err)
		}
		tp = sdktrace.NewTracerProvider(
			sdktrace.WithResource(res),
			sdktrace.WithBatcher(traceExporter),
		)
		mp = sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))
	}

	otel.SetTracerProvider(tp)

	return &Provider{
		tracerProvider: tp,
		meterProvider:  mp,
		Tracer:         tp.Tracer("github.com/sselane/sselane"),
		Meter:          mp.Meter("github.com/sselane/sselane"),
	}, nil
}

// Shutdown flushes and stops the tracer and meter providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := p.tracerProvider.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("telemetry: shutdown tracer provider: %w", err)
	}
	if err := p.meterProvider.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("telemetry: shutdown meter provider: %w", err)
	}
	return nil
}
