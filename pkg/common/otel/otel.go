// Package otel provides otel support.
package otel

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/matchpulse/matchpulse/pkg/common/logger"
)

// Config defines the information needed to init telemetry.
type Config struct {
	ServiceName        string
	ExporterEndpoint   string
	ExcludedSpans      map[string]struct{}
	Probability        float64
	ResourceAttributes map[string]string
}

// InitTelemetry configures open telemetry to be used with the service.
func InitTelemetry(log *logger.Logger, cfg Config) (trace.TracerProvider, func(ctx context.Context), error) {
	attrs := make([]attribute.KeyValue, 0, len(cfg.ResourceAttributes)+1)
	attrs = append(attrs, semconv.ServiceNameKey.String(cfg.ServiceName))
	for k, v := range cfg.ResourceAttributes {
		attrs = append(attrs, attribute.String(k, v))
	}

	res := resource.NewWithAttributes(semconv.SchemaURL, attrs...)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	traceExporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.ExporterEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("creating trace exporter: %w", err)
	}

	metricExporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(cfg.ExporterEndpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("creating metric exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(newSpanExcluder(cfg.ExcludedSpans, cfg.Probability)),
		sdktrace.WithBatcher(traceExporter,
			sdktrace.WithBatchTimeout(5*time.Second),
			sdktrace.WithMaxExportBatchSize(512),
			sdktrace.WithMaxQueueSize(2048),
		),
		sdktrace.WithResource(res),
	)

	mp := metric.NewMeterProvider(
		metric.WithReader(metric.NewPeriodicReader(metricExporter)),
		metric.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	cleanup := func(ctx context.Context) {
		if err := tp.Shutdown(ctx); err != nil {
			log.Error(ctx, "shutting down tracer provider", "error", err)
		}
		if err := mp.Shutdown(ctx); err != nil {
			log.Error(ctx, "shutting down meter provider", "error", err)
		}
	}

	return tp, cleanup, nil
}

// spanExcluder is a sampler that drops spans by name and applies a
// probability ratio to everything else.
type spanExcluder struct {
	excluded map[string]struct{}
	sampler  sdktrace.Sampler
}

func newSpanExcluder(excluded map[string]struct{}, probability float64) spanExcluder {
	return spanExcluder{
		excluded: excluded,
		sampler:  sdktrace.TraceIDRatioBased(probability),
	}
}

// ShouldSample implements the sdktrace.Sampler interface.
func (se spanExcluder) ShouldSample(p sdktrace.SamplingParameters) sdktrace.SamplingResult {
	if _, exists := se.excluded[p.Name]; exists {
		return sdktrace.SamplingResult{Decision: sdktrace.Drop}
	}
	return se.sampler.ShouldSample(p)
}

// Description implements the sdktrace.Sampler interface.
func (se spanExcluder) Description() string {
	return "span excluder sampler"
}
