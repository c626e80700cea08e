package tracer

import (
	"context"
	"log"
	"os"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

type ShutdownFunc func(context.Context) error

func noop(context.Context) error { return nil }

// InitTracer exports spans over OTLP HTTP when OTEL_ENABLED=true. All processes
// of the pool share serviceName and are told apart by workerId.
//
//	OTEL_EXPORTER_OTLP_ENDPOINT  collector host:port (localhost:4318)
//	OTEL_TRACES_SAMPLER_ARG      parent-based ratio, 0..1 (1)
func InitTracer(serviceName, workerId string) ShutdownFunc {
	if os.Getenv("OTEL_ENABLED") != "true" {
		log.Printf("Tracing disabled for %s (set OTEL_ENABLED=true to enable)", workerId)
		return noop
	}

	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		endpoint = "localhost:4318"
	}

	exporter, err := otlptracehttp.New(context.Background(),
		otlptracehttp.WithEndpoint(endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		log.Printf("Warning: OTLP exporter unavailable, tracing disabled: %v", err)
		return noop
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(serviceName),
		semconv.ServiceInstanceIDKey.String(workerId),
	)

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(samplingRatio()))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	log.Printf("✅ Tracing %s/%s to %s", serviceName, workerId, endpoint)
	return tp.Shutdown
}

func samplingRatio() float64 {
	ratio, err := strconv.ParseFloat(os.Getenv("OTEL_TRACES_SAMPLER_ARG"), 64)
	if err != nil || ratio < 0 || ratio > 1 {
		return 1
	}
	return ratio
}
