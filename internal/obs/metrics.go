package obs

import (
	"context"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc"
)

// Metrics holds the instruments shared across the scheduler and worker
// binaries.
type Metrics struct {
	TasksDispatched metric.Int64Counter
	RetryAttempts   metric.Int64Counter
	CircuitOpen     metric.Int64Counter
}

// InitMetrics sets up a global OTLP metrics exporter (push), falling
// back to a no-op provider if the exporter cannot be constructed.
//
// promHandler mirrors otelinit.InitMetrics's return shape: an http.Handler
// a caller can mount at /metrics for pull-based scraping, or nil when none
// is available. This module's OTLP-only setup never produces one (no
// Prometheus bridge is wired), so it is always nil here too; callers that
// want /metrics to actually serve something need to bring that dependency.
func InitMetrics(ctx context.Context, service string) (shutdown func(context.Context) error, promHandler any, m Metrics) {
	res, _ := sdkresource.Merge(sdkresource.Default(), sdkresource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(service),
		attribute.String("component", service),
	))
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT")
	if endpoint == "" {
		endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	if endpoint == "" {
		endpoint = "localhost:4317"
	}
	ctxInit, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	exp, err := otlpmetricgrpc.New(ctxInit,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithDialOption(grpc.WithInsecure()),
	)
	if err != nil {
		slog.Warn("otel metrics exporter init failed", "error", err)
		return func(context.Context) error { return nil }, nil, createCommonInstruments()
	}
	reader := sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(10*time.Second))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader), sdkmetric.WithResource(res))
	otel.SetMeterProvider(mp)
	slog.Info("otel metrics initialized", "endpoint", endpoint)
	return mp.Shutdown, nil, createCommonInstruments()
}

func createCommonInstruments() Metrics {
	meter := otel.Meter("spider")
	dispatched, _ := meter.Int64Counter("spider_tasks_dispatched_total")
	retry, _ := meter.Int64Counter("spider_resilience_retry_attempts_total")
	circuit, _ := meter.Int64Counter("spider_resilience_circuit_open_total")
	return Metrics{TasksDispatched: dispatched, RetryAttempts: retry, CircuitOpen: circuit}
}
