// Package telemetry wires OpenTelemetry metrics to a Prometheus exporter.
package telemetry

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelruntime "go.opentelemetry.io/contrib/instrumentation/runtime"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
)

// Metrics holds the instruments recorded across the service.
type Metrics struct {
	Requests        metric.Int64Counter
	ErrorCount      metric.Int64Counter
	RequestDuration metric.Float64Histogram
	JobTransitions  metric.Int64Counter
	DispatchRetries metric.Int64Counter

	registry *prometheus.Registry
}

// PrometheusHandler exposes the scrape endpoint for the collected metrics.
func (m *Metrics) PrometheusHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// InitMetrics sets up the meter provider with a Prometheus exporter and
// creates the service instruments. The returned shutdown func flushes the
// provider.
func InitMetrics(version string) (func(context.Context) error, *Metrics, error) {
	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, nil, err
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName("autopatch-api"),
		semconv.ServiceVersion(version),
	))
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)
	if err := otelruntime.Start(otelruntime.WithMeterProvider(provider)); err != nil {
		return nil, nil, err
	}
	meter := provider.Meter("autopatch-api")

	metrics := &Metrics{registry: registry}
	if metrics.Requests, err = meter.Int64Counter("http_requests_total",
		metric.WithDescription("Total HTTP requests")); err != nil {
		return nil, nil, err
	}
	if metrics.ErrorCount, err = meter.Int64Counter("http_request_errors_total",
		metric.WithDescription("HTTP requests that returned a 4xx or 5xx status")); err != nil {
		return nil, nil, err
	}
	if metrics.RequestDuration, err = meter.Float64Histogram("http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds")); err != nil {
		return nil, nil, err
	}
	if metrics.JobTransitions, err = meter.Int64Counter("job_transitions_total",
		metric.WithDescription("Accepted job lifecycle transitions")); err != nil {
		return nil, nil, err
	}
	if metrics.DispatchRetries, err = meter.Int64Counter("job_dispatch_retries_total",
		metric.WithDescription("Dispatch attempts retried after a transient failure")); err != nil {
		return nil, nil, err
	}

	return provider.Shutdown, metrics, nil
}
