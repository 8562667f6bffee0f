package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds the job and HTTP instruments.
type Metrics struct {
	meter metric.Meter

	JobsSubmitted   metric.Int64Counter
	JobTransitions  metric.Int64Counter
	JobErrors       metric.Int64Counter
	JobTickDuration metric.Float64Histogram

	HTTPRequestDuration metric.Float64Histogram
	HTTPRequestsTotal   metric.Int64Counter
	HTTPErrorsTotal     metric.Int64Counter
}

// NewMetrics creates the instruments on a private Prometheus registry and
// returns the handler that serves it.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	meter := provider.Meter("datapump")
	m := &Metrics{meter: meter}

	m.JobsSubmitted, err = meter.Int64Counter(
		"jobs_submitted",
		metric.WithDescription("Total number of jobs accepted"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.JobTransitions, err = meter.Int64Counter(
		"job_transitions",
		metric.WithDescription("Total number of job position changes"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.JobErrors, err = meter.Int64Counter(
		"job_errors",
		metric.WithDescription("Total number of ticks that returned an error"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.JobTickDuration, err = meter.Float64Histogram(
		"job_tick_duration_seconds",
		metric.WithDescription("Time spent advancing one job"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"http_requests",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPErrorsTotal, err = meter.Int64Counter(
		"http_errors",
		metric.WithDescription("Total number of HTTP errors (4xx and 5xx)"),
	)
	if err != nil {
		return nil, nil, err
	}

	return m, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}

func (m *Metrics) RecordJobSubmitted(ctx context.Context, kind string) {
	m.JobsSubmitted.Add(ctx, 1, metric.WithAttributes(kindAttr(kind)))
}

// RecordTransition counts a job moving between positions, where a position
// is a status or a pipeline step.
func (m *Metrics) RecordTransition(ctx context.Context, kind, from, to string) {
	m.JobTransitions.Add(ctx, 1, metric.WithAttributes(kindAttr(kind), fromAttr(from), toAttr(to)))
}

func (m *Metrics) RecordJobError(ctx context.Context, kind, reason string) {
	m.JobErrors.Add(ctx, 1, metric.WithAttributes(kindAttr(kind), reasonAttr(reason)))
}

func (m *Metrics) RecordTick(ctx context.Context, kind string, durationSeconds float64) {
	m.JobTickDuration.Record(ctx, durationSeconds, metric.WithAttributes(kindAttr(kind)))
}

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, durationSeconds float64) {
	attrs := metric.WithAttributes(
		methodAttr(method),
		pathAttr(path),
		statusAttr(statusCode),
	)

	m.HTTPRequestDuration.Record(ctx, durationSeconds, attrs)
	m.HTTPRequestsTotal.Add(ctx, 1, attrs)

	if statusCode >= 400 {
		m.HTTPErrorsTotal.Add(ctx, 1, attrs)
	}
}
