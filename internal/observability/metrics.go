package observability

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds all application metrics implementing the golden 4 signals:
// - Latency: How long requests/executions take
// - Traffic: Request/execution throughput
// - Errors: Rate of failures
// - Saturation: Resource utilization (active executions, lock queue depth)
type Metrics struct {
	meter metric.Meter

	// HTTP metrics (Latency, Traffic, Errors)
	HTTPRequestDuration metric.Float64Histogram
	HTTPRequestsTotal   metric.Int64Counter
	HTTPErrorsTotal     metric.Int64Counter

	// Execution metrics (Latency, Traffic, Errors, Saturation)
	ExecutionDuration    metric.Float64Histogram
	ExecutionsTotal      metric.Int64Counter
	ExecutionErrorsTotal metric.Int64Counter
	ExecutionsActive     metric.Int64UpDownCounter
	StepsCompletedTotal  metric.Int64Counter

	// Metadata lock metrics (Latency, Saturation)
	LockWaitDuration metric.Float64Histogram
	LockQueueDepth   metric.Int64Gauge
	LockTimeoutTotal metric.Int64Counter

	// Streaming aggregation metrics (Traffic, Errors)
	AggregationFlushesTotal    metric.Int64Counter
	AggregationRecordsTotal    metric.Int64Counter
	AggregationParseErrorsTotal metric.Int64Counter

	// Dispatcher metrics (Latency, Traffic, Errors, Saturation)
	DispatcherDuration   metric.Float64Histogram
	DispatcherDelivered  metric.Int64Counter
	DispatcherFailed     metric.Int64Counter
	DispatcherDropped    metric.Int64Counter
	DispatcherRequeued   metric.Int64Counter
	DispatcherQueueSize  metric.Int64Gauge
	DispatcherBufferSize int64 // config value for saturation calculation
}

// NewMetrics creates and registers all metrics with a Prometheus exporter.
func NewMetrics(ctx context.Context) (*Metrics, http.Handler, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter("coordinator")
	m := &Metrics{meter: meter}

	// HTTP metrics
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
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.HTTPErrorsTotal, err = meter.Int64Counter(
		"http_errors_total",
		metric.WithDescription("Total number of HTTP errors (4xx and 5xx)"),
	)
	if err != nil {
		return nil, nil, err
	}

	// Execution metrics
	m.ExecutionDuration, err = meter.Float64Histogram(
		"execution_duration_seconds",
		metric.WithDescription("Job execution duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 30, 60, 120, 300, 600, 900, 1800),
	)
	if err != nil {
		return nil, nil, err
	}

	m.ExecutionsTotal, err = meter.Int64Counter(
		"executions_total",
		metric.WithDescription("Total number of executions triggered"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.ExecutionErrorsTotal, err = meter.Int64Counter(
		"execution_errors_total",
		metric.WithDescription("Total number of executions that ended FAILED"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.ExecutionsActive, err = meter.Int64UpDownCounter(
		"executions_active",
		metric.WithDescription("Number of executions currently running (saturation)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.StepsCompletedTotal, err = meter.Int64Counter(
		"steps_completed_total",
		metric.WithDescription("Total number of step executions that reached COMPLETED or PROCESSED"),
	)
	if err != nil {
		return nil, nil, err
	}

	// Metadata lock metrics
	m.LockWaitDuration, err = meter.Float64Histogram(
		"metadata_lock_wait_seconds",
		metric.WithDescription("Time spent waiting to acquire the metadata lock"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0001, 0.001, 0.01, 0.1, 0.5, 1, 5, 30, 120),
	)
	if err != nil {
		return nil, nil, err
	}

	m.LockQueueDepth, err = meter.Int64Gauge(
		"metadata_lock_queue_depth",
		metric.WithDescription("Current number of triggers waiting on the metadata lock (saturation)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.LockTimeoutTotal, err = meter.Int64Counter(
		"metadata_lock_timeout_total",
		metric.WithDescription("Total number of metadata lock acquisitions that timed out"),
	)
	if err != nil {
		return nil, nil, err
	}

	// Streaming aggregation metrics
	m.AggregationFlushesTotal, err = meter.Int64Counter(
		"aggregation_flushes_total",
		metric.WithDescription("Total number of aggregation buffer flushes"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.AggregationRecordsTotal, err = meter.Int64Counter(
		"aggregation_records_total",
		metric.WithDescription("Total number of records read by the streaming aggregator"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.AggregationParseErrorsTotal, err = meter.Int64Counter(
		"aggregation_parse_errors_total",
		metric.WithDescription("Total number of records that failed to parse during aggregation"),
	)
	if err != nil {
		return nil, nil, err
	}

	// Dispatcher metrics
	m.DispatcherDuration, err = meter.Float64Histogram(
		"dispatcher_duration_seconds",
		metric.WithDescription("Event delivery latency in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, nil, err
	}

	m.DispatcherDelivered, err = meter.Int64Counter(
		"dispatcher_delivered_total",
		metric.WithDescription("Total events successfully delivered"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.DispatcherFailed, err = meter.Int64Counter(
		"dispatcher_failed_total",
		metric.WithDescription("Total events failed after retries"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.DispatcherDropped, err = meter.Int64Counter(
		"dispatcher_dropped_total",
		metric.WithDescription("Total events dropped (buffer full or max requeues)"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.DispatcherRequeued, err = meter.Int64Counter(
		"dispatcher_requeued_total",
		metric.WithDescription("Total events requeued due to open circuit"),
	)
	if err != nil {
		return nil, nil, err
	}

	m.DispatcherQueueSize, err = meter.Int64Gauge(
		"dispatcher_queue_size",
		metric.WithDescription("Current number of events in dispatcher queue (saturation)"),
	)
	if err != nil {
		return nil, nil, err
	}

	return m, promhttp.Handler(), nil
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

// RecordExecutionStarted records a new execution starting.
func (m *Metrics) RecordExecutionStarted(ctx context.Context, jobName string) {
	attrs := metric.WithAttributes(jobNameAttr(jobName))
	m.ExecutionsTotal.Add(ctx, 1, attrs)
	m.ExecutionsActive.Add(ctx, 1, attrs)
}

// RecordExecutionCompleted records a terminal execution (success or failure).
func (m *Metrics) RecordExecutionCompleted(ctx context.Context, jobName string, success bool, durationSeconds float64) {
	attrs := metric.WithAttributes(jobNameAttr(jobName), successAttr(success))
	m.ExecutionDuration.Record(ctx, durationSeconds, attrs)
	m.ExecutionsActive.Add(ctx, -1, metric.WithAttributes(jobNameAttr(jobName)))

	if !success {
		m.ExecutionErrorsTotal.Add(ctx, 1, attrs)
	}
}

// RecordStepCompleted records one step execution reaching COMPLETED or PROCESSED.
func (m *Metrics) RecordStepCompleted(ctx context.Context, jobName, stepName string) {
	m.StepsCompletedTotal.Add(ctx, 1, metric.WithAttributes(jobNameAttr(jobName), stepNameAttr(stepName)))
}

// RecordLockWait records time spent waiting on the metadata lock and the
// depth of the wait queue at the moment of acquisition (or timeout).
func (m *Metrics) RecordLockWait(ctx context.Context, waitSeconds float64, queueDepth int64) {
	m.LockWaitDuration.Record(ctx, waitSeconds)
	m.LockQueueDepth.Record(ctx, queueDepth)
}

// RecordLockTimeout records a metadata lock acquisition that timed out.
func (m *Metrics) RecordLockTimeout(ctx context.Context) {
	m.LockTimeoutTotal.Add(ctx, 1)
}

// RecordAggregationFlush records one flush of buffered aggregation groups.
// groupCount is not recorded.
func (m *Metrics) RecordAggregationFlush(ctx context.Context, groupCount int64) {
	m.AggregationFlushesTotal.Add(ctx, 1)
}

// RecordAggregationRecords records records read and parse errors observed
// by the streaming aggregator.
func (m *Metrics) RecordAggregationRecords(ctx context.Context, recordsRead, parseErrors int64) {
	m.AggregationRecordsTotal.Add(ctx, recordsRead)
	if parseErrors > 0 {
		m.AggregationParseErrorsTotal.Add(ctx, parseErrors)
	}
}

// RecordDispatcherDelivered records a successful event delivery with its duration.
func (m *Metrics) RecordDispatcherDelivered(ctx context.Context, durationSeconds float64) {
	m.DispatcherDelivered.Add(ctx, 1)
	m.DispatcherDuration.Record(ctx, durationSeconds)
}

// RecordDispatcherFailed records a failed event delivery.
func (m *Metrics) RecordDispatcherFailed(ctx context.Context) {
	m.DispatcherFailed.Add(ctx, 1)
}

// RecordDispatcherDropped records a dropped event.
func (m *Metrics) RecordDispatcherDropped(ctx context.Context) {
	m.DispatcherDropped.Add(ctx, 1)
}

// RecordDispatcherRequeued records a requeued event.
func (m *Metrics) RecordDispatcherRequeued(ctx context.Context) {
	m.DispatcherRequeued.Add(ctx, 1)
}

// RecordDispatcherQueueSize records the current queue size.
func (m *Metrics) RecordDispatcherQueueSize(ctx context.Context, size int64) {
	m.DispatcherQueueSize.Record(ctx, size)
}
