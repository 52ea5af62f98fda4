package db

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
)

// MetricsCollector collects metrics for demo steps and the statements they issue
type MetricsCollector struct {
	namespace string
	enabled   bool
	registry  *prometheus.Registry

	// Prometheus metrics
	stepDuration       *prometheus.HistogramVec
	stepCounter        *prometheus.CounterVec
	mismatchCounter    *prometheus.CounterVec
	unsupportedCounter *prometheus.CounterVec
	statementDuration  *prometheus.HistogramVec
	errorCounter       *prometheus.CounterVec

	// OpenTelemetry metrics
	otelMeter        metric.Meter
	otelStepDuration metric.Float64Histogram
	otelStepCounter  metric.Int64Counter
	otelErrorCounter metric.Int64Counter

	// OpenTelemetry tracing
	tracer trace.Tracer
}

// NewMetricsCollector creates a new metrics collector with its own registry
func NewMetricsCollector(namespace string, enabled bool) *MetricsCollector {
	if !enabled {
		return &MetricsCollector{enabled: false}
	}

	mc := &MetricsCollector{
		namespace: namespace,
		enabled:   true,
		registry:  prometheus.NewRegistry(),
	}

	mc.initPrometheusMetrics()
	mc.initOTelMetrics()

	return mc
}

func (mc *MetricsCollector) initPrometheusMetrics() {
	factory := promauto.With(mc.registry)

	mc.stepDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: mc.namespace,
			Name:      "step_duration_seconds",
			Help:      "Duration of demo steps in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0, 5.0},
		},
		[]string{"scenario", "step", "outcome"},
	)

	mc.stepCounter = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: mc.namespace,
			Name:      "steps_total",
			Help:      "Total number of demo steps by outcome",
		},
		[]string{"scenario", "outcome"},
	)

	mc.mismatchCounter = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: mc.namespace,
			Name:      "step_mismatches_total",
			Help:      "Total number of steps whose outcome differed from the expected one",
		},
		[]string{"scenario", "step"},
	)

	mc.unsupportedCounter = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: mc.namespace,
			Name:      "unsupported_operations_total",
			Help:      "Total number of statements rejected by encrypted-column rules",
		},
		[]string{"scenario"},
	)

	mc.statementDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: mc.namespace,
			Name:      "statement_duration_seconds",
			Help:      "Duration of statements issued to the store in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		},
		[]string{"operation", "table", "success"},
	)

	mc.errorCounter = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: mc.namespace,
			Name:      "errors_total",
			Help:      "Total number of errors by code",
		},
		[]string{"operation", "error_code"},
	)
}

// initOTelMetrics initializes OpenTelemetry instruments; creation errors leave the instrument nil
func (mc *MetricsCollector) initOTelMetrics() {
	mc.otelMeter = otel.Meter(mc.namespace)
	mc.tracer = otel.Tracer(mc.namespace)

	if h, err := mc.otelMeter.Float64Histogram(
		"aeclient_step_duration",
		metric.WithDescription("Duration of demo steps"),
		metric.WithUnit("s"),
	); err == nil {
		mc.otelStepDuration = h
	}

	if c, err := mc.otelMeter.Int64Counter(
		"aeclient_steps_total",
		metric.WithDescription("Total number of demo steps"),
	); err == nil {
		mc.otelStepCounter = c
	}

	if c, err := mc.otelMeter.Int64Counter(
		"aeclient_errors_total",
		metric.WithDescription("Total number of errors"),
	); err == nil {
		mc.otelErrorCounter = c
	}
}

// RecordStep records the duration and outcome of a demo step
func (mc *MetricsCollector) RecordStep(scenario, step, outcome string, duration time.Duration) {
	if !mc.IsEnabled() {
		return
	}

	mc.stepDuration.WithLabelValues(scenario, step, outcome).Observe(duration.Seconds())
	mc.stepCounter.WithLabelValues(scenario, outcome).Inc()

	attrs := metric.WithAttributes(
		attribute.String("scenario", scenario),
		attribute.String("step", step),
		attribute.String("outcome", outcome),
	)

	if mc.otelStepDuration != nil {
		mc.otelStepDuration.Record(context.Background(), duration.Seconds(), attrs)
	}

	if mc.otelStepCounter != nil {
		mc.otelStepCounter.Add(context.Background(), 1, attrs)
	}
}

// IncrementMismatch counts a step whose outcome differed from its expectation
func (mc *MetricsCollector) IncrementMismatch(scenario, step string) {
	if !mc.IsEnabled() {
		return
	}
	mc.mismatchCounter.WithLabelValues(scenario, step).Inc()
}

// IncrementUnsupported counts a statement rejected by the encrypted-column rules
func (mc *MetricsCollector) IncrementUnsupported(scenario string) {
	if !mc.IsEnabled() {
		return
	}
	mc.unsupportedCounter.WithLabelValues(scenario).Inc()
}

// IncrementError counts an error by operation and code
func (mc *MetricsCollector) IncrementError(operation, errorCode string) {
	if !mc.IsEnabled() {
		return
	}

	mc.errorCounter.WithLabelValues(operation, errorCode).Inc()

	if mc.otelErrorCounter != nil {
		mc.otelErrorCounter.Add(context.Background(), 1,
			metric.WithAttributes(
				attribute.String("operation", operation),
				attribute.String("error_code", errorCode),
			),
		)
	}
}

// RecordStatement records a statement issued to the store
func (mc *MetricsCollector) RecordStatement(operation, table string, duration time.Duration, success bool) {
	if !mc.IsEnabled() {
		return
	}

	successStr := "false"
	if success {
		successStr = "true"
	}
	mc.statementDuration.WithLabelValues(operation, table, successStr).Observe(duration.Seconds())
}

// StartTrace starts a span for a demo step
func (mc *MetricsCollector) StartTrace(ctx context.Context, scenario, step string) (context.Context, trace.Span) {
	if !mc.IsEnabled() || mc.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}

	return mc.tracer.Start(ctx, step,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "mssql"),
			attribute.String("aeclient.scenario", scenario),
			attribute.String("aeclient.step", step),
		),
	)
}

// RecordTraceError records an error in the span
func (mc *MetricsCollector) RecordTraceError(span trace.Span, err error) {
	if !mc.IsEnabled() || span == nil || err == nil {
		return
	}

	span.RecordError(err)
	span.SetAttributes(
		attribute.Bool("error", true),
		attribute.String("error.message", err.Error()),
	)
}

// SetTraceSuccess marks a span as successful
func (mc *MetricsCollector) SetTraceSuccess(span trace.Span) {
	if !mc.IsEnabled() || span == nil {
		return
	}
	span.SetAttributes(attribute.Bool("success", true))
}

// IsEnabled returns whether metrics collection is enabled
func (mc *MetricsCollector) IsEnabled() bool {
	return mc != nil && mc.enabled
}

// Registry returns the collector's Prometheus registry, or nil when disabled
func (mc *MetricsCollector) Registry() *prometheus.Registry {
	if mc == nil {
		return nil
	}
	return mc.registry
}

const startTimeKey = "aeclient:start_time"

// MetricsMiddleware records statement metrics through GORM callbacks
type MetricsMiddleware struct {
	collector *MetricsCollector
}

// NewMetricsMiddleware creates a new metrics middleware
func NewMetricsMiddleware(collector *MetricsCollector) *MetricsMiddleware {
	return &MetricsMiddleware{collector: collector}
}

// Apply registers the callbacks on the handle; it is a no-op when metrics are disabled
func (mm *MetricsMiddleware) Apply(d *Database) error {
	if !mm.collector.IsEnabled() || d.DB() == nil {
		return nil
	}

	cb := d.DB().Callback()

	if err := cb.Create().Before("gorm:create").Register("metrics:before_create", beforeCallback); err != nil {
		return err
	}
	if err := cb.Create().After("gorm:create").Register("metrics:after_create", mm.after("insert")); err != nil {
		return err
	}
	if err := cb.Query().Before("gorm:query").Register("metrics:before_query", beforeCallback); err != nil {
		return err
	}
	if err := cb.Query().After("gorm:query").Register("metrics:after_query", mm.after("select")); err != nil {
		return err
	}
	if err := cb.Row().Before("gorm:row").Register("metrics:before_row", beforeCallback); err != nil {
		return err
	}
	return cb.Row().After("gorm:row").Register("metrics:after_row", mm.after("row"))
}

func (mm *MetricsMiddleware) after(operation string) func(*gorm.DB) {
	return func(db *gorm.DB) {
		start, ok := db.Get(startTimeKey)
		if !ok {
			return
		}
		startTime, ok := start.(time.Time)
		if !ok {
			return
		}

		table := "unknown"
		if db.Statement != nil && db.Statement.Table != "" {
			table = db.Statement.Table
		}

		mm.collector.RecordStatement(operation, table, time.Since(startTime), db.Error == nil)
	}
}

func beforeCallback(db *gorm.DB) {
	db.Set(startTimeKey, time.Now())
}
