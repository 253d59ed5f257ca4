package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/casetrack/casesign"
)

// Metrics holds the OpenTelemetry instruments for signing calls.
type Metrics struct {
	SignCallsTotal metric.Int64Counter
	SignDuration   metric.Float64Histogram
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it from the
// global meter provider on first use.
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = NewMetrics(otel.GetMeterProvider())
	})
	return metrics
}

// NewMetrics creates the instruments on provider.
func NewMetrics(provider metric.MeterProvider) *Metrics {
	meter := provider.Meter(meterName)

	m := &Metrics{}

	m.SignCallsTotal, _ = meter.Int64Counter(
		"casesign.sign.calls",
		metric.WithDescription("Total number of signing calls by mode and outcome"),
		metric.WithUnit("{call}"),
	)

	m.SignDuration, _ = meter.Float64Histogram(
		"casesign.sign.duration",
		metric.WithDescription("Duration of signing calls"),
		metric.WithUnit("ms"),
	)

	return m
}

// RecordSign records one finished signing call. outcome is "ok" or a failure
// kind.
func (m *Metrics) RecordSign(ctx context.Context, mode, outcome string, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("mode", mode),
		attribute.String("outcome", outcome),
	)
	if m.SignCallsTotal != nil {
		m.SignCallsTotal.Add(ctx, 1, attrs)
	}
	if m.SignDuration != nil {
		m.SignDuration.Record(ctx, float64(elapsed.Microseconds())/1000, attrs)
	}
}
