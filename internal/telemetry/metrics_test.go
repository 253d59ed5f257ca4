package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestRecordSignWithNoopProvider(t *testing.T) {
	m := NewMetrics(noop.NewMeterProvider())
	assert.NotNil(t, m.SignCallsTotal)
	assert.NotNil(t, m.SignDuration)

	assert.NotPanics(t, func() {
		m.RecordSign(context.Background(), "crypto", "ok", 120*time.Millisecond)
	})
}

func TestGetMetricsIsSingleton(t *testing.T) {
	assert.Same(t, GetMetrics(), GetMetrics())
}

func TestRecordSignOnZeroValue(t *testing.T) {
	var m Metrics
	assert.NotPanics(t, func() {
		m.RecordSign(context.Background(), "visual", "malformed_pdf", time.Second)
	})
}
