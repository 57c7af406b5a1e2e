package cache

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the OpenTelemetry instruments emitted by the cache client.
type Metrics struct {
	operations metric.Int64Counter
	errors     metric.Int64Counter
	duration   metric.Float64Histogram
}

// NewMetrics builds a Metrics instance bound to meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.operations, err = meter.Int64Counter(
		"cache_operations_total",
		metric.WithDescription("Total number of cache operations by kind and map"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	m.errors, err = meter.Int64Counter(
		"cache_operation_errors_total",
		metric.WithDescription("Total number of failed cache operations"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	m.duration, err = meter.Float64Histogram(
		"cache_operation_duration_seconds",
		metric.WithDescription("Duration of cache round trips"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// RecordOperation records the outcome and duration of a single cache call.
func (m *Metrics) RecordOperation(ctx context.Context, op, mapName string, start time.Time, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("op", op), attribute.String("map", mapName))
	m.operations.Add(ctx, 1, attrs)
	m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
	if err != nil {
		m.errors.Add(ctx, 1, attrs)
	}
}

var (
	globalOnce    sync.Once
	globalMetrics *Metrics
)

// NoOpMetrics returns a nil *Metrics; all recording methods guard against a nil receiver so it is safe to use when
// observability is disabled.
func NoOpMetrics() *Metrics { return nil }
