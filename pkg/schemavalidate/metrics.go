package schemavalidate

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the OpenTelemetry instruments emitted by the validator.
type Metrics struct {
	validations metric.Int64Counter
	failures    metric.Int64Counter
	duration    metric.Float64Histogram
	cacheHits   metric.Int64Counter
	cacheMisses metric.Int64Counter
}

// NewMetrics builds a Metrics instance bound to meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error
	if m.validations, err = meter.Int64Counter("schema_validations_total", metric.WithUnit("1")); err != nil {
		return nil, err
	}
	if m.failures, err = meter.Int64Counter("schema_validation_failures_total", metric.WithUnit("1")); err != nil {
		return nil, err
	}
	if m.duration, err = meter.Float64Histogram("schema_validation_duration_seconds", metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.cacheHits, err = meter.Int64Counter("schema_compile_cache_hits_total", metric.WithUnit("1")); err != nil {
		return nil, err
	}
	if m.cacheMisses, err = meter.Int64Counter("schema_compile_cache_misses_total", metric.WithUnit("1")); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) RecordValidation(ctx context.Context, schemaName string, start time.Time, valid bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("schema", schemaName))
	m.validations.Add(ctx, 1, attrs)
	m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
	if !valid {
		m.failures.Add(ctx, 1, attrs)
	}
}

func (m *Metrics) RecordCacheLookup(ctx context.Context, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheHits.Add(ctx, 1)
	} else {
		m.cacheMisses.Add(ctx, 1)
	}
}

// NoOpMetrics returns a nil Metrics; every recording method tolerates a nil
// receiver.
func NoOpMetrics() *Metrics { return nil }
