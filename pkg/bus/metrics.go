package bus

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the OpenTelemetry instruments emitted by the bus client.
type Metrics struct {
	published metric.Int64Counter
	consumed  metric.Int64Counter
	errors    metric.Int64Counter
	duration  metric.Float64Histogram
}

// NewMetrics builds a Metrics instance bound to meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.published, err = meter.Int64Counter(
		"bus_messages_published_total",
		metric.WithDescription("Total number of messages published"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, err
	}
	if m.consumed, err = meter.Int64Counter(
		"bus_messages_consumed_total",
		metric.WithDescription("Total number of messages consumed"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, err
	}
	if m.errors, err = meter.Int64Counter(
		"bus_operation_errors_total",
		metric.WithDescription("Total number of failed bus operations"),
		metric.WithUnit("1"),
	); err != nil {
		return nil, err
	}
	if m.duration, err = meter.Float64Histogram(
		"bus_operation_duration_seconds",
		metric.WithDescription("Duration of bus publish/request operations"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) RecordPublish(ctx context.Context, subject string, start time.Time, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("subject", subject))
	m.published.Add(ctx, 1, attrs)
	m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
	if err != nil {
		m.errors.Add(ctx, 1, attrs)
	}
}

func (m *Metrics) RecordConsume(ctx context.Context, subject string) {
	if m == nil {
		return
	}
	m.consumed.Add(ctx, 1, metric.WithAttributes(attribute.String("subject", subject)))
}

// NoOpMetrics returns a nil Metrics; every recording method tolerates a nil
// receiver.
func NoOpMetrics() *Metrics { return nil }
