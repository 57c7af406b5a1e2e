package managerclient

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the OpenTelemetry instruments emitted by the manager client.
type Metrics struct {
	requests      metric.Int64Counter
	retries       metric.Int64Counter
	breakerTrips  metric.Int64Counter
	duration      metric.Float64Histogram
}

// NewMetrics builds a Metrics instance bound to meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error
	if m.requests, err = meter.Int64Counter("managerclient_requests_total", metric.WithUnit("1")); err != nil {
		return nil, err
	}
	if m.retries, err = meter.Int64Counter("managerclient_retries_total", metric.WithUnit("1")); err != nil {
		return nil, err
	}
	if m.breakerTrips, err = meter.Int64Counter("managerclient_breaker_trips_total", metric.WithUnit("1")); err != nil {
		return nil, err
	}
	if m.duration, err = meter.Float64Histogram("managerclient_request_duration_seconds", metric.WithUnit("s")); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) RecordRequest(ctx context.Context, method, path string, start time.Time, statusCode int) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status", statusCode),
	)
	m.requests.Add(ctx, 1, attrs)
	m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
}

func (m *Metrics) RecordRetry(ctx context.Context, path string) {
	if m == nil {
		return
	}
	m.retries.Add(ctx, 1, metric.WithAttributes(attribute.String("path", path)))
}

func (m *Metrics) RecordBreakerTrip(ctx context.Context, path string) {
	if m == nil {
		return
	}
	m.breakerTrips.Add(ctx, 1, metric.WithAttributes(attribute.String("path", path)))
}

// NoOpMetrics returns a nil Metrics; every recording method tolerates a nil
// receiver.
func NoOpMetrics() *Metrics { return nil }
