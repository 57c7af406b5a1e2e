package orchestrator

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the OpenTelemetry instruments emitted by the orchestration
// service.
type Metrics struct {
	starts          metric.Int64Counter
	startFailures   metric.Int64Counter
	stops           metric.Int64Counter
	schedulerArms   metric.Int64Counter
	schedulerErrors metric.Int64Counter
	advancements    metric.Int64Counter
	duplicatesDrop  metric.Int64Counter
	startDuration   metric.Float64Histogram
}

// NewMetrics builds a Metrics instance bound to meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error
	if m.starts, err = meter.Int64Counter("orchestrator_starts_total", metric.WithUnit("1")); err != nil {
		return nil, err
	}
	if m.startFailures, err = meter.Int64Counter("orchestrator_start_failures_total", metric.WithUnit("1")); err != nil {
		return nil, err
	}
	if m.stops, err = meter.Int64Counter("orchestrator_stops_total", metric.WithUnit("1")); err != nil {
		return nil, err
	}
	if m.schedulerArms, err = meter.Int64Counter("orchestrator_scheduler_arms_total", metric.WithUnit("1")); err != nil {
		return nil, err
	}
	if m.schedulerErrors, err = meter.Int64Counter("orchestrator_scheduler_errors_total", metric.WithUnit("1")); err != nil {
		return nil, err
	}
	if m.advancements, err = meter.Int64Counter("orchestrator_advancements_total", metric.WithUnit("1")); err != nil {
		return nil, err
	}
	if m.duplicatesDrop, err = meter.Int64Counter("orchestrator_duplicate_events_dropped_total", metric.WithUnit("1")); err != nil {
		return nil, err
	}
	if m.startDuration, err = meter.Float64Histogram("orchestrator_start_duration_seconds", metric.WithUnit("s")); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) RecordStart(ctx context.Context, flowID string, start time.Time, err error) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("flowId", flowID))
	m.startDuration.Record(ctx, time.Since(start).Seconds(), attrs)
	if err != nil {
		m.startFailures.Add(ctx, 1, attrs)
		return
	}
	m.starts.Add(ctx, 1, attrs)
}

func (m *Metrics) RecordStop(ctx context.Context, flowID string) {
	if m == nil {
		return
	}
	m.stops.Add(ctx, 1, metric.WithAttributes(attribute.String("flowId", flowID)))
}

func (m *Metrics) RecordSchedulerArm(ctx context.Context, flowID string, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.schedulerErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("flowId", flowID)))
		return
	}
	m.schedulerArms.Add(ctx, 1, metric.WithAttributes(attribute.String("flowId", flowID)))
}

func (m *Metrics) RecordAdvancement(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.advancements.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func (m *Metrics) RecordDuplicateDropped(ctx context.Context) {
	if m == nil {
		return
	}
	m.duplicatesDrop.Add(ctx, 1)
}

// NoOpMetrics returns a nil Metrics; every recording method tolerates a nil
// receiver.
func NoOpMetrics() *Metrics { return nil }
