package cronsched

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the OpenTelemetry instruments emitted by the scheduler.
type Metrics struct {
	jobsArmed   metric.Int64Counter
	jobsStopped metric.Int64Counter
	fires       metric.Int64Counter
	activeJobs  metric.Int64UpDownCounter
}

// NewMetrics builds a Metrics instance bound to meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error
	if m.jobsArmed, err = meter.Int64Counter("cronsched_jobs_armed_total", metric.WithUnit("1")); err != nil {
		return nil, err
	}
	if m.jobsStopped, err = meter.Int64Counter("cronsched_jobs_stopped_total", metric.WithUnit("1")); err != nil {
		return nil, err
	}
	if m.fires, err = meter.Int64Counter("cronsched_fires_total", metric.WithUnit("1")); err != nil {
		return nil, err
	}
	if m.activeJobs, err = meter.Int64UpDownCounter("cronsched_active_jobs", metric.WithUnit("1")); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) RecordArm(ctx context.Context, flowID string) {
	if m == nil {
		return
	}
	m.jobsArmed.Add(ctx, 1, metric.WithAttributes(attribute.String("flowId", flowID)))
	m.activeJobs.Add(ctx, 1)
}

func (m *Metrics) RecordStop(ctx context.Context, flowID string) {
	if m == nil {
		return
	}
	m.jobsStopped.Add(ctx, 1, metric.WithAttributes(attribute.String("flowId", flowID)))
	m.activeJobs.Add(ctx, -1)
}

func (m *Metrics) RecordFire(ctx context.Context, flowID string) {
	if m == nil {
		return
	}
	m.fires.Add(ctx, 1, metric.WithAttributes(attribute.String("flowId", flowID)))
}

// NoOpMetrics returns a nil Metrics; every recording method tolerates a nil
// receiver.
func NoOpMetrics() *Metrics { return nil }
