package processor

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the OpenTelemetry instruments emitted by the processor
// runtime.
type Metrics struct {
	commandsConsumed  metric.Int64Counter
	eventsPublished   metric.Int64Counter
	activityDuration  metric.Float64Histogram
	activityFailures  metric.Int64Counter
	requestQueueDepth metric.Int64UpDownCounter
	responseQueueDepth metric.Int64UpDownCounter
	initAttempts      metric.Int64Counter
}

// NewMetrics builds a Metrics instance bound to meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error
	if m.commandsConsumed, err = meter.Int64Counter("processor_commands_consumed_total", metric.WithUnit("1")); err != nil {
		return nil, err
	}
	if m.eventsPublished, err = meter.Int64Counter("processor_events_published_total", metric.WithUnit("1")); err != nil {
		return nil, err
	}
	if m.activityDuration, err = meter.Float64Histogram("processor_activity_duration_seconds", metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.activityFailures, err = meter.Int64Counter("processor_activity_failures_total", metric.WithUnit("1")); err != nil {
		return nil, err
	}
	if m.requestQueueDepth, err = meter.Int64UpDownCounter("processor_request_queue_depth", metric.WithUnit("1")); err != nil {
		return nil, err
	}
	if m.responseQueueDepth, err = meter.Int64UpDownCounter("processor_response_queue_depth", metric.WithUnit("1")); err != nil {
		return nil, err
	}
	if m.initAttempts, err = meter.Int64Counter("processor_init_attempts_total", metric.WithUnit("1")); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) RecordCommandConsumed(ctx context.Context, flowID, stepID string) {
	if m == nil {
		return
	}
	m.commandsConsumed.Add(ctx, 1, metric.WithAttributes(attribute.String("flowId", flowID), attribute.String("stepId", stepID)))
}

func (m *Metrics) RecordEventPublished(ctx context.Context, status string) {
	if m == nil {
		return
	}
	m.eventsPublished.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

func (m *Metrics) RecordActivity(ctx context.Context, start time.Time, failed bool) {
	if m == nil {
		return
	}
	m.activityDuration.Record(ctx, time.Since(start).Seconds())
	if failed {
		m.activityFailures.Add(ctx, 1)
	}
}

func (m *Metrics) SetRequestQueueDepth(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.requestQueueDepth.Add(ctx, delta)
}

func (m *Metrics) SetResponseQueueDepth(ctx context.Context, delta int64) {
	if m == nil {
		return
	}
	m.responseQueueDepth.Add(ctx, delta)
}

func (m *Metrics) RecordInitAttempt(ctx context.Context) {
	if m == nil {
		return
	}
	m.initAttempts.Add(ctx, 1)
}

// NoOpMetrics returns a nil Metrics; every recording method tolerates a nil
// receiver.
func NoOpMetrics() *Metrics { return nil }
