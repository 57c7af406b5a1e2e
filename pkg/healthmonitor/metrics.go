package healthmonitor

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the counters the monitor loop updates every tick, per §4.6
// step 5: total, successful, failed, skipped-due-to-init, stored-in-cache.
type Metrics struct {
	total           metric.Int64Counter
	successful      metric.Int64Counter
	failed          metric.Int64Counter
	skippedDueToInit metric.Int64Counter
	storedInCache   metric.Int64Counter
	tickDuration    metric.Float64Histogram
}

// NewMetrics builds a Metrics instance bound to meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error
	if m.total, err = meter.Int64Counter("healthmonitor_ticks_total", metric.WithUnit("1")); err != nil {
		return nil, err
	}
	if m.successful, err = meter.Int64Counter("healthmonitor_ticks_successful_total", metric.WithUnit("1")); err != nil {
		return nil, err
	}
	if m.failed, err = meter.Int64Counter("healthmonitor_ticks_failed_total", metric.WithUnit("1")); err != nil {
		return nil, err
	}
	if m.skippedDueToInit, err = meter.Int64Counter("healthmonitor_ticks_skipped_init_total", metric.WithUnit("1")); err != nil {
		return nil, err
	}
	if m.storedInCache, err = meter.Int64Counter("healthmonitor_entries_stored_total", metric.WithUnit("1")); err != nil {
		return nil, err
	}
	if m.tickDuration, err = meter.Float64Histogram("healthmonitor_tick_duration_seconds", metric.WithUnit("s")); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) RecordTick(ctx context.Context, start time.Time, outcome string) {
	if m == nil {
		return
	}
	m.total.Add(ctx, 1)
	m.tickDuration.Record(ctx, time.Since(start).Seconds())
	switch outcome {
	case "recorded":
		m.successful.Add(ctx, 1)
		m.storedInCache.Add(ctx, 1)
	case "skipped":
		m.skippedDueToInit.Add(ctx, 1)
	case "failed":
		m.failed.Add(ctx, 1)
	}
}

// NoOpMetrics returns a nil Metrics; every recording method tolerates a nil
// receiver.
func NoOpMetrics() *Metrics { return nil }
