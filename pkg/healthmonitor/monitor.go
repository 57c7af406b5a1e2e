package healthmonitor

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/liranavivi/Design954-sub000/pkg/cache"
	"github.com/liranavivi/Design954-sub000/pkg/logctx"
	"github.com/liranavivi/Design954-sub000/pkg/orchestdomain"
)

// State is one value of the per-pod monitor state machine described in
// §4.6: Disabled -> Idle -> Sampling -> (Recorded | Skipped | Failed) -> Idle,
// terminal Stopped on shutdown.
type State string

const (
	StateDisabled  State = "Disabled"
	StateIdle      State = "Idle"
	StateSampling  State = "Sampling"
	StateRecorded  State = "Recorded"
	StateSkipped   State = "Skipped"
	StateFailed    State = "Failed"
	StateStopped   State = "Stopped"
)

// Sampler is implemented by the owning processor runtime; it reports the
// aggregated health view that getHealthStatus (§4.7.5) already computes.
type Sampler interface {
	Sample(ctx context.Context) (status orchestdomain.HealthStatus, message string, healthChecks map[string]any, err error)
}

// PerformanceCollector optionally supplies CPU/memory/throughput/success
// rate metrics for inclusion in the published entry.
type PerformanceCollector interface {
	Collect(ctx context.Context) map[string]any
}

// IdentityProvider reports the processor's own id once initialization has
// assigned one; known=false models "initialization incomplete" (§4.6 step 4).
type IdentityProvider func() (processorID string, known bool)

// Monitor runs the periodic per-pod health sampling loop.
type Monitor struct {
	cfg     *Config
	cache   cache.Cache
	sampler Sampler
	perf    PerformanceCollector
	ids     IdentityProvider
	logger  *logctx.Logger
	metrics *Metrics
	podID   string

	tickMu sync.Mutex // prevents overlapping ticks within this pod
	state  atomic.Value

	startedOnce sync.Map // processorID -> struct{}, ensures the "started reporting health" log line is written once per process

	stopCh chan struct{}
	doneCh chan struct{}
}

// New builds a Monitor. podID identifies this process for ReportingPodID.
func New(cfg *Config, c cache.Cache, sampler Sampler, perf PerformanceCollector, ids IdentityProvider, logger *logctx.Logger, metrics *Metrics, podID string) (*Monitor, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Monitor{
		cfg: cfg, cache: c, sampler: sampler, perf: perf, ids: ids,
		logger: logger, metrics: metrics, podID: podID,
		stopCh: make(chan struct{}), doneCh: make(chan struct{}),
	}
	m.state.Store(StateDisabled)
	return m, nil
}

// State returns the monitor's current state-machine value.
func (m *Monitor) State() State { return m.state.Load().(State) }

// Run drives the periodic loop until ctx is cancelled or Stop is called. It
// blocks; callers typically invoke it in its own goroutine.
func (m *Monitor) Run(ctx context.Context) {
	m.state.Store(StateIdle)
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	defer close(m.doneCh)

	for {
		select {
		case <-ctx.Done():
			m.state.Store(StateStopped)
			return
		case <-m.stopCh:
			m.state.Store(StateStopped)
			return
		case <-ticker.C:
			if !m.tickMu.TryLock() {
				// A tick is still running; skip this fire with a warning
				// per §5's "at most one tick in flight per pod" rule.
				m.logger.Warnf(logctx.Context{}, "health monitor tick skipped: previous tick still running")
				continue
			}
			m.tick(ctx)
			m.tickMu.Unlock()
		}
	}
}

// Stop signals Run to exit and waits for it to finish.
func (m *Monitor) Stop() {
	close(m.stopCh)
	<-m.doneCh
}

func (m *Monitor) tick(ctx context.Context) {
	start := time.Now()
	m.state.Store(StateSampling)
	correlationID := uuid.NewString()
	lctx := logctx.Context{CorrelationID: correlationID}

	status, message, checks, err := m.sampler.Sample(ctx)
	if err != nil {
		m.state.Store(StateFailed)
		m.metrics.RecordTick(ctx, start, "failed")
		m.logger.Errorf(lctx, "health sample failed: %v", err)
		m.state.Store(StateIdle)
		return
	}

	processorID, known := m.ids()
	if !known {
		m.state.Store(StateSkipped)
		m.metrics.RecordTick(ctx, start, "skipped")
		m.state.Store(StateIdle)
		return
	}

	if _, loaded := m.startedOnce.LoadOrStore(processorID, struct{}{}); !loaded {
		m.logger.Infof(lctx, "processor %s started reporting health", processorID)
	}

	var perf map[string]any
	if m.cfg.EnablePerformanceMetrics && m.perf != nil {
		perf = m.perf.Collect(ctx)
	}

	now := time.Now()
	entry := orchestdomain.ProcessorHealthEntry{
		ProcessorID:             processorID,
		Status:                  status,
		Message:                 message,
		LastUpdatedUnixSeconds:  now.Unix(),
		HealthCheckIntervalSecs: int64(m.cfg.Interval.Seconds()),
		ExpiresAt:               now.Add(2 * m.cfg.Interval).Unix(),
		ReportingPodID:          m.podID,
		CorrelationID:           correlationID,
		HealthCheckID:           uuid.NewString(),
		UptimeSeconds:           int64(time.Since(processStart).Seconds()),
		PerformanceMetrics:      perf,
		HealthChecks:            checks,
	}

	if err := m.writeWithRetry(ctx, processorID, entry); err != nil {
		m.state.Store(StateFailed)
		m.metrics.RecordTick(ctx, start, "failed")
		m.logger.Errorf(lctx, "failed to publish health entry for %s: %v", processorID, err)
		m.state.Store(StateIdle)
		return
	}

	m.state.Store(StateRecorded)
	m.metrics.RecordTick(ctx, start, "recorded")
	m.state.Store(StateIdle)
}

var processStart = time.Now()

func (m *Monitor) writeWithRetry(ctx context.Context, processorID string, entry orchestdomain.ProcessorHealthEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return NewHealthMonitorError("write", ErrCodeWriteFailed, "failed to serialize health entry", err)
	}

	delay := m.cfg.WriteRetryBaseDelay
	var lastErr error
	for attempt := 0; attempt <= m.cfg.WriteRetryAttempts; attempt++ {
		// Last-writer-wins: no distributed lock, plain Set under the
		// processor id key.
		if err := m.cache.Set(ctx, m.cfg.CacheMapName, processorID, string(data)); err != nil {
			lastErr = err
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
			continue
		}
		return nil
	}
	return NewHealthMonitorError("write", ErrCodeWriteFailed, "exhausted write retries", lastErr)
}

// Reader provides the §4.6/§4.8.7 health-read predicate used by the
// orchestration start gate and processors-health projection.
type Reader struct {
	cache   cache.Cache
	mapName string
}

// NewReader builds a Reader over the given cache map.
func NewReader(c cache.Cache, mapName string) *Reader {
	return &Reader{cache: c, mapName: mapName}
}

// IsHealthy reads processorID's entry and reports whether it is present,
// parsable, fresh, and Status==Healthy. Any other condition (absent,
// expired, unparsable, stale, non-Healthy) is "not healthy" per §4.6.
func (r *Reader) IsHealthy(ctx context.Context, processorID string) (bool, *orchestdomain.ProcessorHealthEntry, error) {
	raw, found, err := r.cache.Get(ctx, r.mapName, processorID)
	if err != nil {
		return false, nil, err
	}
	if !found {
		return false, nil, nil
	}
	var entry orchestdomain.ProcessorHealthEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return false, nil, nil
	}
	return entry.IsHealthy(time.Now()), &entry, nil
}
