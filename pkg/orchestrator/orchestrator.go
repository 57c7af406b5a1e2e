package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/liranavivi/Design954-sub000/pkg/bus"
	"github.com/liranavivi/Design954-sub000/pkg/cache"
	"github.com/liranavivi/Design954-sub000/pkg/cronsched"
	"github.com/liranavivi/Design954-sub000/pkg/healthmonitor"
	"github.com/liranavivi/Design954-sub000/pkg/logctx"
	"github.com/liranavivi/Design954-sub000/pkg/orchestdomain"
	"github.com/liranavivi/Design954-sub000/pkg/schemavalidate"
)

// ManagerClient is the narrow slice of the resilient manager HTTP client
// (C4) that C8 needs: a single GET returning the raw response body, already
// carrying C4's retry/circuit-breaker policy. Satisfied by
// *managerclient.Client; kept as an interface here so tests can supply a
// fixture double without standing up an HTTP server.
type ManagerClient interface {
	GetRaw(ctx context.Context, path string) ([]byte, error)
}

// Service is the orchestration service (C8): starts/stops orchestrated
// flows, gates on topology and processor health, arms the cron scheduler,
// and advances the workflow graph as activity events arrive. Modeled after
// the teacher's Orchestrator type (pkg/orchestration/orchestrator.go), which
// tracks active instances in a guarded map rather than owning them as
// long-lived goroutines.
type Service struct {
	cfg       *Config
	bus       bus.Bus
	manager   ManagerClient
	cache     cache.Cache
	validator *schemavalidate.Validator
	scheduler *cronsched.Scheduler
	health    *healthmonitor.Reader
	logger    *logctx.Logger
	metrics   *Metrics
}

// New builds a Service. scheduler may be nil if cron arming is not needed by
// the caller (e.g. in tests exercising only Start/Stop/topology).
func New(cfg *Config, b bus.Bus, manager ManagerClient, c cache.Cache, validator *schemavalidate.Validator, scheduler *cronsched.Scheduler, health *healthmonitor.Reader, logger *logctx.Logger, metrics *Metrics) (*Service, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Service{cfg: cfg, bus: b, manager: manager, cache: c, validator: validator, scheduler: scheduler, health: health, logger: logger, metrics: metrics}, nil
}

// Start implements §4.8.1's ten-step sequence. It is idempotent: if a cache
// entry already exists for flowID, Start returns nil without re-validating.
// On any failure it runs a best-effort Stop to remove partial
// state before returning the original cause, per §7's
// catch-wrap-cleanup-rethrow propagation policy.
func (s *Service) Start(ctx context.Context, flowID string) (err error) {
	start := time.Now()
	defer func() { s.metrics.RecordStart(ctx, flowID, start, err) }()

	if _, found, existsErr := s.cache.Get(ctx, s.cfg.CacheMapName, flowID); existsErr == nil && found {
		return nil
	}

	correlationID := correlationFromContext(ctx)
	lctx := logctx.Context{CorrelationID: correlationID, OrchestratedFlowID: flowID}

	if startErr := s.doStart(ctx, flowID, correlationID, lctx); startErr != nil {
		s.logger.Errorf(lctx, "start failed, cleaning up: %v", startErr)
		s.Stop(ctx, flowID)
		return startErr
	}
	return nil
}

func (s *Service) doStart(ctx context.Context, flowID, correlationID string, lctx logctx.Context) error {
	flow, err := s.fetchOrchestratedFlow(ctx, flowID)
	if err != nil {
		return err
	}

	steps, assignmentsByStep, err := s.fetchTopology(ctx, flow)
	if err != nil {
		return err
	}

	if err := s.validateAssignments(ctx, assignmentsByStep); err != nil {
		return err
	}

	entries := entryPoints(steps)
	if len(entries) == 0 {
		return NewOrchestratorError("start", ErrCodeNoEntryPoints, "No entry points found in workflow", nil)
	}

	terms := terminationPoints(steps)
	if len(terms) == 0 {
		return NewOrchestratorError("start", ErrCodeNoTerminations, "No termination points found in workflow", nil)
	}

	if err := validateNoCycle(steps, terms); err != nil {
		return err
	}

	processorIDs := processorIDsOf(steps)
	now := time.Now()
	entry := orchestdomain.OrchestrationCacheEntry{
		FlowID: flowID, OrchestratedFlow: flow, Steps: steps, ProcessorIDs: processorIDs,
		AssignmentsByStepID: assignmentsByStep, EntryPoints: entries,
		CreatedAt: now.Unix(), ExpiresAt: now.Add(s.cfg.CacheTTL).Unix(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return NewOrchestratorError("start", ErrCodeCacheWriteFailed, "failed to serialize orchestration cache entry", err)
	}
	if err := s.cache.SetWithTTL(ctx, s.cfg.CacheMapName, flowID, string(data), s.cfg.CacheTTL); err != nil {
		return NewOrchestratorError("start", ErrCodeCacheWriteFailed, "failed to write orchestration cache entry", err)
	}

	if err := s.validateProcessorsHealthy(ctx, processorIDs); err != nil {
		return err
	}

	if flow.CronExpression != "" && flow.IsScheduleEnabled {
		s.armScheduler(ctx, flowID, flow, correlationID, lctx)
	}

	for _, stepID := range entries {
		s.publishEntryPointCommand(ctx, flowID, flow.WorkflowID, correlationID, steps, stepID, assignmentsByStep[stepID])
	}

	return nil
}

func (s *Service) armScheduler(ctx context.Context, flowID string, flow orchestdomain.OrchestratedFlow, correlationID string, lctx logctx.Context) {
	if s.scheduler == nil {
		return
	}
	if err := s.scheduler.Validate(flow.CronExpression); err != nil {
		s.logger.Warnf(lctx, "scheduler arming skipped: invalid cron expression: %v", err)
		s.metrics.RecordSchedulerArm(ctx, flowID, err)
		return
	}
	var err error
	if s.scheduler.IsRunning(flowID) {
		err = s.scheduler.Update(ctx, flowID, flow.CronExpression, correlationID, flow.IsOneTimeExecution)
	} else {
		err = s.scheduler.Start(ctx, flowID, flow.CronExpression, correlationID, flow.IsOneTimeExecution)
	}
	s.metrics.RecordSchedulerArm(ctx, flowID, err)
	if err != nil {
		// Non-fatal per §4.8.1 step 10: flows may be invoked manually.
		s.logger.Warnf(lctx, "scheduler arming failed (non-fatal): %v", err)
		return
	}
	if next, ok := s.scheduler.NextFireTime(flowID); ok {
		s.logger.Infof(lctx, "scheduler armed for flow %s, next fire at %s", flowID, next.Format(time.RFC3339))
	}
}

// Stop implements §4.8.5: idempotent, stops the scheduler best-effort, then
// removes the cache entry regardless of scheduler-stop outcome.
func (s *Service) Stop(ctx context.Context, flowID string) {
	if s.scheduler != nil && s.scheduler.IsRunning(flowID) {
		if err := s.scheduler.Stop(flowID); err != nil {
			s.logger.Warnf(logctx.Context{OrchestratedFlowID: flowID}, "scheduler stop failed: %v", err)
		}
	}
	_ = s.cache.Remove(ctx, s.cfg.CacheMapName, flowID)
	s.metrics.RecordStop(ctx, flowID)
}

// Status implements §4.8.6.
func (s *Service) Status(ctx context.Context, flowID string) (orchestdomain.FlowStatus, error) {
	raw, found, err := s.cache.Get(ctx, s.cfg.CacheMapName, flowID)
	if err != nil {
		return orchestdomain.FlowStatus{}, err
	}
	if !found {
		return orchestdomain.FlowStatus{FlowID: flowID, IsActive: false}, nil
	}
	var entry orchestdomain.OrchestrationCacheEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return orchestdomain.FlowStatus{}, NewOrchestratorError("status", ErrCodeCacheWriteFailed, "failed to decode orchestration cache entry", err)
	}
	total := 0
	for _, a := range entry.AssignmentsByStepID {
		total += len(a)
	}
	return orchestdomain.FlowStatus{
		FlowID: flowID, IsActive: true, StartedAt: entry.CreatedAt, ExpiresAt: entry.ExpiresAt,
		StepCount: len(entry.Steps), AssignmentCount: total,
	}, nil
}

// ProcessorsHealth implements §4.8.7.
func (s *Service) ProcessorsHealth(ctx context.Context, flowID string) ([]orchestdomain.ProcessorHealthProjection, orchestdomain.HealthStatus, error) {
	raw, found, err := s.cache.Get(ctx, s.cfg.CacheMapName, flowID)
	if err != nil {
		return nil, "", err
	}
	if !found {
		return nil, orchestdomain.HealthUnhealthy, NewOrchestratorError("processors_health", ErrCodeFlowNotFound, "no active orchestration for flow "+flowID, nil)
	}
	var entry orchestdomain.OrchestrationCacheEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return nil, "", NewOrchestratorError("processors_health", ErrCodeCacheWriteFailed, "failed to decode orchestration cache entry", err)
	}

	projections := make([]orchestdomain.ProcessorHealthProjection, 0, len(entry.ProcessorIDs))
	overall := orchestdomain.HealthHealthy
	for _, pid := range entry.ProcessorIDs {
		healthy, detail, rerr := s.health.IsHealthy(ctx, pid)
		p := orchestdomain.ProcessorHealthProjection{ProcessorID: pid}
		switch {
		case rerr != nil || detail == nil:
			p.Status, p.HasData = orchestdomain.HealthUnhealthy, false
			overall = orchestdomain.HealthUnhealthy
		case healthy:
			p.Status, p.HasData, p.Message = orchestdomain.HealthHealthy, true, detail.Message
		default:
			p.Status, p.HasData, p.Message = detail.Status, true, detail.Message
			if detail.Status == orchestdomain.HealthUnhealthy {
				overall = orchestdomain.HealthUnhealthy
			} else if overall != orchestdomain.HealthUnhealthy {
				overall = orchestdomain.HealthDegraded
			}
		}
		projections = append(projections, p)
	}
	return projections, overall, nil
}

func (s *Service) validateProcessorsHealthy(ctx context.Context, processorIDs []string) error {
	var unhealthy []string
	for _, pid := range processorIDs {
		healthy, _, err := s.health.IsHealthy(ctx, pid)
		if err != nil || !healthy {
			unhealthy = append(unhealthy, pid)
		}
	}
	if len(unhealthy) == 0 {
		return nil
	}
	sort.Strings(unhealthy)
	return NewOrchestratorError("start", ErrCodeUnhealthyGate,
		fmt.Sprintf("processors not fresh/healthy: %v", unhealthy), nil)
}

func (s *Service) validateAssignments(ctx context.Context, assignmentsByStep map[string][]orchestdomain.Assignment) error {
	for stepID, assignments := range assignmentsByStep {
		for _, a := range assignments {
			if a.SchemaID == "" {
				continue
			}
			def, err := s.fetchSchemaDefinition(ctx, a.SchemaID)
			if err != nil {
				return NewOrchestratorError("start", ErrCodeSchemaViolation,
					fmt.Sprintf("step %s: schema %s unavailable: %v", stepID, a.SchemaID, err), nil)
			}
			res, err := s.validator.Validate(ctx, a.SchemaID, def, a.Payload)
			if err != nil {
				return NewOrchestratorError("start", ErrCodeSchemaViolation,
					fmt.Sprintf("step %s: assignment payload validation error: %v", stepID, err), nil)
			}
			if !res.Valid {
				return NewOrchestratorError("start", ErrCodeSchemaViolation,
					fmt.Sprintf("step %s: assignment payload violates schema %s: %v", stepID, a.SchemaID, res.Errors), nil)
			}
		}
	}
	return nil
}

func processorIDsOf(steps []orchestdomain.Step) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, s := range steps {
		if s.ProcessorID == "" {
			continue
		}
		if _, ok := seen[s.ProcessorID]; ok {
			continue
		}
		seen[s.ProcessorID] = struct{}{}
		ids = append(ids, s.ProcessorID)
	}
	return ids
}

func correlationFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey{}).(string); ok && id != "" {
		return id
	}
	return uuid.NewString()
}

type correlationIDKey struct{}

// WithCorrelationID attaches an explicit correlation id to ctx for Start to
// pick up, modeling §4.8.1 step 1's "resolve or generate from trace baggage"
// without this package taking a direct OTel baggage dependency (the bus
// layer already owns baggage propagation at the transport boundary).
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationIDKey{}, correlationID)
}
