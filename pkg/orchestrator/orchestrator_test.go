package orchestrator

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/liranavivi/Design954-sub000/pkg/bus"
	"github.com/liranavivi/Design954-sub000/pkg/cache"
	"github.com/liranavivi/Design954-sub000/pkg/healthmonitor"
	"github.com/liranavivi/Design954-sub000/pkg/logctx"
	"github.com/liranavivi/Design954-sub000/pkg/orchestdomain"
	"github.com/liranavivi/Design954-sub000/pkg/schemavalidate"
)

// fakeBus is an in-process Bus double answering the orchestrator's
// get-orchestrated-flow/step-navigation/assignments queries from fixed
// fixtures, and recording every published command.
type fakeBus struct {
	mu          sync.Mutex
	flow        orchestdomain.OrchestratedFlow
	steps       []orchestdomain.Step
	assignments []orchestdomain.Assignment
	published   []struct {
		subject string
		payload any
	}
}

func (b *fakeBus) Publish(ctx context.Context, subject, correlationID string, payload any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, struct {
		subject string
		payload any
	}{subject, payload})
	return nil
}

func (b *fakeBus) Request(ctx context.Context, subject, correlationID string, payload any, timeout time.Duration) ([]byte, error) {
	switch subject {
	case "orchestratedflow.get":
		return json.Marshal(orchestdomain.GetOrchestratedFlowQueryResponse{Found: true, Flow: b.flow})
	case "stepnavigation.get":
		return json.Marshal(orchestdomain.GetStepNavigationQueryResponse{Found: true, Steps: b.steps})
	case "assignments.get":
		return json.Marshal(orchestdomain.GetAssignmentsQueryResponse{Found: true, Assignments: b.assignments})
	case "schema.get":
		return json.Marshal(orchestdomain.GetSchemaDefinitionQueryResponse{Found: false})
	}
	return nil, NewOrchestratorError("request", ErrCodeInvalidConfig, "unexpected subject: "+subject, nil)
}

func (b *fakeBus) Subscribe(subject, queue string, handler bus.Handler) (func() error, error) {
	return func() error { return nil }, nil
}

func (b *fakeBus) Close() error { return nil }

func (b *fakeBus) publishedCommands() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published)
}

// fakeManagerClient answers the same fixed fixtures as fakeBus used to,
// standing in for C4's resilient HTTP client in tests.
type fakeManagerClient struct {
	flow        orchestdomain.OrchestratedFlow
	steps       []orchestdomain.Step
	assignments []orchestdomain.Assignment
}

func (m *fakeManagerClient) GetRaw(ctx context.Context, path string) ([]byte, error) {
	switch {
	case strings.Contains(path, "/assignments"):
		return json.Marshal(orchestdomain.GetAssignmentsQueryResponse{Found: true, Assignments: m.assignments})
	case strings.Contains(path, "/steps"):
		return json.Marshal(orchestdomain.GetStepNavigationQueryResponse{Found: true, Steps: m.steps})
	case strings.HasPrefix(path, "/api/OrchestratedFlow/"):
		return json.Marshal(orchestdomain.GetOrchestratedFlowQueryResponse{Found: true, Flow: m.flow})
	case strings.HasPrefix(path, "/api/Schema/"):
		return json.Marshal(orchestdomain.GetSchemaDefinitionQueryResponse{Found: false})
	}
	return nil, NewOrchestratorError("get_raw", ErrCodeInvalidConfig, "unexpected path: "+path, nil)
}

func markHealthy(t *testing.T, c cache.Cache, mapName string, processorIDs ...string) {
	t.Helper()
	now := time.Now()
	for _, pid := range processorIDs {
		entry := orchestdomain.ProcessorHealthEntry{
			ProcessorID: pid, Status: orchestdomain.HealthHealthy,
			LastUpdatedUnixSeconds: now.Unix(), HealthCheckIntervalSecs: 30,
			ExpiresAt: now.Add(time.Hour).Unix(),
		}
		data, _ := json.Marshal(entry)
		if err := c.Set(context.Background(), mapName, pid, string(data)); err != nil {
			t.Fatalf("Set() error = %v", err)
		}
	}
}

func newTestService(t *testing.T, flow orchestdomain.OrchestratedFlow, steps []orchestdomain.Step, assignments []orchestdomain.Assignment) (*Service, *fakeBus, cache.Cache) {
	t.Helper()
	c := cache.NewInMemory()
	b := &fakeBus{flow: flow, steps: steps, assignments: assignments}
	m := &fakeManagerClient{flow: flow, steps: steps, assignments: assignments}
	cfg := DefaultConfig()

	processorIDs := make([]string, 0, len(steps))
	for _, s := range steps {
		if s.ProcessorID != "" {
			processorIDs = append(processorIDs, s.ProcessorID)
		}
	}
	markHealthy(t, c, cfg.HealthMapName, processorIDs...)

	svc, err := New(cfg, b, m, c, schemavalidate.New(schemavalidate.NoOpMetrics()), nil,
		healthmonitor.NewReader(c, cfg.HealthMapName), logctx.New(), NoOpMetrics())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return svc, b, c
}

// S1: one step, no successors, one healthy processor.
func TestService_StartS1PublishesOneEntryPointCommand(t *testing.T) {
	flow := orchestdomain.OrchestratedFlow{ID: "F1", WorkflowID: "WF1"}
	steps := []orchestdomain.Step{step("S1")}
	svc, b, _ := newTestService(t, flow, steps, nil)

	if err := svc.Start(context.Background(), "F1"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if n := b.publishedCommands(); n != 1 {
		t.Fatalf("published commands = %d, want 1", n)
	}

	status, err := svc.Status(context.Background(), "F1")
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if !status.IsActive || status.StepCount != 1 {
		t.Fatalf("Status() = %+v, want IsActive=true, StepCount=1", status)
	}
}

// S2: cyclic graph with no entry point.
func TestService_StartS2RejectsNoEntryPoints(t *testing.T) {
	flow := orchestdomain.OrchestratedFlow{ID: "F2", WorkflowID: "WF2"}
	steps := []orchestdomain.Step{step("S1", "S2"), step("S2", "S1")}
	svc, _, _ := newTestService(t, flow, steps, nil)

	err := svc.Start(context.Background(), "F2")
	if err == nil {
		t.Fatalf("Start() = nil, want rejection")
	}
	var oe *OrchestratorError
	if ok := asOrchestratorError(err, &oe); !ok || oe.Code != ErrCodeNoEntryPoints {
		t.Fatalf("error = %v, want ErrCodeNoEntryPoints", err)
	}
}

// S3: duplicated termination point is accepted.
func TestService_StartS3AcceptsFanInOnTerminationPoint(t *testing.T) {
	flow := orchestdomain.OrchestratedFlow{ID: "F3", WorkflowID: "WF3"}
	steps := []orchestdomain.Step{step("S1", "S2"), step("S3", "S2"), step("S2")}
	svc, _, _ := newTestService(t, flow, steps, nil)

	if err := svc.Start(context.Background(), "F3"); err != nil {
		t.Fatalf("Start() error = %v, want accepted (S3 scenario)", err)
	}
}

// S4: duplicated non-termination point is rejected.
func TestService_StartS4RejectsCircularWorkflow(t *testing.T) {
	flow := orchestdomain.OrchestratedFlow{ID: "F4", WorkflowID: "WF4"}
	steps := []orchestdomain.Step{step("S1", "S2"), step("S3", "S2"), step("S2", "S4"), step("S4")}
	svc, _, _ := newTestService(t, flow, steps, nil)

	err := svc.Start(context.Background(), "F4")
	if err == nil {
		t.Fatalf("Start() = nil, want rejection")
	}
	var oe *OrchestratorError
	if ok := asOrchestratorError(err, &oe); !ok || oe.Code != ErrCodeCircularWorkflow {
		t.Fatalf("error = %v, want ErrCodeCircularWorkflow", err)
	}
}

// Invariant 4 / health gate: an unhealthy processor fails Start even with a
// structurally valid workflow.
func TestService_StartRejectsUnhealthyProcessor(t *testing.T) {
	flow := orchestdomain.OrchestratedFlow{ID: "F5", WorkflowID: "WF5"}
	steps := []orchestdomain.Step{step("S1")}
	c := cache.NewInMemory()
	b := &fakeBus{flow: flow, steps: steps}
	m := &fakeManagerClient{flow: flow, steps: steps}
	cfg := DefaultConfig()
	svc, err := New(cfg, b, m, c, schemavalidate.New(schemavalidate.NoOpMetrics()), nil,
		healthmonitor.NewReader(c, cfg.HealthMapName), logctx.New(), NoOpMetrics())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	startErr := svc.Start(context.Background(), "F5")
	if startErr == nil {
		t.Fatalf("Start() = nil, want rejection for unhealthy/absent processor health entry")
	}
	var oe *OrchestratorError
	if ok := asOrchestratorError(startErr, &oe); !ok || oe.Code != ErrCodeUnhealthyGate {
		t.Fatalf("error = %v, want ErrCodeUnhealthyGate", startErr)
	}

	// Start must have cleaned up any partial cache entry.
	_, found, _ := c.Get(context.Background(), cfg.CacheMapName, "F5")
	if found {
		t.Fatalf("cache entry present after failed Start, want cleanup")
	}
}

// S5: a processor whose stored implementation hash no longer matches its
// binary-embedded hash reports Unhealthy (see
// TestRuntime_InitAttemptRejectsImplementationHashMismatch in
// pkg/processor/init_test.go for the C7-side check); here a health entry
// already recording that Unhealthy verdict must fail the orchestrator's
// §4.8.1 step-9 health gate even though the workflow topology itself is
// valid.
func TestService_StartS5RejectsProcessorWithHashMismatch(t *testing.T) {
	flow := orchestdomain.OrchestratedFlow{ID: "F8", WorkflowID: "WF8"}
	steps := []orchestdomain.Step{step("S1")}
	c := cache.NewInMemory()
	b := &fakeBus{flow: flow, steps: steps}
	m := &fakeManagerClient{flow: flow, steps: steps}
	cfg := DefaultConfig()

	now := time.Now()
	entry := orchestdomain.ProcessorHealthEntry{
		ProcessorID: "p-S1", Status: orchestdomain.HealthUnhealthy,
		Message:                "unhealthy: implementation hash mismatch",
		LastUpdatedUnixSeconds:  now.Unix(),
		HealthCheckIntervalSecs: 30,
		ExpiresAt:               now.Add(time.Hour).Unix(),
	}
	data, _ := json.Marshal(entry)
	if err := c.Set(context.Background(), cfg.HealthMapName, "p-S1", string(data)); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	svc, err := New(cfg, b, m, c, schemavalidate.New(schemavalidate.NoOpMetrics()), nil,
		healthmonitor.NewReader(c, cfg.HealthMapName), logctx.New(), NoOpMetrics())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	startErr := svc.Start(context.Background(), "F8")
	if startErr == nil {
		t.Fatalf("Start() = nil, want rejection for processor reporting Unhealthy (hash mismatch)")
	}
	var oe *OrchestratorError
	if ok := asOrchestratorError(startErr, &oe); !ok || oe.Code != ErrCodeUnhealthyGate {
		t.Fatalf("error = %v, want ErrCodeUnhealthyGate", startErr)
	}
}

// Start ∘ Stop ∘ Start ≡ Start, and Stop ∘ Stop ≡ Stop.
func TestService_StartStopStartIsIdempotent(t *testing.T) {
	flow := orchestdomain.OrchestratedFlow{ID: "F6", WorkflowID: "WF6"}
	steps := []orchestdomain.Step{step("S1")}
	svc, _, c := newTestService(t, flow, steps, nil)
	ctx := context.Background()

	if err := svc.Start(ctx, "F6"); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	svc.Stop(ctx, "F6")
	svc.Stop(ctx, "F6") // Stop ∘ Stop ≡ Stop: must not panic or error.

	if _, found, _ := c.Get(ctx, svc.cfg.CacheMapName, "F6"); found {
		t.Fatalf("cache entry present after Stop")
	}

	if err := svc.Start(ctx, "F6"); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	status, _ := svc.Status(ctx, "F6")
	if !status.IsActive {
		t.Fatalf("Status() after Start-Stop-Start = %+v, want IsActive=true", status)
	}
}

// Starting twice without an intervening Stop is a no-op on the second call.
func TestService_StartIsIdempotentWithoutStop(t *testing.T) {
	flow := orchestdomain.OrchestratedFlow{ID: "F7", WorkflowID: "WF7"}
	steps := []orchestdomain.Step{step("S1")}
	svc, b, _ := newTestService(t, flow, steps, nil)
	ctx := context.Background()

	if err := svc.Start(ctx, "F7"); err != nil {
		t.Fatalf("first Start() error = %v", err)
	}
	if err := svc.Start(ctx, "F7"); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	if n := b.publishedCommands(); n != 1 {
		t.Fatalf("published commands = %d, want 1 (second Start must be a no-op)", n)
	}
}

func asOrchestratorError(err error, target **OrchestratorError) bool {
	oe, ok := err.(*OrchestratorError)
	if !ok {
		return false
	}
	*target = oe
	return true
}
