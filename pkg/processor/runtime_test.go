package processor

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/liranavivi/Design954-sub000/pkg/bus"
	"github.com/liranavivi/Design954-sub000/pkg/cache"
	"github.com/liranavivi/Design954-sub000/pkg/logctx"
	"github.com/liranavivi/Design954-sub000/pkg/orchestdomain"
	"github.com/liranavivi/Design954-sub000/pkg/schemavalidate"
)

// fakeBus is an in-process Bus double giving canned responses for the
// init handshake and recording every published message for assertions.
type fakeBus struct {
	mu        sync.Mutex
	published []publishedMsg
	processor orchestdomain.Processor
}

type publishedMsg struct {
	subject string
	payload any
}

func newFakeBus(proc orchestdomain.Processor) *fakeBus {
	return &fakeBus{processor: proc}
}

func (b *fakeBus) Publish(ctx context.Context, subject, correlationID string, payload any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, publishedMsg{subject: subject, payload: payload})
	return nil
}

func (b *fakeBus) Request(ctx context.Context, subject, correlationID string, payload any, timeout time.Duration) ([]byte, error) {
	switch subject {
	case "processor.get":
		resp := orchestdomain.GetProcessorQueryResponse{Found: true, Processor: b.processor}
		return json.Marshal(resp)
	case "schema.get":
		resp := orchestdomain.GetSchemaDefinitionQueryResponse{Found: false}
		return json.Marshal(resp)
	}
	return nil, NewProcessorError("request", ErrCodeInitializationFailed, "unexpected subject: "+subject, nil)
}

func (b *fakeBus) Subscribe(subject, queue string, handler bus.Handler) (func() error, error) {
	return func() error { return nil }, nil
}

func (b *fakeBus) Close() error { return nil }

func (b *fakeBus) events(subject string) []publishedMsg {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []publishedMsg
	for _, m := range b.published {
		if m.subject == subject {
			out = append(out, m)
		}
	}
	return out
}

func newTestRuntime(t *testing.T, activityFn ActivityFunc) (*Runtime, *fakeBus, cache.Cache) {
	t.Helper()
	c := cache.NewInMemory()
	b := newFakeBus(orchestdomain.Processor{ID: "proc-1", Name: "test-proc", Version: "v1"})
	cfg := DefaultConfig()
	cfg.Name = "test-proc"
	cfg.Version = "v1"
	cfg.EnableInputValidation = false
	cfg.EnableOutputValidation = false

	r, err := New(cfg, b, c, schemavalidate.New(schemavalidate.NoOpMetrics()), activityFn, logctx.New(), NoOpMetrics())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := r.initialize(context.Background()); err != nil {
		t.Fatalf("initialize() error = %v", err)
	}
	return r, b, c
}

func TestRuntime_CompletedActivityPublishesExecutedEventExactlyOnce(t *testing.T) {
	activityFn := func(ctx context.Context, ids orchestdomain.Identifiers, entities []orchestdomain.Assignment, inputData string) ([]orchestdomain.ResultItem, error) {
		return []orchestdomain.ResultItem{{ExecutionID: ids.ExecutionID, SerializedData: `{"ok":true}`}}, nil
	}
	r, b, c := newTestRuntime(t, activityFn)

	cmd := orchestdomain.ExecuteActivityCommand{
		Identifiers: orchestdomain.Identifiers{
			OrchestratedFlowID: "flow-1", WorkflowID: "wf-1", CorrelationID: "corr-1",
			StepID: "step-1", ProcessorID: "proc-1", PublishID: "pub-1", ExecutionID: "exec-1",
		},
	}

	r.processCommand(context.Background(), cmd)
	for r.responseQueue.Depth() > 0 {
		item, _ := r.responseQueue.Dequeue(context.Background())
		r.publishResponse(context.Background(), item)
		r.responseQueue.Done()
	}

	events := b.events(r.cfg.ExecutedEventSubject)
	if len(events) != 1 {
		t.Fatalf("len(events) = %d, want exactly 1 ActivityExecutedEvent", len(events))
	}

	raw, found, err := c.Get(context.Background(), r.cfg.ActivityDataMapName, cmd.ActivityCacheKey())
	if err != nil || !found {
		t.Fatalf("Get() = %v, %v, want activity cache entry present", found, err)
	}
	if raw != `{"ok":true}` {
		t.Fatalf("cached value = %q, want the serialized result", raw)
	}
}

func TestRuntime_FailedActivityPublishesFailedEventExactlyOnce(t *testing.T) {
	activityFn := func(ctx context.Context, ids orchestdomain.Identifiers, entities []orchestdomain.Assignment, inputData string) ([]orchestdomain.ResultItem, error) {
		return nil, NewProcessorError("activity", ErrCodeActivityFailed, "boom", nil)
	}
	r, b, _ := newTestRuntime(t, activityFn)

	cmd := orchestdomain.ExecuteActivityCommand{
		Identifiers: orchestdomain.Identifiers{
			OrchestratedFlowID: "flow-1", WorkflowID: "wf-1", CorrelationID: "corr-1",
			StepID: "step-1", ProcessorID: "proc-1", PublishID: "pub-2", ExecutionID: "exec-2",
		},
	}

	r.processCommand(context.Background(), cmd)
	for r.responseQueue.Depth() > 0 {
		item, _ := r.responseQueue.Dequeue(context.Background())
		r.publishResponse(context.Background(), item)
		r.responseQueue.Done()
	}

	events := b.events(r.cfg.FailedEventSubject)
	if len(events) != 1 {
		t.Fatalf("len(events) = %d, want exactly 1 ActivityFailedEvent", len(events))
	}
}

func TestRuntime_EffectivelyEmptyOutputSkipsCacheWrite(t *testing.T) {
	activityFn := func(ctx context.Context, ids orchestdomain.Identifiers, entities []orchestdomain.Assignment, inputData string) ([]orchestdomain.ResultItem, error) {
		return []orchestdomain.ResultItem{{ExecutionID: ids.ExecutionID, SerializedData: "{}"}}, nil
	}
	r, _, c := newTestRuntime(t, activityFn)

	cmd := orchestdomain.ExecuteActivityCommand{
		Identifiers: orchestdomain.Identifiers{
			OrchestratedFlowID: "flow-1", WorkflowID: "wf-1", CorrelationID: "corr-1",
			StepID: "step-1", ProcessorID: "proc-1", PublishID: "pub-3", ExecutionID: "exec-3",
		},
	}

	r.processCommand(context.Background(), cmd)

	size, _ := c.Size(context.Background(), r.cfg.ActivityDataMapName)
	if size != 0 {
		t.Fatalf("cache size = %d, want 0 (effectively-empty output must not be cached)", size)
	}
}

func TestRuntime_QueueDepthIsZeroUnderQuiescence(t *testing.T) {
	activityFn := func(ctx context.Context, ids orchestdomain.Identifiers, entities []orchestdomain.Assignment, inputData string) ([]orchestdomain.ResultItem, error) {
		return []orchestdomain.ResultItem{{ExecutionID: ids.ExecutionID, SerializedData: `{"v":1}`}}, nil
	}
	r, _, _ := newTestRuntime(t, activityFn)

	cmd := orchestdomain.ExecuteActivityCommand{
		Identifiers: orchestdomain.Identifiers{
			OrchestratedFlowID: "flow-1", WorkflowID: "wf-1", CorrelationID: "corr-1",
			StepID: "step-1", ProcessorID: "proc-1", PublishID: "pub-4", ExecutionID: "exec-4",
		},
	}

	r.processCommand(context.Background(), cmd)
	for r.responseQueue.Depth() > 0 {
		item, _ := r.responseQueue.Dequeue(context.Background())
		r.publishResponse(context.Background(), item)
		r.responseQueue.Done()
	}

	if d := r.requestQueue.Depth(); d != 0 {
		t.Fatalf("requestQueue.Depth() = %d, want 0 at quiescence", d)
	}
	if d := r.responseQueue.Depth(); d != 0 {
		t.Fatalf("responseQueue.Depth() = %d, want 0 at quiescence", d)
	}
}

func TestRuntime_SampleReportsHealthyAfterInitialization(t *testing.T) {
	activityFn := func(ctx context.Context, ids orchestdomain.Identifiers, entities []orchestdomain.Assignment, inputData string) ([]orchestdomain.ResultItem, error) {
		return nil, nil
	}
	r, _, _ := newTestRuntime(t, activityFn)

	status, _, _, err := r.Sample(context.Background())
	if err != nil {
		t.Fatalf("Sample() error = %v", err)
	}
	if status != orchestdomain.HealthHealthy {
		t.Fatalf("Sample() status = %v, want Healthy", status)
	}
}
