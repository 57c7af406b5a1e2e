package orchestrator

import (
	"context"
	"encoding/json"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/liranavivi/Design954-sub000/pkg/logctx"
	"github.com/liranavivi/Design954-sub000/pkg/orchestdomain"
)

// Advancer subscribes to activity completion/failure events and advances
// the workflow graph by republishing ExecuteActivityCommand for each
// successor step. Grounded on §9 open question 3: the advancement algorithm
// is derived from the graph semantics (entry -> next -> termination with
// per-step assignment dispatch), since bus delivery is not ordered or
// exactly-once (§5), duplicate deliveries are suppressed by an in-process
// LRU keyed on (executionId, publishId).
type Advancer struct {
	svc   *Service
	dedup *lru.Cache[string, struct{}]

	unsubExecuted func() error
	unsubFailed   func() error
}

// NewAdvancer builds an Advancer bound to svc's bus and cache.
func NewAdvancer(svc *Service) (*Advancer, error) {
	dedup, err := lru.New[string, struct{}](svc.cfg.AdvanceDedupCapacity)
	if err != nil {
		return nil, NewOrchestratorError("new_advancer", ErrCodeInvalidConfig, "failed to create dedup cache", err)
	}
	return &Advancer{svc: svc, dedup: dedup}, nil
}

// Start subscribes to the executed/failed event subjects.
func (a *Advancer) Start() error {
	unsubExecuted, err := a.svc.bus.Subscribe(a.svc.cfg.ExecutedEventSubject, "orchestrator-advance", a.onExecuted)
	if err != nil {
		return NewOrchestratorError("advancer_start", ErrCodeInvalidConfig, "failed to subscribe to executed-event subject", err)
	}
	a.unsubExecuted = unsubExecuted

	unsubFailed, err := a.svc.bus.Subscribe(a.svc.cfg.FailedEventSubject, "orchestrator-advance", a.onFailed)
	if err != nil {
		_ = unsubExecuted()
		return NewOrchestratorError("advancer_start", ErrCodeInvalidConfig, "failed to subscribe to failed-event subject", err)
	}
	a.unsubFailed = unsubFailed
	return nil
}

// Stop unsubscribes from both event subjects.
func (a *Advancer) Stop() {
	if a.unsubExecuted != nil {
		_ = a.unsubExecuted()
	}
	if a.unsubFailed != nil {
		_ = a.unsubFailed()
	}
}

func dedupKey(ids orchestdomain.Identifiers) string {
	return ids.ExecutionID + ":" + ids.PublishID
}

func (a *Advancer) onExecuted(ctx context.Context, _ string, payload []byte) error {
	var event orchestdomain.ActivityExecutedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return err
	}
	key := dedupKey(event.Identifiers)
	if _, seen := a.dedup.Get(key); seen {
		a.svc.metrics.RecordDuplicateDropped(ctx)
		return nil
	}
	a.dedup.Add(key, struct{}{})
	a.svc.metrics.RecordAdvancement(ctx, "completed")
	return a.advance(ctx, event.Identifiers)
}

func (a *Advancer) onFailed(ctx context.Context, _ string, payload []byte) error {
	var event orchestdomain.ActivityFailedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return err
	}
	key := dedupKey(event.Identifiers)
	if _, seen := a.dedup.Get(key); seen {
		a.svc.metrics.RecordDuplicateDropped(ctx)
		return nil
	}
	a.dedup.Add(key, struct{}{})
	a.svc.metrics.RecordAdvancement(ctx, "failed")
	a.svc.logger.Errorf(logctx.Context{
		CorrelationID: event.CorrelationID, OrchestratedFlowID: event.OrchestratedFlowID,
		WorkflowID: event.WorkflowID, StepID: event.StepID, ProcessorID: event.ProcessorID,
		PublishID: event.PublishID, ExecutionID: event.ExecutionID,
	}, "activity failed: %s", event.ErrorMessage)
	// No graph advancement on failure, per §4.7.4/§9: only metrics and logs.
	return nil
}

// advance republishes ExecuteActivityCommand for each successor of the
// completed step, carrying the completed step's ExecutionID forward as the
// next step's input cache key component.
func (a *Advancer) advance(ctx context.Context, ids orchestdomain.Identifiers) error {
	raw, found, err := a.svc.cache.Get(ctx, a.svc.cfg.CacheMapName, ids.OrchestratedFlowID)
	if err != nil || !found {
		return err
	}
	var entry orchestdomain.OrchestrationCacheEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return err
	}

	step := findStep(entry.Steps, ids.StepID)
	for _, nextID := range step.NextStepIDs {
		next := findStep(entry.Steps, nextID)
		nextIDs := orchestdomain.Identifiers{
			OrchestratedFlowID: ids.OrchestratedFlowID, WorkflowID: ids.WorkflowID, CorrelationID: ids.CorrelationID,
			StepID: nextID, ProcessorID: next.ProcessorID, PublishID: ids.PublishID, ExecutionID: ids.ExecutionID,
		}
		cmd := orchestdomain.ExecuteActivityCommand{
			Identifiers:       nextIDs,
			SourceProcessorID: step.ProcessorID,
			SourceStepID:      step.ID,
			Entities:          entry.AssignmentsByStepID[nextID],
		}
		if err := a.svc.bus.Publish(ctx, a.svc.cfg.ExecuteCommandSubject, ids.CorrelationID, cmd); err != nil {
			a.svc.logger.Errorf(logctx.Context{OrchestratedFlowID: ids.OrchestratedFlowID, StepID: nextID},
				"failed to publish advance command: %v", err)
		}
	}
	return nil
}
