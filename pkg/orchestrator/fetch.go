package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/liranavivi/Design954-sub000/pkg/logctx"
	"github.com/liranavivi/Design954-sub000/pkg/orchestdomain"
)

// fetchOrchestratedFlow, fetchSteps, fetchAssignments and
// fetchSchemaDefinition are C8's four C4 lookups (§2 data-flow step 2,
// §6 "Equivalent Orchestrator-side endpoints..."). Every other C8 query
// (event consumption, command publication) stays on the bus (C2); these
// four specifically go over the resilient HTTP client.
func (s *Service) fetchOrchestratedFlow(ctx context.Context, flowID string) (orchestdomain.OrchestratedFlow, error) {
	raw, err := s.manager.GetRaw(ctx, fmt.Sprintf(s.cfg.GetOrchestratedFlowPath, flowID))
	if err != nil {
		return orchestdomain.OrchestratedFlow{}, NewOrchestratorError("fetch_orchestrated_flow", ErrCodeFlowNotFound, "failed to fetch orchestrated flow", err)
	}
	var resp orchestdomain.GetOrchestratedFlowQueryResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return orchestdomain.OrchestratedFlow{}, NewOrchestratorError("fetch_orchestrated_flow", ErrCodeFlowNotFound, "failed to decode orchestrated-flow response", err)
	}
	if !resp.Found {
		return orchestdomain.OrchestratedFlow{}, NewOrchestratorError("fetch_orchestrated_flow", ErrCodeFlowNotFound, "orchestrated flow not found: "+flowID, nil)
	}
	return resp.Flow, nil
}

// fetchTopology performs §4.8.1 step 3's parallel fetch of step-navigation
// data and assignment data.
func (s *Service) fetchTopology(ctx context.Context, flow orchestdomain.OrchestratedFlow) ([]orchestdomain.Step, map[string][]orchestdomain.Assignment, error) {
	var wg sync.WaitGroup
	var steps []orchestdomain.Step
	var assignments []orchestdomain.Assignment
	var stepsErr, assignmentsErr error

	wg.Add(2)
	go func() {
		defer wg.Done()
		steps, stepsErr = s.fetchSteps(ctx, flow.WorkflowID)
	}()
	go func() {
		defer wg.Done()
		assignments, assignmentsErr = s.fetchAssignments(ctx, flow.ID)
	}()
	wg.Wait()

	if stepsErr != nil {
		return nil, nil, stepsErr
	}
	if assignmentsErr != nil {
		return nil, nil, assignmentsErr
	}

	byStep := make(map[string][]orchestdomain.Assignment)
	for _, a := range assignments {
		byStep[a.StepID] = append(byStep[a.StepID], a)
	}
	return steps, byStep, nil
}

func (s *Service) fetchSteps(ctx context.Context, workflowID string) ([]orchestdomain.Step, error) {
	raw, err := s.manager.GetRaw(ctx, fmt.Sprintf(s.cfg.GetStepNavigationPath, workflowID))
	if err != nil {
		return nil, NewOrchestratorError("fetch_steps", ErrCodeFlowNotFound, "failed to fetch step navigation", err)
	}
	var resp orchestdomain.GetStepNavigationQueryResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, NewOrchestratorError("fetch_steps", ErrCodeFlowNotFound, "failed to decode step-navigation response", err)
	}
	if !resp.Found {
		return nil, NewOrchestratorError("fetch_steps", ErrCodeFlowNotFound, "no steps found for workflow "+workflowID, nil)
	}
	return resp.Steps, nil
}

func (s *Service) fetchAssignments(ctx context.Context, flowID string) ([]orchestdomain.Assignment, error) {
	raw, err := s.manager.GetRaw(ctx, fmt.Sprintf(s.cfg.GetAssignmentsPath, flowID))
	if err != nil {
		return nil, NewOrchestratorError("fetch_assignments", ErrCodeFlowNotFound, "failed to fetch assignments", err)
	}
	var resp orchestdomain.GetAssignmentsQueryResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, NewOrchestratorError("fetch_assignments", ErrCodeFlowNotFound, "failed to decode assignments response", err)
	}
	return resp.Assignments, nil
}

func (s *Service) fetchSchemaDefinition(ctx context.Context, schemaID string) (string, error) {
	raw, err := s.manager.GetRaw(ctx, fmt.Sprintf(s.cfg.GetSchemaPath, schemaID))
	if err != nil {
		return "", err
	}
	var resp orchestdomain.GetSchemaDefinitionQueryResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if !resp.Found {
		return "", NewOrchestratorError("fetch_schema", ErrCodeSchemaViolation, "schema not found: "+schemaID, nil)
	}
	return resp.Schema.Definition, nil
}

// publishEntryPointCommand dispatches the initial ExecuteActivityCommand for
// one entry-point step, with ExecutionID left empty (the entry-point
// sentinel from §4.7.3 step 2 that bypasses cache lookup and input
// validation).
func (s *Service) publishEntryPointCommand(ctx context.Context, flowID, workflowID, correlationID string, steps []orchestdomain.Step, stepID string, assignments []orchestdomain.Assignment) {
	step := findStep(steps, stepID)
	ids := orchestdomain.Identifiers{
		OrchestratedFlowID: flowID, WorkflowID: workflowID, CorrelationID: correlationID,
		StepID: stepID, ProcessorID: step.ProcessorID, PublishID: uuid.NewString(),
	}
	cmd := orchestdomain.ExecuteActivityCommand{Identifiers: ids, Entities: assignments}
	if err := s.bus.Publish(ctx, s.cfg.ExecuteCommandSubject, correlationID, cmd); err != nil {
		lctx := logctx.Context{
			CorrelationID: correlationID, OrchestratedFlowID: flowID, WorkflowID: workflowID,
			StepID: stepID, ProcessorID: step.ProcessorID,
		}
		s.logger.Errorf(lctx, "failed to publish entry-point command: %v", err)
	}
}

func findStep(steps []orchestdomain.Step, id string) orchestdomain.Step {
	for _, s := range steps {
		if s.ID == id {
			return s
		}
	}
	return orchestdomain.Step{ID: id}
}
