package processor

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/liranavivi/Design954-sub000/pkg/orchestdomain"
)

// healthFlags is the three-plus-three boolean state the init handshake leaves
// behind for getHealthStatus (§4.7.5) to aggregate, all guarded by one mutex
// so a concurrent health sample never observes a torn update.
type healthFlags struct {
	mu sync.RWMutex

	inputSchemaHealthy  bool
	outputSchemaHealthy bool
	schemaIDsValid      bool

	implementationHashValid bool
	isInitialized           bool
	isInitializing          bool
}

func (f *healthFlags) snapshot() healthFlags {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return healthFlags{
		inputSchemaHealthy:      f.inputSchemaHealthy,
		outputSchemaHealthy:     f.outputSchemaHealthy,
		schemaIDsValid:          f.schemaIDsValid,
		implementationHashValid: f.implementationHashValid,
		isInitialized:           f.isInitialized,
		isInitializing:          f.isInitializing,
	}
}

func (f *healthFlags) set(fn func(*healthFlags)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

// initialize runs the §4.7.1 handshake: resolve this processor's own
// registration (get-or-create by composite key), confirm its stored schema
// ids match configuration, fetch and cache both schema definitions, and
// validate the build-time implementation hash. It retries per cfg.InitMode
// until success (InitEndlessRetries) or cfg.InitMaxAttempts is exhausted
// (InitBoundedRetries).
func (r *Runtime) initialize(ctx context.Context) error {
	r.flags.set(func(f *healthFlags) { f.isInitializing = true })
	defer r.flags.set(func(f *healthFlags) { f.isInitializing = false })

	backoff := r.cfg.InitBaseBackoff
	var lastErr error
	for attempt := 1; ; attempt++ {
		r.metrics.RecordInitAttempt(ctx)
		err := r.initAttempt(ctx)
		if err == nil {
			r.flags.set(func(f *healthFlags) { f.isInitialized = true })
			return nil
		}
		lastErr = err
		r.logger.Warnf(r.baseLogCtx(), "processor init attempt %d failed: %v", attempt, err)

		if r.cfg.InitMode == InitBoundedRetries && attempt >= r.cfg.InitMaxAttempts {
			return NewProcessorError("initialize", ErrCodeInitializationFailed, "exhausted initialization attempts", lastErr)
		}
		select {
		case <-ctx.Done():
			return NewProcessorError("initialize", ErrCodeInitializationFailed, "initialization cancelled", ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > r.cfg.InitMaxBackoff {
			backoff = r.cfg.InitMaxBackoff
		}
	}
}

func (r *Runtime) initAttempt(ctx context.Context) error {
	proc, err := r.resolveProcessor(ctx)
	if err != nil {
		return err
	}
	r.setProcessorID(proc.ID)

	schemaIDsValid := true
	if r.cfg.EnableInputValidation && r.cfg.InputSchemaID != "" && proc.InputSchemaID != "" && proc.InputSchemaID != r.cfg.InputSchemaID {
		schemaIDsValid = false
	}
	if r.cfg.EnableOutputValidation && r.cfg.OutputSchemaID != "" && proc.OutputSchemaID != "" && proc.OutputSchemaID != r.cfg.OutputSchemaID {
		schemaIDsValid = false
	}

	var inputHealthy, outputHealthy bool
	if r.cfg.EnableInputValidation && proc.InputSchemaID != "" {
		if _, err := r.fetchSchemaDefinition(ctx, proc.InputSchemaID); err != nil {
			r.logger.Warnf(r.baseLogCtx(), "input schema %s unavailable: %v", proc.InputSchemaID, err)
		} else {
			inputHealthy = true
		}
	} else {
		inputHealthy = true
	}
	if r.cfg.EnableOutputValidation && proc.OutputSchemaID != "" {
		if _, err := r.fetchSchemaDefinition(ctx, proc.OutputSchemaID); err != nil {
			r.logger.Warnf(r.baseLogCtx(), "output schema %s unavailable: %v", proc.OutputSchemaID, err)
		} else {
			outputHealthy = true
		}
	} else {
		outputHealthy = true
	}

	hashValid, err := r.validateImplementationHash(proc)
	if err != nil {
		return err
	}

	r.flags.set(func(f *healthFlags) {
		f.schemaIDsValid = schemaIDsValid
		f.inputSchemaHealthy = inputHealthy
		f.outputSchemaHealthy = outputHealthy
		f.implementationHashValid = hashValid
	})

	if !schemaIDsValid {
		return NewProcessorError("initialize", ErrCodeSchemaMismatch, "stored schema ids do not match configuration", nil)
	}
	if !inputHealthy || !outputHealthy {
		return NewProcessorError("initialize", ErrCodeInitializationFailed, "one or more schemas are unavailable", nil)
	}
	return nil
}

// resolveProcessor performs the get-or-create-then-requery sequence: request
// the processor by composite key; if absent, publish a create command and
// re-query once the bus round-trips.
func (r *Runtime) resolveProcessor(ctx context.Context) (orchestdomain.Processor, error) {
	query := orchestdomain.GetProcessorQuery{Version: r.cfg.Version, Name: r.cfg.Name}
	resp, err := r.requestProcessor(ctx, query)
	if err != nil {
		return orchestdomain.Processor{}, err
	}
	if resp.Found {
		return resp.Processor, nil
	}

	create := orchestdomain.CreateProcessorCommand{Processor: orchestdomain.Processor{
		Name:               r.cfg.Name,
		Version:            r.cfg.Version,
		InputSchemaID:      r.cfg.InputSchemaID,
		OutputSchemaID:     r.cfg.OutputSchemaID,
		ImplementationHash: r.cfg.ImplementationHash,
	}}
	if err := r.bus.Publish(ctx, r.cfg.CreateProcessorSubject, "", create); err != nil {
		return orchestdomain.Processor{}, NewProcessorError("resolve_processor", ErrCodeInitializationFailed, "failed to publish create-processor command", err)
	}

	resp, err = r.requestProcessor(ctx, query)
	if err != nil {
		return orchestdomain.Processor{}, err
	}
	if !resp.Found {
		return orchestdomain.Processor{}, NewProcessorError("resolve_processor", ErrCodeInitializationFailed, "processor not found after create", nil)
	}
	return resp.Processor, nil
}

func (r *Runtime) requestProcessor(ctx context.Context, query orchestdomain.GetProcessorQuery) (orchestdomain.GetProcessorQueryResponse, error) {
	raw, err := r.bus.Request(ctx, r.cfg.GetProcessorSubject, "", query, 0)
	if err != nil {
		return orchestdomain.GetProcessorQueryResponse{}, NewProcessorError("resolve_processor", ErrCodeInitializationFailed, "get-processor request failed", err)
	}
	var resp orchestdomain.GetProcessorQueryResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return orchestdomain.GetProcessorQueryResponse{}, NewProcessorError("resolve_processor", ErrCodeInitializationFailed, "failed to decode get-processor response", err)
	}
	return resp, nil
}

func (r *Runtime) fetchSchemaDefinition(ctx context.Context, schemaID string) (string, error) {
	raw, err := r.bus.Request(ctx, r.cfg.GetSchemaSubject, "", orchestdomain.GetSchemaDefinitionQuery{SchemaID: schemaID}, 0)
	if err != nil {
		return "", err
	}
	var resp orchestdomain.GetSchemaDefinitionQueryResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if !resp.Found {
		return "", NewProcessorError("fetch_schema", ErrCodeInitializationFailed, "schema not found: "+schemaID, nil)
	}
	r.cacheSchemaDefinition(schemaID, resp.Schema.Definition)
	return resp.Schema.Definition, nil
}

// validateImplementationHash enforces §4.7.1's hash rule: an empty stored
// hash is legacy and accepted; an empty local hash (cfg.ImplementationHash
// never set) skips the check with a warning; any other mismatch fails
// initialization outright, since it means the deployed code diverged from
// the processor's last registered version without a version bump.
func (r *Runtime) validateImplementationHash(proc orchestdomain.Processor) (bool, error) {
	if proc.ImplementationHash == "" {
		return true, nil
	}
	if r.cfg.ImplementationHash == "" {
		r.logger.Warnf(r.baseLogCtx(), "processor has no embedded implementation hash; skipping hash validation")
		return true, nil
	}
	if proc.ImplementationHash != r.cfg.ImplementationHash {
		return false, NewProcessorError("validate_hash", ErrCodeHashMismatch,
			"implementation hash mismatch: version increment required", nil)
	}
	return true, nil
}
