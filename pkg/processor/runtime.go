package processor

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/liranavivi/Design954-sub000/pkg/bus"
	"github.com/liranavivi/Design954-sub000/pkg/cache"
	"github.com/liranavivi/Design954-sub000/pkg/logctx"
	"github.com/liranavivi/Design954-sub000/pkg/orchestdomain"
	"github.com/liranavivi/Design954-sub000/pkg/schemavalidate"
)

// ActivityFunc is user-supplied business logic. It receives the full
// identifier tuple, the entities assigned to this step, and the resolved
// input payload (empty at entry-point executions), and returns zero or more
// result items.
type ActivityFunc func(ctx context.Context, ids orchestdomain.Identifiers, entities []orchestdomain.Assignment, inputData string) ([]orchestdomain.ResultItem, error)

// responseItem is what a worker pushes onto the response queue after
// executing one result item, per §4.7.3 step 5.
type responseItem struct {
	ids               orchestdomain.Identifiers
	result            orchestdomain.ResultItem
	entitiesProcessed int
	duration          time.Duration
	failed            bool
	errMessage        string
	isValidationFail  bool
}

// Runtime is one processor's message-driven execution engine: init
// handshake, bounded request/response queues, worker pools, and response
// publication.
type Runtime struct {
	cfg        *Config
	bus        bus.Bus
	cache      cache.Cache
	validator  *schemavalidate.Validator
	activityFn ActivityFunc
	logger     *logctx.Logger
	metrics    *Metrics

	flags healthFlags

	processorIDMu sync.RWMutex
	processorID   string

	schemaDefsMu sync.RWMutex
	schemaDefs   map[string]string

	requestQueue  *boundedQueue[orchestdomain.ExecuteActivityCommand]
	responseQueue *boundedQueue[responseItem]

	unsubscribe func() error

	wg     sync.WaitGroup
	stopCh chan struct{}
}

// New builds a Runtime. Call Start to run the init handshake, spin up
// worker pools, and subscribe to the execute-command subject.
func New(cfg *Config, b bus.Bus, c cache.Cache, validator *schemavalidate.Validator, activityFn ActivityFunc, logger *logctx.Logger, metrics *Metrics) (*Runtime, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &Runtime{
		cfg: cfg, bus: b, cache: c, validator: validator, activityFn: activityFn,
		logger: logger, metrics: metrics,
		schemaDefs: make(map[string]string),
		stopCh:     make(chan struct{}),
	}
	r.requestQueue = newBoundedQueue[orchestdomain.ExecuteActivityCommand](cfg.QueueCapacity, func(delta int64) {
		r.metrics.SetRequestQueueDepth(context.Background(), delta)
	})
	r.responseQueue = newBoundedQueue[responseItem](cfg.QueueCapacity, func(delta int64) {
		r.metrics.SetResponseQueueDepth(context.Background(), delta)
	})
	return r, nil
}

func (r *Runtime) setProcessorID(id string) {
	r.processorIDMu.Lock()
	defer r.processorIDMu.Unlock()
	r.processorID = id
}

// ProcessorID returns the id resolved during initialization, or "" before it
// completes.
func (r *Runtime) ProcessorID() string {
	r.processorIDMu.RLock()
	defer r.processorIDMu.RUnlock()
	return r.processorID
}

func (r *Runtime) cacheSchemaDefinition(schemaID, definition string) {
	r.schemaDefsMu.Lock()
	defer r.schemaDefsMu.Unlock()
	r.schemaDefs[schemaID] = definition
}

func (r *Runtime) schemaDefinition(ctx context.Context, schemaID string) (string, error) {
	r.schemaDefsMu.RLock()
	def, ok := r.schemaDefs[schemaID]
	r.schemaDefsMu.RUnlock()
	if ok {
		return def, nil
	}
	return r.fetchSchemaDefinition(ctx, schemaID)
}

func (r *Runtime) baseLogCtx() logctx.Context {
	return logctx.Context{ProcessorID: r.ProcessorID()}
}

// Start runs the init handshake, subscribes to the execute-command subject,
// and launches the request/response worker pools. It blocks until
// initialization completes (or exhausts its retry budget).
func (r *Runtime) Start(ctx context.Context) error {
	if err := r.initialize(ctx); err != nil {
		return err
	}

	unsub, err := r.bus.Subscribe(r.cfg.ExecuteCommandSubject, r.cfg.CompositeKey(), r.onCommand(ctx))
	if err != nil {
		return NewProcessorError("start", ErrCodeInitializationFailed, "failed to subscribe to execute-command subject", err)
	}
	r.unsubscribe = unsub

	for i := 0; i < r.cfg.RequestWorkerCount; i++ {
		r.wg.Add(1)
		go r.runRequestWorker(ctx)
	}
	for i := 0; i < r.cfg.ResponseWorkerCount; i++ {
		r.wg.Add(1)
		go r.runResponseWorker(ctx)
	}
	return nil
}

// Stop unsubscribes from the bus, closes both queues, and waits for every
// worker to drain in-flight work.
func (r *Runtime) Stop() {
	if r.unsubscribe != nil {
		_ = r.unsubscribe()
	}
	close(r.stopCh)
	r.requestQueue.Close()
	r.wg.Wait()
}

// onCommand adapts a bus.Handler into an enqueue onto the bounded request
// queue; it never blocks the NATS dispatch goroutine indefinitely beyond
// ctx's lifetime.
func (r *Runtime) onCommand(ctx context.Context) bus.Handler {
	return func(_ context.Context, _ string, payload []byte) error {
		var cmd orchestdomain.ExecuteActivityCommand
		if err := json.Unmarshal(payload, &cmd); err != nil {
			r.logger.Errorf(r.baseLogCtx(), "failed to decode execute-activity command: %v", err)
			return err
		}
		r.metrics.RecordCommandConsumed(ctx, cmd.OrchestratedFlowID, cmd.StepID)
		return r.requestQueue.Enqueue(ctx, cmd)
	}
}

func (r *Runtime) runRequestWorker(ctx context.Context) {
	defer r.wg.Done()
	for {
		cmd, ok := r.requestQueue.Dequeue(ctx)
		if !ok {
			return
		}
		r.processOneRequest(ctx, cmd)
	}
}

func (r *Runtime) processOneRequest(ctx context.Context, cmd orchestdomain.ExecuteActivityCommand) {
	defer r.requestQueue.Done()
	r.processCommand(ctx, cmd)
}

func (r *Runtime) runResponseWorker(ctx context.Context) {
	defer r.wg.Done()
	for {
		item, ok := r.responseQueue.Dequeue(ctx)
		if !ok {
			return
		}
		r.processOneResponse(ctx, item)
	}
}

func (r *Runtime) processOneResponse(ctx context.Context, item responseItem) {
	defer r.responseQueue.Done()
	r.publishResponse(ctx, item)
}

// processCommand implements §4.7.3 for one command: resolve validation
// parameters, read and validate input (unless entry-point), invoke the
// activity, and validate/cache/enqueue each resulting item.
func (r *Runtime) processCommand(ctx context.Context, cmd orchestdomain.ExecuteActivityCommand) {
	start := time.Now()
	lctx := logctx.Context{
		CorrelationID: cmd.CorrelationID, OrchestratedFlowID: cmd.OrchestratedFlowID,
		WorkflowID: cmd.WorkflowID, StepID: cmd.StepID, ProcessorID: cmd.ProcessorID,
		PublishID: cmd.PublishID, ExecutionID: cmd.ExecutionID,
	}

	inputSchemaDef, outputSchemaDef, enableInput, enableOutput := r.resolveValidationParams(ctx, cmd.Entities)

	var inputData string
	if !cmd.IsEntryPointExecution() {
		raw, found, err := r.cache.Get(ctx, r.cfg.ActivityDataMapName, cmd.InputCacheKey())
		if err != nil {
			r.enqueueFailure(ctx, cmd, start, "failed to read activity input from cache: "+err.Error(), false)
			return
		}
		if found {
			inputData = raw
		}
		if enableInput && inputData != "" {
			res, err := r.validator.Validate(ctx, "input", inputSchemaDef, inputData)
			if err != nil {
				r.enqueueFailure(ctx, cmd, start, "input schema validation error: "+err.Error(), true)
				return
			}
			if !res.Valid {
				r.enqueueFailure(ctx, cmd, start, "input validation failed against input schema: "+firstError(res), true)
				return
			}
		}
	}

	items, err := r.activityFn(ctx, cmd.Identifiers, cmd.Entities, inputData)
	if err != nil {
		r.logger.Errorf(lctx, "activity invocation failed: %v", err)
		r.enqueueFailure(ctx, cmd, start, "activity invocation failed: "+err.Error(), false)
		return
	}

	for _, item := range items {
		r.processResultItem(ctx, cmd, item, start, outputSchemaDef, enableOutput, lctx)
	}
}

func (r *Runtime) processResultItem(ctx context.Context, cmd orchestdomain.ExecuteActivityCommand, item orchestdomain.ResultItem, start time.Time, outputSchemaDef string, enableOutput bool, lctx logctx.Context) {
	ids := cmd.Identifiers
	if item.ExecutionID != "" {
		ids.ExecutionID = item.ExecutionID
	}

	resp := responseItem{ids: ids, result: item, entitiesProcessed: len(cmd.Entities), duration: time.Since(start)}

	if orchestdomain.IsEffectivelyEmpty(item.SerializedData) {
		resp.result.Status = item.Status
		if resp.result.Status == "" {
			resp.result.Status = orchestdomain.ActivityCompleted
		}
		r.enqueueResponse(ctx, resp)
		return
	}

	if enableOutput {
		res, err := r.validator.Validate(ctx, "output", outputSchemaDef, item.SerializedData)
		if err != nil {
			resp.failed = true
			resp.errMessage = "output schema validation error: " + err.Error()
			r.enqueueResponse(ctx, resp)
			return
		}
		if !res.Valid {
			resp.failed = true
			resp.isValidationFail = true
			resp.errMessage = "output validation failed against output schema: " + firstError(res)
			r.enqueueResponse(ctx, resp)
			return
		}
	}

	if ids.ExecutionID != "" {
		if err := r.cache.Set(ctx, r.cfg.ActivityDataMapName, ids.ActivityCacheKey(), item.SerializedData); err != nil {
			resp.failed = true
			resp.errMessage = "failed to write activity output to cache: " + err.Error()
			r.enqueueResponse(ctx, resp)
			return
		}
	}

	resp.result.Status = orchestdomain.ActivityCompleted
	r.enqueueResponse(ctx, resp)
}

func (r *Runtime) enqueueFailure(ctx context.Context, cmd orchestdomain.ExecuteActivityCommand, start time.Time, message string, isValidationFail bool) {
	r.enqueueResponse(ctx, responseItem{
		ids: cmd.Identifiers, entitiesProcessed: len(cmd.Entities), duration: time.Since(start),
		failed: true, errMessage: message, isValidationFail: isValidationFail,
	})
}

func (r *Runtime) enqueueResponse(ctx context.Context, item responseItem) {
	if err := r.responseQueue.Enqueue(ctx, item); err != nil {
		r.logger.Errorf(r.baseLogCtx(), "failed to enqueue response item: %v", err)
	}
}

// publishResponse implements §4.7.4: publish the terminal event and record
// flow metrics.
func (r *Runtime) publishResponse(ctx context.Context, item responseItem) {
	lctx := logctx.Context{
		CorrelationID: item.ids.CorrelationID, OrchestratedFlowID: item.ids.OrchestratedFlowID,
		WorkflowID: item.ids.WorkflowID, StepID: item.ids.StepID, ProcessorID: item.ids.ProcessorID,
		PublishID: item.ids.PublishID, ExecutionID: item.ids.ExecutionID,
	}

	r.metrics.RecordActivity(ctx, time.Now().Add(-item.duration), item.failed)

	if item.failed {
		event := orchestdomain.ActivityFailedEvent{
			Identifiers: item.ids, Duration: item.duration, ErrorMessage: item.errMessage,
			EntitiesBeingProcessed: item.entitiesProcessed, IsValidationFailure: item.isValidationFail,
		}
		if err := r.bus.Publish(ctx, r.cfg.FailedEventSubject, item.ids.CorrelationID, event); err != nil {
			r.logger.Errorf(lctx, "failed to publish ActivityFailedEvent: %v", err)
			return
		}
		r.metrics.RecordEventPublished(ctx, "failed")
		return
	}

	event := orchestdomain.ActivityExecutedEvent{
		Identifiers: item.ids, Duration: item.duration, Status: orchestdomain.ActivityCompleted,
		EntitiesProcessed: item.entitiesProcessed, ResultDataSize: len(item.result.SerializedData),
	}
	if err := r.bus.Publish(ctx, r.cfg.ExecutedEventSubject, item.ids.CorrelationID, event); err != nil {
		r.logger.Errorf(lctx, "failed to publish ActivityExecutedEvent: %v", err)
		return
	}
	r.metrics.RecordEventPublished(ctx, "completed")
}

// resolveValidationParams implements §4.7.3 step 1: a PluginAssignment
// overrides the processor's own schemas and validation toggles for this
// step.
func (r *Runtime) resolveValidationParams(ctx context.Context, entities []orchestdomain.Assignment) (inputDef, outputDef string, enableInput, enableOutput bool) {
	enableInput, enableOutput = r.cfg.EnableInputValidation, r.cfg.EnableOutputValidation
	var inputSchemaID, outputSchemaID string

	for _, e := range entities {
		if e.IsPlugin() {
			if e.InputSchemaDefinition != "" {
				inputDef = e.InputSchemaDefinition
			}
			if e.OutputSchemaDefinition != "" {
				outputDef = e.OutputSchemaDefinition
			}
			enableInput = e.EnableInputValidation
			enableOutput = e.EnableOutputValidation
			break
		}
	}

	if inputDef == "" && enableInput {
		if inputSchemaID = r.cfg.InputSchemaID; inputSchemaID != "" {
			if def, err := r.schemaDefinition(ctx, inputSchemaID); err == nil {
				inputDef = def
			} else {
				enableInput = false
			}
		} else {
			enableInput = false
		}
	}
	if outputDef == "" && enableOutput {
		if outputSchemaID = r.cfg.OutputSchemaID; outputSchemaID != "" {
			if def, err := r.schemaDefinition(ctx, outputSchemaID); err == nil {
				outputDef = def
			} else {
				enableOutput = false
			}
		} else {
			enableOutput = false
		}
	}
	return inputDef, outputDef, enableInput, enableOutput
}

func firstError(res schemavalidate.Result) string {
	if len(res.Errors) == 0 {
		return "validation failed"
	}
	return res.Errors[0]
}

// Sample implements healthmonitor.Sampler, aggregating these subchecks:
// initialization, input and output schema availability, schema-id match,
// implementation hash, and cache health. Bus connectivity is not checked.
// The overall status is Healthy iff every subcheck passes.
func (r *Runtime) Sample(ctx context.Context) (orchestdomain.HealthStatus, string, map[string]any, error) {
	f := r.flags.snapshot()

	checks := map[string]any{
		"initialized":             f.isInitialized,
		"initializing":            f.isInitializing,
		"inputSchemaHealthy":      f.inputSchemaHealthy,
		"outputSchemaHealthy":     f.outputSchemaHealthy,
		"schemaIdsValid":          f.schemaIDsValid,
		"implementationHashValid": f.implementationHashValid,
	}

	var failing []string
	if !f.isInitialized {
		failing = append(failing, "initialization incomplete")
	}
	if !f.inputSchemaHealthy {
		failing = append(failing, "input schema unavailable")
	}
	if !f.outputSchemaHealthy {
		failing = append(failing, "output schema unavailable")
	}
	if !f.schemaIDsValid {
		failing = append(failing, "schema id mismatch")
	}
	if !f.implementationHashValid {
		failing = append(failing, "implementation hash mismatch")
	}
	if r.cache != nil && !r.cache.IsHealthy(ctx) {
		failing = append(failing, "cache unavailable")
	}

	if len(failing) == 0 {
		return orchestdomain.HealthHealthy, "ok", checks, nil
	}
	message := "unhealthy: " + joinComma(failing)
	return orchestdomain.HealthUnhealthy, message, checks, nil
}

func joinComma(items []string) string {
	out := ""
	for i, s := range items {
		if i > 0 {
			out += ", "
		}
		out += s
	}
	return out
}
