package cronsched

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
)

// RearmFunc re-runs the orchestration start path for flowID with the
// preserved correlationID, per §4.5.
type RearmFunc func(ctx context.Context, flowID, correlationID string) error

// Job is the registry's view of one armed schedule.
type Job struct {
	FlowID            string
	CronExpression    string
	CorrelationID     string
	IsOneTimeExecution bool
	entryID           cron.EntryID
}

// Scheduler maintains the flowId -> job mapping described in §4.5. It is
// safe for concurrent use; the underlying cron.Cron instance owns its own
// goroutine for firing jobs.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	jobs    map[string]*Job
	rearm   RearmFunc
	metrics *Metrics
	parser  cron.Parser
}

// New builds a Scheduler. rearm is invoked on every fire; jobs only fire
// once Run has been called.
func New(rearm RearmFunc, metrics *Metrics) *Scheduler {
	parser := cron.NewParser(
		cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)
	return &Scheduler{
		cron:    cron.New(cron.WithParser(parser)),
		jobs:    make(map[string]*Job),
		rearm:   rearm,
		metrics: metrics,
		parser:  parser,
	}
}

// Run starts the underlying cron dispatcher goroutine. Call once at process
// start.
func (s *Scheduler) Run() { s.cron.Start() }

// Shutdown stops the dispatcher, waiting for any running job to return.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	<-s.cron.Stop().Done()
	return ctx.Err()
}

// normalizeExpr maps the Quartz-style "?" wildcard (used in day-of-month and
// day-of-week fields by the spec's literal examples, e.g. "0 */5 * * * ?")
// onto "*", which is what robfig/cron's parser accepts; the two are
// equivalent in every cron expression this scheduler is asked to validate,
// since "?" only ever appears in fields the spec's examples leave
// unconstrained.
func normalizeExpr(expr string) string {
	fields := strings.Fields(expr)
	for i, f := range fields {
		if f == "?" {
			fields[i] = "*"
		}
	}
	return strings.Join(fields, " ")
}

// Validate reports whether expr is a cron expression this scheduler accepts.
func (s *Scheduler) Validate(expr string) error {
	if strings.TrimSpace(expr) == "" {
		return NewCronError("validate", ErrCodeInvalidExpression, "cron expression must not be empty", nil)
	}
	if _, err := s.parser.Parse(normalizeExpr(expr)); err != nil {
		return NewCronError("validate", ErrCodeInvalidExpression, "cron expression is invalid", err)
	}
	return nil
}

// Start arms a new job for flowID. It rejects if flowID is already present
// or if expr is invalid.
func (s *Scheduler) Start(ctx context.Context, flowID, expr, correlationID string, oneTime bool) error {
	if err := s.Validate(expr); err != nil {
		return err
	}
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[flowID]; exists {
		return NewCronError("start", ErrCodeAlreadyScheduled, "flow already has an armed schedule", nil)
	}

	job := &Job{FlowID: flowID, CronExpression: expr, CorrelationID: correlationID, IsOneTimeExecution: oneTime}
	entryID, err := s.cron.AddFunc(normalizeExpr(expr), func() { s.fire(flowID) })
	if err != nil {
		return NewCronError("start", ErrCodeInvalidExpression, "failed to register cron job", err)
	}
	job.entryID = entryID
	s.jobs[flowID] = job
	s.metrics.RecordArm(context.Background(), flowID)
	return nil
}

func (s *Scheduler) fire(flowID string) {
	s.mu.Lock()
	job, ok := s.jobs[flowID]
	s.mu.Unlock()
	if !ok {
		return
	}
	s.metrics.RecordFire(context.Background(), flowID)

	if s.rearm != nil {
		_ = s.rearm(context.Background(), flowID, job.CorrelationID)
	}

	if job.IsOneTimeExecution {
		_ = s.Stop(flowID)
	}
}

// Stop removes flowID's job, rejecting if absent.
func (s *Scheduler) Stop(flowID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[flowID]
	if !ok {
		return NewCronError("stop", ErrCodeNotScheduled, "flow has no armed schedule", nil)
	}
	s.cron.Remove(job.entryID)
	delete(s.jobs, flowID)
	s.metrics.RecordStop(context.Background(), flowID)
	return nil
}

// Update replaces flowID's trigger if present, else starts a new one.
func (s *Scheduler) Update(ctx context.Context, flowID, expr, correlationID string, oneTime bool) error {
	s.mu.Lock()
	_, exists := s.jobs[flowID]
	s.mu.Unlock()
	if exists {
		if err := s.Stop(flowID); err != nil {
			return err
		}
	}
	return s.Start(ctx, flowID, expr, correlationID, oneTime)
}

// IsRunning reports whether flowID currently has an armed job.
func (s *Scheduler) IsRunning(flowID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[flowID]
	return ok
}

// GetCronExpression returns flowID's armed cron expression, if any.
func (s *Scheduler) GetCronExpression(flowID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[flowID]
	if !ok {
		return "", false
	}
	return job.CronExpression, true
}

// NextFireTime returns the next scheduled fire time for flowID, if armed.
func (s *Scheduler) NextFireTime(flowID string) (time.Time, bool) {
	s.mu.Lock()
	job, ok := s.jobs[flowID]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	entry := s.cron.Entry(job.entryID)
	return entry.Next, true
}

// ListScheduled returns the flow ids currently armed.
func (s *Scheduler) ListScheduled() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	return ids
}
