// Package logctx implements the hierarchical logging context called for in
// the design notes: an immutable record carrying the optional identifier
// tuple, passed explicitly rather than threaded through ambient
// thread-locals. It wraps the standard library logger, matching the
// minimalism of the teacher's orchestration package rather than introducing
// a structured-logging dependency this module does not otherwise need.
package logctx

import (
	"fmt"
	"log"
	"strings"
)

// Context is an immutable, explicitly-passed bag of the identifiers that
// should annotate every log line and downstream call for one logical unit of
// work. Zero-value fields are simply omitted from rendering.
type Context struct {
	CorrelationID      string
	OrchestratedFlowID string
	WorkflowID         string
	StepID             string
	ProcessorID        string
	PublishID          string
	ExecutionID        string
}

// With returns a copy of c with the named field overridden, leaving c
// unmodified. Context values are never mutated in place.
func (c Context) With(fn func(*Context)) Context {
	cp := c
	fn(&cp)
	return cp
}

func (c Context) fields() string {
	var b strings.Builder
	add := func(k, v string) {
		if v == "" {
			return
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%s=%s", k, v)
	}
	add("correlationId", c.CorrelationID)
	add("orchestratedFlowId", c.OrchestratedFlowID)
	add("workflowId", c.WorkflowID)
	add("stepId", c.StepID)
	add("processorId", c.ProcessorID)
	add("publishId", c.PublishID)
	add("executionId", c.ExecutionID)
	return b.String()
}

// Logger emits log lines annotated with a Context's identifier tuple.
type Logger struct {
	out *log.Logger
}

// New builds a Logger writing through the standard library's default
// destination conventions (stderr, with timestamp prefix).
func New() *Logger {
	return &Logger{out: log.Default()}
}

// Infof logs an informational line annotated with ctx's identifiers.
func (l *Logger) Infof(ctx Context, format string, args ...any) {
	l.print("INFO", ctx, format, args...)
}

// Warnf logs a warning line annotated with ctx's identifiers.
func (l *Logger) Warnf(ctx Context, format string, args ...any) {
	l.print("WARN", ctx, format, args...)
}

// Errorf logs an error line annotated with ctx's identifiers.
func (l *Logger) Errorf(ctx Context, format string, args ...any) {
	l.print("ERROR", ctx, format, args...)
}

func (l *Logger) print(level string, ctx Context, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if f := ctx.fields(); f != "" {
		l.out.Printf("[%s] %s %s", level, f, msg)
		return
	}
	l.out.Printf("[%s] %s", level, msg)
}
