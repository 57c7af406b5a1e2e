// Package cronsched implements the cron scheduler component (C5): a
// registry mapping flow id to a cron-triggered job that re-arms an
// orchestration start while preserving the originally captured correlation
// id, grounded on github.com/robfig/cron/v3 (an indirect dependency of the
// pack sibling repo kluzzebass-gastrolog, promoted here to direct). The
// scheduler accepts 5-field expressions and 6-field expressions with a
// leading seconds field; a 7-field expression with a year field is rejected.
package cronsched

import (
	"errors"
	"fmt"
)

// Error codes for cron-scheduler operations.
const (
	ErrCodeInvalidExpression = "invalid_cron_expression"
	ErrCodeAlreadyScheduled  = "already_scheduled"
	ErrCodeNotScheduled      = "not_scheduled"
)

// CronError represents an error that occurred registering or firing a job.
type CronError struct {
	Op      string
	Err     error
	Code    string
	Message string
}

func (e *CronError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("cronsched %s: %s (code: %s)", e.Op, e.Message, e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("cronsched %s: %v (code: %s)", e.Op, e.Err, e.Code)
	}
	return fmt.Sprintf("cronsched %s: unknown error (code: %s)", e.Op, e.Code)
}

func (e *CronError) Unwrap() error { return e.Err }

// NewCronError builds a CronError.
func NewCronError(op, code, message string, err error) *CronError {
	return &CronError{Op: op, Code: code, Message: message, Err: err}
}

// IsCronError reports whether err is (or wraps) a CronError.
func IsCronError(err error) bool {
	var ce *CronError
	return errors.As(err, &ce)
}
