// Package managerclient implements the resilient manager HTTP client (C4):
// typed GET/POST over entity-manager services, composing exponential-backoff
// retry (github.com/cenkalti/backoff/v5) with a circuit breaker
// (github.com/sony/gobreaker), grounded on the pack sibling repo
// jordigilh-kubernaut which takes the same gobreaker dependency.
package managerclient

import (
	"errors"
	"fmt"
)

// Error codes for manager-client operations.
const (
	ErrCodeInvalidConfig    = "invalid_config"
	ErrCodeRequestFailed    = "request_failed"
	ErrCodeUnavailable      = "temporarily_unavailable"
	ErrCodeNotFound         = "not_found"
	ErrCodeConflict         = "conflict"
	ErrCodeBadRequest       = "bad_request"
	ErrCodeServiceUnavailable = "validation_service_unavailable"
)

// ManagerClientError represents an error returned by a manager HTTP call.
type ManagerClientError struct {
	Op         string
	Err        error
	Code       string
	Message    string
	StatusCode int
}

func (e *ManagerClientError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("managerclient %s: %s (code: %s, status: %d)", e.Op, e.Message, e.Code, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("managerclient %s: %v (code: %s, status: %d)", e.Op, e.Err, e.Code, e.StatusCode)
	}
	return fmt.Sprintf("managerclient %s: unknown error (code: %s, status: %d)", e.Op, e.Code, e.StatusCode)
}

func (e *ManagerClientError) Unwrap() error { return e.Err }

// NewManagerClientError builds a ManagerClientError.
func NewManagerClientError(op, code, message string, status int, err error) *ManagerClientError {
	return &ManagerClientError{Op: op, Code: code, Message: message, StatusCode: status, Err: err}
}

// IsUnavailable reports whether err indicates the breaker is open or the
// validation service is unreachable — callers must fail closed on this.
func IsUnavailable(err error) bool {
	var mce *ManagerClientError
	if errors.As(err, &mce) {
		return mce.Code == ErrCodeUnavailable || mce.Code == ErrCodeServiceUnavailable
	}
	return false
}

// IsNotFound reports whether err represents a 404/null lookup.
func IsNotFound(err error) bool {
	var mce *ManagerClientError
	if errors.As(err, &mce) {
		return mce.Code == ErrCodeNotFound
	}
	return false
}

// IsConflict reports whether err represents a 409 reference conflict.
func IsConflict(err error) bool {
	var mce *ManagerClientError
	if errors.As(err, &mce) {
		return mce.Code == ErrCodeConflict
	}
	return false
}
