// Package bus implements the message-bus component (C2): fire-and-forget
// publish and request/response with timeout over NATS, with correlation-id
// propagation through message headers and OpenTelemetry baggage.
package bus

import (
	"errors"
	"fmt"
)

// Error codes for bus operations.
const (
	ErrCodeInvalidConfig = "invalid_config"
	ErrCodeConnection    = "connection_error"
	ErrCodePublishFailed = "publish_failed"
	ErrCodeRequestTimeout = "request_timeout"
	ErrCodeDecodeFailed  = "decode_failed"
)

// BusError represents an error that occurred during a bus operation.
type BusError struct {
	Op      string
	Err     error
	Code    string
	Message string
}

func (e *BusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("bus %s: %s (code: %s)", e.Op, e.Message, e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("bus %s: %v (code: %s)", e.Op, e.Err, e.Code)
	}
	return fmt.Sprintf("bus %s: unknown error (code: %s)", e.Op, e.Code)
}

func (e *BusError) Unwrap() error { return e.Err }

// NewBusError builds a BusError.
func NewBusError(op, code, message string, err error) *BusError {
	return &BusError{Op: op, Code: code, Message: message, Err: err}
}

// IsBusError reports whether err is (or wraps) a BusError.
func IsBusError(err error) bool {
	var be *BusError
	return errors.As(err, &be)
}
