// Package schemavalidate implements the schema validator component (C3):
// compiling and evaluating JSON Schemas with a content-hash-keyed cache of
// compiled schemas, grounded on github.com/santhosh-tekuri/jsonschema/v6
// (used as a direct dependency in sibling repos of the retrieval pack).
package schemavalidate

import (
	"errors"
	"fmt"
)

// Error codes for schema-validator operations.
const (
	ErrCodeInvalidConfig   = "invalid_config"
	ErrCodeCompileFailed   = "schema_compile_failed"
	ErrCodeValidationFailed = "validation_failed"
)

// SchemaError represents an error that occurred compiling or evaluating a
// schema.
type SchemaError struct {
	Op      string
	Err     error
	Code    string
	Message string
}

func (e *SchemaError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("schemavalidate %s: %s (code: %s)", e.Op, e.Message, e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("schemavalidate %s: %v (code: %s)", e.Op, e.Err, e.Code)
	}
	return fmt.Sprintf("schemavalidate %s: unknown error (code: %s)", e.Op, e.Code)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// NewSchemaError builds a SchemaError.
func NewSchemaError(op, code, message string, err error) *SchemaError {
	return &SchemaError{Op: op, Code: code, Message: message, Err: err}
}

// IsSchemaError reports whether err is (or wraps) a SchemaError.
func IsSchemaError(err error) bool {
	var se *SchemaError
	return errors.As(err, &se)
}
