package schemavalidate

import (
	"context"
	"testing"
)

const personSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["name"],
	"properties": {
		"name": {"type": "string"}
	}
}`

func TestValidator_ValidInstance(t *testing.T) {
	v := New(nil)
	res, err := v.Validate(context.Background(), "person", personSchema, `{"name":"ada"}`)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if !res.Valid {
		t.Fatalf("Validate() valid = false, errors = %v", res.Errors)
	}
}

func TestValidator_InvalidInstanceReportsPath(t *testing.T) {
	v := New(nil)
	res, err := v.Validate(context.Background(), "person", personSchema, `{}`)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if res.Valid {
		t.Fatalf("Validate() valid = true, want false for missing required field")
	}
	if len(res.Errors) == 0 {
		t.Fatalf("Validate() produced no errors for invalid instance")
	}
}

func TestValidator_EmptyInstanceIsFailureNotError(t *testing.T) {
	v := New(nil)
	res, err := v.Validate(context.Background(), "person", personSchema, ``)
	if err != nil {
		t.Fatalf("Validate() error = %v, want nil (empty input is a validation failure)", err)
	}
	if res.Valid {
		t.Fatalf("Validate() valid = true for empty instance, want false")
	}
}

func TestValidator_CompileCacheReused(t *testing.T) {
	v := New(nil)
	if _, err := v.Validate(context.Background(), "person", personSchema, `{"name":"a"}`); err != nil {
		t.Fatalf("first Validate() error = %v", err)
	}
	if len(v.compiled) != 1 {
		t.Fatalf("compiled cache size = %d after first call, want 1", len(v.compiled))
	}
	if _, err := v.Validate(context.Background(), "person", personSchema, `{"name":"b"}`); err != nil {
		t.Fatalf("second Validate() error = %v", err)
	}
	if len(v.compiled) != 1 {
		t.Fatalf("compiled cache size = %d after second call with identical schema, want 1 (no recompile)", len(v.compiled))
	}
}
