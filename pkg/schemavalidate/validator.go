package schemavalidate

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Result is the outcome of one validation call, matching §4.3's contract.
type Result struct {
	Valid          bool
	Errors         []string
	FirstErrorPath string
	Duration       time.Duration
}

// Validator evaluates JSON instances against JSON Schemas, keeping a
// content-hash-keyed cache of compiled schemas so repeated validations
// against the same schema text skip recompilation.
type Validator struct {
	mu      sync.RWMutex
	compiled map[string]*jsonschema.Schema
	metrics  *Metrics
}

// New builds an empty Validator.
func New(metrics *Metrics) *Validator {
	return &Validator{
		compiled: make(map[string]*jsonschema.Schema),
		metrics:  metrics,
	}
}

func contentHash(definition string) string {
	sum := sha256.Sum256([]byte(definition))
	return hex.EncodeToString(sum[:])
}

func (v *Validator) compile(definition string) (*jsonschema.Schema, error) {
	key := contentHash(definition)

	v.mu.RLock()
	sch, ok := v.compiled[key]
	v.mu.RUnlock()
	if ok {
		return sch, nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if sch, ok = v.compiled[key]; ok {
		return sch, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(definition))
	if err != nil {
		return nil, NewSchemaError("compile", ErrCodeCompileFailed, "schema definition is not valid JSON", err)
	}

	compiler := jsonschema.NewCompiler()
	resourceURL := "mem://schema/" + key
	if err := compiler.AddResource(resourceURL, doc); err != nil {
		return nil, NewSchemaError("compile", ErrCodeCompileFailed, "failed to register schema resource", err)
	}
	sch, err = compiler.Compile(resourceURL)
	if err != nil {
		return nil, NewSchemaError("compile", ErrCodeCompileFailed, "failed to compile schema", err)
	}
	v.compiled[key] = sch
	return sch, nil
}

// Validate evaluates instance (a raw JSON document) against definition (a
// raw JSON Schema document). An empty instance against a schema that
// requires content yields a validation failure, never an operational error,
// per §4.3.
func (v *Validator) Validate(ctx context.Context, schemaName, definition, instance string) (Result, error) {
	start := time.Now()

	sch, err := v.compile(definition)
	if err != nil {
		v.metrics.RecordCacheLookup(ctx, false)
		return Result{}, err
	}
	v.metrics.RecordCacheLookup(ctx, true)

	inst, decodeErr := jsonschema.UnmarshalJSON(strings.NewReader(instance))
	if decodeErr != nil {
		// Malformed or empty instance content is a validation failure, not
		// a validator-internal error.
		res := Result{
			Valid:          false,
			Errors:         []string{"instance is not valid JSON: " + decodeErr.Error()},
			FirstErrorPath: "",
			Duration:       time.Since(start),
		}
		v.metrics.RecordValidation(ctx, schemaName, start, false)
		return res, nil
	}

	if err := sch.Validate(inst); err != nil {
		res := Result{
			Valid:    false,
			Duration: time.Since(start),
		}
		if ve, ok := err.(*jsonschema.ValidationError); ok {
			res.Errors = flattenValidationErrors(ve)
			res.FirstErrorPath = firstErrorPath(ve)
		} else {
			res.Errors = []string{err.Error()}
		}
		v.metrics.RecordValidation(ctx, schemaName, start, false)
		return res, nil
	}

	v.metrics.RecordValidation(ctx, schemaName, start, true)
	return Result{Valid: true, Duration: time.Since(start)}, nil
}

func flattenValidationErrors(ve *jsonschema.ValidationError) []string {
	var out []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		out = append(out, e.Error())
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(ve)
	return out
}

func firstErrorPath(ve *jsonschema.ValidationError) string {
	cur := ve
	for len(cur.Causes) > 0 {
		cur = cur.Causes[0]
	}
	loc := cur.InstanceLocation
	return strings.Join(loc, "/")
}
