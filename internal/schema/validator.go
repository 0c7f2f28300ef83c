// Package schema validates wizard step submissions against JSON Schemas.
// Compiled schemas are cached; step schemas are static but the cache keeps
// compilation off the request path.
package schema

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	js "github.com/santhosh-tekuri/jsonschema/v5"
)

// Validator compiles and caches JSON Schemas keyed by name.
type Validator struct {
	compiler *js.Compiler
	cache    *expirable.LRU[string, *js.Schema]
}

func NewValidator(maxSize int) *Validator {
	c := js.NewCompiler()
	c.ExtractAnnotations = true

	return &Validator{
		compiler: c,
		cache:    expirable.NewLRU[string, *js.Schema](maxSize, nil, time.Hour),
	}
}

func (v *Validator) compiled(name string, schema map[string]interface{}) (*js.Schema, error) {
	if s, ok := v.cache.Get(name); ok {
		return s, nil
	}

	schemaBytes, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema %s: %w", name, err)
	}

	resourceURL := fmt.Sprintf("mem://steps/%s.json", name)
	if err := v.compiler.AddResource(resourceURL, bytes.NewReader(schemaBytes)); err != nil {
		return nil, fmt.Errorf("failed to add schema %s: %w", name, err)
	}

	compiled, err := v.compiler.Compile(resourceURL)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	v.cache.Add(name, compiled)
	return compiled, nil
}

// Validate checks fields against the named schema. A validation failure is
// returned verbatim so callers can surface field-level messages.
func (v *Validator) Validate(ctx context.Context, name string, schema map[string]interface{}, fields map[string]string) error {
	compiled, err := v.compiled(name, schema)
	if err != nil {
		return err
	}

	// jsonschema validates decoded JSON values, not Go maps of strings.
	raw := make(map[string]interface{}, len(fields))
	for k, val := range fields {
		raw[k] = val
	}

	if err := compiled.Validate(raw); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return nil
}
