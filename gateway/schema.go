// Copyright 2025 AgentGate
// SPDX-License-Identifier: Apache-2.0

package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// compileInputSchema compiles a descriptor's input schema once at snapshot
// load time. Schemas live in catalog rows as JSON Schema documents.
func compileInputSchema(d *CapabilityDescriptor) error {
	if len(d.InputSchema) == 0 {
		return nil
	}

	compiler := jsonschema.NewCompiler()
	url := "catalog:///" + d.Method() + ".json"
	if err := compiler.AddResource(url, bytes.NewReader(d.InputSchema)); err != nil {
		return fmt.Errorf("invalid input schema for %s: %w", d.Method(), err)
	}

	schema, err := compiler.Compile(url)
	if err != nil {
		return fmt.Errorf("failed to compile input schema for %s: %w", d.Method(), err)
	}

	d.compiledSchema = schema
	return nil
}

// validateParams checks raw request params against the descriptor's
// compiled schema and returns the decoded params object. A descriptor
// without a schema accepts any object (including absent params).
func validateParams(d *CapabilityDescriptor, raw json.RawMessage) (map[string]interface{}, error) {
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}

	var decoded interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, fmt.Errorf("params are not valid JSON: %w", err)
	}

	params, ok := decoded.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("params must be a JSON object")
	}

	if d.compiledSchema != nil {
		if err := d.compiledSchema.Validate(decoded); err != nil {
			var ve *jsonschema.ValidationError
			if ok := asValidationError(err, &ve); ok {
				// BasicOutput flattens the cause tree into something a
				// caller can act on without reading the whole schema.
				out := ve.BasicOutput()
				for _, unit := range out.Errors {
					if unit.Error != "" && unit.InstanceLocation != "" {
						return nil, fmt.Errorf("params failed schema validation at %s: %s", unit.InstanceLocation, unit.Error)
					}
				}
			}
			return nil, fmt.Errorf("params failed schema validation: %v", err)
		}
	}

	return params, nil
}

func asValidationError(err error, target **jsonschema.ValidationError) bool {
	ve, ok := err.(*jsonschema.ValidationError)
	if ok {
		*target = ve
	}
	return ok
}
