package schema

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Validator checks values against one compiled schema.
type Validator struct {
	compiled *jsonschema.Schema
}

// Compile compiles a schema map. name identifies the schema in error messages.
// A nil or empty schema accepts anything.
func Compile(name string, schema map[string]any) (*Validator, error) {
	if len(schema) == 0 {
		return &Validator{}, nil
	}
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("encode schema %s: %w", name, err)
	}
	compiled, err := jsonschema.CompileString(name+".schema.json", string(raw))
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return &Validator{compiled: compiled}, nil
}

// Validate checks v. Values are normalized through JSON first so Go numeric
// and struct types validate the same way decoded JSON does.
func (v *Validator) Validate(value any) error {
	if v == nil || v.compiled == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode input: %w", err)
	}
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return fmt.Errorf("decode input: %w", err)
	}
	return v.compiled.Validate(decoded)
}
