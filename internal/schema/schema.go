// Package schema derives JSON schemas for tool parameters from Go types and
// validates tool input against them.
package schema

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

var reflector = jsonschema.Reflector{
	Anonymous:                 true,
	DoNotReference:            true,
	ExpandedStruct:            true,
	AllowAdditionalProperties: true,
}

// Generate produces an object schema from a Go struct type T as a plain map,
// the form tool declarations carry. Struct tags (json, jsonschema) drive it.
func Generate[T any]() map[string]any {
	var zero T
	data, err := json.Marshal(reflector.Reflect(&zero))
	if err != nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}

	delete(out, "$schema")
	delete(out, "$id")
	out["type"] = "object"
	if _, ok := out["properties"]; !ok {
		out["properties"] = map[string]any{}
	}
	tidy(out)
	return out
}

// tidy rewrites decoded schema nodes in place: required lists become
// []string and nullable anyOf pairs collapse to their non-null type.
func tidy(node map[string]any) {
	if req, ok := node["required"].([]any); ok {
		names := make([]string, 0, len(req))
		for _, r := range req {
			if s, ok := r.(string); ok {
				names = append(names, s)
			}
		}
		node["required"] = names
	}

	if alts, ok := node["anyOf"].([]any); ok && node["type"] == nil {
		for _, alt := range alts {
			m, ok := alt.(map[string]any)
			if !ok || m["type"] == "null" {
				continue
			}
			for k, v := range m {
				if _, set := node[k]; !set {
					node[k] = v
				}
			}
			delete(node, "anyOf")
			break
		}
	}

	if props, ok := node["properties"].(map[string]any); ok {
		for _, p := range props {
			if m, ok := p.(map[string]any); ok {
				tidy(m)
			}
		}
	}
	if items, ok := node["items"].(map[string]any); ok {
		tidy(items)
	}
}
