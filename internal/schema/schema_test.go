package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type searchInput struct {
	Query string `json:"query" jsonschema:"required,description=Search terms"`
	Limit *int   `json:"limit,omitempty" jsonschema:"description=Maximum results"`
}

type pythonInput struct {
	Code    string   `json:"code" jsonschema:"required,description=Python source to run"`
	Timeout int      `json:"timeout,omitempty"`
	Verbose bool     `json:"verbose,omitempty"`
	Args    []string `json:"args,omitempty"`
}

func TestGenerate(t *testing.T) {
	s := Generate[pythonInput]()

	assert.Equal(t, "object", s["type"])
	assert.Equal(t, []string{"code"}, s["required"])

	props, ok := s["properties"].(map[string]any)
	require.True(t, ok)

	code := props["code"].(map[string]any)
	assert.Equal(t, "string", code["type"])
	assert.Equal(t, "Python source to run", code["description"])

	assert.Equal(t, "integer", props["timeout"].(map[string]any)["type"])
	assert.Equal(t, "boolean", props["verbose"].(map[string]any)["type"])

	args := props["args"].(map[string]any)
	assert.Equal(t, "array", args["type"])
	assert.Equal(t, map[string]any{"type": "string"}, args["items"])
}

func TestGeneratePointerField(t *testing.T) {
	s := Generate[searchInput]()

	props := s["properties"].(map[string]any)
	limit, ok := props["limit"].(map[string]any)
	require.True(t, ok, "limit should be in properties")
	assert.Equal(t, "Maximum results", limit["description"])
	assert.NotContains(t, s["required"], "limit")
}

func TestGenerateJSONRoundtrip(t *testing.T) {
	data, err := json.Marshal(Generate[searchInput]())
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "object", m["type"])
	assert.NotNil(t, m["properties"])
	assert.Equal(t, []any{"query"}, m["required"])
}
