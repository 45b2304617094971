package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"github.com/armatrix/agent-bridge/internal/schema"
	"github.com/armatrix/agent-bridge/internal/tokens"
	"github.com/armatrix/agent-bridge/sdk"
)

// Tool is a framework tool. Execute receives the runtime's tool input as
// keyword arguments; its result is rendered to text for the runtime.
type Tool interface {
	Name() string
	Description() string
	// Parameters is the JSON schema of the arguments. Nil accepts anything.
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) (any, error)
}

// funcTool adapts a function to Tool.
type funcTool struct {
	name        string
	description string
	parameters  map[string]any
	execute     func(ctx context.Context, args map[string]any) (any, error)
}

func (t *funcTool) Name() string               { return t.name }
func (t *funcTool) Description() string        { return t.description }
func (t *funcTool) Parameters() map[string]any { return t.parameters }

func (t *funcTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	return t.execute(ctx, args)
}

// NewFuncTool builds a Tool from a schema and a function.
func NewFuncTool(name, description string, parameters map[string]any, fn func(ctx context.Context, args map[string]any) (any, error)) Tool {
	return &funcTool{name: name, description: description, parameters: parameters, execute: fn}
}

// NewTypedTool builds a Tool whose schema is generated from T and whose
// arguments are decoded into a T before fn runs.
func NewTypedTool[T any](name, description string, fn func(ctx context.Context, input T) (any, error)) Tool {
	return &funcTool{
		name:        name,
		description: description,
		parameters:  schema.Generate[T](),
		execute: func(ctx context.Context, args map[string]any) (any, error) {
			raw, err := json.Marshal(args)
			if err != nil {
				return nil, fmt.Errorf("encode arguments: %w", err)
			}
			var input T
			if err := json.Unmarshal(raw, &input); err != nil {
				return nil, fmt.Errorf("invalid input: %w", err)
			}
			return fn(ctx, input)
		},
	}
}

// ToolParam returns the OpenAI function-tool form of t.
func ToolParam(t Tool) openai.Tool {
	return openai.Tool{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		},
	}
}

// Declarations converts tools into runtime declarations, in order. A tool
// that cannot be converted is skipped and reported as a *ToolConversionError;
// the others are still returned.
func Declarations(tools []Tool) ([]sdk.ToolDeclaration, []error) {
	set, errs := newToolSet(tools)
	return set.decls, errs
}

// BuildLookup maps tool names to tools. The first tool with a given name
// wins; nil and unnamed tools are left out.
func BuildLookup(tools []Tool) map[string]Tool {
	lookup := make(map[string]Tool, len(tools))
	for _, t := range tools {
		if t == nil || t.Name() == "" {
			continue
		}
		if _, dup := lookup[t.Name()]; !dup {
			lookup[t.Name()] = t
		}
	}
	return lookup
}

// AllowedNames returns the distinct tool names in order.
func AllowedNames(tools []Tool) []string {
	seen := make(map[string]bool, len(tools))
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		if t == nil || t.Name() == "" || seen[t.Name()] {
			continue
		}
		seen[t.Name()] = true
		names = append(names, t.Name())
	}
	return names
}

// DeclarationsFromOpenAI converts OpenAI-format tool params into runtime
// declarations. Entries that are not function tools, or whose parameters are
// not a JSON object, are skipped and reported.
func DeclarationsFromOpenAI(tools []openai.Tool) ([]sdk.ToolDeclaration, []error) {
	decls := make([]sdk.ToolDeclaration, 0, len(tools))
	var errs []error

	for i, t := range tools {
		if t.Type != openai.ToolTypeFunction || t.Function == nil || t.Function.Name == "" {
			errs = append(errs, &ToolConversionError{
				Tool: fmt.Sprintf("#%d", i),
				Err:  fmt.Errorf("unexpected tool parameter format (type %q)", t.Type),
			})
			continue
		}
		params, err := schemaMap(t.Function.Parameters)
		if err != nil {
			errs = append(errs, &ToolConversionError{Tool: t.Function.Name, Err: err})
			continue
		}
		decls = append(decls, sdk.ToolDeclaration{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			InputSchema: params,
		})
	}
	return decls, errs
}

// schemaMap normalizes a parameters value (map, jsonschema.Definition,
// json.RawMessage, ...) to a plain map. Nil becomes an empty map.
func schemaMap(v any) (map[string]any, error) {
	switch p := v.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return p, nil
	}
	raw, ok := v.(json.RawMessage)
	if !ok {
		var err error
		if raw, err = json.Marshal(v); err != nil {
			return nil, fmt.Errorf("encode parameters: %w", err)
		}
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("parameters are not a JSON object: %w", err)
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

// toolSet is an installed tool configuration. It is immutable once built and
// replaced as a whole when tools change.
type toolSet struct {
	tools      []Tool // converted tools, in order
	decls      []sdk.ToolDeclaration
	lookup     map[string]Tool
	validators map[string]*schema.Validator
	tokenCost  int // estimated tokens of the tool params
}

var errDuplicateTool = errors.New("duplicate tool name")

func newToolSet(tools []Tool) (*toolSet, []error) {
	set := &toolSet{
		lookup:     make(map[string]Tool, len(tools)),
		validators: make(map[string]*schema.Validator, len(tools)),
	}
	var errs []error

	for i, t := range tools {
		if t == nil {
			errs = append(errs, &ToolConversionError{Tool: fmt.Sprintf("#%d", i), Err: errors.New("nil tool")})
			continue
		}
		name := t.Name()
		if name == "" {
			errs = append(errs, &ToolConversionError{Tool: fmt.Sprintf("#%d", i), Err: errors.New("empty tool name")})
			continue
		}
		if _, dup := set.lookup[name]; dup {
			errs = append(errs, &ToolConversionError{Tool: name, Err: errDuplicateTool})
			continue
		}

		params, err := schemaMap(t.Parameters())
		if err != nil {
			errs = append(errs, &ToolConversionError{Tool: name, Err: err})
			continue
		}
		v, err := schema.Compile(name, params)
		if err != nil {
			errs = append(errs, &ToolConversionError{Tool: name, Err: err})
			continue
		}
		raw, err := json.Marshal(ToolParam(t))
		if err != nil {
			errs = append(errs, &ToolConversionError{Tool: name, Err: err})
			continue
		}

		set.tools = append(set.tools, t)
		set.decls = append(set.decls, sdk.ToolDeclaration{Name: name, Description: t.Description(), InputSchema: params})
		set.lookup[name] = t
		set.validators[name] = v
		set.tokenCost += tokens.Estimate(string(raw))
	}
	return set, errs
}

func (s *toolSet) empty() bool { return s == nil || len(s.tools) == 0 }

func (s *toolSet) names() []string {
	if s == nil {
		return nil
	}
	return AllowedNames(s.tools)
}
