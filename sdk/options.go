package sdk

import "github.com/armatrix/agent-bridge/permission"

// ToolDeclaration describes a tool in the shape agent runtimes expect.
type ToolDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// Options configures one session.
type Options struct {
	// MaxTurns bounds the number of model turns in the session (0 = runtime default).
	MaxTurns int

	// PermissionMode is passed through to the runtime.
	PermissionMode permission.Mode

	// WorkingDirectory is where the runtime executes.
	WorkingDirectory string

	// CLIPath overrides the agent binary used by CLI-backed runtimes.
	CLIPath string

	// Model optionally selects the model. Empty lets the runtime decide.
	Model string

	// AllowedTools and DisallowedTools are tool-name glob patterns.
	// DisallowedTools of ["*"] disables all tools.
	AllowedTools    []string
	DisallowedTools []string

	// Tools declares the framework tools with their schemas. Runtimes that
	// cannot register custom tools ignore it.
	Tools []ToolDeclaration

	// CanUseTool is invoked by the runtime before each tool use. Nil means
	// the runtime applies PermissionMode on its own.
	CanUseTool permission.Func
}

// ToolRules returns the permission rules implied by the allow/deny lists.
func (o Options) ToolRules() []permission.Rule {
	return permission.RulesFor(o.AllowedTools, o.DisallowedTools)
}
