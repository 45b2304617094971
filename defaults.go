package bridge

import (
	"time"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/armatrix/agent-bridge/permission"
)

// Session and request defaults.
const (
	// DefaultMaxTurns bounds runtime turns per session.
	DefaultMaxTurns = 20

	// DefaultPermissionMode lets the runtime act without interactive prompts;
	// tool use is still routed through the interceptor.
	DefaultPermissionMode = permission.ModeBypassPermissions

	// DefaultToolTimeout bounds an AskWithTools call that sets no Timeout.
	DefaultToolTimeout = 300 * time.Second

	// DefaultPricingModel prices usage when Config.Model is empty.
	DefaultPricingModel = anthropic.ModelClaudeSonnet4_5

	// toolsHeader introduces the tool list appended to tool-calling prompts.
	toolsHeader = "Available tools:"
)
