// Package permission holds the tool permission vocabulary shared by the
// bridge and the session backends: permission modes, verdicts and
// pattern rules over tool names.
package permission

import (
	"context"
	"fmt"
)

// Mode controls how the external agent runtime treats tool use before the
// permission callback is consulted. Values are the wire names understood by
// agent CLIs.
type Mode string

const (
	ModeDefault           Mode = "default"           // read=allow, everything else asks the callback
	ModeAcceptEdits       Mode = "acceptEdits"       // read+write=allow, shell asks
	ModeBypassPermissions Mode = "bypassPermissions" // all=allow
	ModePlan              Mode = "plan"              // read=allow, write+shell=deny
)

// ParseMode validates a mode name. The empty string maps to ModeDefault.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "":
		return ModeDefault, nil
	case ModeDefault, ModeAcceptEdits, ModeBypassPermissions, ModePlan:
		return Mode(s), nil
	}
	return "", fmt.Errorf("permission: unknown mode %q", s)
}

// Behavior is the outcome carried by a Verdict.
type Behavior string

const (
	BehaviorAllow Behavior = "allow"
	BehaviorDeny  Behavior = "deny"
)

// Verdict is the answer to a single tool-use permission request.
// Exactly one Verdict is produced per request.
type Verdict struct {
	Behavior Behavior

	// UpdatedInput is the (possibly rewritten) tool input to run with.
	// Only meaningful for Allow.
	UpdatedInput map[string]any

	// Message explains a denial.
	Message string

	// Result is the string-rendered output of a tool that was already
	// executed while deciding. Runtimes that execute tools themselves
	// ignore it; in-process runtimes feed it back to the model.
	Result string
}

// Allow returns an allowing verdict carrying input and a captured result.
func Allow(input map[string]any, result string) Verdict {
	return Verdict{Behavior: BehaviorAllow, UpdatedInput: input, Result: result}
}

// Deny returns a denying verdict with the given reason.
func Deny(message string) Verdict {
	return Verdict{Behavior: BehaviorDeny, Message: message}
}

// Allowed reports whether the verdict permits the tool use.
func (v Verdict) Allowed() bool {
	return v.Behavior == BehaviorAllow
}

// Func is the permission/execution callback invoked by an agent runtime
// whenever it wants to use a tool. It must not panic and must always return
// a verdict.
type Func func(ctx context.Context, toolName string, input map[string]any) Verdict
