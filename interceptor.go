package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"

	"github.com/armatrix/agent-bridge/permission"
)

// Interceptor answers a runtime's permission callback by running the matching
// framework tool. The verdict signals permission; the rendered tool output
// travels in Verdict.Result for runtimes that feed it back to the model.
type Interceptor struct {
	set     *toolSet
	logger  *slog.Logger
	metrics *Metrics
}

// NewInterceptor builds an interceptor over tools. Tools that fail conversion
// are not reachable through it. Only WithLogger and WithMetrics apply.
func NewInterceptor(tools []Tool, opts ...Option) *Interceptor {
	o := resolveOptions(opts)
	set, errs := newToolSet(tools)
	for _, err := range errs {
		o.logger.Warn("tool skipped", "error", err)
	}
	return newInterceptor(set, o.logger, o.metrics)
}

func newInterceptor(set *toolSet, logger *slog.Logger, metrics *Metrics) *Interceptor {
	return &Interceptor{set: set, logger: logger, metrics: metrics}
}

// Func returns OnToolUse as a permission.Func.
func (i *Interceptor) Func() permission.Func { return i.OnToolUse }

// OnToolUse looks up name, validates input against the tool's schema, and
// executes the tool. It produces exactly one verdict and never panics: an
// unknown tool, invalid input, an execution error or a panic all become a
// denial.
func (i *Interceptor) OnToolUse(ctx context.Context, name string, input map[string]any) permission.Verdict {
	v := i.decide(ctx, name, input)
	i.metrics.recordVerdict(v.Behavior)
	return v
}

func (i *Interceptor) decide(ctx context.Context, name string, input map[string]any) permission.Verdict {
	tool, ok := i.set.lookup[name]
	if !ok {
		i.logger.Warn("tool not available", "tool", name, "available", i.set.names())
		return permission.Deny(fmt.Sprintf("Tool '%s' is not available", name))
	}

	if err := i.set.validators[name].Validate(input); err != nil {
		i.logger.Warn("tool input rejected", "tool", name, "error", err)
		return permission.Deny(fmt.Sprintf("Invalid input for tool '%s': %v", name, err))
	}

	args := maps.Clone(input)
	if args == nil {
		args = map[string]any{}
	}

	i.logger.Info("executing tool", "tool", name)
	result, err := execute(ctx, tool, maps.Clone(args))
	if err != nil {
		i.logger.Error("tool execution failed", "tool", name, "error", err)
		return permission.Deny(fmt.Sprintf("Tool execution failed: %v", err))
	}

	text := renderResult(result)
	i.logger.Info("tool executed", "tool", name, "result_len", len(text))
	return permission.Allow(args, text)
}

// execute runs the tool, converting a panic into an error.
func execute(ctx context.Context, tool Tool, args map[string]any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return tool.Execute(ctx, args)
}

// renderResult converts a tool result to text.
func renderResult(v any) string {
	switch r := v.(type) {
	case nil:
		return ""
	case string:
		return r
	case []byte:
		return string(r)
	case fmt.Stringer:
		return r.String()
	case error:
		return r.Error()
	}
	if raw, err := json.Marshal(v); err == nil {
		return string(raw)
	}
	return fmt.Sprint(v)
}
