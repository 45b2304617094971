// Package sdktest provides a scripted sdk.Opener for tests.
package sdktest

import (
	"context"
	"sync"

	"github.com/armatrix/agent-bridge/permission"
	"github.com/armatrix/agent-bridge/sdk"
)

// Call records one Open invocation.
type Call struct {
	Prompt  string
	Options sdk.Options
}

// ToolUse records one permission request made through Options.CanUseTool.
type ToolUse struct {
	Name    string
	Input   map[string]any
	Verdict permission.Verdict
}

// Opener replays scripted events. Each Open consumes the next script; the
// last script is reused once the list is exhausted. For every tool-use block
// in an emitted assistant event, Opener asks Options.CanUseTool (when set)
// right after emitting the event, the way agent runtimes schedule
// permission checks.
type Opener struct {
	// OpenErr, if set, is returned by Open.
	OpenErr error

	// StreamErr, if set, ends every stream after its scripted events.
	StreamErr error

	mu       sync.Mutex
	scripts  [][]sdk.Event
	calls    []Call
	toolUses []ToolUse
}

// NewOpener returns an Opener that replays events for every session.
func NewOpener(events ...sdk.Event) *Opener {
	return &Opener{scripts: [][]sdk.Event{events}}
}

// Then appends a script used by the next session.
func (o *Opener) Then(events ...sdk.Event) *Opener {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.scripts = append(o.scripts, events)
	return o
}

// Open implements sdk.Opener.
func (o *Opener) Open(ctx context.Context, prompt string, opts sdk.Options) (sdk.Stream, error) {
	o.mu.Lock()
	idx := len(o.calls)
	o.calls = append(o.calls, Call{Prompt: prompt, Options: opts})
	var script []sdk.Event
	if len(o.scripts) > 0 {
		if idx >= len(o.scripts) {
			idx = len(o.scripts) - 1
		}
		script = o.scripts[idx]
	}
	o.mu.Unlock()

	if o.OpenErr != nil {
		return nil, o.OpenErr
	}

	return sdk.Produce(ctx, 0, func(ctx context.Context, emit func(sdk.Event) bool) error {
		for _, ev := range script {
			if !emit(ev) {
				return ctx.Err()
			}
			if a, ok := ev.(*sdk.AssistantEvent); ok && opts.CanUseTool != nil {
				for _, b := range a.Blocks {
					use, ok := b.(sdk.ToolUseBlock)
					if !ok {
						continue
					}
					v := opts.CanUseTool(ctx, use.Name, use.Input)
					o.mu.Lock()
					o.toolUses = append(o.toolUses, ToolUse{Name: use.Name, Input: use.Input, Verdict: v})
					o.mu.Unlock()
				}
			}
		}
		return o.StreamErr
	}), nil
}

// Calls returns the recorded Open calls.
func (o *Opener) Calls() []Call {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Call, len(o.calls))
	copy(out, o.calls)
	return out
}

// ToolUses returns the recorded permission requests.
func (o *Opener) ToolUses() []ToolUse {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]ToolUse, len(o.toolUses))
	copy(out, o.toolUses)
	return out
}

// Text is shorthand for an assistant event holding text blocks.
func Text(texts ...string) *sdk.AssistantEvent {
	blocks := make([]sdk.ContentBlock, 0, len(texts))
	for _, t := range texts {
		blocks = append(blocks, sdk.TextBlock{Text: t})
	}
	return &sdk.AssistantEvent{Blocks: blocks}
}

// ToolCall is shorthand for an assistant event holding a single tool-use block.
func ToolCall(id, name string, input map[string]any) *sdk.AssistantEvent {
	return &sdk.AssistantEvent{Blocks: []sdk.ContentBlock{
		sdk.ToolUseBlock{ID: id, Name: name, Input: input},
	}}
}

// Done is shorthand for a successful lifecycle-end event.
func Done() *sdk.ResultEvent {
	return &sdk.ResultEvent{Subtype: "success", NumTurns: 1}
}
