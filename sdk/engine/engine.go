// Package engine runs sessions in-process: it drives the agent turn loop
// directly against the Anthropic Messages API and reports progress as
// sdk.Events.
//
// Tool use goes through Options.CanUseTool. The verdict's captured Result
// becomes the tool_result content sent back to the model; a denial is sent
// back as an error result carrying the denial message.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/param"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/google/uuid"

	"github.com/armatrix/agent-bridge/permission"
	"github.com/armatrix/agent-bridge/sdk"
)

// Defaults for the in-process runtime.
const (
	DefaultModel     = anthropic.ModelClaudeSonnet4_5
	DefaultMaxTokens = 16_384
	DefaultMaxTurns  = 20
)

// MessageStreamer abstracts the Anthropic Messages API so the loop can be tested
// with a mock. Production code passes the real client.Messages.
type MessageStreamer interface {
	NewStreaming(ctx context.Context, params anthropic.MessageNewParams) *ssestream.Stream[anthropic.MessageStreamEventUnion]
}

// messageServiceAdapter wraps the real anthropic.MessageService to implement MessageStreamer.
type messageServiceAdapter struct {
	svc *anthropic.MessageService
}

func (a *messageServiceAdapter) NewStreaming(ctx context.Context, params anthropic.MessageNewParams) *ssestream.Stream[anthropic.MessageStreamEventUnion] {
	return a.svc.NewStreaming(ctx, params)
}

// Engine is an sdk.Opener that runs the turn loop in-process.
type Engine struct {
	streamer       MessageStreamer
	model          anthropic.Model
	maxTokens      int64
	thinkingBudget int64
	logger         *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithModel sets the default model. Options.Model overrides it per session.
func WithModel(model anthropic.Model) Option {
	return func(e *Engine) { e.model = model }
}

// WithMaxTokens sets the maximum output tokens per response.
func WithMaxTokens(n int64) Option {
	return func(e *Engine) { e.maxTokens = n }
}

// WithThinking enables extended thinking with the given token budget.
func WithThinking(budget int64) Option {
	return func(e *Engine) { e.thinkingBudget = budget }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// New creates an Engine on top of an Anthropic client.
func New(client *anthropic.Client, opts ...Option) *Engine {
	return NewWithStreamer(&messageServiceAdapter{svc: &client.Messages}, opts...)
}

// NewWithStreamer creates an Engine on top of any MessageStreamer.
func NewWithStreamer(streamer MessageStreamer, opts ...Option) *Engine {
	e := &Engine{
		streamer:  streamer,
		model:     DefaultModel,
		maxTokens: DefaultMaxTokens,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, fn := range opts {
		fn(e)
	}
	return e
}

// Open starts a session. The loop runs in its own goroutine until the stream
// is drained or closed.
func (e *Engine) Open(ctx context.Context, prompt string, opts sdk.Options) (sdk.Stream, error) {
	model := e.model
	if opts.Model != "" {
		model = anthropic.Model(opts.Model)
	}
	maxTurns := opts.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}

	l := &loop{
		engine:    e,
		sessionID: uuid.NewString(),
		model:     model,
		maxTurns:  maxTurns,
		opts:      opts,
		rules:     opts.ToolRules(),
		messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	l.tools = l.declareTools()

	return sdk.Produce(ctx, 0, l.run), nil
}

// loop holds the state of one session.
type loop struct {
	engine    *Engine
	sessionID string
	model     anthropic.Model
	maxTurns  int
	opts      sdk.Options
	rules     []permission.Rule
	tools     []anthropic.ToolUnionParam
	messages  []anthropic.MessageParam
}

// declareTools converts the permitted declarations for the API.
func (l *loop) declareTools() []anthropic.ToolUnionParam {
	var out []anthropic.ToolUnionParam
	for _, decl := range l.opts.Tools {
		if !permission.Permits(l.rules, decl.Name) {
			continue
		}
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        decl.Name,
				Description: param.NewOpt(decl.Description),
				InputSchema: inputSchema(decl.InputSchema),
			},
		})
	}
	return out
}

// inputSchema maps a JSON schema object onto the API's input schema param.
func inputSchema(schema map[string]any) anthropic.ToolInputSchemaParam {
	p := anthropic.ToolInputSchemaParam{}
	if schema == nil {
		return p
	}
	if props, ok := schema["properties"]; ok {
		p.Properties = props
	}
	switch req := schema["required"].(type) {
	case []string:
		p.Required = req
	case []any:
		for _, r := range req {
			if s, ok := r.(string); ok {
				p.Required = append(p.Required, s)
			}
		}
	}
	return p
}

// run is the core turn loop.
func (l *loop) run(ctx context.Context, emit func(sdk.Event) bool) error {
	start := time.Now()
	var usage sdk.Usage
	var apiTime time.Duration

	if !emit(&sdk.SystemEvent{Subtype: "init", SessionID: l.sessionID, Model: string(l.model)}) {
		return ctx.Err()
	}

	result := func(subtype string, turns int, isError bool, text string) *sdk.ResultEvent {
		return &sdk.ResultEvent{
			Subtype:       subtype,
			SessionID:     l.sessionID,
			DurationMs:    time.Since(start).Milliseconds(),
			DurationAPIMs: apiTime.Milliseconds(),
			NumTurns:      turns,
			IsError:       isError,
			Result:        text,
			Usage:         usage,
		}
	}

	for turns := 0; ; {
		if err := ctx.Err(); err != nil {
			return err
		}

		params := anthropic.MessageNewParams{
			Model:     l.model,
			MaxTokens: l.engine.maxTokens,
			Messages:  l.messages,
		}
		if l.engine.thinkingBudget > 0 {
			params.Thinking = anthropic.ThinkingConfigParamOfEnabled(l.engine.thinkingBudget)
			// Thinking mode requires MaxTokens >= budget + output headroom
			if minRequired := l.engine.thinkingBudget + DefaultMaxTokens; params.MaxTokens < minRequired {
				params.MaxTokens = minRequired
			}
		}
		if len(l.tools) > 0 {
			params.Tools = l.tools
		}

		callStart := time.Now()
		msg, err := l.stream(ctx, params)
		apiTime += time.Since(callStart)
		if err != nil {
			return err
		}

		usage.InputTokens += msg.Usage.InputTokens
		usage.OutputTokens += msg.Usage.OutputTokens
		turns++

		if !emit(assistantEvent(msg)) {
			return ctx.Err()
		}
		l.messages = append(l.messages, msg.ToParam())

		switch msg.StopReason {
		case anthropic.StopReasonToolUse:
			results, ok := l.runTools(ctx, msg.Content, emit)
			if !ok {
				return ctx.Err()
			}
			l.messages = append(l.messages, anthropic.NewUserMessage(results...))

		case anthropic.StopReasonMaxTokens:
			emit(result("error_max_tokens", turns, true, "max_tokens reached"))
			return nil

		default:
			emit(result("success", turns, false, lastText(msg)))
			return nil
		}

		if turns >= l.maxTurns {
			emit(result("error_max_turns", turns, true, "max turns reached"))
			return nil
		}
	}
}

// stream performs one streaming API call and accumulates the message.
func (l *loop) stream(ctx context.Context, params anthropic.MessageNewParams) (anthropic.Message, error) {
	stream := l.engine.streamer.NewStreaming(ctx, params)
	defer stream.Close()

	msg := anthropic.Message{}
	for stream.Next() {
		if err := msg.Accumulate(stream.Current()); err != nil {
			return msg, fmt.Errorf("accumulate error: %w", err)
		}
	}
	if err := stream.Err(); err != nil {
		return msg, fmt.Errorf("stream error: %w", err)
	}
	return msg, nil
}

// runTools asks for a verdict on each tool_use block and builds the tool
// results. Tools run one at a time in block order.
func (l *loop) runTools(ctx context.Context, content []anthropic.ContentBlockUnion, emit func(sdk.Event) bool) ([]anthropic.ContentBlockParamUnion, bool) {
	var results []anthropic.ContentBlockParamUnion

	for _, block := range content {
		if block.Type != "tool_use" {
			continue
		}
		id, name := block.ID, block.Name
		input := decodeInput(json.RawMessage(block.Input))

		var text string
		var isError bool
		switch {
		case !permission.Permits(l.rules, name):
			text, isError = fmt.Sprintf("tool %s is not allowed", name), true
		case l.opts.CanUseTool == nil:
			text, isError = "tool execution denied: no permission callback", true
		default:
			v := l.opts.CanUseTool(ctx, name, input)
			if v.Allowed() {
				text = v.Result
			} else {
				text, isError = v.Message, true
			}
		}
		l.engine.logger.Debug("tool use handled", "session_id", l.sessionID, "tool", name, "is_error", isError)

		results = append(results, anthropic.NewToolResultBlock(id, text, isError))
		if !emit(&sdk.ToolResultEvent{ToolUseID: id, IsError: isError, Content: text}) {
			return nil, false
		}
	}
	return results, true
}

// assistantEvent converts an accumulated message into an sdk event.
func assistantEvent(msg anthropic.Message) *sdk.AssistantEvent {
	ev := &sdk.AssistantEvent{Model: string(msg.Model)}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			ev.Blocks = append(ev.Blocks, sdk.TextBlock{Text: block.Text})
		case "thinking":
			ev.Blocks = append(ev.Blocks, sdk.ThinkingBlock{Thinking: block.Thinking, Signature: block.Signature})
		case "tool_use":
			ev.Blocks = append(ev.Blocks, sdk.ToolUseBlock{ID: block.ID, Name: block.Name, Input: decodeInput(json.RawMessage(block.Input))})
		}
	}
	return ev
}

func decodeInput(raw json.RawMessage) map[string]any {
	input := map[string]any{}
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &input)
	}
	return input
}

func lastText(msg anthropic.Message) string {
	for i := len(msg.Content) - 1; i >= 0; i-- {
		if msg.Content[i].Type == "text" {
			return msg.Content[i].Text
		}
	}
	return ""
}
