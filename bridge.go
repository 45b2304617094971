package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/sashabaranov/go-openai"
	"github.com/shopspring/decimal"

	"github.com/armatrix/agent-bridge/internal/tokens"
	"github.com/armatrix/agent-bridge/sdk"
)

// Entry point names used in logs and metrics.
const (
	entryAsk       = "ask"
	entryTools     = "ask_with_tools"
	entryWithImage = "ask_with_images"
)

// ToolChoice selects how the model may use tools.
type ToolChoice string

const (
	ToolChoiceAuto     ToolChoice = "auto"
	ToolChoiceNone     ToolChoice = "none"     // all tools disallowed in the session
	ToolChoiceRequired ToolChoice = "required" // accepted, not enforced
)

// AskParams is the input of Ask.
type AskParams struct {
	Messages []Message
	System   []Message // prepended to Messages

	// Stream echoes text to the stream output as it arrives. It never
	// changes the returned value.
	Stream bool

	// Temperature is accepted for interface parity. Runtimes do not take
	// sampling parameters, so it is logged and ignored.
	Temperature *float64
}

// ToolParams is the input of AskWithTools.
type ToolParams struct {
	Messages []Message
	System   []Message

	// Tools, when non-nil, replaces the installed tool set (see SetTools)
	// before the request runs.
	Tools      []Tool
	ToolChoice ToolChoice // default ToolChoiceAuto

	// Timeout bounds the whole call. Default Config.DefaultToolTimeout.
	Timeout     time.Duration
	Temperature *float64
}

// Image is an image reference appended to the last user message.
type Image struct {
	URL    string // http(s) or data URI
	Detail openai.ImageURLDetail
}

// ImageParams is the input of AskWithImages.
type ImageParams struct {
	Messages    []Message
	Images      []Image
	System      []Message
	Stream      bool
	Temperature *float64
}

// Usage reports cumulative token usage of a Bridge.
type Usage struct {
	InputTokens      int
	CompletionTokens int
	MaxInputTokens   int // 0 = no ceiling
	Model            anthropic.Model
	EstimatedCostUSD decimal.Decimal
}

// Bridge exposes uniform completion entry points over an sdk.Opener.
//
// Concurrency: a Bridge may be shared, but requests are not serialized. Token
// counters are updated atomically, yet the ceiling check happens before a
// request and the usage is recorded after it, so concurrent requests can
// each pass the check and together exceed the ceiling. The installed tool set
// is swapped as a whole and every request uses the set it started with.
// Callers that need exact accounting should use one Bridge per concurrent
// caller.
type Bridge struct {
	cfg        Config
	opts       options
	accountant *tokens.Accountant
	session    *sessionAdapter

	mu    sync.Mutex
	tools *toolSet
}

// New creates a Bridge. WithOpener is required.
func New(cfg Config, opts ...Option) (*Bridge, error) {
	o := resolveOptions(opts)
	if o.opener == nil {
		return nil, ErrNoOpener
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}

	b := &Bridge{
		cfg:        cfg,
		opts:       o,
		accountant: tokens.NewAccountant(cfg.MaxInputTokens, o.pricing),
		session:    &sessionAdapter{opener: o.opener, logger: o.logger, echo: o.echo},
		tools:      &toolSet{},
	}
	o.logger.Info("bridge initialized",
		"model", cfg.Model,
		"max_input_tokens", cfg.MaxInputTokens,
		"permission_mode", string(cfg.PermissionMode),
	)
	return b, nil
}

// Config returns the effective configuration.
func (b *Bridge) Config() Config { return b.cfg }

// SetTools installs tools as the tool set, replacing the previous one as a
// whole. Tools that cannot be converted are skipped and returned as
// *ToolConversionError values.
func (b *Bridge) SetTools(tools []Tool) []error {
	set, errs := newToolSet(tools)
	for _, err := range errs {
		b.opts.logger.Warn("tool skipped", "error", err)
	}

	b.mu.Lock()
	b.tools = set
	b.mu.Unlock()

	b.opts.logger.Info("tool set installed", "tools", len(set.tools), "skipped", len(errs))
	return errs
}

// Tools returns the installed tools in order.
func (b *Bridge) Tools() []Tool {
	set := b.toolSnapshot()
	return append([]Tool(nil), set.tools...)
}

func (b *Bridge) toolSnapshot() *toolSet {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tools
}

// Usage returns cumulative usage and its estimated cost.
func (b *Bridge) Usage() Usage {
	u := b.accountant.Usage()
	return Usage{
		InputTokens:      u.InputTokens,
		CompletionTokens: u.CompletionTokens,
		MaxInputTokens:   b.accountant.MaxInput(),
		Model:            b.pricingModel(),
		EstimatedCostUSD: b.accountant.Cost(),
	}
}

func (b *Bridge) pricingModel() anthropic.Model {
	if b.cfg.Model != "" {
		return anthropic.Model(b.cfg.Model)
	}
	return DefaultPricingModel
}

// Ask sends a plain completion request and returns the response text.
func (b *Bridge) Ask(ctx context.Context, p AskParams) (string, error) {
	log := b.requestLogger(entryAsk)

	msgs, err := format(p.System, p.Messages, false)
	if err != nil {
		b.opts.metrics.recordRequest(entryAsk, "invalid")
		return "", err
	}
	b.dropped(log, len(p.System)+len(p.Messages), len(msgs))
	return b.complete(ctx, entryAsk, log, msgs, p.Stream, p.Temperature)
}

// AskWithImages attaches images to the last message, which must come from
// the user, and then behaves like Ask.
func (b *Bridge) AskWithImages(ctx context.Context, p ImageParams) (string, error) {
	log := b.requestLogger(entryWithImage)

	msgs, err := Normalize(p.Messages, true)
	if err != nil {
		b.opts.metrics.recordRequest(entryWithImage, "invalid")
		return "", err
	}
	if len(msgs) == 0 || msgs[len(msgs)-1].Role != openai.ChatMessageRoleUser {
		b.opts.metrics.recordRequest(entryWithImage, "invalid")
		e := &InvalidMessageError{Index: len(msgs) - 1, Reason: "the last message must be from the user to attach images"}
		if len(msgs) > 0 {
			e.Role = msgs[len(msgs)-1].Role
		}
		return "", e
	}

	last := &msgs[len(msgs)-1]
	if len(last.MultiContent) == 0 {
		if last.Content != "" {
			last.MultiContent = []openai.ChatMessagePart{textPart(last.Content)}
		}
		last.Content = ""
	}
	for i, img := range p.Images {
		if img.URL == "" {
			b.opts.metrics.recordRequest(entryWithImage, "invalid")
			return "", &InvalidMessageError{Index: len(msgs) - 1, Role: last.Role, Reason: fmt.Sprintf("image %d has no URL", i)}
		}
		last.MultiContent = append(last.MultiContent, imagePart(img.URL, img.Detail))
	}

	system, err := Normalize(p.System, true)
	if err != nil {
		b.opts.metrics.recordRequest(entryWithImage, "invalid")
		return "", err
	}
	log.Debug("images attached", "images", len(p.Images))
	return b.complete(ctx, entryWithImage, log, append(system, msgs...), p.Stream, p.Temperature)
}

// complete runs a plain completion over formatted messages.
func (b *Bridge) complete(ctx context.Context, entry string, log *slog.Logger, msgs []openai.ChatCompletionMessage, stream bool, temperature *float64) (string, error) {
	pending := tokens.EstimateMessages(msgs)
	if err := b.checkLimit(entry, log, pending); err != nil {
		return "", err
	}
	b.ignoredTemperature(log, temperature)

	prompt := buildPrompt(msgs)
	start := time.Now()
	text, err := b.session.runCompletion(ctx, prompt, b.sessionOptions(), stream, log)
	b.opts.metrics.observeSession(entry, time.Since(start))
	if err != nil {
		b.opts.metrics.recordRequest(entry, "error")
		return "", err
	}

	b.record(log, pending, tokens.Estimate(text))
	b.opts.metrics.recordRequest(entry, "success")
	return text, nil
}

// AskWithTools sends a tool-calling request and returns the last assistant
// message, translated. A nil message with a nil error means the session
// produced no assistant message; callers must handle it.
//
// The tool set is listed in the prompt, declared to the runtime and allowed
// by name, and the runtime's permission callback runs the tools through an
// Interceptor. Without tools no callback is installed.
func (b *Bridge) AskWithTools(ctx context.Context, p ToolParams) (*openai.ChatCompletionMessage, error) {
	log := b.requestLogger(entryTools)

	choice := p.ToolChoice
	if choice == "" {
		choice = ToolChoiceAuto
	}
	switch choice {
	case ToolChoiceAuto, ToolChoiceNone, ToolChoiceRequired:
	default:
		b.opts.metrics.recordRequest(entryTools, "invalid")
		return nil, fmt.Errorf("%w: %q", ErrInvalidToolChoice, choice)
	}

	if p.Tools != nil {
		b.SetTools(p.Tools)
	}
	set := b.toolSnapshot()

	msgs, err := format(p.System, p.Messages, false)
	if err != nil {
		b.opts.metrics.recordRequest(entryTools, "invalid")
		return nil, err
	}
	b.dropped(log, len(p.System)+len(p.Messages), len(msgs))

	pending := tokens.EstimateMessages(msgs)
	if !set.empty() {
		pending += set.tokenCost
	}
	if err := b.checkLimit(entryTools, log, pending); err != nil {
		return nil, err
	}
	b.ignoredTemperature(log, p.Temperature)

	opts := b.sessionOptions()
	prompt := buildPrompt(msgs)
	if !set.empty() {
		opts.AllowedTools = set.names()
		opts.Tools = set.decls
		opts.CanUseTool = newInterceptor(set, log, b.opts.metrics).OnToolUse
		prompt = appendToolSection(prompt, set.tools)
		log.Info("tools registered", "tools", opts.AllowedTools)
	}
	if choice == ToolChoiceNone {
		opts.DisallowedTools = []string{"*"}
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = b.cfg.DefaultToolTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	msg, err := b.session.runToolCompletion(ctx, prompt, opts, log)
	b.opts.metrics.observeSession(entryTools, time.Since(start))
	if err != nil {
		b.opts.metrics.recordRequest(entryTools, "error")
		return nil, err
	}

	completion := 0
	if msg != nil {
		completion = tokens.Estimate(msg.Content)
		for _, tc := range msg.ToolCalls {
			completion += tokens.Estimate(tc.Function.Arguments)
		}
	}
	b.record(log, pending, completion)

	if msg == nil {
		b.opts.metrics.recordRequest(entryTools, "no_result")
		return nil, nil
	}
	if choice == ToolChoiceRequired && len(msg.ToolCalls) == 0 {
		log.Warn("tool use was required but the response has no tool calls")
	}
	b.opts.metrics.recordRequest(entryTools, "success")
	return msg, nil
}

// format normalizes system then conversation messages.
func format(system, messages []Message, supportsImages bool) ([]openai.ChatCompletionMessage, error) {
	sys, err := Normalize(system, supportsImages)
	if err != nil {
		return nil, err
	}
	msgs, err := Normalize(messages, supportsImages)
	if err != nil {
		return nil, err
	}
	return append(sys, msgs...), nil
}

func (b *Bridge) sessionOptions() sdk.Options {
	return sdk.Options{
		MaxTurns:         b.cfg.MaxTurns,
		PermissionMode:   b.cfg.PermissionMode,
		WorkingDirectory: b.cfg.WorkingDirectory,
		CLIPath:          b.cfg.CLIPath,
		Model:            b.cfg.Model,
	}
}

// checkLimit rejects a request whose estimate would exceed the ceiling. It
// runs before any session is opened.
func (b *Bridge) checkLimit(entry string, log *slog.Logger, pending int) error {
	b.opts.metrics.recordTokens(pending)
	if b.accountant.WithinLimit(pending) {
		return nil
	}
	err := &TokenLimitError{
		Current: b.accountant.Usage().InputTokens,
		Pending: pending,
		Max:     b.accountant.MaxInput(),
		Message: b.accountant.LimitMessage(pending),
	}
	log.Warn("token limit exceeded", "input_tokens", err.Current, "pending_tokens", pending, "max_input_tokens", err.Max)
	b.opts.metrics.recordRequest(entry, "token_limit")
	return err
}

func (b *Bridge) record(log *slog.Logger, input, completion int) {
	u := b.accountant.Record(b.pricingModel(), input, completion)
	log.Info("token usage",
		"input_tokens", input,
		"completion_tokens", completion,
		"total_input_tokens", u.InputTokens,
		"total_completion_tokens", u.CompletionTokens,
		"total_tokens", u.Total(),
	)
}

func (b *Bridge) requestLogger(entry string) *slog.Logger {
	return b.opts.logger.With("request_id", newRequestID(), "entry", entry)
}

func (b *Bridge) dropped(log *slog.Logger, in, out int) {
	if in != out {
		log.Debug("messages dropped during normalization", "received", in, "forwarded", out)
	}
}

func (b *Bridge) ignoredTemperature(log *slog.Logger, t *float64) {
	if t != nil {
		log.Debug("temperature ignored by runtime", "temperature", *t)
	}
}
