package bridge

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sashabaranov/go-openai"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/armatrix/agent-bridge/permission"
	"github.com/armatrix/agent-bridge/sdk"
	"github.com/armatrix/agent-bridge/sdk/sdktest"
)

func newTestBridge(t *testing.T, cfg Config, opener sdk.Opener, opts ...Option) (*Bridge, *bytes.Buffer) {
	t.Helper()
	var echo bytes.Buffer
	if cfg.WorkingDirectory == "" {
		cfg.WorkingDirectory = t.TempDir()
	}
	opts = append([]Option{WithOpener(opener), WithStreamOutput(&echo)}, opts...)
	b, err := New(cfg, opts...)
	require.NoError(t, err)
	return b, &echo
}

func userMessages(text string) []Message {
	return []Message{{Role: openai.ChatMessageRoleUser, Content: text}}
}

func TestNew_RequiresOpener(t *testing.T) {
	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrNoOpener)
}

func TestNew_AppliesDefaults(t *testing.T) {
	b, err := New(Config{}, WithOpener(sdktest.NewOpener()))
	require.NoError(t, err)

	cfg := b.Config()
	assert.Equal(t, DefaultMaxTurns, cfg.MaxTurns)
	assert.Equal(t, permission.ModeBypassPermissions, cfg.PermissionMode)
	assert.Equal(t, DefaultToolTimeout, cfg.DefaultToolTimeout)

	wd, _ := os.Getwd()
	assert.Equal(t, wd, cfg.WorkingDirectory)
}

// Plain completion: text is returned once the lifecycle-end event arrives.
func TestAsk_ReturnsText(t *testing.T) {
	opener := sdktest.NewOpener(&sdk.SystemEvent{Subtype: "init"}, sdktest.Text("4"), sdktest.Done())
	b, _ := newTestBridge(t, Config{CLIPath: "/opt/codebuddy", Model: "claude-sonnet-4-5"}, opener)

	text, err := b.Ask(context.Background(), AskParams{
		Messages: userMessages("2+2?"),
		System:   []Message{{Role: openai.ChatMessageRoleSystem, Content: "Answer with a number."}},
	})
	require.NoError(t, err)
	assert.Equal(t, "4", text)

	calls := opener.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "Answer with a number.\n\n2+2?", calls[0].Prompt)

	opts := calls[0].Options
	assert.Equal(t, 20, opts.MaxTurns)
	assert.Equal(t, permission.ModeBypassPermissions, opts.PermissionMode)
	assert.Equal(t, "/opt/codebuddy", opts.CLIPath)
	assert.Equal(t, "claude-sonnet-4-5", opts.Model)
	assert.Nil(t, opts.CanUseTool)
	assert.Empty(t, opts.AllowedTools)
	assert.Empty(t, opts.DisallowedTools)
}

func TestAsk_EmptyResponse(t *testing.T) {
	b, _ := newTestBridge(t, Config{}, sdktest.NewOpener(&sdk.SystemEvent{Subtype: "init"}, sdktest.Done()))

	_, err := b.Ask(context.Background(), AskParams{Messages: userMessages("2+2?")})
	assert.ErrorIs(t, err, ErrEmptyResponse)
	assert.Zero(t, b.Usage().InputTokens, "failed requests record no usage")
}

func TestAsk_StreamEcho(t *testing.T) {
	b, echo := newTestBridge(t, Config{}, sdktest.NewOpener(sdktest.Text("Hello"), sdktest.Text("world"), sdktest.Done()))

	text, err := b.Ask(context.Background(), AskParams{Messages: userMessages("hi"), Stream: true})
	require.NoError(t, err)
	assert.Equal(t, "Hello\nworld", text)
	assert.Equal(t, "Helloworld\n", echo.String())
}

// A request whose estimate exceeds the ceiling never opens a session.
func TestAsk_TokenLimitExceeded(t *testing.T) {
	opener := sdktest.NewOpener(sdktest.Text("unused"), sdktest.Done())
	b, _ := newTestBridge(t, Config{MaxInputTokens: 10}, opener)

	_, err := b.Ask(context.Background(), AskParams{Messages: userMessages(strings.Repeat("x", 44))})
	require.ErrorIs(t, err, ErrTokenLimitExceeded)

	var tle *TokenLimitError
	require.True(t, errors.As(err, &tle))
	assert.Equal(t, 11, tle.Pending)
	assert.Equal(t, 10, tle.Max)
	assert.Equal(t, "Request may exceed input token limit (Current: 0, Needed: 11, Max: 10)", err.Error())

	assert.Empty(t, opener.Calls(), "no session may be opened")
}

func TestAsk_CeilingIsCumulative(t *testing.T) {
	opener := sdktest.NewOpener(sdktest.Text("ok"), sdktest.Done())
	b, _ := newTestBridge(t, Config{MaxInputTokens: 10}, opener)

	msg := userMessages(strings.Repeat("y", 24)) // 6 tokens
	_, err := b.Ask(context.Background(), AskParams{Messages: msg})
	require.NoError(t, err)

	_, err = b.Ask(context.Background(), AskParams{Messages: msg})
	require.ErrorIs(t, err, ErrTokenLimitExceeded)
	assert.Contains(t, err.Error(), "Current: 6, Needed: 6, Max: 10")
	assert.Len(t, opener.Calls(), 1)
}

func TestAsk_InvalidMessage(t *testing.T) {
	opener := sdktest.NewOpener(sdktest.Text("unused"), sdktest.Done())
	b, _ := newTestBridge(t, Config{}, opener)

	_, err := b.Ask(context.Background(), AskParams{Messages: []Message{{Role: "user", Content: make(chan int)}}})
	assert.ErrorIs(t, err, ErrInvalidMessage)
	assert.Empty(t, opener.Calls())
}

func TestAsk_SessionError(t *testing.T) {
	opener := sdktest.NewOpener()
	opener.OpenErr = errors.New("exec: \"claude\": executable file not found")
	b, _ := newTestBridge(t, Config{}, opener)

	_, err := b.Ask(context.Background(), AskParams{Messages: userMessages("hi")})
	assert.ErrorIs(t, err, ErrExternalSession)
}

func TestUsage_RecordsInputAndCompletion(t *testing.T) {
	b, _ := newTestBridge(t, Config{Model: string(anthropic.ModelClaudeOpus4_6)}, sdktest.NewOpener(sdktest.Text("abcdefgh"), sdktest.Done()))

	_, err := b.Ask(context.Background(), AskParams{Messages: userMessages(strings.Repeat("z", 400))})
	require.NoError(t, err)

	u := b.Usage()
	assert.Equal(t, 100, u.InputTokens)
	assert.Equal(t, 2, u.CompletionTokens)
	assert.Equal(t, anthropic.ModelClaudeOpus4_6, u.Model)

	// 100 * $5/MTok + 2 * $25/MTok
	expected := decimal.NewFromFloat(0.00055)
	assert.True(t, expected.Equal(u.EstimatedCostUSD), "expected %s, got %s", expected, u.EstimatedCostUSD)
}

func TestAskWithTools_ExecutesThroughInterceptor(t *testing.T) {
	var executed map[string]any
	python := NewFuncTool("python_execute", "Execute Python code", codeSchema, func(_ context.Context, args map[string]any) (any, error) {
		executed = args
		return "2", nil
	})

	opener := sdktest.NewOpener(
		sdktest.ToolCall("t1", "python_execute", map[string]any{"code": "1+1"}),
		sdktest.ToolCall("t2", "unknown_tool", map[string]any{}),
		&sdk.ToolResultEvent{ToolUseID: "t1", Content: "2"},
		sdktest.Text("1+1 is 2"),
		sdktest.Done(),
	)
	b, _ := newTestBridge(t, Config{}, opener)

	msg, err := b.AskWithTools(context.Background(), ToolParams{
		Messages: userMessages("compute 1+1"),
		Tools:    []Tool{python},
	})
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Equal(t, "1+1 is 2", msg.Content)
	assert.Equal(t, map[string]any{"code": "1+1"}, executed)

	calls := opener.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "compute 1+1\n\nAvailable tools:\n- python_execute: Execute Python code", calls[0].Prompt)
	opts := calls[0].Options
	assert.Equal(t, []string{"python_execute"}, opts.AllowedTools)
	require.Len(t, opts.Tools, 1)
	assert.Equal(t, "python_execute", opts.Tools[0].Name)
	assert.NotNil(t, opts.CanUseTool)

	uses := opener.ToolUses()
	require.Len(t, uses, 2)
	assert.True(t, uses[0].Verdict.Allowed())
	assert.Equal(t, "2", uses[0].Verdict.Result)
	assert.False(t, uses[1].Verdict.Allowed())
	assert.Contains(t, uses[1].Verdict.Message, "unknown_tool")
}

func TestAskWithTools_ReturnsToolCalls(t *testing.T) {
	opener := sdktest.NewOpener(sdktest.ToolCall("t1", "search", map[string]any{"q": "x"}), sdktest.Done())
	b, _ := newTestBridge(t, Config{}, opener)

	msg, err := b.AskWithTools(context.Background(), ToolParams{Messages: userMessages("find x")})
	require.NoError(t, err)
	require.NotNil(t, msg)
	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, "t1", msg.ToolCalls[0].ID)
	assert.Equal(t, `{"q": "x"}`, msg.ToolCalls[0].Function.Arguments)
}

func TestAskWithTools_NoToolsNoCallback(t *testing.T) {
	opener := sdktest.NewOpener(sdktest.Text("plain"), sdktest.Done())
	b, _ := newTestBridge(t, Config{}, opener)

	_, err := b.AskWithTools(context.Background(), ToolParams{Messages: userMessages("hi")})
	require.NoError(t, err)

	opts := opener.Calls()[0].Options
	assert.Nil(t, opts.CanUseTool)
	assert.Empty(t, opts.AllowedTools)
	assert.Equal(t, "hi", opener.Calls()[0].Prompt)
}

func TestAskWithTools_ToolChoiceNone(t *testing.T) {
	opener := sdktest.NewOpener(sdktest.Text("no tools"), sdktest.Done())
	b, _ := newTestBridge(t, Config{}, opener)

	_, err := b.AskWithTools(context.Background(), ToolParams{
		Messages:   userMessages("hi"),
		Tools:      []Tool{pythonTool("")},
		ToolChoice: ToolChoiceNone,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"*"}, opener.Calls()[0].Options.DisallowedTools)
}

func TestAskWithTools_ToolChoiceRequiredNotEnforced(t *testing.T) {
	opener := sdktest.NewOpener(sdktest.Text("I did not use a tool"), sdktest.Done())
	b, _ := newTestBridge(t, Config{}, opener)

	msg, err := b.AskWithTools(context.Background(), ToolParams{
		Messages:   userMessages("hi"),
		Tools:      []Tool{pythonTool("")},
		ToolChoice: ToolChoiceRequired,
	})
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.Empty(t, msg.ToolCalls)
}

func TestAskWithTools_InvalidToolChoice(t *testing.T) {
	opener := sdktest.NewOpener()
	b, _ := newTestBridge(t, Config{}, opener)

	_, err := b.AskWithTools(context.Background(), ToolParams{Messages: userMessages("hi"), ToolChoice: "sometimes"})
	assert.ErrorIs(t, err, ErrInvalidToolChoice)
	assert.Empty(t, opener.Calls())
}

func TestAskWithTools_NoResult(t *testing.T) {
	b, _ := newTestBridge(t, Config{}, sdktest.NewOpener(&sdk.SystemEvent{Subtype: "init"}, sdktest.Done()))

	msg, err := b.AskWithTools(context.Background(), ToolParams{Messages: userMessages("hi")})
	require.NoError(t, err)
	assert.Nil(t, msg)
}

func TestAskWithTools_ToolTokensCountTowardCeiling(t *testing.T) {
	opener := sdktest.NewOpener(sdktest.Text("ok"), sdktest.Done())
	b, _ := newTestBridge(t, Config{MaxInputTokens: 5}, opener)

	_, err := b.AskWithTools(context.Background(), ToolParams{
		Messages: userMessages("abcd"), // 1 token alone
		Tools:    []Tool{pythonTool("")},
	})
	require.ErrorIs(t, err, ErrTokenLimitExceeded)
	assert.Empty(t, opener.Calls())
}

func TestAskWithTools_Timeout(t *testing.T) {
	opener := sdk.OpenerFunc(func(ctx context.Context, _ string, _ sdk.Options) (sdk.Stream, error) {
		return sdk.Produce(ctx, 0, func(ctx context.Context, emit func(sdk.Event) bool) error {
			<-ctx.Done()
			return ctx.Err()
		}), nil
	})
	b, _ := newTestBridge(t, Config{}, opener)

	_, err := b.AskWithTools(context.Background(), ToolParams{Messages: userMessages("hi"), Timeout: 20 * time.Millisecond})
	require.ErrorIs(t, err, ErrExternalSession)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSetTools_ReplacesWholesale(t *testing.T) {
	b, _ := newTestBridge(t, Config{}, sdktest.NewOpener())

	errs := b.SetTools([]Tool{pythonTool(""), NewFuncTool("search", "", nil, nil)})
	assert.Empty(t, errs)
	require.Len(t, b.Tools(), 2)

	errs = b.SetTools([]Tool{NewFuncTool("broken", "", map[string]any{"type": 42}, nil), NewFuncTool("browser", "", nil, nil)})
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrToolConversion)

	tools := b.Tools()
	require.Len(t, tools, 1)
	assert.Equal(t, "browser", tools[0].Name())
}

func TestAskWithTools_UsesInstalledTools(t *testing.T) {
	opener := sdktest.NewOpener(sdktest.Text("ok"), sdktest.Done())
	b, _ := newTestBridge(t, Config{}, opener)
	b.SetTools([]Tool{pythonTool("")})

	_, err := b.AskWithTools(context.Background(), ToolParams{Messages: userMessages("hi")})
	require.NoError(t, err)
	assert.Equal(t, []string{"python_execute"}, opener.Calls()[0].Options.AllowedTools)
}

// Images need a user message to attach to; the check runs before any session.
func TestAskWithImages_LastMessageMustBeUser(t *testing.T) {
	opener := sdktest.NewOpener(sdktest.Text("unused"), sdktest.Done())
	b, _ := newTestBridge(t, Config{}, opener)

	_, err := b.AskWithImages(context.Background(), ImageParams{
		Messages: []Message{
			{Role: openai.ChatMessageRoleUser, Content: "look"},
			{Role: openai.ChatMessageRoleAssistant, Content: "at what?"},
		},
		Images: []Image{{URL: "https://x/y.png"}},
	})
	require.ErrorIs(t, err, ErrInvalidMessage)

	var ime *InvalidMessageError
	require.True(t, errors.As(err, &ime))
	assert.Equal(t, openai.ChatMessageRoleAssistant, ime.Role)
	assert.Empty(t, opener.Calls())

	_, err = b.AskWithImages(context.Background(), ImageParams{Images: []Image{{URL: "https://x/y.png"}}})
	assert.ErrorIs(t, err, ErrInvalidMessage)
}

func TestAskWithImages_AttachesAndDelegates(t *testing.T) {
	opener := sdktest.NewOpener(sdktest.Text("a cat"), sdktest.Done())
	b, _ := newTestBridge(t, Config{}, opener)

	text, err := b.AskWithImages(context.Background(), ImageParams{
		Messages: userMessages("what is this?"),
		Images:   []Image{{URL: "https://x/cat.png", Detail: openai.ImageURLDetailHigh}},
		System:   []Message{{Role: openai.ChatMessageRoleSystem, Content: "Describe images."}},
	})
	require.NoError(t, err)
	assert.Equal(t, "a cat", text)
	assert.Equal(t, "Describe images.\n\nwhat is this?", opener.Calls()[0].Prompt)
}

func TestAskWithImages_RejectsEmptyImage(t *testing.T) {
	opener := sdktest.NewOpener()
	b, _ := newTestBridge(t, Config{}, opener)

	_, err := b.AskWithImages(context.Background(), ImageParams{Messages: userMessages("x"), Images: []Image{{}}})
	assert.ErrorIs(t, err, ErrInvalidMessage)
	assert.Empty(t, opener.Calls())
}

func TestBridge_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	opener := sdktest.NewOpener(sdktest.Text("four"), sdktest.Done())
	b, _ := newTestBridge(t, Config{MaxInputTokens: 3}, opener, WithMetrics(m))

	_, err := b.Ask(context.Background(), AskParams{Messages: userMessages("2+2?")})
	require.NoError(t, err)
	_, err = b.Ask(context.Background(), AskParams{Messages: userMessages(strings.Repeat("x", 40))})
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("ask", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("ask", "token_limit")))
	assert.Equal(t, 11.0, testutil.ToFloat64(m.EstimatedTokens))
	assert.Equal(t, 1, testutil.CollectAndCount(m.SessionDuration))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.recordRequest("ask", "success")
		m.recordVerdict(permission.BehaviorAllow)
		m.recordTokens(3)
		m.observeSession("ask", time.Second)
	})
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`model: claude-haiku-4-5
max_input_tokens: 2000
max_turns: 5
permission_mode: acceptEdits
cli_path: /usr/bin/codebuddy
tool_timeout: 45s
`), 0o644))

	cfg, err := LoadConfig(path, filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Config{
		Model:              "claude-haiku-4-5",
		MaxInputTokens:     2000,
		MaxTurns:           5,
		PermissionMode:     permission.ModeAcceptEdits,
		CLIPath:            "/usr/bin/codebuddy",
		DefaultToolTimeout: 45 * time.Second,
	}, cfg)
}

func TestLoadConfig_Invalid(t *testing.T) {
	dir := t.TempDir()

	mode := filepath.Join(dir, "mode.yaml")
	require.NoError(t, os.WriteFile(mode, []byte("permission_mode: yolo\n"), 0o644))
	_, err := LoadConfig(mode)
	assert.Error(t, err)

	timeout := filepath.Join(dir, "timeout.yaml")
	require.NoError(t, os.WriteFile(timeout, []byte("tool_timeout: soon\n"), 0o644))
	_, err = LoadConfig(timeout)
	assert.Error(t, err)
}

func TestErrors(t *testing.T) {
	ime := &InvalidMessageError{Index: -1, Role: "", Reason: "empty"}
	assert.Equal(t, `bridge: invalid message (role ""): empty`, ime.Error())

	se := &SessionError{Op: "open", Err: errors.New("nope")}
	assert.Equal(t, "bridge: session open: nope", se.Error())
	assert.ErrorIs(t, se, ErrExternalSession)

	tce := &ToolConversionError{Tool: "x", Err: errDuplicateTool}
	assert.Equal(t, `bridge: convert tool "x": duplicate tool name`, tce.Error())

	tle := &TokenLimitError{Current: 1, Pending: 2, Max: 2}
	assert.Equal(t, "bridge: token limit exceeded", tle.Error())
	assert.ErrorIs(t, tle, ErrTokenLimitExceeded)
}

func TestNewRequestID(t *testing.T) {
	a, b := newRequestID(), newRequestID()
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, "req_"))
	assert.Len(t, a, len("req_20260208T150405_")+16)
}
