// Package cli runs sessions through an agent CLI (Claude Code or a
// compatible binary such as CodeBuddy) speaking line-delimited stream JSON.
//
// The prompt is written to the CLI's stdin as a single user message. Every
// stdout line becomes an sdk.Event; permission prompts arrive as
// control_request lines and are answered on stdin with the verdict of
// Options.CanUseTool before the next line is read.
package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/armatrix/agent-bridge/permission"
	"github.com/armatrix/agent-bridge/sdk"
)

// DefaultBinary is the agent CLI used when nothing else is configured.
const DefaultBinary = "claude"

// maxLineSize bounds a single stream-json line. Tool results with large file
// contents produce long lines.
const maxLineSize = 1024 * 1024

// Transport is an sdk.Opener backed by an agent CLI subprocess.
type Transport struct {
	binary string
	env    []string
	logger *slog.Logger
	start  startFunc
}

// Option configures a Transport.
type Option func(*Transport)

// WithBinary sets the agent binary. Options.CLIPath still takes precedence.
func WithBinary(path string) Option {
	return func(t *Transport) { t.binary = path }
}

// WithEnv appends KEY=VALUE pairs to the subprocess environment.
func WithEnv(env ...string) Option {
	return func(t *Transport) { t.env = append(t.env, env...) }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) { t.logger = logger }
}

// New creates a Transport.
func New(opts ...Option) *Transport {
	t := &Transport{
		env:    []string{"CLAUDE_CODE_ENTRYPOINT=sdk-go"},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		start:  startExec,
	}
	for _, fn := range opts {
		fn(t)
	}
	return t
}

// resolveBinary picks the CLI path: Options.CLIPath, then WithBinary, then
// $CLAUDE_BINARY, then DefaultBinary.
func (t *Transport) resolveBinary(opts sdk.Options) string {
	if opts.CLIPath != "" {
		return opts.CLIPath
	}
	if t.binary != "" {
		return t.binary
	}
	if env := os.Getenv("CLAUDE_BINARY"); env != "" {
		return env
	}
	return DefaultBinary
}

// buildArgs translates session options into CLI flags.
func buildArgs(opts sdk.Options) []string {
	args := []string{
		"--output-format", "stream-json",
		"--input-format", "stream-json",
		"--verbose",
	}
	if opts.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(opts.MaxTurns))
	}
	if opts.PermissionMode != "" {
		args = append(args, "--permission-mode", string(opts.PermissionMode))
	}
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	if len(opts.AllowedTools) > 0 {
		args = append(args, "--allowedTools", strings.Join(opts.AllowedTools, ","))
	}
	if len(opts.DisallowedTools) > 0 {
		args = append(args, "--disallowedTools", strings.Join(opts.DisallowedTools, ","))
	}
	if opts.CanUseTool != nil {
		args = append(args, "--permission-prompt-tool", "stdio")
	}
	return args
}

// Open starts the CLI and returns a stream over its events.
func (t *Transport) Open(ctx context.Context, prompt string, opts sdk.Options) (sdk.Stream, error) {
	binary := t.resolveBinary(opts)
	args := buildArgs(opts)

	if len(opts.Tools) > 0 {
		t.logger.Debug("cli runtime cannot register tool schemas; tools are reachable through the permission callback only",
			"tools", len(opts.Tools))
	}

	// The process must outlive this call, so it is bound to the stream's
	// context rather than ctx directly.
	procCtx, cancel := context.WithCancel(ctx)
	proc, err := t.start(procCtx, binary, args, opts.WorkingDirectory, t.env)
	if err != nil {
		cancel()
		return nil, err
	}
	t.logger.Debug("cli session started", "binary", binary, "args", args, "cwd", opts.WorkingDirectory)

	return sdk.Produce(procCtx, 0, func(ctx context.Context, emit func(sdk.Event) bool) error {
		defer cancel()
		// Closing the stream kills the process.
		stop := context.AfterFunc(ctx, cancel)
		defer stop()
		return t.run(ctx, proc, prompt, opts, emit)
	}), nil
}

// run drives one CLI session to its result line.
func (t *Transport) run(ctx context.Context, proc process, prompt string, opts sdk.Options, emit func(sdk.Event) bool) (err error) {
	stdin := proc.Stdin()
	stdinClosed := false
	closeStdin := func() {
		if !stdinClosed {
			stdinClosed = true
			stdin.Close()
		}
	}

	sawResult := false
	defer func() {
		closeStdin()
		waitErr := proc.Wait()
		if err == nil && !sawResult && waitErr != nil {
			err = fmt.Errorf("cli exited: %w: %s", waitErr, strings.TrimSpace(proc.Stderr()))
		}
	}()

	if opts.CanUseTool != nil {
		if err := writeLine(stdin, initializeRequest()); err != nil {
			return fmt.Errorf("writing initialize request: %w", err)
		}
	}
	if err := writeLine(stdin, userMessage(prompt)); err != nil {
		return fmt.Errorf("writing prompt: %w", err)
	}

	scanner := bufio.NewScanner(proc.Stdout())
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var env envelope
		if err := json.Unmarshal(line, &env); err != nil {
			t.logger.Warn("malformed stream-json line", "error", err, "line", truncate(string(line), 200))
			if !emit(&sdk.UnknownEvent{Raw: json.RawMessage(append([]byte(nil), line...))}) {
				return ctx.Err()
			}
			continue
		}

		switch env.Type {
		case "control_request":
			if err := t.answerControl(ctx, stdin, line, opts); err != nil {
				return err
			}
			continue
		case "control_response":
			t.logger.Debug("control response received", "line", truncate(string(line), 200))
			continue
		}

		events, err := parseEvents(line)
		if err != nil {
			t.logger.Warn("unparseable stream-json event", "type", env.Type, "error", err)
			events = []sdk.Event{&sdk.UnknownEvent{Tag: env.Type, Raw: json.RawMessage(append([]byte(nil), line...))}}
		}
		for _, ev := range events {
			if !emit(ev) {
				return ctx.Err()
			}
			if _, ok := ev.(*sdk.ResultEvent); ok {
				sawResult = true
			}
		}
		if sawResult {
			return nil
		}
	}

	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("reading cli output: %w", err)
	}
	return nil
}

// answerControl handles a control_request line. Tools matching a disallowed
// pattern are denied without consulting the callback.
func (t *Transport) answerControl(ctx context.Context, stdin io.Writer, line []byte, opts sdk.Options) error {
	var req controlRequest
	if err := json.Unmarshal(line, &req); err != nil {
		return fmt.Errorf("parsing control request: %w", err)
	}

	var resp map[string]any
	switch {
	case req.Request.Subtype != "can_use_tool":
		resp = errorResponse(req.RequestID, "unsupported control request: "+req.Request.Subtype)
	case permission.MatchAny(opts.DisallowedTools, req.Request.ToolName):
		resp = permissionResponse(req.RequestID, permission.Deny(fmt.Sprintf("Tool '%s' is disallowed", req.Request.ToolName)))
	case opts.CanUseTool == nil:
		resp = permissionResponse(req.RequestID, permission.Deny("no permission callback configured"))
	default:
		input := req.Request.Input
		if input == nil {
			input = map[string]any{}
		}
		v := opts.CanUseTool(ctx, req.Request.ToolName, input)
		t.logger.Debug("permission verdict", "tool", req.Request.ToolName, "behavior", v.Behavior)
		resp = permissionResponse(req.RequestID, v)
	}

	if err := writeLine(stdin, resp); err != nil {
		if errors.Is(err, io.ErrClosedPipe) && ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("writing control response: %w", err)
	}
	return nil
}

func writeLine(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
