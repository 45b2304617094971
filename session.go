package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"unicode"
	"unicode/utf16"

	"github.com/sashabaranov/go-openai"

	"github.com/armatrix/agent-bridge/sdk"
)

// sessionAdapter opens runtime sessions and folds their events into results.
type sessionAdapter struct {
	opener sdk.Opener
	logger *slog.Logger
	echo   io.Writer
}

// drain opens a session and hands every assistant event to onAssistant, in
// arrival order, until the result event. Nothing after the result event is
// read. A stream that ends without one is an error.
func (a *sessionAdapter) drain(ctx context.Context, prompt string, opts sdk.Options, log *slog.Logger, onAssistant func(*sdk.AssistantEvent)) error {
	stream, err := a.opener.Open(ctx, prompt, opts)
	if err != nil {
		log.Error("session open failed", "error", err)
		return &SessionError{Op: "open", Err: err}
	}
	defer stream.Close()

	received := 0
	for stream.Next() {
		received++
		switch ev := stream.Current().(type) {
		case *sdk.AssistantEvent:
			log.Debug("event", "event", ev.Kind().String(), "blocks", len(ev.Blocks))
			if ev.Error != "" {
				log.Warn("assistant reported an error", "error", ev.Error)
			}
			onAssistant(ev)

		case *sdk.ResultEvent:
			log.Info("session completed",
				"subtype", ev.Subtype,
				"turns", ev.NumTurns,
				"duration_ms", ev.DurationMs,
				"events", received,
			)
			if ev.IsError {
				log.Warn("session ended with an error result", "subtype", ev.Subtype, "result", ev.Result)
			}
			return nil

		case *sdk.UnknownEvent:
			log.Warn("unknown event skipped", "event", ev.Tag)

		case nil:
			log.Warn("nil event skipped")

		default:
			log.Debug("event", "event", ev.Kind().String())
		}
	}

	if err := stream.Err(); err != nil {
		log.Error("session stream failed", "error", err, "events", received)
		return &SessionError{Op: "stream", Err: err}
	}
	return &SessionError{Op: "stream", Err: ErrSessionIncomplete}
}

// runCompletion returns the session's text. Text and thinking blocks are
// collected in order; thinking is wrapped in a visible marker. A session
// without any non-blank text block fails with ErrEmptyResponse.
func (a *sessionAdapter) runCompletion(ctx context.Context, prompt string, opts sdk.Options, stream bool, log *slog.Logger) (string, error) {
	var parts []string
	var sawText bool
	var lastErr string

	err := a.drain(ctx, prompt, opts, log, func(ev *sdk.AssistantEvent) {
		if ev.Error != "" {
			lastErr = ev.Error
		}
		for _, block := range ev.Blocks {
			switch b := block.(type) {
			case sdk.TextBlock:
				if stream {
					_, _ = io.WriteString(a.echo, b.Text)
				}
				if strings.TrimSpace(b.Text) != "" {
					sawText = true
				}
				parts = append(parts, b.Text)
			case sdk.ThinkingBlock:
				parts = append(parts, thinkingText(b))
			case sdk.ToolUseBlock:
				log.Debug("tool use in plain completion", "tool", b.Name)
			}
		}
	})
	if stream && len(parts) > 0 {
		_, _ = io.WriteString(a.echo, "\n")
	}
	if err != nil {
		return "", err
	}

	if !sawText {
		if lastErr != "" {
			return "", fmt.Errorf("%w: assistant error: %s", ErrEmptyResponse, lastErr)
		}
		return "", ErrEmptyResponse
	}
	return strings.TrimSpace(strings.Join(parts, "\n")), nil
}

// runToolCompletion returns the last assistant event translated to a chat
// message, or nil when the session produced no assistant event.
func (a *sessionAdapter) runToolCompletion(ctx context.Context, prompt string, opts sdk.Options, log *slog.Logger) (*openai.ChatCompletionMessage, error) {
	var last *sdk.AssistantEvent
	toolUses := 0

	err := a.drain(ctx, prompt, opts, log, func(ev *sdk.AssistantEvent) {
		for _, block := range ev.Blocks {
			if b, ok := block.(sdk.ToolUseBlock); ok {
				toolUses++
				log.Info("tool use", "tool", b.Name, "tool_use_id", b.ID)
			}
		}
		last = ev
	})
	if err != nil {
		return nil, err
	}
	if last == nil {
		log.Info("session produced no assistant message", "tool_uses", toolUses)
		return nil, nil
	}
	msg := translateAssistant(last)
	return &msg, nil
}

// translateAssistant converts an assistant event into a chat message. Text
// parts are joined with "\n", tool-use blocks become tool calls and an
// assistant error is appended as "Error: ...".
func translateAssistant(ev *sdk.AssistantEvent) openai.ChatCompletionMessage {
	msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant}

	var parts []string
	for _, block := range ev.Blocks {
		switch b := block.(type) {
		case sdk.TextBlock:
			parts = append(parts, b.Text)
		case sdk.ThinkingBlock:
			parts = append(parts, thinkingText(b))
		case sdk.ToolUseBlock:
			msg.ToolCalls = append(msg.ToolCalls, toolCall(b))
		}
	}
	msg.Content = strings.Join(parts, "\n")

	if ev.Error != "" {
		if msg.Content != "" {
			msg.Content += "\n\nError: " + ev.Error
		} else {
			msg.Content = "Error: " + ev.Error
		}
	}
	return msg
}

// toolCall converts a tool-use block. A nil input encodes as "{}".
func toolCall(b sdk.ToolUseBlock) openai.ToolCall {
	args := "{}"
	if b.Input != nil {
		if enc, err := encodeArguments(b.Input); err == nil {
			args = enc
		}
	}
	return openai.ToolCall{
		ID:   b.ID,
		Type: openai.ToolTypeFunction,
		Function: openai.FunctionCall{
			Name:      b.Name,
			Arguments: args,
		},
	}
}

// encodeArguments renders v the way frameworks on the other side of the
// bridge emit tool arguments: sorted keys, ", " and ": " separators and
// non-ASCII characters escaped as \uXXXX.
func encodeArguments(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	compact := bytes.TrimRight(buf.Bytes(), "\n")

	var out strings.Builder
	out.Grow(len(compact) + len(compact)/4)
	inString, escaped := false, false
	for _, r := range string(compact) {
		switch {
		case inString:
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			}
			if r > unicode.MaxASCII {
				for _, u := range utf16.Encode([]rune{r}) {
					fmt.Fprintf(&out, "\\u%04x", u)
				}
				continue
			}
		case r == '"':
			inString = true
		case r == ',' || r == ':':
			out.WriteRune(r)
			out.WriteByte(' ')
			continue
		}
		out.WriteRune(r)
	}
	return out.String(), nil
}

func thinkingText(b sdk.ThinkingBlock) string {
	return "[Thinking: " + b.Thinking + "]"
}
