package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/armatrix/agent-bridge/permission"
	"github.com/armatrix/agent-bridge/sdk"
)

// envelope is the common header of every stream-json line.
type envelope struct {
	Type    string `json:"type"`
	Subtype string `json:"subtype"`
}

type wireBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	Thinking  string          `json:"thinking"`
	Signature string          `json:"signature"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     map[string]any  `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
	Content   json.RawMessage `json:"content"`
	IsError   bool            `json:"is_error"`
}

type wireAssistant struct {
	Message struct {
		Content []wireBlock `json:"content"`
		Model   string      `json:"model"`
	} `json:"message"`
	ParentToolUseID *string `json:"parent_tool_use_id"`
	Error           string  `json:"error"`
}

type wireUser struct {
	Message struct {
		Content json.RawMessage `json:"content"`
	} `json:"message"`
}

type wireSystem struct {
	Subtype   string `json:"subtype"`
	SessionID string `json:"session_id"`
	Model     string `json:"model"`
}

type wireResult struct {
	Subtype       string  `json:"subtype"`
	SessionID     string  `json:"session_id"`
	DurationMs    int64   `json:"duration_ms"`
	DurationAPIMs int64   `json:"duration_api_ms"`
	NumTurns      int     `json:"num_turns"`
	IsError       bool    `json:"is_error"`
	Result        string  `json:"result"`
	TotalCostUSD  float64 `json:"total_cost_usd"`
	Usage         struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
}

// controlRequest is sent by the CLI when it needs a decision from the host.
type controlRequest struct {
	RequestID string `json:"request_id"`
	Request   struct {
		Subtype  string         `json:"subtype"`
		ToolName string         `json:"tool_name"`
		Input    map[string]any `json:"input"`
	} `json:"request"`
}

// parseEvents converts one stream-json line into zero or more events. A user
// line carrying tool results yields one ToolResultEvent per result.
func parseEvents(line []byte) ([]sdk.Event, error) {
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, fmt.Errorf("parsing stream-json envelope: %w", err)
	}

	switch env.Type {
	case "assistant":
		var w wireAssistant
		if err := json.Unmarshal(line, &w); err != nil {
			return nil, fmt.Errorf("parsing assistant message: %w", err)
		}
		ev := &sdk.AssistantEvent{Model: w.Message.Model, Error: w.Error}
		if w.ParentToolUseID != nil {
			ev.ParentToolUseID = *w.ParentToolUseID
		}
		for _, b := range w.Message.Content {
			switch b.Type {
			case "text":
				ev.Blocks = append(ev.Blocks, sdk.TextBlock{Text: b.Text})
			case "thinking":
				ev.Blocks = append(ev.Blocks, sdk.ThinkingBlock{Thinking: b.Thinking, Signature: b.Signature})
			case "tool_use":
				input := b.Input
				if input == nil {
					input = map[string]any{}
				}
				ev.Blocks = append(ev.Blocks, sdk.ToolUseBlock{ID: b.ID, Name: b.Name, Input: input})
			}
		}
		return []sdk.Event{ev}, nil

	case "user":
		var w wireUser
		if err := json.Unmarshal(line, &w); err != nil {
			return nil, fmt.Errorf("parsing user message: %w", err)
		}
		return parseUserContent(w.Message.Content), nil

	case "system":
		var w wireSystem
		if err := json.Unmarshal(line, &w); err != nil {
			return nil, fmt.Errorf("parsing system message: %w", err)
		}
		return []sdk.Event{&sdk.SystemEvent{
			Subtype:   w.Subtype,
			SessionID: w.SessionID,
			Model:     w.Model,
			Data:      json.RawMessage(append([]byte(nil), line...)),
		}}, nil

	case "result":
		var w wireResult
		if err := json.Unmarshal(line, &w); err != nil {
			return nil, fmt.Errorf("parsing result message: %w", err)
		}
		return []sdk.Event{&sdk.ResultEvent{
			Subtype:       w.Subtype,
			SessionID:     w.SessionID,
			DurationMs:    w.DurationMs,
			DurationAPIMs: w.DurationAPIMs,
			NumTurns:      w.NumTurns,
			IsError:       w.IsError,
			Result:        w.Result,
			TotalCostUSD:  w.TotalCostUSD,
			Usage: sdk.Usage{
				InputTokens:  w.Usage.InputTokens,
				OutputTokens: w.Usage.OutputTokens,
			},
		}}, nil

	default:
		return []sdk.Event{&sdk.UnknownEvent{
			Tag: env.Type,
			Raw: json.RawMessage(append([]byte(nil), line...)),
		}}, nil
	}
}

// parseUserContent handles both plain-string and block-list user content.
func parseUserContent(raw json.RawMessage) []sdk.Event {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []sdk.Event{&sdk.UserEvent{Text: s}}
	}

	var blocks []wireBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return []sdk.Event{&sdk.UserEvent{Text: string(raw)}}
	}

	var events []sdk.Event
	var texts []string
	for _, b := range blocks {
		switch b.Type {
		case "tool_result":
			events = append(events, &sdk.ToolResultEvent{
				ToolUseID: b.ToolUseID,
				IsError:   b.IsError,
				Content:   flattenContent(b.Content),
			})
		case "text":
			texts = append(texts, b.Text)
		}
	}
	if len(texts) > 0 {
		events = append(events, &sdk.UserEvent{Text: strings.Join(texts, "\n")})
	}
	return events
}

// flattenContent renders tool result content, which is either a string or a
// list of text blocks.
func flattenContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []wireBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		texts := make([]string, 0, len(blocks))
		for _, b := range blocks {
			if b.Type == "text" {
				texts = append(texts, b.Text)
			}
		}
		return strings.Join(texts, "\n")
	}
	return string(raw)
}

// userMessage is the stdin line carrying the prompt.
func userMessage(prompt string) map[string]any {
	return map[string]any{
		"type": "user",
		"message": map[string]any{
			"role":    "user",
			"content": prompt,
		},
		"parent_tool_use_id": nil,
		"session_id":         "default",
	}
}

// initializeRequest opens the control protocol so the CLI routes permission
// prompts to stdin/stdout.
func initializeRequest() map[string]any {
	return map[string]any{
		"type":       "control_request",
		"request_id": "req_" + uuid.NewString(),
		"request": map[string]any{
			"subtype": "initialize",
			"hooks":   nil,
		},
	}
}

// permissionResponse answers a can_use_tool request with a verdict.
func permissionResponse(requestID string, v permission.Verdict) map[string]any {
	body := map[string]any{"behavior": string(v.Behavior)}
	if v.Allowed() {
		input := v.UpdatedInput
		if input == nil {
			input = map[string]any{}
		}
		body["updatedInput"] = input
	} else {
		body["message"] = v.Message
	}
	return map[string]any{
		"type": "control_response",
		"response": map[string]any{
			"subtype":    "success",
			"request_id": requestID,
			"response":   body,
		},
	}
}

// errorResponse rejects a control request the host does not support.
func errorResponse(requestID, msg string) map[string]any {
	return map[string]any{
		"type": "control_response",
		"response": map[string]any{
			"subtype":    "error",
			"request_id": requestID,
			"error":      msg,
		},
	}
}
