package sdk

import "encoding/json"

// EventKind identifies the kind of event emitted by a session stream.
type EventKind int

const (
	// KindUnknown marks events the runtime emitted but this package does not
	// model. They are skipped by consumers.
	KindUnknown EventKind = iota
	KindAssistant
	KindUser
	KindSystem
	KindToolResult
	KindResult
)

func (k EventKind) String() string {
	switch k {
	case KindAssistant:
		return "assistant"
	case KindUser:
		return "user"
	case KindSystem:
		return "system"
	case KindToolResult:
		return "tool_result"
	case KindResult:
		return "result"
	default:
		return "unknown"
	}
}

// Event is the closed set of events a session can emit. Implementations live
// in this package only.
type Event interface {
	Kind() EventKind
	isEvent()
}

// AssistantEvent carries one complete assistant message.
type AssistantEvent struct {
	Blocks []ContentBlock
	Model  string

	// ParentToolUseID is set when the message was produced inside a tool
	// (sub-agent) rather than the top-level conversation.
	ParentToolUseID string

	// Error is a runtime-reported error attached to the message, if any.
	Error string
}

func (*AssistantEvent) Kind() EventKind { return KindAssistant }
func (*AssistantEvent) isEvent()        {}

// UserEvent echoes user-authored content back through the stream.
type UserEvent struct {
	Text string
}

func (*UserEvent) Kind() EventKind { return KindUser }
func (*UserEvent) isEvent()        {}

// SystemEvent reports runtime metadata such as session initialization.
type SystemEvent struct {
	Subtype   string
	SessionID string
	Model     string
	Data      json.RawMessage
}

func (*SystemEvent) Kind() EventKind { return KindSystem }
func (*SystemEvent) isEvent()        {}

// ToolResultEvent reports the outcome of a tool the runtime ran. It is
// metadata only; the bridge never translates it into a response.
type ToolResultEvent struct {
	ToolUseID string
	IsError   bool
	Content   string
}

func (*ToolResultEvent) Kind() EventKind { return KindToolResult }
func (*ToolResultEvent) isEvent()        {}

// Usage holds runtime-reported token counts for a session.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// ResultEvent is the lifecycle-end signal. Nothing after it is read.
type ResultEvent struct {
	// Subtype indicates the outcome, e.g. "success", "error_max_turns",
	// "error_max_tokens" or "error_during_execution".
	Subtype       string
	SessionID     string
	DurationMs    int64
	DurationAPIMs int64
	NumTurns      int
	IsError       bool
	Result        string
	TotalCostUSD  float64
	Usage         Usage
}

func (*ResultEvent) Kind() EventKind { return KindResult }
func (*ResultEvent) isEvent()        {}

// UnknownEvent preserves an event type this package does not model.
type UnknownEvent struct {
	Tag string
	Raw json.RawMessage
}

func (*UnknownEvent) Kind() EventKind { return KindUnknown }
func (*UnknownEvent) isEvent()        {}

// ContentBlock is one unit of content within an assistant message.
type ContentBlock interface {
	isBlock()
}

// TextBlock is visible assistant text.
type TextBlock struct {
	Text string
}

// ThinkingBlock is the model's reasoning text.
type ThinkingBlock struct {
	Thinking  string
	Signature string
}

// ToolUseBlock is a request to run a tool.
type ToolUseBlock struct {
	ID    string
	Name  string
	Input map[string]any
}

func (TextBlock) isBlock()     {}
func (ThinkingBlock) isBlock() {}
func (ToolUseBlock) isBlock()  {}
