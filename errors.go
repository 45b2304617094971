package bridge

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by bridge operations. Typed errors below wrap or
// match them, so callers can use errors.Is for the kind and errors.As for the
// details.
var (
	ErrInvalidMessage     = errors.New("bridge: invalid message")
	ErrTokenLimitExceeded = errors.New("bridge: token limit exceeded")
	ErrEmptyResponse      = errors.New("bridge: empty response")
	ErrToolConversion     = errors.New("bridge: tool conversion failed")
	ErrExternalSession    = errors.New("bridge: external session failed")
	ErrSessionIncomplete  = errors.New("bridge: session ended without a result")
	ErrInvalidToolChoice  = errors.New("bridge: invalid tool choice")
	ErrNoOpener           = errors.New("bridge: no session opener configured")
)

// InvalidMessageError reports a message the bridge cannot forward.
type InvalidMessageError struct {
	Index  int // position in the caller's slice, -1 when not applicable
	Role   string
	Reason string
}

func (e *InvalidMessageError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("bridge: invalid message (role %q): %s", e.Role, e.Reason)
	}
	return fmt.Sprintf("bridge: invalid message %d (role %q): %s", e.Index, e.Role, e.Reason)
}

func (e *InvalidMessageError) Is(target error) bool { return target == ErrInvalidMessage }

// TokenLimitError reports a request rejected before any session was opened.
type TokenLimitError struct {
	Current int // input tokens already recorded
	Pending int // estimated input tokens of the rejected request
	Max     int
	Message string // the accountant's explanation, returned by Error
}

func (e *TokenLimitError) Error() string {
	if e.Message == "" {
		return ErrTokenLimitExceeded.Error()
	}
	return e.Message
}

func (e *TokenLimitError) Is(target error) bool { return target == ErrTokenLimitExceeded }

// ToolConversionError reports a tool skipped during declaration conversion.
type ToolConversionError struct {
	Tool string
	Err  error
}

func (e *ToolConversionError) Error() string {
	return fmt.Sprintf("bridge: convert tool %q: %v", e.Tool, e.Err)
}

func (e *ToolConversionError) Unwrap() error { return e.Err }

func (e *ToolConversionError) Is(target error) bool { return target == ErrToolConversion }

// SessionError reports a failure surfaced by the runtime while opening or
// draining a session.
type SessionError struct {
	Op  string // "open" or "stream"
	Err error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("bridge: session %s: %v", e.Op, e.Err)
}

func (e *SessionError) Unwrap() error { return e.Err }

func (e *SessionError) Is(target error) bool { return target == ErrExternalSession }
