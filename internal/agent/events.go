package agent

import (
	"encoding/json"
	"time"
)

// EventType identifies one kind of stream event in a chat turn
type EventType string

const (
	// EventTypeTextDelta carries a fragment of assistant text
	EventTypeTextDelta EventType = "text_delta"

	// EventTypeToolUse announces a tool call the model requested
	EventTypeToolUse EventType = "tool_use"

	// EventTypeActionExecuted reports the outcome of a dispatched action
	EventTypeActionExecuted EventType = "action_executed"

	// EventTypeError terminates the turn; no further events follow
	EventTypeError EventType = "error"

	// EventTypeDone closes a successful turn after persistence
	EventTypeDone EventType = "done"
)

// StreamEvent is one item in the event sequence a chat turn yields.
// Exactly one payload field is set, matching Type.
type StreamEvent struct {
	Type           EventType            `json:"type"`
	Delta          string               `json:"delta,omitempty"`
	ToolUse        *ToolUseEvent        `json:"tool_use,omitempty"`
	ActionExecuted *ActionExecutedEvent `json:"action_executed,omitempty"`
	Error          *ErrorEvent          `json:"error,omitempty"`
	ConversationID string               `json:"conversation_id,omitempty"`
}

// ToolUseEvent describes a tool call as the model requested it
type ToolUseEvent struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input,omitempty"`
}

// ActionExecutedEvent reports a catalog action dispatched by the agent
type ActionExecutedEvent struct {
	ActionID      string     `json:"action_id"`
	RecordID      string     `json:"record_id,omitempty"`
	Success       bool       `json:"success"`
	Summary       string     `json:"summary,omitempty"`
	Error         string     `json:"error,omitempty"`
	UndoAvailable bool       `json:"undo_available,omitempty"`
	UndoExpiresAt *time.Time `json:"undo_expires_at,omitempty"`
}

// ErrorEvent carries the terminal failure of a turn
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func textDeltaEvent(delta string) StreamEvent {
	return StreamEvent{Type: EventTypeTextDelta, Delta: delta}
}

func errorEvent(code, message string) StreamEvent {
	return StreamEvent{Type: EventTypeError, Error: &ErrorEvent{Code: code, Message: message}}
}
