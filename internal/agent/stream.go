package agent

import (
	"github.com/haasonsaas/valet/pkg/models"
)

// StreamEventType tags the variants of StreamEvent.
type StreamEventType string

const (
	// EventTextDelta carries an incremental piece of assistant text.
	EventTextDelta StreamEventType = "text_delta"

	// EventToolUseStart announces that the model began emitting a tool call.
	EventToolUseStart StreamEventType = "tool_use_start"

	// EventToolUseComplete carries a fully accumulated tool call.
	EventToolUseComplete StreamEventType = "tool_use_complete"

	// EventMessageComplete carries the full final text. A stream terminates
	// with exactly one of EventMessageComplete or EventError.
	EventMessageComplete StreamEventType = "message_complete"

	// EventRoutingInfo reports which provider and model were selected.
	EventRoutingInfo StreamEventType = "routing_info"

	// EventError terminates the stream with a failure.
	EventError StreamEventType = "error"
)

// StreamEvent is the provider-neutral unit of LLM output. Exactly one
// payload field is meaningful per Type.
type StreamEvent struct {
	Type StreamEventType

	// Text is the delta for EventTextDelta and the full accumulated text
	// for EventMessageComplete.
	Text string

	// ToolName is set for EventToolUseStart.
	ToolName string

	// ToolCall is set for EventToolUseComplete.
	ToolCall *models.ToolCall

	// Provider and Model are set for EventRoutingInfo.
	Provider string
	Model    string

	// Err is set for EventError.
	Err error
}

// TextDelta constructs a text delta event.
func TextDelta(text string) StreamEvent {
	return StreamEvent{Type: EventTextDelta, Text: text}
}

// ToolUseStart constructs a tool start event.
func ToolUseStart(name string) StreamEvent {
	return StreamEvent{Type: EventToolUseStart, ToolName: name}
}

// ToolUseComplete constructs a completed tool call event.
func ToolUseComplete(tc *models.ToolCall) StreamEvent {
	return StreamEvent{Type: EventToolUseComplete, ToolCall: tc}
}

// MessageComplete constructs the terminal success event.
func MessageComplete(text string) StreamEvent {
	return StreamEvent{Type: EventMessageComplete, Text: text}
}

// ErrorEvent constructs the terminal failure event.
func ErrorEvent(err error) StreamEvent {
	return StreamEvent{Type: EventError, Err: err}
}
