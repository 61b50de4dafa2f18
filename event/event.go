// Package event defines the closed set of run lifecycle events and their
// wire format.
//
// Every event carries a timestamp and the correlation identifiers relevant
// to its kind (run, thread, message, tool call). Events are immutable once
// constructed: build them through the New* constructors, append them to a
// log, never mutate them.
//
// The wire format is one flat JSON object per event:
//
//	{"type": "text_message_content", "timestamp": 1712345678901, "messageId": "...", "delta": "..."}
//
// Ordering rules (enforced by the emitter, not by this package):
//   - run_started precedes everything; run_finished or run_error is terminal
//   - text_message_start(id) < text_message_content(id, ...) < text_message_end(id)
//   - tool_call_start(id) < tool_call_end(id) < tool_call_result(id, ...)
package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Type identifies an event kind.
type Type string

const (
	TypeRunStarted         Type = "run_started"
	TypeRunFinished        Type = "run_finished"
	TypeRunError           Type = "run_error"
	TypeTextMessageStart   Type = "text_message_start"
	TypeTextMessageContent Type = "text_message_content"
	TypeTextMessageEnd     Type = "text_message_end"
	TypeToolCallStart      Type = "tool_call_start"
	TypeToolCallEnd        Type = "tool_call_end"
	TypeToolCallResult     Type = "tool_call_result"
)

// Event is one immutable lifecycle record.
type Event struct {
	Type      Type
	Timestamp time.Time
	Payload   Payload
}

// Payload is the kind-specific portion of an event. It is a closed set;
// switch over the concrete types for exhaustive handling.
type Payload interface {
	isPayload()
}

// RunStarted opens a run. Exactly one per run, always first.
type RunStarted struct {
	ThreadID string `json:"threadId"`
	RunID    string `json:"runId"`
}

// RunFinished closes a run successfully. Result carries optional metadata
// such as token usage.
type RunFinished struct {
	RunID  string         `json:"runId"`
	Result map[string]any `json:"result,omitempty"`
}

// RunError closes a run with a failure.
type RunError struct {
	Message string `json:"message"`
}

// TextMessageStart opens an assistant message stream.
type TextMessageStart struct {
	MessageID string `json:"messageId"`
}

// TextMessageContent carries one text delta. Concatenating deltas for a
// message id in emission order reproduces the full generated text.
type TextMessageContent struct {
	MessageID string `json:"messageId"`
	Delta     string `json:"delta"`
}

// TextMessageEnd closes an assistant message stream.
type TextMessageEnd struct {
	MessageID string `json:"messageId"`
}

// ToolCallStart records the decision to invoke a tool.
type ToolCallStart struct {
	ToolCallID string         `json:"toolCallId"`
	ToolName   string         `json:"toolName"`
	Args       map[string]any `json:"args"`
}

// ToolCallEnd records that the tool invocation returned.
type ToolCallEnd struct {
	ToolCallID string `json:"toolCallId"`
}

// ToolCallResult carries the tool output handed back to the model.
type ToolCallResult struct {
	ToolCallID string `json:"toolCallId"`
	MessageID  string `json:"messageId"`
	Content    string `json:"content"`
}

func (RunStarted) isPayload()         {}
func (RunFinished) isPayload()        {}
func (RunError) isPayload()           {}
func (TextMessageStart) isPayload()   {}
func (TextMessageContent) isPayload() {}
func (TextMessageEnd) isPayload()     {}
func (ToolCallStart) isPayload()      {}
func (ToolCallEnd) isPayload()        {}
func (ToolCallResult) isPayload()     {}

// NewRunStarted creates a run_started event.
func NewRunStarted(threadID, runID string) Event {
	return Event{Type: TypeRunStarted, Timestamp: time.Now(), Payload: RunStarted{ThreadID: threadID, RunID: runID}}
}

// NewRunFinished creates a run_finished event.
func NewRunFinished(runID string, result map[string]any) Event {
	return Event{Type: TypeRunFinished, Timestamp: time.Now(), Payload: RunFinished{RunID: runID, Result: result}}
}

// NewRunError creates a run_error event.
func NewRunError(message string) Event {
	return Event{Type: TypeRunError, Timestamp: time.Now(), Payload: RunError{Message: message}}
}

// NewTextMessageStart creates a text_message_start event.
func NewTextMessageStart(messageID string) Event {
	return Event{Type: TypeTextMessageStart, Timestamp: time.Now(), Payload: TextMessageStart{MessageID: messageID}}
}

// NewTextMessageContent creates a text_message_content event.
func NewTextMessageContent(messageID, delta string) Event {
	return Event{Type: TypeTextMessageContent, Timestamp: time.Now(), Payload: TextMessageContent{MessageID: messageID, Delta: delta}}
}

// NewTextMessageEnd creates a text_message_end event.
func NewTextMessageEnd(messageID string) Event {
	return Event{Type: TypeTextMessageEnd, Timestamp: time.Now(), Payload: TextMessageEnd{MessageID: messageID}}
}

// NewToolCallStart creates a tool_call_start event.
func NewToolCallStart(toolCallID, toolName string, args map[string]any) Event {
	return Event{Type: TypeToolCallStart, Timestamp: time.Now(), Payload: ToolCallStart{ToolCallID: toolCallID, ToolName: toolName, Args: args}}
}

// NewToolCallEnd creates a tool_call_end event.
func NewToolCallEnd(toolCallID string) Event {
	return Event{Type: TypeToolCallEnd, Timestamp: time.Now(), Payload: ToolCallEnd{ToolCallID: toolCallID}}
}

// NewToolCallResult creates a tool_call_result event.
func NewToolCallResult(toolCallID, messageID, content string) Event {
	return Event{Type: TypeToolCallResult, Timestamp: time.Now(), Payload: ToolCallResult{ToolCallID: toolCallID, MessageID: messageID, Content: content}}
}

// envelope is the wire shape shared by all kinds.
type envelope struct {
	Type      Type  `json:"type"`
	Timestamp int64 `json:"timestamp"`
}

// MarshalJSON flattens the payload into the top-level object alongside
// type and timestamp (unix milliseconds).
func (e Event) MarshalJSON() ([]byte, error) {
	if e.Payload == nil {
		return nil, fmt.Errorf("event %s has no payload", e.Type)
	}

	body, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", e.Type, err)
	}

	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("failed to flatten %s payload: %w", e.Type, err)
	}

	typeJSON, err := json.Marshal(e.Type)
	if err != nil {
		return nil, err
	}
	tsJSON, err := json.Marshal(e.Timestamp.UnixMilli())
	if err != nil {
		return nil, err
	}
	fields["type"] = typeJSON
	fields["timestamp"] = tsJSON

	return json.Marshal(fields)
}

// UnmarshalJSON restores an event from its flat wire form.
func (e *Event) UnmarshalJSON(data []byte) error {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("failed to unmarshal event envelope: %w", err)
	}

	var payload Payload
	switch env.Type {
	case TypeRunStarted:
		payload = &RunStarted{}
	case TypeRunFinished:
		payload = &RunFinished{}
	case TypeRunError:
		payload = &RunError{}
	case TypeTextMessageStart:
		payload = &TextMessageStart{}
	case TypeTextMessageContent:
		payload = &TextMessageContent{}
	case TypeTextMessageEnd:
		payload = &TextMessageEnd{}
	case TypeToolCallStart:
		payload = &ToolCallStart{}
	case TypeToolCallEnd:
		payload = &ToolCallEnd{}
	case TypeToolCallResult:
		payload = &ToolCallResult{}
	default:
		return fmt.Errorf("unknown event type: %q", env.Type)
	}

	if err := json.Unmarshal(data, payload); err != nil {
		return fmt.Errorf("failed to unmarshal %s payload: %w", env.Type, err)
	}

	e.Type = env.Type
	e.Timestamp = time.UnixMilli(env.Timestamp)
	e.Payload = derefPayload(payload)
	return nil
}

// derefPayload normalizes *T back to T so constructed and decoded events
// compare equal.
func derefPayload(p Payload) Payload {
	switch v := p.(type) {
	case *RunStarted:
		return *v
	case *RunFinished:
		return *v
	case *RunError:
		return *v
	case *TextMessageStart:
		return *v
	case *TextMessageContent:
		return *v
	case *TextMessageEnd:
		return *v
	case *ToolCallStart:
		return *v
	case *ToolCallEnd:
		return *v
	case *ToolCallResult:
		return *v
	default:
		return p
	}
}

// IsTerminal reports whether the event closes its run.
func (e Event) IsTerminal() bool {
	return e.Type == TypeRunFinished || e.Type == TypeRunError
}
