// Package model defines the language-model boundary.
//
// A Provider accepts a system prompt plus ordered messages and returns
// either a one-shot response with usage, or a stream of chunks carrying
// text deltas, tool calls and a final usage report. Everything above
// this boundary is provider-agnostic.
package model

import (
	"context"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry in the conversation handed to the model.
type Message struct {
	ID      string `json:"id,omitempty"`
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// ToolCallID links a tool-role message to the call it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`

	// ToolCalls carries the calls an assistant message requested.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is a model-requested capability invocation.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// ToolDefinition describes a capability to the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Usage reports token consumption for one model call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the outcome of one model call.
type Response struct {
	Text         string
	ToolCalls    []ToolCall
	Usage        Usage
	FinishReason string
}

// ChunkType discriminates stream chunks.
type ChunkType string

const (
	ChunkTypeText     ChunkType = "text"
	ChunkTypeToolCall ChunkType = "tool_call"
	ChunkTypeUsage    ChunkType = "usage"
	ChunkTypeError    ChunkType = "error"
)

// StreamChunk is one element of a streaming model response.
type StreamChunk struct {
	Type     ChunkType
	Text     string
	ToolCall *ToolCall
	Usage    *Usage
	Err      error
}

// Request is one model invocation.
type Request struct {
	System      string
	Messages    []Message
	Tools       []ToolDefinition
	Temperature float64
}

// Provider is the model boundary.
type Provider interface {
	// Name identifies the provider in logs and cost accounting.
	Name() string

	// Generate performs a non-streaming model call.
	Generate(ctx context.Context, req Request) (*Response, error)

	// GenerateStream performs a streaming model call. The channel is
	// closed after the final chunk; a chunk with Type ChunkTypeError
	// reports a mid-stream failure.
	GenerateStream(ctx context.Context, req Request) (<-chan StreamChunk, error)
}
