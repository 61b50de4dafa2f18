package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadline-ai/threadline/audit"
	"github.com/threadline-ai/threadline/event"
	"github.com/threadline-ai/threadline/eventlog"
	"github.com/threadline-ai/threadline/model"
	"github.com/threadline-ai/threadline/tool"
)

// scriptedProvider plays back one prepared chunk sequence per call.
type scriptedProvider struct {
	turns [][]model.StreamChunk
	calls int

	// requests records what the runner sent, per call.
	requests []model.Request
}

func (p *scriptedProvider) Name() string { return "openai" }

func (p *scriptedProvider) Generate(ctx context.Context, req model.Request) (*model.Response, error) {
	return nil, errors.New("not used")
}

func (p *scriptedProvider) GenerateStream(ctx context.Context, req model.Request) (<-chan model.StreamChunk, error) {
	p.requests = append(p.requests, req)
	if p.calls >= len(p.turns) {
		return nil, errors.New("no scripted turn left")
	}
	turn := p.turns[p.calls]
	p.calls++

	out := make(chan model.StreamChunk, len(turn))
	for _, c := range turn {
		out <- c
	}
	close(out)
	return out, nil
}

func textChunks(parts ...string) []model.StreamChunk {
	var out []model.StreamChunk
	for _, p := range parts {
		out = append(out, model.StreamChunk{Type: model.ChunkTypeText, Text: p})
	}
	return out
}

type lookupTool struct{}

func (lookupTool) Definition() tool.Definition {
	return tool.Definition{
		Name:        "lookup",
		Description: "Look something up.",
		Parameters: []tool.Parameter{
			{Name: "key", Type: "string", Description: "Key", Required: true},
		},
	}
}

func (lookupTool) Execute(ctx context.Context, args map[string]any) (tool.Result, error) {
	key, _ := args["key"].(string)
	return tool.Result{Success: true, Content: "value-for-" + key}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRunner(provider model.Provider, withTools bool) (*Runner, eventlog.Log) {
	log := eventlog.NewMemoryStore()
	var registry *tool.Registry
	if withTools {
		registry = tool.NewRegistry(audit.NewMemoryRecorder(audit.DefaultRetention), testLogger())
		if err := registry.Register(lookupTool{}); err != nil {
			panic(err)
		}
	}
	return NewRunner(Config{}, provider, registry, log, nil, testLogger()), log
}

func userInput(content string) Input {
	return Input{
		SessionID:      "sess-1",
		OrganizationID: "org-1",
		UserID:         "user-1",
		Messages:       []model.Message{{Role: model.RoleUser, Content: content}},
	}
}

func eventTypes(events []event.Event) []event.Type {
	out := make([]event.Type, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

func TestExecuteSimpleRun(t *testing.T) {
	provider := &scriptedProvider{turns: [][]model.StreamChunk{
		append(textChunks("Hel", "lo", " there"),
			model.StreamChunk{Type: model.ChunkTypeUsage, Usage: &model.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}}),
	}}
	runner, log := newTestRunner(provider, false)

	result, err := runner.Execute(context.Background(), userInput("hi"))
	require.NoError(t, err)

	assert.Equal(t, "Hello there", result.Text)
	assert.Equal(t, 15, result.Usage.TotalTokens)
	assert.Greater(t, result.Cost, 0.0)
	assert.Zero(t, result.ToolCalls)

	assert.Equal(t, []event.Type{
		event.TypeRunStarted,
		event.TypeTextMessageStart,
		event.TypeTextMessageContent,
		event.TypeTextMessageContent,
		event.TypeTextMessageContent,
		event.TypeTextMessageEnd,
		event.TypeRunFinished,
	}, eventTypes(result.Events))

	// Deltas share one message id and concatenate to the full text.
	start := result.Events[1].Payload.(event.TextMessageStart)
	var text string
	for _, e := range result.Events[2:5] {
		content := e.Payload.(event.TextMessageContent)
		assert.Equal(t, start.MessageID, content.MessageID)
		text += content.Delta
	}
	assert.Equal(t, "Hello there", text)

	finished := result.Events[6].Payload.(event.RunFinished)
	assert.Equal(t, result.RunID, finished.RunID)
	assert.Equal(t, 15, finished.Result["total_tokens"])

	// Every event also landed in the session log.
	logged, err := log.ReadAll(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, eventTypes(result.Events), eventTypes(logged))
}

func TestExecuteToolLoop(t *testing.T) {
	provider := &scriptedProvider{turns: [][]model.StreamChunk{
		{{Type: model.ChunkTypeToolCall, ToolCall: &model.ToolCall{
			ID: "call-1", Name: "lookup", Args: map[string]any{"key": "alpha"},
		}}},
		textChunks("The answer is alpha."),
	}}
	runner, _ := newTestRunner(provider, true)

	result, err := runner.Execute(context.Background(), userInput("look up alpha"))
	require.NoError(t, err)

	assert.Equal(t, "The answer is alpha.", result.Text)
	assert.Equal(t, 1, result.ToolCalls)
	assert.Equal(t, 2, provider.calls)

	assert.Equal(t, []event.Type{
		event.TypeRunStarted,
		event.TypeToolCallStart,
		event.TypeToolCallEnd,
		event.TypeToolCallResult,
		event.TypeTextMessageStart,
		event.TypeTextMessageContent,
		event.TypeTextMessageEnd,
		event.TypeRunFinished,
	}, eventTypes(result.Events))

	callResult := result.Events[3].Payload.(event.ToolCallResult)
	assert.Equal(t, "call-1", callResult.ToolCallID)
	assert.Equal(t, "value-for-alpha", callResult.Content)

	// The second model call sees the tool exchange.
	second := provider.requests[1]
	require.Len(t, second.Messages, 3)
	assert.Equal(t, model.RoleAssistant, second.Messages[1].Role)
	require.Len(t, second.Messages[1].ToolCalls, 1)
	assert.Equal(t, model.RoleTool, second.Messages[2].Role)
	assert.Equal(t, "call-1", second.Messages[2].ToolCallID)
	assert.Equal(t, "value-for-alpha", second.Messages[2].Content)
}

func TestExecuteUnknownToolContinues(t *testing.T) {
	provider := &scriptedProvider{turns: [][]model.StreamChunk{
		{{Type: model.ChunkTypeToolCall, ToolCall: &model.ToolCall{
			ID: "call-1", Name: "no_such_tool", Args: map[string]any{},
		}}},
		textChunks("I could not use that tool."),
	}}
	runner, _ := newTestRunner(provider, true)

	result, err := runner.Execute(context.Background(), userInput("do it"))
	require.NoError(t, err)

	// The failure is surfaced to the model, not to the caller.
	callResult := result.Events[3].Payload.(event.ToolCallResult)
	assert.Contains(t, callResult.Content, "Error:")
	assert.Contains(t, callResult.Content, "not available")
	assert.Equal(t, event.TypeRunFinished, result.Events[len(result.Events)-1].Type)
}

func TestExecuteModelErrorEmitsSingleRunError(t *testing.T) {
	provider := &scriptedProvider{turns: [][]model.StreamChunk{
		append(textChunks("partial"),
			model.StreamChunk{Type: model.ChunkTypeError, Err: errors.New("upstream closed")}),
	}}
	runner, log := newTestRunner(provider, false)

	result, err := runner.Execute(context.Background(), userInput("hi"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream closed")

	types := eventTypes(result.Events)
	assert.Equal(t, event.TypeRunStarted, types[0])
	assert.Equal(t, event.TypeRunError, types[len(types)-1])

	errorCount := 0
	for _, e := range result.Events {
		if e.Type == event.TypeRunError {
			errorCount++
		}
		assert.NotEqual(t, event.TypeRunFinished, e.Type)
	}
	assert.Equal(t, 1, errorCount)

	// The open message stream was closed before the terminal event.
	assert.Equal(t, event.TypeTextMessageEnd, types[len(types)-2])

	logged, err := log.ReadAll(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, types, eventTypes(logged))
}

func TestExecuteStreamDeliversEvents(t *testing.T) {
	provider := &scriptedProvider{turns: [][]model.StreamChunk{
		textChunks("streamed"),
	}}
	runner, _ := newTestRunner(provider, false)

	stream, err := runner.ExecuteStream(context.Background(), userInput("hi"))
	require.NoError(t, err)

	var events []event.Event
	for e := range stream {
		events = append(events, e)
	}
	require.NotEmpty(t, events)
	assert.Equal(t, event.TypeRunStarted, events[0].Type)
	assert.Equal(t, event.TypeRunFinished, events[len(events)-1].Type)
}

func TestExecuteValidatesInput(t *testing.T) {
	runner, _ := newTestRunner(&scriptedProvider{}, false)

	_, err := runner.Execute(context.Background(), Input{SessionID: "s"})
	assert.Error(t, err, "empty messages rejected")

	_, err = runner.ExecuteStream(context.Background(), Input{
		Messages: []model.Message{{Role: model.RoleUser, Content: "hi"}},
	})
	assert.Error(t, err, "empty session id rejected")
}

func TestExecuteToolIterationBound(t *testing.T) {
	// The model keeps asking for tools forever.
	turns := make([][]model.StreamChunk, 20)
	for i := range turns {
		turns[i] = []model.StreamChunk{{Type: model.ChunkTypeToolCall, ToolCall: &model.ToolCall{
			ID: "call", Name: "lookup", Args: map[string]any{"key": "x"},
		}}}
	}
	provider := &scriptedProvider{turns: turns}
	runner, _ := newTestRunner(provider, true)

	result, err := runner.Execute(context.Background(), userInput("loop"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tool iterations")
	assert.Equal(t, event.TypeRunError, result.Events[len(result.Events)-1].Type)
}
