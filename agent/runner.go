// Package agent drives single runs: it augments the conversation with
// retrieved context, streams the model response as lifecycle events,
// executes requested tool calls, and finalizes with exactly one
// terminal event per run.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/threadline-ai/threadline/event"
	"github.com/threadline-ai/threadline/eventlog"
	"github.com/threadline-ai/threadline/model"
	"github.com/threadline-ai/threadline/observability"
	"github.com/threadline-ai/threadline/rag"
	"github.com/threadline-ai/threadline/tool"
)

// Input identifies and carries one run request.
type Input struct {
	SessionID      string          `json:"session_id"`
	OrganizationID string          `json:"organization_id"`
	UserID         string          `json:"user_id"`
	Messages       []model.Message `json:"messages"`
}

// Validate checks the input before any event is emitted.
func (in Input) Validate() error {
	if in.SessionID == "" {
		return fmt.Errorf("session id cannot be empty")
	}
	if len(in.Messages) == 0 {
		return fmt.Errorf("messages cannot be empty")
	}
	return nil
}

// Result is the final outcome of a run.
type Result struct {
	RunID     string        `json:"run_id"`
	Text      string        `json:"text"`
	Usage     model.Usage   `json:"usage"`
	Cost      float64       `json:"cost"`
	ToolCalls int           `json:"tool_calls"`
	Events    []event.Event `json:"events,omitempty"`
}

// Config tunes the runner.
type Config struct {
	// SystemPrompt is prepended to every run.
	SystemPrompt string `json:"system_prompt"`

	// RetrievalScope names the knowledge collection used for
	// augmentation. Empty disables augmentation.
	RetrievalScope string `json:"retrieval_scope"`

	// MaxToolIterations bounds the generate/tool-call loop.
	MaxToolIterations int `json:"max_tool_iterations"`

	Temperature float64 `json:"temperature"`
}

// SetDefaults fills zero-valued config.
func (c *Config) SetDefaults() {
	if c.SystemPrompt == "" {
		c.SystemPrompt = "You are a helpful assistant."
	}
	if c.MaxToolIterations == 0 {
		c.MaxToolIterations = 10
	}
}

// Runner coordinates runs over one model provider, tool registry, and
// event log. Safe for concurrent runs: all per-run state is local.
type Runner struct {
	config    Config
	provider  model.Provider
	tools     *tool.Registry
	log       eventlog.Log
	augmenter *rag.Augmenter
	logger    *slog.Logger
}

// NewRunner creates a runner. The augmenter may be nil to disable
// retrieval augmentation.
func NewRunner(cfg Config, provider model.Provider, tools *tool.Registry, log eventlog.Log, augmenter *rag.Augmenter, logger *slog.Logger) *Runner {
	cfg.SetDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		config:    cfg,
		provider:  provider,
		tools:     tools,
		log:       log,
		augmenter: augmenter,
		logger:    logger,
	}
}

// ExecuteStream runs to completion, emitting lifecycle events on the
// returned channel as they happen. The channel closes after the
// terminal event. Validation failures are returned synchronously,
// before any event exists.
func (r *Runner) ExecuteStream(ctx context.Context, in Input) (<-chan event.Event, error) {
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("invalid run input: %w", err)
	}

	out := make(chan event.Event)
	go func() {
		defer close(out)
		_, err := r.run(ctx, in, func(e event.Event) { out <- e })
		if err != nil {
			r.logger.Error("Run failed", "session_id", in.SessionID, "error", err)
		}
	}()
	return out, nil
}

// Execute runs to completion and returns the final result with the
// full event list embedded. The error mirrors the run_error event when
// the run failed.
func (r *Runner) Execute(ctx context.Context, in Input) (*Result, error) {
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("invalid run input: %w", err)
	}

	var events []event.Event
	result, err := r.run(ctx, in, func(e event.Event) { events = append(events, e) })
	if result != nil {
		result.Events = events
	}
	return result, err
}

// emitter appends each event to the session log and hands it to the
// consumer. Log append failures degrade to a warning: delivery to the
// live consumer takes precedence over history.
type emitter struct {
	runner    *Runner
	ctx       context.Context
	sessionID string
	send      func(event.Event)
}

func (em *emitter) emit(e event.Event) {
	if err := em.runner.log.Append(em.ctx, em.sessionID, e); err != nil {
		em.runner.logger.Warn("Failed to append event to log",
			"session_id", em.sessionID,
			"event_type", e.Type,
			"error", err)
	}
	em.send(e)
}

func (r *Runner) run(ctx context.Context, in Input, send func(event.Event)) (*Result, error) {
	runID := uuid.New().String()

	tracer := observability.GetTracer("threadline.agent")
	ctx, span := tracer.Start(ctx, observability.SpanRunExecute,
		trace.WithAttributes(
			attribute.String(observability.AttrRunID, runID),
			attribute.String(observability.AttrSessionID, in.SessionID),
		),
	)
	defer span.End()

	em := &emitter{runner: r, ctx: ctx, sessionID: in.SessionID, send: send}
	em.emit(event.NewRunStarted(in.SessionID, runID))

	result, err := r.generate(ctx, in, runID, em)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		em.emit(event.NewRunError(err.Error()))
		return &Result{RunID: runID}, err
	}

	span.SetStatus(codes.Ok, "finished")
	em.emit(event.NewRunFinished(runID, map[string]any{
		"prompt_tokens":     result.Usage.PromptTokens,
		"completion_tokens": result.Usage.CompletionTokens,
		"total_tokens":      result.Usage.TotalTokens,
		"cost":              result.Cost,
		"tool_calls":        result.ToolCalls,
	}))
	return result, nil
}

// generate drives the model/tool loop. Any error aborts the run; the
// caller turns it into the single run_error event.
func (r *Runner) generate(ctx context.Context, in Input, runID string, em *emitter) (*Result, error) {
	conversation := in.Messages
	if r.augmenter != nil && r.config.RetrievalScope != "" {
		conversation = r.augmenter.Augment(ctx, r.config.RetrievalScope, conversation)
	}

	result := &Result{RunID: runID}
	callContext := tool.CallContext{
		CallerID:       in.UserID,
		OrganizationID: in.OrganizationID,
		SessionID:      in.SessionID,
	}

	var schemas []model.ToolDefinition
	if r.tools != nil {
		schemas = r.tools.Schemas()
	}

	for iteration := 0; iteration < r.config.MaxToolIterations; iteration++ {
		text, toolCalls, usage, err := r.streamTurn(ctx, model.Request{
			System:      r.config.SystemPrompt,
			Messages:    conversation,
			Tools:       schemas,
			Temperature: r.config.Temperature,
		}, em)
		if err != nil {
			return nil, err
		}

		result.Text += text
		result.Usage.PromptTokens += usage.PromptTokens
		result.Usage.CompletionTokens += usage.CompletionTokens
		result.Usage.TotalTokens += usage.TotalTokens

		if len(toolCalls) == 0 {
			result.Cost = model.EstimateCost(r.provider.Name(), result.Usage, model.CountTokens(result.Text))
			return result, nil
		}

		conversation = append(conversation, model.Message{
			Role:      model.RoleAssistant,
			Content:   text,
			ToolCalls: toolCalls,
		})

		// Tool calls run one at a time; each completes fully, audit
		// included, before the next starts.
		for _, tc := range toolCalls {
			result.ToolCalls++
			conversation = append(conversation, r.invokeTool(ctx, tc, callContext, em))
		}
	}

	return nil, fmt.Errorf("run exceeded %d tool iterations", r.config.MaxToolIterations)
}

// streamTurn performs one model call, emitting text events as deltas
// arrive. The message start/end pair brackets the deltas and is only
// emitted when the turn produced text.
func (r *Runner) streamTurn(ctx context.Context, req model.Request, em *emitter) (string, []model.ToolCall, model.Usage, error) {
	var text strings.Builder
	var toolCalls []model.ToolCall
	var usage model.Usage

	stream, err := r.provider.GenerateStream(ctx, req)
	if err != nil {
		return "", nil, usage, fmt.Errorf("model call failed: %w", err)
	}

	messageID := uuid.New().String()
	started := false
	for chunk := range stream {
		switch chunk.Type {
		case model.ChunkTypeText:
			if !started {
				em.emit(event.NewTextMessageStart(messageID))
				started = true
			}
			em.emit(event.NewTextMessageContent(messageID, chunk.Text))
			text.WriteString(chunk.Text)
		case model.ChunkTypeToolCall:
			if chunk.ToolCall != nil {
				toolCalls = append(toolCalls, *chunk.ToolCall)
			}
		case model.ChunkTypeUsage:
			if chunk.Usage != nil {
				usage = *chunk.Usage
			}
		case model.ChunkTypeError:
			if started {
				em.emit(event.NewTextMessageEnd(messageID))
			}
			return "", nil, usage, fmt.Errorf("model stream failed: %w", chunk.Err)
		}
	}
	if started {
		em.emit(event.NewTextMessageEnd(messageID))
	}

	return text.String(), toolCalls, usage, nil
}

// invokeTool runs one tool call through the registry and returns the
// tool message to append to the conversation. Tool failures do not
// fail the run; the model sees the error text and decides what to do.
func (r *Runner) invokeTool(ctx context.Context, tc model.ToolCall, cc tool.CallContext, em *emitter) model.Message {
	em.emit(event.NewToolCallStart(tc.ID, tc.Name, tc.Args))

	var result tool.Result
	if r.tools != nil {
		result = r.tools.Execute(ctx, tc.Name, tc.Args, cc)
	} else {
		result = tool.Result{Success: false, Error: fmt.Sprintf("tool %s is not available", tc.Name), ToolName: tc.Name}
	}

	em.emit(event.NewToolCallEnd(tc.ID))

	content := result.Content
	if !result.Success {
		content = fmt.Sprintf("Error: %s", result.Error)
	}

	resultMessageID := uuid.New().String()
	em.emit(event.NewToolCallResult(tc.ID, resultMessageID, content))

	return model.Message{
		ID:         resultMessageID,
		Role:       model.RoleTool,
		Content:    content,
		ToolCallID: tc.ID,
	}
}
