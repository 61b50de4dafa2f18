package model

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenAIProvider implements Provider against the OpenAI chat completions
// API (or any compatible endpoint).
type OpenAIProvider struct {
	client  *http.Client
	apiKey  string
	baseURL string
	model   string
}

// OpenAIConfig configures the provider.
type OpenAIConfig struct {
	// APIKey for the API (required for api.openai.com).
	APIKey string

	// BaseURL of a compatible endpoint (default: https://api.openai.com/v1).
	BaseURL string

	// Model name (default: gpt-4o-mini).
	Model string

	// Timeout for non-streaming requests (default: 120s).
	Timeout time.Duration
}

type openaiChatMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	ToolCalls  []openaiToolCall `json:"tool_calls,omitempty"`
}

type openaiToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openaiTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters"`
	} `json:"function"`
}

type openaiChatRequest struct {
	Model       string              `json:"model"`
	Messages    []openaiChatMessage `json:"messages"`
	Temperature float64             `json:"temperature,omitempty"`
	Stream      bool                `json:"stream,omitempty"`
	Tools       []openaiTool        `json:"tools,omitempty"`
	StreamOpts  *openaiStreamOpts   `json:"stream_options,omitempty"`
}

type openaiStreamOpts struct {
	IncludeUsage bool `json:"include_usage"`
}

type openaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openaiChatResponse struct {
	Choices []struct {
		Message struct {
			Content   string           `json:"content"`
			ToolCalls []openaiToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage openaiUsage `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

type openaiStreamResponse struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *openaiUsage `json:"usage"`
}

// NewOpenAIProvider creates an OpenAI chat completions provider.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}

	return &OpenAIProvider{
		client:  &http.Client{Timeout: cfg.Timeout},
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
	}, nil
}

func (p *OpenAIProvider) Name() string {
	return "openai"
}

func (p *OpenAIProvider) buildRequest(req Request, stream bool) openaiChatRequest {
	out := openaiChatRequest{
		Model:       p.model,
		Temperature: req.Temperature,
		Stream:      stream,
	}
	if stream {
		out.StreamOpts = &openaiStreamOpts{IncludeUsage: true}
	}

	if req.System != "" {
		out.Messages = append(out.Messages, openaiChatMessage{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		msg := openaiChatMessage{Role: string(m.Role), Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			args, _ := json.Marshal(tc.Args)
			otc := openaiToolCall{ID: tc.ID, Type: "function"}
			otc.Function.Name = tc.Name
			otc.Function.Arguments = string(args)
			msg.ToolCalls = append(msg.ToolCalls, otc)
		}
		out.Messages = append(out.Messages, msg)
	}

	for _, t := range req.Tools {
		ot := openaiTool{Type: "function"}
		ot.Function.Name = t.Name
		ot.Function.Description = t.Description
		ot.Function.Parameters = t.Parameters
		out.Tools = append(out.Tools, ot)
	}
	return out
}

func parseToolCall(id, name, args string) ToolCall {
	tc := ToolCall{ID: id, Name: name, Args: map[string]any{}}
	if args != "" {
		// Malformed arguments surface as an empty arg map; validation
		// downstream reports the missing fields.
		_ = json.Unmarshal([]byte(args), &tc.Args)
	}
	return tc
}

// Generate performs a non-streaming chat completion.
func (p *OpenAIProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	body, err := json.Marshal(p.buildRequest(req, false))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("model request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read model response: %w", err)
	}

	var parsed openaiChatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode model response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if parsed.Error != nil {
			return nil, fmt.Errorf("model API error: %s (type: %s)", parsed.Error.Message, parsed.Error.Type)
		}
		return nil, fmt.Errorf("model API returned status %d: %s", resp.StatusCode, string(respBody))
	}
	if len(parsed.Choices) == 0 {
		return nil, fmt.Errorf("model returned no choices")
	}

	choice := parsed.Choices[0]
	out := &Response{
		Text:         choice.Message.Content,
		FinishReason: choice.FinishReason,
		Usage: Usage{
			PromptTokens:     parsed.Usage.PromptTokens,
			CompletionTokens: parsed.Usage.CompletionTokens,
			TotalTokens:      parsed.Usage.TotalTokens,
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, parseToolCall(tc.ID, tc.Function.Name, tc.Function.Arguments))
	}
	return out, nil
}

// GenerateStream performs a streaming chat completion, emitting text
// deltas as they arrive and tool calls once fully assembled.
func (p *OpenAIProvider) GenerateStream(ctx context.Context, req Request) (<-chan StreamChunk, error) {
	body, err := json.Marshal(p.buildRequest(req, true))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("model request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		return nil, fmt.Errorf("model API returned status %d: %s", resp.StatusCode, string(respBody))
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		p.readStream(ctx, resp.Body, out)
	}()
	return out, nil
}

// pendingToolCall accumulates a tool call streamed across deltas.
type pendingToolCall struct {
	id   string
	name string
	args strings.Builder
}

func (p *OpenAIProvider) readStream(ctx context.Context, body io.Reader, out chan<- StreamChunk) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	pending := make(map[int]*pendingToolCall)
	order := []int{}

	flushToolCalls := func() {
		for _, idx := range order {
			tc := pending[idx]
			call := parseToolCall(tc.id, tc.name, tc.args.String())
			select {
			case out <- StreamChunk{Type: ChunkTypeToolCall, ToolCall: &call}:
			case <-ctx.Done():
				return
			}
		}
		pending = make(map[int]*pendingToolCall)
		order = order[:0]
	}

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}

		var chunk openaiStreamResponse
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			out <- StreamChunk{Type: ChunkTypeError, Err: fmt.Errorf("failed to decode stream chunk: %w", err)}
			return
		}

		if chunk.Usage != nil {
			out <- StreamChunk{Type: ChunkTypeUsage, Usage: &Usage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			}}
		}

		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]

		if choice.Delta.Content != "" {
			select {
			case out <- StreamChunk{Type: ChunkTypeText, Text: choice.Delta.Content}:
			case <-ctx.Done():
				return
			}
		}

		for _, tc := range choice.Delta.ToolCalls {
			pc, ok := pending[tc.Index]
			if !ok {
				pc = &pendingToolCall{}
				pending[tc.Index] = pc
				order = append(order, tc.Index)
			}
			if tc.ID != "" {
				pc.id = tc.ID
			}
			if tc.Function.Name != "" {
				pc.name = tc.Function.Name
			}
			pc.args.WriteString(tc.Function.Arguments)
		}

		if choice.FinishReason != "" {
			flushToolCalls()
		}
	}

	if err := scanner.Err(); err != nil {
		out <- StreamChunk{Type: ChunkTypeError, Err: fmt.Errorf("model stream read failed: %w", err)}
		return
	}

	// Defensive flush for servers that omit finish_reason.
	flushToolCalls()
}

// Ensure OpenAIProvider implements Provider.
var _ Provider = (*OpenAIProvider)(nil)
