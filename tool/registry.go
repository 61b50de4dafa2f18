package tool

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/threadline-ai/threadline/audit"
	"github.com/threadline-ai/threadline/model"
	"github.com/threadline-ai/threadline/observability"
	"github.com/threadline-ai/threadline/ratelimit"
)

type entry struct {
	tool    Tool
	enabled bool
}

// Registry holds the available tools and runs the invocation
// pipeline: availability, argument validation, rate limiting,
// sanitization, execution, and audit logging.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry

	limiter *ratelimit.SlidingWindow
	auditor audit.Recorder
	logger  *slog.Logger
}

// NewRegistry creates an empty registry. The audit recorder may be nil
// to disable auditing (tests only; production wiring always passes one).
func NewRegistry(auditor audit.Recorder, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		entries: make(map[string]*entry),
		limiter: ratelimit.NewSlidingWindow(),
		auditor: auditor,
		logger:  logger,
	}
}

// Register adds a tool under its declared name. Re-registering a name
// overwrites the previous tool; this supports hot-reloading tool sets.
func (r *Registry) Register(t Tool) error {
	def := t.Definition()
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.RateLimit != nil {
		if err := def.RateLimit.Validate(); err != nil {
			return fmt.Errorf("tool %s has invalid rate limit: %w", def.Name, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[def.Name]; exists {
		r.logger.Warn("Overwriting registered tool", "tool", def.Name)
	}
	r.entries[def.Name] = &entry{tool: t, enabled: true}
	return nil
}

// Get returns a registered tool.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.tool, true
}

// IsAvailable reports whether a tool exists and is enabled.
func (r *Registry) IsAvailable(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return ok && e.enabled
}

// SetEnabled toggles a tool without unregistering it.
func (r *Registry) SetEnabled(name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return fmt.Errorf("tool %s not found", name)
	}
	e.enabled = enabled
	return nil
}

// Schemas returns model-facing definitions for all enabled tools,
// sorted by name for deterministic prompts.
func (r *Registry) Schemas() []model.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.ToolDefinition, 0, len(r.entries))
	for _, e := range r.entries {
		if e.enabled {
			out = append(out, e.tool.Definition().ModelDefinition())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Execute runs one tool invocation through the full pipeline. Failures
// at any stage produce a failed Result rather than an error; the audit
// entry is recorded regardless of outcome.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any, cc CallContext) Result {
	start := time.Now()

	tracer := observability.GetTracer("threadline.tool")
	ctx, span := tracer.Start(ctx, observability.SpanToolExecution,
		trace.WithAttributes(
			attribute.String(observability.AttrToolName, name),
		),
	)
	defer span.End()

	result := r.execute(ctx, name, args, cc)
	result.ToolName = name
	result.ExecutionTime = time.Since(start)

	if result.Success {
		span.SetStatus(codes.Ok, "success")
	} else {
		span.SetStatus(codes.Error, result.Error)
	}
	span.SetAttributes(
		attribute.Bool("tool.success", result.Success),
		attribute.Int64("tool.duration_ms", result.ExecutionTime.Milliseconds()),
	)

	r.recordAudit(ctx, name, args, cc, result)
	return result
}

func (r *Registry) execute(ctx context.Context, name string, args map[string]any, cc CallContext) Result {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok || !e.enabled {
		return Result{Success: false, Error: fmt.Sprintf("tool %s is not available", name)}
	}
	def := e.tool.Definition()

	if err := validateArgs(def, args); err != nil {
		return Result{Success: false, Error: err.Error()}
	}

	if def.RateLimit != nil {
		key := name + ":" + cc.CallerID
		decision := r.limiter.Allow(key, *def.RateLimit)
		if !decision.Allowed {
			return Result{
				Success: false,
				Error:   fmt.Sprintf("rate limit exceeded for tool %s", name),
				Metadata: map[string]any{
					"remaining": decision.Remaining,
					"limit":     decision.Limit,
					"reset_at":  decision.ResetAt,
				},
			}
		}
	}

	result, err := e.tool.Execute(WithCallContext(ctx, cc), sanitizeArgs(args))
	if err != nil {
		r.logger.Warn("Tool execution failed", "tool", name, "error", err)
		return Result{Success: false, Error: err.Error()}
	}
	return result
}

func (r *Registry) recordAudit(ctx context.Context, name string, args map[string]any, cc CallContext, result Result) {
	if r.auditor == nil {
		return
	}
	err := r.auditor.Record(ctx, audit.Entry{
		ToolName:       name,
		CallerID:       cc.CallerID,
		OrganizationID: cc.OrganizationID,
		SessionID:      cc.SessionID,
		Success:        result.Success,
		ExecutionTime:  result.ExecutionTime,
		ArgKeysHash:    audit.HashArgKeys(args),
		RecordedAt:     time.Now(),
	})
	if err != nil {
		r.logger.Warn("Failed to record audit entry", "tool", name, "error", err)
	}
}
