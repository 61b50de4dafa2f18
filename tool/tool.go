// Package tool defines the capability boundary of a run: named tools
// with declared parameter schemas, invoked through a registry that
// validates, rate-limits, sanitizes, and audits every call.
package tool

import (
	"context"
	"time"

	"github.com/threadline-ai/threadline/model"
	"github.com/threadline-ai/threadline/ratelimit"
)

// Parameter declares one argument of a tool.
type Parameter struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Required    bool     `json:"required"`
	Enum        []string `json:"enum,omitempty"`
	Default     any      `json:"default,omitempty"`
}

// Definition describes a tool to the registry and to the model.
type Definition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters,omitempty"`

	// RateLimit caps calls per caller; nil means unlimited.
	RateLimit *ratelimit.Limit `json:"rate_limit,omitempty"`
}

// Result is the uniform outcome of a tool invocation.
type Result struct {
	Success       bool           `json:"success"`
	Content       string         `json:"content,omitempty"`
	Error         string         `json:"error,omitempty"`
	ToolName      string         `json:"tool_name"`
	ExecutionTime time.Duration  `json:"execution_time,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// CallContext identifies who is invoking a tool. Rate limiting keys on
// the caller; auditing records all three ids.
type CallContext struct {
	CallerID       string
	OrganizationID string
	SessionID      string
}

type callContextKey struct{}

// WithCallContext attaches a CallContext to ctx. The registry does this
// before invoking a tool so handlers that scope by organization can
// recover it.
func WithCallContext(ctx context.Context, cc CallContext) context.Context {
	return context.WithValue(ctx, callContextKey{}, cc)
}

// CallContextFrom recovers the CallContext attached by the registry.
func CallContextFrom(ctx context.Context) (CallContext, bool) {
	cc, ok := ctx.Value(callContextKey{}).(CallContext)
	return cc, ok
}

// Tool is one invokable capability.
type Tool interface {
	// Definition returns the tool's schema.
	Definition() Definition

	// Execute runs the tool with validated, sanitized arguments.
	// Returned errors are folded into a failed Result by the registry.
	Execute(ctx context.Context, args map[string]any) (Result, error)
}

// jsonSchema converts a Definition's parameters into the JSON-schema
// object shape the model boundary expects.
func (d Definition) jsonSchema() map[string]any {
	properties := make(map[string]any, len(d.Parameters))
	var required []string
	for _, p := range d.Parameters {
		prop := map[string]any{
			"type":        p.Type,
			"description": p.Description,
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// ModelDefinition converts the tool schema for the model boundary.
func (d Definition) ModelDefinition() model.ToolDefinition {
	return model.ToolDefinition{
		Name:        d.Name,
		Description: d.Description,
		Parameters:  d.jsonSchema(),
	}
}
