package tool

import (
	"context"
	"fmt"
	"strings"

	"github.com/threadline-ai/threadline/rag"
	"github.com/threadline-ai/threadline/ratelimit"
)

// SearchTool exposes hybrid retrieval as a tool the model can call.
type SearchTool struct {
	retriever *rag.HybridRetriever
	scope     string
	maxLimit  int
	rateLimit *ratelimit.Limit
}

// NewSearchTool creates a search tool over a retriever, scoped to one
// knowledge collection.
func NewSearchTool(retriever *rag.HybridRetriever, scope string, rateLimit *ratelimit.Limit) *SearchTool {
	return &SearchTool{
		retriever: retriever,
		scope:     scope,
		maxLimit:  50,
		rateLimit: rateLimit,
	}
}

func (t *SearchTool) Definition() Definition {
	return Definition{
		Name:        "search",
		Description: "Search the knowledge base for passages relevant to a query.",
		Parameters: []Parameter{
			{Name: "query", Type: "string", Description: "Search query", Required: true},
			{Name: "limit", Type: "integer", Description: "Maximum number of results (default 5)"},
		},
		RateLimit: t.rateLimit,
	}
}

func (t *SearchTool) Execute(ctx context.Context, args map[string]any) (Result, error) {
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return Result{}, fmt.Errorf("query cannot be empty")
	}

	limit := 5
	if raw, ok := args["limit"].(float64); ok && raw > 0 {
		limit = int(raw)
	}
	if limit > t.maxLimit {
		limit = t.maxLimit
	}

	results, err := t.retriever.Search(ctx, query, t.scope, rag.HybridOptions{})
	if err != nil {
		return Result{}, fmt.Errorf("search failed: %w", err)
	}
	if len(results) > limit {
		results = results[:limit]
	}

	if len(results) == 0 {
		return Result{Success: true, Content: "No results found."}, nil
	}

	var b strings.Builder
	for i, res := range results {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, res.Content)
	}
	return Result{
		Success: true,
		Content: b.String(),
		Metadata: map[string]any{
			"total": len(results),
			"query": query,
		},
	}, nil
}

var _ Tool = (*SearchTool)(nil)
