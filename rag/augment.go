package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/threadline-ai/threadline/model"
)

// AugmentOptions configure pre-model retrieval augmentation.
type AugmentOptions struct {
	// Limit caps how many retrieved passages are injected.
	Limit int `json:"limit"`

	// Threshold drops results whose fused score falls below it.
	Threshold float64 `json:"threshold"`
}

// SetDefaults fills zero-valued options.
func (o *AugmentOptions) SetDefaults() {
	if o.Limit == 0 {
		o.Limit = 5
	}
}

// Augmenter rewrites the latest user message with retrieved context
// before the model sees it.
type Augmenter struct {
	retriever *HybridRetriever
	opts      AugmentOptions
	logger    *slog.Logger
}

// NewAugmenter creates an augmenter over a retriever.
func NewAugmenter(retriever *HybridRetriever, opts AugmentOptions, logger *slog.Logger) *Augmenter {
	opts.SetDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Augmenter{retriever: retriever, opts: opts, logger: logger}
}

// Augment returns the messages with the last user message rewritten to
// include retrieved context. Augmentation is strictly best-effort: any
// retrieval failure or empty result returns the input unchanged.
func (a *Augmenter) Augment(ctx context.Context, scope string, messages []model.Message) []model.Message {
	if a == nil || a.retriever == nil || len(messages) == 0 {
		return messages
	}

	last := messages[len(messages)-1]
	query := strings.TrimSpace(last.Content)
	if last.Role != model.RoleUser || query == "" {
		return messages
	}

	results, err := a.retriever.Search(ctx, query, scope, HybridOptions{
		MinScore: a.opts.Threshold,
	})
	if err != nil {
		a.logger.Warn("Retrieval failed, continuing without augmentation", "scope", scope, "error", err)
		return messages
	}
	if len(results) == 0 {
		return messages
	}
	if len(results) > a.opts.Limit {
		results = results[:a.opts.Limit]
	}

	out := make([]model.Message, len(messages))
	copy(out, messages)
	out[len(out)-1].Content = formatContext(query, results)

	a.logger.Debug("Augmented user message with retrieved context",
		"scope", scope,
		"results", len(results))
	return out
}

// formatContext renders retrieved passages plus the original question
// into a single prompt block.
func formatContext(query string, results []HybridResult) string {
	var b strings.Builder
	b.WriteString("Use the following context to answer the question.\n\nContext:\n")
	for i, res := range results {
		// Fused RRF scores are small; scale against the best result so
		// the percentages read as relative relevance.
		relevance := 100.0
		if results[0].Score > 0 {
			relevance = res.Score / results[0].Score * 100
		}
		fmt.Fprintf(&b, "[%d] (%.0f%% relevant) %s\n", i+1, relevance, res.Content)
	}
	b.WriteString("\nQuestion: ")
	b.WriteString(query)
	return b.String()
}
