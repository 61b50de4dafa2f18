package rag

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/threadline-ai/threadline/embedder"
	"github.com/threadline-ai/threadline/observability"
	"github.com/threadline-ai/threadline/search"
	"github.com/threadline-ai/threadline/vector"
)

// rrfK is the Reciprocal Rank Fusion smoothing constant. Standard value
// from the RRF literature; changing it changes ranking behavior for
// every caller, so it stays fixed.
const rrfK = 60

const (
	// MinQueryLength is the minimum allowed query length.
	MinQueryLength = 2
	// MaxQueryLength is the maximum allowed query length.
	MaxQueryLength = 10000
)

// Source labels which search side produced a hybrid result.
type Source string

const (
	SourceVector Source = "vector"
	SourceText   Source = "text"
	SourceBoth   Source = "both"
)

// HybridResult is one fused retrieval hit.
type HybridResult struct {
	ID          string         `json:"id"`
	Content     string         `json:"content"`
	Score       float64        `json:"score"`
	VectorScore float64        `json:"vector_score,omitempty"`
	TextScore   float64        `json:"text_score,omitempty"`
	Source      Source         `json:"source"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// HybridOptions tune one hybrid search call.
type HybridOptions struct {
	VectorTopK   int     `json:"vector_top_k"`
	TextTopK     int     `json:"text_top_k"`
	VectorWeight float64 `json:"vector_weight"`
	TextWeight   float64 `json:"text_weight"`
	MinScore     float64 `json:"min_score"`
}

// SetDefaults fills zero-valued options.
func (o *HybridOptions) SetDefaults() {
	if o.VectorTopK == 0 {
		o.VectorTopK = 20
	}
	if o.TextTopK == 0 {
		o.TextTopK = 20
	}
	if o.VectorWeight == 0 && o.TextWeight == 0 {
		o.VectorWeight = 0.7
		o.TextWeight = 0.3
	}
}

// HybridRetriever fuses semantic (vector) and keyword (lexical) search
// rankings with Reciprocal Rank Fusion.
type HybridRetriever struct {
	embedder embedder.Embedder
	vectors  vector.Provider
	text     search.Searcher
	logger   *slog.Logger
}

// NewHybridRetriever creates a retriever over the given backends.
func NewHybridRetriever(emb embedder.Embedder, vectors vector.Provider, text search.Searcher, logger *slog.Logger) *HybridRetriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &HybridRetriever{
		embedder: emb,
		vectors:  vectors,
		text:     text,
		logger:   logger,
	}
}

// Search runs both sides concurrently and merges their rankings. A
// failure on either side degrades to an empty ranking for that side;
// the call only fails if the query itself is unusable.
func (r *HybridRetriever) Search(ctx context.Context, query, scope string, opts HybridOptions) ([]HybridResult, error) {
	opts.SetDefaults()
	query = processQuery(query)
	if err := validateQuery(query); err != nil {
		return nil, err
	}

	tracer := observability.GetTracer("threadline.rag")
	ctx, span := tracer.Start(ctx, observability.SpanRetrieval,
		trace.WithAttributes(
			attribute.String(observability.AttrScope, scope),
		),
	)
	defer span.End()

	var vectorResults []vector.Result
	var textResults []search.Result

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		results, err := r.searchVector(gctx, query, scope, opts.VectorTopK)
		if err != nil {
			r.logger.Warn("Vector search failed, degrading to text-only", "scope", scope, "error", err)
			return nil
		}
		vectorResults = results
		return nil
	})
	g.Go(func() error {
		results, err := r.text.Search(gctx, scope, query, opts.TextTopK)
		if err != nil {
			r.logger.Warn("Text search failed, degrading to vector-only", "scope", scope, "error", err)
			return nil
		}
		textResults = results
		return nil
	})
	_ = g.Wait()

	return fuse(vectorResults, textResults, opts), nil
}

// processQuery normalizes a query: trims surrounding whitespace and
// collapses internal runs to single spaces.
func processQuery(query string) string {
	return strings.Join(strings.Fields(query), " ")
}

// validateQuery bounds query length after normalization.
func validateQuery(query string) error {
	if query == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if len(query) < MinQueryLength {
		return fmt.Errorf("query too short (min %d characters)", MinQueryLength)
	}
	if len(query) > MaxQueryLength {
		return fmt.Errorf("query too long (max %d characters)", MaxQueryLength)
	}
	return nil
}

func (r *HybridRetriever) searchVector(ctx context.Context, query, scope string, topK int) ([]vector.Result, error) {
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	return r.vectors.Search(ctx, scope, vec, topK)
}

// fuse applies weighted RRF over the two rankings. Union order is
// vector results first, then text-only results, which keeps the final
// sort stable for equal scores.
func fuse(vectorResults []vector.Result, textResults []search.Result, opts HybridOptions) []HybridResult {
	vectorRank := make(map[string]int, len(vectorResults))
	for i, res := range vectorResults {
		if _, seen := vectorRank[res.ID]; !seen {
			vectorRank[res.ID] = i + 1
		}
	}
	textRank := make(map[string]int, len(textResults))
	for i, res := range textResults {
		if _, seen := textRank[res.ID]; !seen {
			textRank[res.ID] = i + 1
		}
	}

	content := make(map[string]string, len(vectorResults)+len(textResults))
	metadata := make(map[string]map[string]any, len(vectorResults))
	rawVector := make(map[string]float64, len(vectorResults))
	rawText := make(map[string]float64, len(textResults))

	var union []string
	seen := make(map[string]bool)
	for _, res := range vectorResults {
		if !seen[res.ID] {
			seen[res.ID] = true
			union = append(union, res.ID)
		}
		content[res.ID] = res.Content
		metadata[res.ID] = res.Metadata
		rawVector[res.ID] = float64(res.Score)
	}
	for _, res := range textResults {
		if !seen[res.ID] {
			seen[res.ID] = true
			union = append(union, res.ID)
		}
		if content[res.ID] == "" {
			content[res.ID] = res.Content
		}
		rawText[res.ID] = float64(res.Score)
	}

	results := make([]HybridResult, 0, len(union))
	for _, id := range union {
		var score float64
		vr, inVector := vectorRank[id]
		tr, inText := textRank[id]
		if inVector {
			score += opts.VectorWeight / float64(rrfK+vr)
		}
		if inText {
			score += opts.TextWeight / float64(rrfK+tr)
		}
		if score < opts.MinScore {
			continue
		}

		source := SourceVector
		switch {
		case inVector && inText:
			source = SourceBoth
		case inText:
			source = SourceText
		}

		results = append(results, HybridResult{
			ID:          id,
			Content:     content[id],
			Score:       score,
			VectorScore: rawVector[id],
			TextScore:   rawText[id],
			Source:      source,
			Metadata:    metadata[id],
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results
}
