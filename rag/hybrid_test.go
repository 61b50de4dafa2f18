package rag

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadline-ai/threadline/search"
	"github.com/threadline-ai/threadline/vector"
)

type fakeEmbedder struct {
	dim int
	err error
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return make([]float32, f.dim), nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		var err error
		out[i], err = f.Embed(ctx, texts[i])
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (f *fakeEmbedder) Dimension() int { return f.dim }

type fakeVectorProvider struct {
	results []vector.Result
	err     error
}

func (f *fakeVectorProvider) Upsert(ctx context.Context, collection, id string, vec []float32, metadata map[string]any) error {
	return nil
}

func (f *fakeVectorProvider) Search(ctx context.Context, collection string, vec []float32, topK int) ([]vector.Result, error) {
	return f.results, f.err
}

func (f *fakeVectorProvider) Delete(ctx context.Context, collection, id string) error { return nil }
func (f *fakeVectorProvider) Name() string                                            { return "fake" }
func (f *fakeVectorProvider) Close() error                                            { return nil }

type fakeTextSearcher struct {
	results []search.Result
	err     error
}

func (f *fakeTextSearcher) Search(ctx context.Context, scope, query string, topK int) ([]search.Result, error) {
	return f.results, f.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHybridSearchFusesRankings(t *testing.T) {
	vectors := &fakeVectorProvider{results: []vector.Result{
		{ID: "A", Score: 0.9, Content: "passage A"},
		{ID: "B", Score: 0.8, Content: "passage B"},
	}}
	text := &fakeTextSearcher{results: []search.Result{
		{ID: "B", Score: 2.0, Content: "passage B"},
		{ID: "C", Score: 1.0, Content: "passage C"},
	}}
	r := NewHybridRetriever(&fakeEmbedder{dim: 4}, vectors, text, quietLogger())

	results, err := r.Search(context.Background(), "query", "docs", HybridOptions{})
	require.NoError(t, err)
	require.Len(t, results, 3)

	// B appears in both rankings and wins; A (vector rank 1) beats C
	// (text rank 2) because the vector side carries more weight.
	assert.Equal(t, "B", results[0].ID)
	assert.Equal(t, "A", results[1].ID)
	assert.Equal(t, "C", results[2].ID)

	assert.Equal(t, SourceBoth, results[0].Source)
	assert.Equal(t, SourceVector, results[1].Source)
	assert.Equal(t, SourceText, results[2].Source)

	assert.InDelta(t, 0.7/61.0+0.3/61.0, results[0].Score, 1e-12)
	assert.InDelta(t, 0.7/61.0, results[1].Score, 1e-12)
	assert.InDelta(t, 0.3/62.0, results[2].Score, 1e-12)

	// Raw component scores survive fusion.
	assert.InDelta(t, 0.8, results[0].VectorScore, 1e-6)
	assert.InDelta(t, 2.0, results[0].TextScore, 1e-6)
}

func TestHybridSearchDegradesOnVectorFailure(t *testing.T) {
	vectors := &fakeVectorProvider{err: errors.New("qdrant unreachable")}
	text := &fakeTextSearcher{results: []search.Result{{ID: "X", Score: 1.0, Content: "x"}}}
	r := NewHybridRetriever(&fakeEmbedder{dim: 4}, vectors, text, quietLogger())

	results, err := r.Search(context.Background(), "query", "docs", HybridOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "X", results[0].ID)
	assert.Equal(t, SourceText, results[0].Source)
}

func TestHybridSearchDegradesOnEmbedFailure(t *testing.T) {
	vectors := &fakeVectorProvider{results: []vector.Result{{ID: "A", Score: 0.9, Content: "a"}}}
	text := &fakeTextSearcher{results: []search.Result{{ID: "A", Score: 1.0, Content: "a"}}}
	r := NewHybridRetriever(&fakeEmbedder{dim: 4, err: errors.New("embedder down")}, vectors, text, quietLogger())

	results, err := r.Search(context.Background(), "query", "docs", HybridOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, SourceText, results[0].Source)
}

func TestHybridSearchEmptyQuery(t *testing.T) {
	r := NewHybridRetriever(&fakeEmbedder{dim: 4}, &fakeVectorProvider{}, &fakeTextSearcher{}, quietLogger())
	_, err := r.Search(context.Background(), "", "docs", HybridOptions{})
	assert.Error(t, err)

	// Whitespace-only collapses to empty.
	_, err = r.Search(context.Background(), "  \t\n ", "docs", HybridOptions{})
	assert.Error(t, err)
}

type capturingEmbedder struct {
	fakeEmbedder
	queries []string
}

func (c *capturingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.queries = append(c.queries, text)
	return c.fakeEmbedder.Embed(ctx, text)
}

type capturingTextSearcher struct {
	fakeTextSearcher
	queries []string
}

func (c *capturingTextSearcher) Search(ctx context.Context, scope, query string, topK int) ([]search.Result, error) {
	c.queries = append(c.queries, query)
	return c.fakeTextSearcher.Search(ctx, scope, query, topK)
}

func TestHybridSearchNormalizesQuery(t *testing.T) {
	emb := &capturingEmbedder{fakeEmbedder: fakeEmbedder{dim: 4}}
	text := &capturingTextSearcher{}
	r := NewHybridRetriever(emb, &fakeVectorProvider{}, text, quietLogger())

	_, err := r.Search(context.Background(), "  how   does\tGo  work  ", "docs", HybridOptions{})
	require.NoError(t, err)

	require.Len(t, emb.queries, 1)
	assert.Equal(t, "how does Go work", emb.queries[0])
	require.Len(t, text.queries, 1)
	assert.Equal(t, "how does Go work", text.queries[0])
}

func TestHybridSearchQueryLengthBounds(t *testing.T) {
	r := NewHybridRetriever(&fakeEmbedder{dim: 4}, &fakeVectorProvider{}, &fakeTextSearcher{}, quietLogger())

	_, err := r.Search(context.Background(), "x", "docs", HybridOptions{})
	assert.ErrorContains(t, err, "too short")

	_, err = r.Search(context.Background(), strings.Repeat("a", MaxQueryLength+1), "docs", HybridOptions{})
	assert.ErrorContains(t, err, "too long")
}

func TestHybridSearchMinScore(t *testing.T) {
	vectors := &fakeVectorProvider{results: []vector.Result{
		{ID: "A", Score: 0.9, Content: "a"},
	}}
	text := &fakeTextSearcher{results: []search.Result{
		{ID: "A", Score: 1.0, Content: "a"},
		{ID: "B", Score: 0.5, Content: "b"},
	}}
	r := NewHybridRetriever(&fakeEmbedder{dim: 4}, vectors, text, quietLogger())

	// A scores 0.7/61 + 0.3/61; B only 0.3/62. Cut between them.
	results, err := r.Search(context.Background(), "query", "docs", HybridOptions{MinScore: 0.01})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "A", results[0].ID)
}
