package rag

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadline-ai/threadline/model"
	"github.com/threadline-ai/threadline/search"
	"github.com/threadline-ai/threadline/vector"
)

func newTestAugmenter(vectors *fakeVectorProvider, text *fakeTextSearcher) *Augmenter {
	r := NewHybridRetriever(&fakeEmbedder{dim: 4}, vectors, text, quietLogger())
	return NewAugmenter(r, AugmentOptions{Limit: 3}, quietLogger())
}

func TestAugmentRewritesLastUserMessage(t *testing.T) {
	a := newTestAugmenter(
		&fakeVectorProvider{results: []vector.Result{{ID: "A", Score: 0.9, Content: "Go uses goroutines for concurrency."}}},
		&fakeTextSearcher{results: []search.Result{{ID: "A", Score: 1.0, Content: "Go uses goroutines for concurrency."}}},
	)

	in := []model.Message{
		{Role: model.RoleAssistant, Content: "Hi, how can I help?"},
		{Role: model.RoleUser, Content: "How does Go handle concurrency?"},
	}
	out := a.Augment(context.Background(), "docs", in)

	require.Len(t, out, 2)
	assert.Equal(t, in[0], out[0], "earlier messages untouched")

	content := out[1].Content
	assert.Contains(t, content, "Context:")
	assert.Contains(t, content, "[1]")
	assert.Contains(t, content, "% relevant")
	assert.Contains(t, content, "Go uses goroutines for concurrency.")
	assert.True(t, strings.HasSuffix(content, "Question: How does Go handle concurrency?"))

	// Input slice must not be mutated.
	assert.Equal(t, "How does Go handle concurrency?", in[1].Content)
}

func TestAugmentPassThroughOnRetrieverError(t *testing.T) {
	r := NewHybridRetriever(
		&fakeEmbedder{dim: 4, err: errors.New("embedder down")},
		&fakeVectorProvider{err: errors.New("vector down")},
		&fakeTextSearcher{err: errors.New("text down")},
		quietLogger(),
	)
	a := NewAugmenter(r, AugmentOptions{}, quietLogger())

	in := []model.Message{{Role: model.RoleUser, Content: "anything"}}
	out := a.Augment(context.Background(), "docs", in)
	assert.Equal(t, in, out)
}

func TestAugmentPassThroughOnEmptyResults(t *testing.T) {
	a := newTestAugmenter(&fakeVectorProvider{}, &fakeTextSearcher{})

	in := []model.Message{{Role: model.RoleUser, Content: "anything"}}
	out := a.Augment(context.Background(), "docs", in)
	assert.Equal(t, in, out)
}

func TestAugmentSkipsNonUserLastMessage(t *testing.T) {
	a := newTestAugmenter(
		&fakeVectorProvider{results: []vector.Result{{ID: "A", Score: 0.9, Content: "ctx"}}},
		&fakeTextSearcher{},
	)

	in := []model.Message{{Role: model.RoleAssistant, Content: "done"}}
	assert.Equal(t, in, a.Augment(context.Background(), "docs", in))

	blank := []model.Message{{Role: model.RoleUser, Content: "   "}}
	assert.Equal(t, blank, a.Augment(context.Background(), "docs", blank))
}

func TestAugmentRespectsLimit(t *testing.T) {
	vectors := &fakeVectorProvider{results: []vector.Result{
		{ID: "A", Score: 0.9, Content: "first"},
		{ID: "B", Score: 0.8, Content: "second"},
		{ID: "C", Score: 0.7, Content: "third"},
	}}
	r := NewHybridRetriever(&fakeEmbedder{dim: 4}, vectors, &fakeTextSearcher{}, quietLogger())
	a := NewAugmenter(r, AugmentOptions{Limit: 2}, quietLogger())

	out := a.Augment(context.Background(), "docs", []model.Message{{Role: model.RoleUser, Content: "q"}})
	content := out[0].Content
	assert.Contains(t, content, "[1]")
	assert.Contains(t, content, "[2]")
	assert.NotContains(t, content, "[3]")
	assert.NotContains(t, content, "third")
}
