package rag

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadline-ai/threadline/search"
)

// recordingVectorProvider captures upserts for assertions.
type recordingVectorProvider struct {
	fakeVectorProvider

	mu       sync.Mutex
	upserted map[string]map[string]any
}

func (r *recordingVectorProvider) Upsert(ctx context.Context, collection, id string, vec []float32, metadata map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.upserted == nil {
		r.upserted = make(map[string]map[string]any)
	}
	r.upserted[id] = metadata
	return nil
}

func TestIngestDocument(t *testing.T) {
	vectors := &recordingVectorProvider{}
	text := search.NewMemoryStore()
	engine, err := NewEngine(EngineConfig{
		ChunkOptions: ChunkOptions{MaxTokens: 40, OverlapTokens: 10, MinChunkLength: 20},
	}, &fakeEmbedder{dim: 4}, vectors, text, quietLogger())
	require.NoError(t, err)

	var b strings.Builder
	for i := 0; i < 15; i++ {
		b.WriteString("Knowledge bases hold passages that retrieval later surfaces. ")
	}
	err = engine.IngestDocument(context.Background(), "docs", Document{
		ID:       "doc-1",
		Content:  b.String(),
		Metadata: map[string]any{"source": "unit"},
	})
	require.NoError(t, err)

	require.NotEmpty(t, vectors.upserted)
	meta, ok := vectors.upserted["doc-1#0"]
	require.True(t, ok, "first chunk stored under doc-1#0")
	assert.Equal(t, "doc-1", meta["document_id"])
	assert.Equal(t, 0, meta["chunk_index"])
	assert.Equal(t, "unit", meta["source"])

	// The lexical side sees the same passages.
	hits, err := text.Search(context.Background(), "docs", "retrieval passages", 5)
	require.NoError(t, err)
	assert.NotEmpty(t, hits)
}

// failingVectorProvider rejects upserts for selected chunk ids.
type failingVectorProvider struct {
	recordingVectorProvider
	failIDs map[string]bool
}

func (f *failingVectorProvider) Upsert(ctx context.Context, collection, id string, vec []float32, metadata map[string]any) error {
	if f.failIDs == nil || f.failIDs[id] {
		return errors.New("upsert refused")
	}
	return f.recordingVectorProvider.Upsert(ctx, collection, id, vec, metadata)
}

func TestIngestDocumentSkipsFailedChunks(t *testing.T) {
	vectors := &failingVectorProvider{failIDs: map[string]bool{"doc-1#0": true}}
	text := search.NewMemoryStore()
	engine, err := NewEngine(EngineConfig{
		ChunkOptions: ChunkOptions{MaxTokens: 40, OverlapTokens: 10, MinChunkLength: 20},
	}, &fakeEmbedder{dim: 4}, vectors, text, quietLogger())
	require.NoError(t, err)

	var b strings.Builder
	for i := 0; i < 15; i++ {
		b.WriteString("Knowledge bases hold passages that retrieval later surfaces. ")
	}
	err = engine.IngestDocument(context.Background(), "docs", Document{ID: "doc-1", Content: b.String()})
	require.NoError(t, err, "one bad chunk does not fail the document")

	_, hasFirst := vectors.upserted["doc-1#0"]
	assert.False(t, hasFirst, "failed chunk is skipped")
	assert.NotEmpty(t, vectors.upserted, "remaining chunks still indexed")
}

func TestIngestDocumentFailsWhenNothingIndexed(t *testing.T) {
	vectors := &failingVectorProvider{} // nil failIDs rejects everything
	engine, err := NewEngine(EngineConfig{}, &fakeEmbedder{dim: 4}, vectors, search.NewMemoryStore(), quietLogger())
	require.NoError(t, err)

	err = engine.IngestDocument(context.Background(), "docs", Document{ID: "doc-1", Content: "A short but valid document about indexing."})
	assert.ErrorContains(t, err, "failed to index any chunk")
}

func TestIngestDocumentRejectsEmpty(t *testing.T) {
	engine, err := NewEngine(EngineConfig{}, &fakeEmbedder{dim: 4}, &recordingVectorProvider{}, search.NewMemoryStore(), quietLogger())
	require.NoError(t, err)

	err = engine.IngestDocument(context.Background(), "docs", Document{ID: "d", Content: "   "})
	assert.ErrorIs(t, err, ErrEmptyDocument)

	err = engine.IngestDocument(context.Background(), "docs", Document{Content: "text"})
	assert.Error(t, err, "missing id is rejected")
}

func TestIngestDocumentsReportsPerDocumentErrors(t *testing.T) {
	engine, err := NewEngine(EngineConfig{IngestWorkers: 2}, &fakeEmbedder{dim: 4}, &recordingVectorProvider{}, search.NewMemoryStore(), quietLogger())
	require.NoError(t, err)

	docs := []Document{
		{ID: "good-1", Content: "A perfectly ordinary document about nothing in particular."},
		{ID: "bad", Content: "   "},
		{ID: "good-2", Content: "Another document that chunks and embeds without trouble."},
	}
	results := engine.IngestDocuments(context.Background(), "docs", docs)

	require.Len(t, results, 3)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, "good-1", results[0].DocumentID)
	assert.Error(t, results[1].Err)
	assert.NoError(t, results[2].Err)
}
