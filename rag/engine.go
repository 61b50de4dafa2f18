package rag

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/threadline-ai/threadline/embedder"
	"github.com/threadline-ai/threadline/observability"
	"github.com/threadline-ai/threadline/search"
	"github.com/threadline-ai/threadline/vector"
)

// Document is a unit of ingestable text.
type Document struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// EngineConfig configures the retrieval engine.
type EngineConfig struct {
	ChunkOptions ChunkOptions `json:"chunk_options"`

	// IngestWorkers bounds concurrent document ingestion.
	IngestWorkers int `json:"ingest_workers"`
}

// SetDefaults fills zero-valued config.
func (c *EngineConfig) SetDefaults() {
	c.ChunkOptions.SetDefaults()
	if c.IngestWorkers == 0 {
		c.IngestWorkers = 4
	}
}

// Validate checks config consistency.
func (c *EngineConfig) Validate() error {
	if err := c.ChunkOptions.Validate(); err != nil {
		return err
	}
	if c.IngestWorkers < 1 {
		return fmt.Errorf("ingest_workers must be at least 1, got %d", c.IngestWorkers)
	}
	return nil
}

// Engine owns the ingestion path: it chunks documents, embeds the
// chunks, and indexes them on both the vector and lexical sides so the
// HybridRetriever can find them.
type Engine struct {
	config   EngineConfig
	embedder embedder.Embedder
	vectors  vector.Provider
	text     search.Store
	logger   *slog.Logger
}

// NewEngine creates a retrieval engine.
func NewEngine(cfg EngineConfig, emb embedder.Embedder, vectors vector.Provider, text search.Store, logger *slog.Logger) (*Engine, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		config:   cfg,
		embedder: emb,
		vectors:  vectors,
		text:     text,
		logger:   logger,
	}, nil
}

// Retriever returns a HybridRetriever over the engine's backends.
func (e *Engine) Retriever() *HybridRetriever {
	return NewHybridRetriever(e.embedder, e.vectors, e.text, e.logger)
}

// chunkID derives the stable per-chunk identifier.
func chunkID(docID string, index int) string {
	return fmt.Sprintf("%s#%d", docID, index)
}

// IngestDocument chunks, embeds, and indexes one document into a scope.
// Individual chunk index failures are logged and skipped; the call only
// fails when nothing could be indexed.
func (e *Engine) IngestDocument(ctx context.Context, scope string, doc Document) error {
	if doc.ID == "" {
		return fmt.Errorf("document id cannot be empty")
	}

	tracer := observability.GetTracer("threadline.rag")
	ctx, span := tracer.Start(ctx, observability.SpanIngest,
		trace.WithAttributes(
			attribute.String(observability.AttrScope, scope),
		),
	)
	defer span.End()

	chunks, err := ChunkText(doc.Content, e.config.ChunkOptions)
	if err != nil {
		return fmt.Errorf("failed to chunk document %s: %w", doc.ID, err)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := e.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed document %s: %w", doc.ID, err)
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}

	indexed := 0
	for i, c := range chunks {
		id := chunkID(doc.ID, c.ChunkIndex)
		meta := map[string]any{
			"document_id": doc.ID,
			"chunk_index": c.ChunkIndex,
			"content":     c.Content,
		}
		for k, v := range doc.Metadata {
			meta[k] = v
		}
		if err := e.vectors.Upsert(ctx, scope, id, vectors[i], meta); err != nil {
			e.logger.Warn("Failed to store chunk vector",
				"document_id", doc.ID,
				"chunk_index", c.ChunkIndex,
				"error", err)
			continue
		}
		if err := e.text.Index(ctx, scope, id, c.Content); err != nil {
			e.logger.Warn("Failed to index chunk text",
				"document_id", doc.ID,
				"chunk_index", c.ChunkIndex,
				"error", err)
			continue
		}
		indexed++
	}
	if indexed == 0 {
		return fmt.Errorf("failed to index any chunk of document %s", doc.ID)
	}

	e.logger.Info("Ingested document",
		"scope", scope,
		"document_id", doc.ID,
		"chunks", len(chunks),
		"indexed", indexed)
	return nil
}

// IngestResult reports the outcome of one document in a batch ingest.
type IngestResult struct {
	DocumentID string
	Err        error
}

// IngestDocuments ingests documents with a bounded worker pool. It
// always processes every document; per-document failures are reported
// in the result slice, ordered as the input.
func (e *Engine) IngestDocuments(ctx context.Context, scope string, docs []Document) []IngestResult {
	results := make([]IngestResult, len(docs))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < e.config.IngestWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = IngestResult{
					DocumentID: docs[i].ID,
					Err:        e.IngestDocument(ctx, scope, docs[i]),
				}
			}
		}()
	}

	for i := range docs {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return results
}

// DeleteDocument removes a document's first chunkCount chunks from
// both indexes.
func (e *Engine) DeleteDocument(ctx context.Context, scope, docID string, chunkCount int) error {
	for i := 0; i < chunkCount; i++ {
		id := chunkID(docID, i)
		if err := e.vectors.Delete(ctx, scope, id); err != nil {
			return fmt.Errorf("failed to delete vector %s: %w", id, err)
		}
		if err := e.text.Remove(ctx, scope, id); err != nil {
			return fmt.Errorf("failed to remove text passage %s: %w", id, err)
		}
	}
	return nil
}
