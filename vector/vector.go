// Package vector abstracts vector storage and similarity search behind a
// provider seam.
//
// Two providers are included: Qdrant for production deployments and an
// embedded chromem-go store for zero-config local use and tests.
package vector

import "context"

// Result is one similarity search hit.
type Result struct {
	ID       string
	Score    float32
	Content  string
	Metadata map[string]any
}

// Provider stores and searches vectors.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Upsert adds or replaces a vector with its metadata.
	Upsert(ctx context.Context, collection, id string, vector []float32, metadata map[string]any) error

	// Search returns the topK most similar vectors, best first.
	Search(ctx context.Context, collection string, vector []float32, topK int) ([]Result, error)

	// Delete removes a vector by id.
	Delete(ctx context.Context, collection, id string) error

	// Name identifies the provider in logs.
	Name() string

	// Close releases any resources.
	Close() error
}
