// Package search provides the keyword (lexical) side of hybrid retrieval.
//
// A TextSearcher ranks indexed passages by query term overlap. It is
// deliberately simple: the hybrid retriever fuses its ranking with the
// vector side, so lexical recall matters more than lexical precision.
package search

import (
	"context"
	"strings"
)

// Result is one lexical search hit.
type Result struct {
	ID      string
	Score   float32
	Content string
}

// Searcher finds passages by keyword match.
type Searcher interface {
	// Search returns up to topK results for the query within a scope,
	// best first.
	Search(ctx context.Context, scope, query string, topK int) ([]Result, error)
}

// Indexer accepts passages for later lexical search.
type Indexer interface {
	// Index stores a passage under a scope. Re-indexing an id replaces
	// its content.
	Index(ctx context.Context, scope, id, content string) error

	// Remove deletes a passage.
	Remove(ctx context.Context, scope, id string) error
}

// Store combines indexing and searching; both built-in implementations
// satisfy it.
type Store interface {
	Searcher
	Indexer
}

// tokenize lowercases and splits a text into terms.
func tokenize(text string) []string {
	return strings.Fields(strings.ToLower(text))
}

// scoreContent computes the fraction of query terms present in content,
// weighted by occurrence count. Zero means no overlap.
func scoreContent(content string, terms []string) float32 {
	if len(terms) == 0 {
		return 0
	}
	lower := strings.ToLower(content)

	var score float32
	for _, term := range terms {
		n := strings.Count(lower, term)
		if n > 0 {
			// Diminishing returns per extra occurrence.
			score += 1 + float32(n-1)*0.1
		}
	}
	return score / float32(len(terms))
}
