// Package embedder converts text into fixed-dimension vectors.
//
// Providers clean input text before embedding (whitespace collapsed,
// control characters stripped) and batch large inputs transparently.
package embedder

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode"
)

// DefaultBatchSize is the maximum number of texts per underlying API call.
const DefaultBatchSize = 100

// ErrEmptyText is returned when input text is empty after cleaning.
var ErrEmptyText = errors.New("text is empty after cleaning")

// Embedder converts text to vector embeddings.
type Embedder interface {
	// Embed converts one text to a vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch converts multiple texts, issuing as many underlying
	// calls as needed.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the embedding vector dimension.
	Dimension() int
}

// CleanText collapses runs of whitespace to single spaces and strips
// control characters.
func CleanText(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	lastSpace := false
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			if !lastSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			lastSpace = true
		case unicode.IsControl(r):
			// dropped
		default:
			b.WriteRune(r)
			lastSpace = false
		}
	}

	return strings.TrimRight(b.String(), " ")
}

// cleanAll cleans every text, failing if any becomes empty.
func cleanAll(texts []string) ([]string, error) {
	out := make([]string, len(texts))
	for i, t := range texts {
		cleaned := CleanText(t)
		if cleaned == "" {
			return nil, fmt.Errorf("input %d: %w", i, ErrEmptyText)
		}
		out[i] = cleaned
	}
	return out, nil
}

// CosineSimilarity computes the cosine of the angle between two vectors.
// Vectors of differing dimensions are an error, not a zero score.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("dimension mismatch: %d vs %d", len(a), len(b))
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}
