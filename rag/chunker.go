package rag

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// Chunk is one token-bounded slice of a source document.
type Chunk struct {
	Content       string `json:"content"`
	ChunkIndex    int    `json:"chunk_index"`
	StartPosition int    `json:"start_position"`
	EndPosition   int    `json:"end_position"`
	TokenCount    int    `json:"token_count"`
	HasOverlap    bool   `json:"has_overlap"`
}

// ChunkOptions control how documents are split.
type ChunkOptions struct {
	// MaxTokens is the estimated token budget per chunk.
	MaxTokens int `json:"max_tokens"`

	// OverlapTokens sets how much of a chunk's tail seeds the next
	// chunk. Must be strictly less than MaxTokens.
	OverlapTokens int `json:"overlap_tokens"`

	// MinChunkLength is the minimum chunk size in characters; shorter
	// accumulations are folded forward instead of emitted.
	MinChunkLength int `json:"min_chunk_length"`
}

// SetDefaults fills zero-valued options.
func (o *ChunkOptions) SetDefaults() {
	if o.MaxTokens == 0 {
		o.MaxTokens = 512
	}
	if o.OverlapTokens == 0 {
		o.OverlapTokens = 50
	}
	if o.MinChunkLength == 0 {
		o.MinChunkLength = 50
	}
}

// Validate checks option consistency.
func (o *ChunkOptions) Validate() error {
	if o.MaxTokens <= 0 {
		return fmt.Errorf("max_tokens must be positive, got %d", o.MaxTokens)
	}
	if o.OverlapTokens < 0 {
		return fmt.Errorf("overlap_tokens cannot be negative, got %d", o.OverlapTokens)
	}
	if o.OverlapTokens >= o.MaxTokens {
		return fmt.Errorf("overlap_tokens (%d) must be less than max_tokens (%d)", o.OverlapTokens, o.MaxTokens)
	}
	return nil
}

// ErrEmptyDocument is returned when there is nothing to chunk.
var ErrEmptyDocument = errors.New("document text is empty")

// estimateTokens approximates the token count of text. Rough ratio of
// four characters per token, matching typical BPE output on English
// prose; good enough for budgeting chunks.
func estimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// sentenceSpan is a sentence with its position in the source text.
type sentenceSpan struct {
	text  string
	start int
	end   int
}

// splitSentences breaks text on sentence terminators (. ! ?) followed
// by whitespace, keeping byte offsets into the original text.
func splitSentences(text string) []sentenceSpan {
	var spans []sentenceSpan
	start := 0
	runes := []byte(text)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		if c != '.' && c != '!' && c != '?' {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(rune(runes[i+1])) {
			continue
		}
		s := strings.TrimSpace(text[start : i+1])
		if s != "" {
			spans = append(spans, sentenceSpan{text: s, start: start, end: i + 1})
		}
		start = i + 1
	}
	if tail := strings.TrimSpace(text[start:]); tail != "" {
		spans = append(spans, sentenceSpan{text: tail, start: start, end: len(text)})
	}
	return spans
}

// ChunkText splits text into token-bounded chunks on sentence
// boundaries. Consecutive chunks share a tail of sentences sized
// proportionally to OverlapTokens.
func ChunkText(text string, opts ChunkOptions) ([]Chunk, error) {
	opts.SetDefaults()
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid chunk options: %w", err)
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, ErrEmptyDocument
	}

	if estimateTokens(trimmed) <= opts.MaxTokens {
		return []Chunk{{
			Content:       trimmed,
			ChunkIndex:    0,
			StartPosition: 0,
			EndPosition:   len(trimmed),
			TokenCount:    estimateTokens(trimmed),
		}}, nil
	}

	sentences := splitSentences(trimmed)
	var chunks []Chunk
	var current []sentenceSpan
	currentTokens := 0
	overlapped := false

	emit := func() {
		if len(current) == 0 {
			return
		}
		content := joinSpans(current)
		chunks = append(chunks, Chunk{
			Content:       content,
			ChunkIndex:    len(chunks),
			StartPosition: current[0].start,
			EndPosition:   current[len(current)-1].end,
			TokenCount:    estimateTokens(content),
			HasOverlap:    overlapped,
		})
	}

	for _, s := range sentences {
		tokens := estimateTokens(s.text)
		if currentTokens+tokens > opts.MaxTokens && len(current) > 0 {
			if len(joinSpans(current)) >= opts.MinChunkLength {
				emit()
				current = overlapTail(current, opts)
				overlapped = len(current) > 0 && opts.OverlapTokens > 0
				currentTokens = 0
				for _, o := range current {
					currentTokens += estimateTokens(o.text)
				}
			}
			// Too short to emit: keep accumulating past the budget.
		}
		current = append(current, s)
		currentTokens += tokens
	}

	if len(current) > 0 && len(joinSpans(current)) >= opts.MinChunkLength {
		emit()
	}

	return chunks, nil
}

func joinSpans(spans []sentenceSpan) string {
	parts := make([]string, len(spans))
	for i, s := range spans {
		parts[i] = s.text
	}
	return strings.Join(parts, " ")
}

// overlapTail returns the trailing sentences of a chunk that seed the
// next chunk, sized by the overlap/max token ratio (at least one
// sentence when overlap is enabled).
func overlapTail(spans []sentenceSpan, opts ChunkOptions) []sentenceSpan {
	if opts.OverlapTokens == 0 || len(spans) == 0 {
		return nil
	}
	n := len(spans) * opts.OverlapTokens / opts.MaxTokens
	if n < 1 {
		n = 1
	}
	if n >= len(spans) {
		n = len(spans) - 1
	}
	if n < 1 {
		return nil
	}
	tail := make([]sentenceSpan, n)
	copy(tail, spans[len(spans)-n:])
	return tail
}
