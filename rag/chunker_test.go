package rag

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkTextShortInput(t *testing.T) {
	chunks, err := ChunkText("  A short document.  ", ChunkOptions{})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "A short document.", chunks[0].Content)
	assert.Equal(t, 0, chunks[0].ChunkIndex)
	assert.False(t, chunks[0].HasOverlap)
}

func TestChunkTextEmptyInput(t *testing.T) {
	_, err := ChunkText("   \n\t  ", ChunkOptions{})
	assert.ErrorIs(t, err, ErrEmptyDocument)
}

func TestChunkOptionsValidate(t *testing.T) {
	opts := ChunkOptions{MaxTokens: 10, OverlapTokens: 10, MinChunkLength: 1}
	assert.Error(t, opts.Validate())

	opts = ChunkOptions{MaxTokens: -1, OverlapTokens: 0, MinChunkLength: 1}
	assert.Error(t, opts.Validate())

	opts = ChunkOptions{MaxTokens: 512, OverlapTokens: 50, MinChunkLength: 50}
	assert.NoError(t, opts.Validate())
}

func TestChunkTextSplitsWithOverlap(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 20; i++ {
		b.WriteString("The quick brown fox jumps over the lazy dog near the river bank. ")
	}
	opts := ChunkOptions{MaxTokens: 60, OverlapTokens: 15, MinChunkLength: 20}

	chunks, err := ChunkText(b.String(), opts)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	for i, c := range chunks {
		assert.Equal(t, i, c.ChunkIndex, "chunk indexes are contiguous and zero-based")
		assert.NotEmpty(t, c.Content)
		assert.GreaterOrEqual(t, len(c.Content), opts.MinChunkLength)
	}

	// With overlap enabled, consecutive chunks share a tail.
	for i := 1; i < len(chunks); i++ {
		assert.True(t, chunks[i].HasOverlap, "chunk %d should carry overlap", i)
		tail := lastSentence(chunks[i-1].Content)
		assert.True(t, strings.HasPrefix(chunks[i].Content, tail),
			"chunk %d should start with the tail of chunk %d", i, i-1)
	}
}

func TestChunkTextPositionsCoverSource(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 30; i++ {
		b.WriteString("Every sentence lands somewhere in the original byte stream. ")
	}
	text := strings.TrimSpace(b.String())
	chunks, err := ChunkText(text, ChunkOptions{MaxTokens: 50, OverlapTokens: 10, MinChunkLength: 20})
	require.NoError(t, err)

	for _, c := range chunks {
		assert.GreaterOrEqual(t, c.StartPosition, 0)
		assert.LessOrEqual(t, c.EndPosition, len(text))
		assert.Less(t, c.StartPosition, c.EndPosition)
	}
	assert.Equal(t, len(text), chunks[len(chunks)-1].EndPosition)
}

func lastSentence(text string) string {
	spans := splitSentences(text)
	if len(spans) == 0 {
		return text
	}
	return spans[len(spans)-1].text
}

func TestSplitSentences(t *testing.T) {
	spans := splitSentences("First one. Second one! Third? trailing tail")
	require.Len(t, spans, 4)
	assert.Equal(t, "First one.", spans[0].text)
	assert.Equal(t, "Second one!", spans[1].text)
	assert.Equal(t, "Third?", spans[2].text)
	assert.Equal(t, "trailing tail", spans[3].text)

	// Abbreviation-style periods without following whitespace do not split.
	spans = splitSentences("Version 1.2 shipped. Done.")
	require.Len(t, spans, 2)
	assert.Equal(t, "Version 1.2 shipped.", spans[0].text)
}
