package embedder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello world", "hello world"},
		{"collapse whitespace", "hello\t\n  world", "hello world"},
		{"strip control chars", "hel\x00lo\x07", "hello"},
		{"leading and trailing", "  hello  ", "hello"},
		{"empty", "   \n\t ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanText(tt.in))
		})
	}
}

func TestCosineSimilaritySelf(t *testing.T) {
	v := []float32{0.5, -1.2, 3.4}
	got, err := CosineSimilarity(v, v)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, got, 1e-9)
}

func TestCosineSimilarityOrthogonal(t *testing.T) {
	got, err := CosineSimilarity([]float32{1, 0}, []float32{0, 1})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, got, 1e-9)
}

func TestCosineSimilarityDimensionMismatch(t *testing.T) {
	_, err := CosineSimilarity([]float32{1, 2}, []float32{1, 2, 3})
	assert.Error(t, err)
}

func TestCosineSimilarityZeroVector(t *testing.T) {
	got, err := CosineSimilarity([]float32{0, 0}, []float32{1, 2})
	require.NoError(t, err)
	assert.Zero(t, got)
}

// fakeOpenAI serves the embeddings endpoint, recording batch sizes.
func fakeOpenAI(t *testing.T, batches *[][]string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openaiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		*batches = append(*batches, req.Input)

		resp := openaiResponse{}
		for i := range req.Input {
			resp.Data = append(resp.Data, struct {
				Embedding []float32 `json:"embedding"`
				Index     int       `json:"index"`
			}{Embedding: []float32{float32(i), 1}, Index: i})
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func TestOpenAIEmbedBatchSplitsBatches(t *testing.T) {
	var batches [][]string
	srv := fakeOpenAI(t, &batches)
	defer srv.Close()

	e, err := NewOpenAIEmbedder(OpenAIConfig{APIKey: "test", BaseURL: srv.URL, BatchSize: 2})
	require.NoError(t, err)

	vectors, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c", "d", "e"})
	require.NoError(t, err)
	assert.Len(t, vectors, 5)
	assert.Len(t, batches, 3, "5 inputs at batch size 2 need 3 calls")
}

func TestOpenAIEmbedCleansInput(t *testing.T) {
	var batches [][]string
	srv := fakeOpenAI(t, &batches)
	defer srv.Close()

	e, err := NewOpenAIEmbedder(OpenAIConfig{APIKey: "test", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), "hello\n\n  world\x00")
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, []string{"hello world"}, batches[0])
}

func TestOpenAIEmbedEmptyAfterCleaning(t *testing.T) {
	e, err := NewOpenAIEmbedder(OpenAIConfig{APIKey: "test"})
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), "  \n\t ")
	assert.ErrorIs(t, err, ErrEmptyText)
}

func TestOpenAIRequiresAPIKey(t *testing.T) {
	_, err := NewOpenAIEmbedder(OpenAIConfig{})
	assert.Error(t, err)
}
