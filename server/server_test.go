package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadline-ai/threadline/agent"
	"github.com/threadline-ai/threadline/event"
	"github.com/threadline-ai/threadline/eventlog"
	"github.com/threadline-ai/threadline/model"
)

type fixedProvider struct {
	text string
}

func (p *fixedProvider) Name() string { return "openai" }

func (p *fixedProvider) Generate(ctx context.Context, req model.Request) (*model.Response, error) {
	return nil, errors.New("not used")
}

func (p *fixedProvider) GenerateStream(ctx context.Context, req model.Request) (<-chan model.StreamChunk, error) {
	out := make(chan model.StreamChunk, 1)
	out <- model.StreamChunk{Type: model.ChunkTypeText, Text: p.text}
	close(out)
	return out, nil
}

func newTestServer(t *testing.T) (*Server, eventlog.Log) {
	t.Helper()
	log := eventlog.NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	runner := agent.NewRunner(agent.Config{}, &fixedProvider{text: "pong"}, nil, log, nil, logger)
	return New(":0", runner, log, nil, "knowledge", logger), log
}

func postRun(t *testing.T, handler http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/runs", bytes.NewReader([]byte(body)))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleRunBatch(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Router()

	rec := postRun(t, handler, `{
		"sessionId": "sess-1",
		"organizationId": "org-1",
		"userId": "user-1",
		"messages": [{"role": "user", "content": "ping"}]
	}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var result agent.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "pong", result.Text)
	require.NotEmpty(t, result.Events)
	assert.Equal(t, event.TypeRunStarted, result.Events[0].Type)
	assert.Equal(t, event.TypeRunFinished, result.Events[len(result.Events)-1].Type)
}

func TestHandleRunStreamNDJSON(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Router()

	rec := postRun(t, handler, `{
		"sessionId": "sess-1",
		"messages": [{"role": "user", "content": "ping"}],
		"stream": true
	}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))

	var types []event.Type
	scanner := bufio.NewScanner(rec.Body)
	for scanner.Scan() {
		var e event.Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e), "line %q", scanner.Text())
		types = append(types, e.Type)
	}
	require.NotEmpty(t, types)
	assert.Equal(t, event.TypeRunStarted, types[0])
	assert.Equal(t, event.TypeRunFinished, types[len(types)-1])
	assert.Contains(t, types, event.TypeTextMessageContent)
}

func TestHandleRunRejectsInvalidInput(t *testing.T) {
	srv, _ := newTestServer(t)
	handler := srv.Router()

	rec := postRun(t, handler, `{"sessionId": "sess-1", "messages": []}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postRun(t, handler, `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleEventsPolling(t *testing.T) {
	srv, log := newTestServer(t)
	handler := srv.Router()

	ctx := context.Background()
	require.NoError(t, log.Append(ctx, "sess-9", event.NewRunStarted("sess-9", "run-1")))
	require.NoError(t, log.Append(ctx, "sess-9", event.NewRunFinished("run-1", nil)))

	get := func(url string) map[string]json.RawMessage {
		req := httptest.NewRequest(http.MethodGet, url, nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		var body map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		return body
	}

	body := get("/v1/sessions/sess-9/events")
	var events []event.Event
	require.NoError(t, json.Unmarshal(body["events"], &events))
	require.Len(t, events, 2)
	assert.Equal(t, "2", strings.TrimSpace(string(body["next"])))

	// Polling from the returned cursor yields nothing new.
	body = get("/v1/sessions/sess-9/events?since=2")
	require.NoError(t, json.Unmarshal(body["events"], &events))
	assert.Empty(t, events)

	// Malformed cursors are rejected.
	req := httptest.NewRequest(http.MethodGet, "/v1/sessions/sess-9/events?since=minus", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
