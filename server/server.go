// Package server exposes the run engine over HTTP: run submission with
// live event streaming, event log polling, and document ingestion.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/threadline-ai/threadline/agent"
	"github.com/threadline-ai/threadline/eventlog"
	"github.com/threadline-ai/threadline/model"
	"github.com/threadline-ai/threadline/rag"
)

// Server serves the engine's HTTP API.
type Server struct {
	addr   string
	runner *agent.Runner
	log    eventlog.Log
	engine *rag.Engine
	scope  string
	logger *slog.Logger

	httpServer *http.Server
}

// New creates a server. The rag engine may be nil to disable the
// ingestion endpoint.
func New(addr string, runner *agent.Runner, log eventlog.Log, engine *rag.Engine, scope string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:   addr,
		runner: runner,
		log:    log,
		engine: engine,
		scope:  scope,
		logger: logger,
	}
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/v1", func(r chi.Router) {
		r.Post("/runs", s.handleRun)
		r.Get("/sessions/{sessionID}/events", s.handleEvents)
		if s.engine != nil {
			r.Post("/documents", s.handleIngest)
		}
	})

	return r
}

// Start serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: s.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", s.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

type runRequest struct {
	SessionID      string          `json:"sessionId"`
	OrganizationID string          `json:"organizationId"`
	UserID         string          `json:"userId"`
	Messages       []model.Message `json:"messages"`

	// Stream selects NDJSON event streaming; otherwise the response is
	// a single JSON document with the event list embedded.
	Stream bool `json:"stream"`
}

// handleRun executes a run. With stream=true each event is written as
// one NDJSON line as it happens; otherwise the full result (events
// included) is returned when the run completes.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	input := agent.Input{
		SessionID:      req.SessionID,
		OrganizationID: req.OrganizationID,
		UserID:         req.UserID,
		Messages:       req.Messages,
	}

	if !req.Stream {
		result, err := s.runner.Execute(r.Context(), input)
		if err != nil {
			if result == nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			// The run started; its failure is recorded in the event
			// list, so the response still carries everything emitted.
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	stream, err := s.runner.ExecuteStream(r.Context(), input)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	enc := json.NewEncoder(w)
	for e := range stream {
		if err := enc.Encode(e); err != nil {
			s.logger.Warn("Failed to write event to client", "error", err)
			// Drain so the run still completes and lands in the log.
			for range stream {
			}
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

// handleEvents serves the event log suffix for polling consumers. The
// since parameter is the index of the first event the caller has not
// seen; the response includes the next index to poll from.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	since := 0
	if raw := r.URL.Query().Get("since"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid since parameter %q", raw))
			return
		}
		since = v
	}

	events, err := s.log.ReadSince(r.Context(), sessionID, since)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read events")
		s.logger.Error("Failed to read event log", "session_id", sessionID, "error", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"next":   since + len(events),
	})
}

type ingestRequest struct {
	Documents []rag.Document `json:"documents"`
	Scope     string         `json:"scope,omitempty"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if len(req.Documents) == 0 {
		writeError(w, http.StatusBadRequest, "documents cannot be empty")
		return
	}
	scope := req.Scope
	if scope == "" {
		scope = s.scope
	}

	results := s.engine.IngestDocuments(r.Context(), scope, req.Documents)

	type docStatus struct {
		DocumentID string `json:"documentId"`
		Error      string `json:"error,omitempty"`
	}
	statuses := make([]docStatus, len(results))
	failed := 0
	for i, res := range results {
		statuses[i] = docStatus{DocumentID: res.DocumentID}
		if res.Err != nil {
			statuses[i].Error = res.Err.Error()
			failed++
		}
	}

	status := http.StatusOK
	if failed == len(results) {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]any{
		"ingested": len(results) - failed,
		"failed":   failed,
		"results":  statuses,
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("Handled request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
