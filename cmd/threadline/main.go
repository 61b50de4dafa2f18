// Command threadline runs the agent engine: an HTTP server for run
// submission and event delivery, plus CLI entry points for document
// ingestion and one-off runs.
//
// Usage:
//
//	threadline serve
//	threadline ingest ./docs
//	threadline run "What does the handbook say about on-call?"
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/threadline-ai/threadline/agent"
	"github.com/threadline-ai/threadline/audit"
	"github.com/threadline-ai/threadline/config"
	"github.com/threadline-ai/threadline/embedder"
	"github.com/threadline-ai/threadline/event"
	"github.com/threadline-ai/threadline/eventlog"
	"github.com/threadline-ai/threadline/model"
	"github.com/threadline-ai/threadline/observability"
	"github.com/threadline-ai/threadline/rag"
	"github.com/threadline-ai/threadline/ratelimit"
	"github.com/threadline-ai/threadline/search"
	"github.com/threadline-ai/threadline/server"
	"github.com/threadline-ai/threadline/tool"
	"github.com/threadline-ai/threadline/vector"
)

// CLI defines the command-line interface.
type CLI struct {
	Version VersionCmd `cmd:"" help:"Show version information."`
	Serve   ServeCmd   `cmd:"" help:"Start the HTTP server."`
	Ingest  IngestCmd  `cmd:"" help:"Ingest documents into the knowledge base."`
	Run     RunCmd     `cmd:"" help:"Execute a single run from the command line."`

	Env      string `help:"Path to a .env file." type:"path"`
	LogLevel string `help:"Log level (debug, info, warn, error)." default:"info"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("threadline %s\n", version)
	return nil
}

// app holds the wired components shared by the commands.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	log    eventlog.Log
	engine *rag.Engine
	runner *agent.Runner
	db     *sql.DB
}

func (a *app) Close() {
	if a.db != nil {
		_ = a.db.Close()
	}
}

func buildApp(cli *CLI) (*app, error) {
	config.LoadDotEnv(cli.Env)

	cfg, err := config.FromEnv()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger := newLogger(cli.LogLevel)
	slog.SetDefault(logger)

	a := &app{cfg: cfg, logger: logger}

	// Durable backends share one database handle; without a driver the
	// engine runs in-process only.
	if cfg.DatabaseDriver != "" {
		db, err := sql.Open(cfg.DatabaseDriver, cfg.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		a.db = db
	}

	a.log = eventlog.Open(eventlog.Config{
		Driver: cfg.DatabaseDriver,
		DSN:    cfg.DatabaseDSN,
		TTL:    cfg.EventTTL,
	})

	var auditor audit.Recorder
	var textStore search.Store
	if a.db != nil {
		auditor, err = audit.NewSQLRecorder(a.db, cfg.DatabaseDriver, audit.DefaultRetention)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize audit store: %w", err)
		}
		textStore, err = search.NewSQLStore(a.db, cfg.DatabaseDriver)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize text search store: %w", err)
		}
	} else {
		auditor = audit.NewMemoryRecorder(audit.DefaultRetention)
		textStore = search.NewMemoryStore()
	}

	emb, err := buildEmbedder(cfg)
	if err != nil {
		return nil, err
	}
	vectors, err := buildVectorProvider(cfg)
	if err != nil {
		return nil, err
	}

	a.engine, err = rag.NewEngine(rag.EngineConfig{}, emb, vectors, textStore, logger)
	if err != nil {
		return nil, err
	}
	retriever := a.engine.Retriever()

	registry := tool.NewRegistry(auditor, logger)
	if err := registry.Register(tool.NewSearchTool(retriever, cfg.RetrievalScope,
		&ratelimit.Limit{MaxCalls: 30, Window: time.Minute})); err != nil {
		return nil, err
	}
	if err := registry.Register(tool.NewDispatchTool(tool.NewWebhookDispatcher(),
		&ratelimit.Limit{MaxCalls: 10, Window: time.Minute})); err != nil {
		return nil, err
	}
	if cfg.FileToolRoot != "" {
		ft, err := tool.NewFileTool(cfg.FileToolRoot, &ratelimit.Limit{MaxCalls: 60, Window: time.Minute})
		if err != nil {
			return nil, err
		}
		if err := registry.Register(ft); err != nil {
			return nil, err
		}
	}

	provider, err := model.NewOpenAIProvider(model.OpenAIConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
	})
	if err != nil {
		return nil, err
	}

	augmenter := rag.NewAugmenter(retriever, rag.AugmentOptions{}, logger)
	a.runner = agent.NewRunner(agent.Config{
		SystemPrompt:   cfg.SystemPrompt,
		RetrievalScope: cfg.RetrievalScope,
		Temperature:    cfg.Temperature,
	}, provider, registry, a.log, augmenter, logger)

	return a, nil
}

func buildEmbedder(cfg *config.Config) (embedder.Embedder, error) {
	switch cfg.EmbedderProvider {
	case "ollama":
		return embedder.NewOllamaEmbedder(embedder.OllamaConfig{
			BaseURL: cfg.EmbedderBaseURL,
			Model:   cfg.EmbedderModel,
		})
	default:
		return embedder.NewOpenAIEmbedder(embedder.OpenAIConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.EmbedderBaseURL,
			Model:   cfg.EmbedderModel,
		})
	}
}

func buildVectorProvider(cfg *config.Config) (vector.Provider, error) {
	if cfg.QdrantHost != "" {
		return vector.NewQdrantProvider(vector.QdrantConfig{
			Host: cfg.QdrantHost,
			Port: cfg.QdrantPort,
		})
	}
	return vector.NewChromemProvider(vector.ChromemConfig{
		PersistPath: cfg.ChromemPath,
	})
}

func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

// ServeCmd starts the HTTP server.
type ServeCmd struct {
	Addr string `help:"Listen address (overrides THREADLINE_LISTEN_ADDR)."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	a, err := buildApp(cli)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		a.logger.Info("Shutting down...")
		cancel()
	}()

	if a.cfg.TracingEnabled {
		if _, err := observability.InitGlobalTracer(ctx, observability.TracerConfig{
			Enabled:     true,
			EndpointURL: a.cfg.TracingEndpoint,
		}); err != nil {
			return fmt.Errorf("failed to initialize tracing: %w", err)
		}
	}

	addr := a.cfg.ListenAddr
	if c.Addr != "" {
		addr = c.Addr
	}
	srv := server.New(addr, a.runner, a.log, a.engine, a.cfg.RetrievalScope, a.logger)
	return srv.Start(ctx)
}

// IngestCmd ingests documents from files or directories.
type IngestCmd struct {
	Paths []string `arg:"" help:"Files or directories to ingest." type:"path"`
	Scope string   `help:"Knowledge collection (overrides THREADLINE_RETRIEVAL_SCOPE)."`
}

func (c *IngestCmd) Run(cli *CLI) error {
	a, err := buildApp(cli)
	if err != nil {
		return err
	}
	defer a.Close()

	scope := a.cfg.RetrievalScope
	if c.Scope != "" {
		scope = c.Scope
	}

	docs, err := collectDocuments(c.Paths)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		return fmt.Errorf("no ingestable files found")
	}

	results := a.engine.IngestDocuments(context.Background(), scope, docs)
	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
			a.logger.Error("Failed to ingest document", "document_id", res.DocumentID, "error", res.Err)
		}
	}
	fmt.Printf("Ingested %d of %d documents into %s\n", len(results)-failed, len(results), scope)
	if failed > 0 {
		return fmt.Errorf("%d documents failed", failed)
	}
	return nil
}

func collectDocuments(paths []string) ([]rag.Document, error) {
	var docs []rag.Document
	for _, path := range paths {
		err := filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			switch filepath.Ext(p) {
			case ".txt", ".md":
			default:
				return nil
			}
			data, err := os.ReadFile(p)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", p, err)
			}
			docs = append(docs, rag.Document{
				ID:       p,
				Content:  string(data),
				Metadata: map[string]any{"path": p},
			})
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return docs, nil
}

// RunCmd executes a single run and prints the streamed text.
type RunCmd struct {
	Prompt  string `arg:"" help:"User message."`
	Session string `help:"Session id." default:"cli"`
	Org     string `help:"Organization id." default:"cli"`
	User    string `help:"User id." default:"cli"`
}

func (c *RunCmd) Run(cli *CLI) error {
	a, err := buildApp(cli)
	if err != nil {
		return err
	}
	defer a.Close()

	stream, err := a.runner.ExecuteStream(context.Background(), agent.Input{
		SessionID:      c.Session,
		OrganizationID: c.Org,
		UserID:         c.User,
		Messages:       []model.Message{{Role: model.RoleUser, Content: c.Prompt}},
	})
	if err != nil {
		return err
	}

	for e := range stream {
		switch p := e.Payload.(type) {
		case event.TextMessageContent:
			fmt.Print(p.Delta)
		case event.ToolCallStart:
			fmt.Fprintf(os.Stderr, "\n[tool: %s]\n", p.ToolName)
		case event.RunError:
			fmt.Println()
			return fmt.Errorf("run failed: %s", p.Message)
		case event.RunFinished:
			fmt.Println()
		}
	}
	return nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("threadline"),
		kong.Description("Agent run engine with event streaming and hybrid retrieval."),
		kong.UsageOnError(),
	)
	if err := ctx.Run(&cli); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
