// Package config loads process configuration from the environment.
//
// Component-level tuning lives in each package's own config struct;
// this package only covers what differs between deployments: listen
// address, backing stores, model provider credentials.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the process-level configuration.
type Config struct {
	// ListenAddr is the HTTP listen address.
	ListenAddr string

	// DatabaseDriver selects the durable store: "sqlite3" or
	// "postgres". Empty disables durability (in-memory degraded mode).
	DatabaseDriver string
	DatabaseDSN    string

	// Provider selects the model backend; compatible endpoints work
	// through BaseURL.
	Provider    string
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64

	// EmbedderProvider selects "openai" or "ollama".
	EmbedderProvider string
	EmbedderModel    string
	EmbedderBaseURL  string

	// QdrantHost enables the Qdrant vector backend; empty falls back
	// to the embedded chromem store at ChromemPath.
	QdrantHost  string
	QdrantPort  int
	ChromemPath string

	// RetrievalScope names the default knowledge collection.
	RetrievalScope string

	// SystemPrompt is prepended to every run.
	SystemPrompt string

	// FileToolRoot is the workspace root for the file tool. Empty
	// disables the tool.
	FileToolRoot string

	// EventTTL bounds how long session event logs are retained.
	EventTTL time.Duration

	// TracingEnabled turns on OTLP trace export to TracingEndpoint.
	TracingEnabled  bool
	TracingEndpoint string
}

// LoadDotEnv loads .env files into the environment without overwriting
// variables that are already set. Missing files are not errors.
func LoadDotEnv(paths ...string) {
	for _, path := range paths {
		if path != "" {
			loadIfExists(path)
		}
	}
	loadIfExists(".env")
	if home, err := os.UserHomeDir(); err == nil {
		loadIfExists(filepath.Join(home, ".env"))
	}
}

func loadIfExists(path string) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return
	}
	if err := godotenv.Load(path); err != nil {
		slog.Debug("Failed to load .env file", "path", path, "error", err)
		return
	}
	slog.Debug("Loaded environment from .env", "path", path)
}

// FromEnv builds a Config from the environment, with defaults suitable
// for local development.
func FromEnv() (*Config, error) {
	cfg := &Config{
		ListenAddr:       getEnv("THREADLINE_LISTEN_ADDR", ":8080"),
		DatabaseDriver:   os.Getenv("THREADLINE_DB_DRIVER"),
		DatabaseDSN:      os.Getenv("THREADLINE_DB_DSN"),
		Provider:         getEnv("THREADLINE_PROVIDER", "openai"),
		APIKey:           os.Getenv("OPENAI_API_KEY"),
		BaseURL:          os.Getenv("OPENAI_BASE_URL"),
		Model:            getEnv("THREADLINE_MODEL", "gpt-4o-mini"),
		EmbedderProvider: getEnv("THREADLINE_EMBEDDER", "openai"),
		EmbedderModel:    os.Getenv("THREADLINE_EMBEDDER_MODEL"),
		EmbedderBaseURL:  os.Getenv("THREADLINE_EMBEDDER_BASE_URL"),
		QdrantHost:       os.Getenv("THREADLINE_QDRANT_HOST"),
		ChromemPath:      os.Getenv("THREADLINE_CHROMEM_PATH"),
		RetrievalScope:   getEnv("THREADLINE_RETRIEVAL_SCOPE", "knowledge"),
		SystemPrompt:     os.Getenv("THREADLINE_SYSTEM_PROMPT"),
		FileToolRoot:     os.Getenv("THREADLINE_FILE_ROOT"),
		EventTTL:         time.Hour,
		TracingEndpoint:  getEnv("THREADLINE_OTLP_ENDPOINT", "localhost:4317"),
	}

	if raw := os.Getenv("THREADLINE_TEMPERATURE"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid THREADLINE_TEMPERATURE %q: %w", raw, err)
		}
		cfg.Temperature = v
	}
	if raw := os.Getenv("THREADLINE_QDRANT_PORT"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid THREADLINE_QDRANT_PORT %q: %w", raw, err)
		}
		cfg.QdrantPort = v
	}
	if raw := os.Getenv("THREADLINE_EVENT_TTL"); raw != "" {
		v, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid THREADLINE_EVENT_TTL %q: %w", raw, err)
		}
		cfg.EventTTL = v
	}
	if raw := os.Getenv("THREADLINE_TRACING_ENABLED"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid THREADLINE_TRACING_ENABLED %q: %w", raw, err)
		}
		cfg.TracingEnabled = v
	}

	return cfg, nil
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	if c.DatabaseDriver != "" && c.DatabaseDriver != "sqlite3" && c.DatabaseDriver != "postgres" {
		return fmt.Errorf("unsupported database driver %q", c.DatabaseDriver)
	}
	if c.DatabaseDriver != "" && c.DatabaseDSN == "" {
		return fmt.Errorf("database driver %s requires THREADLINE_DB_DSN", c.DatabaseDriver)
	}
	if c.Provider != "openai" {
		return fmt.Errorf("unsupported provider %q", c.Provider)
	}
	if c.EmbedderProvider != "openai" && c.EmbedderProvider != "ollama" {
		return fmt.Errorf("unsupported embedder provider %q", c.EmbedderProvider)
	}
	if c.EventTTL <= 0 {
		return fmt.Errorf("event TTL must be positive, got %s", c.EventTTL)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
