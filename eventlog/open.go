package eventlog

import (
	"database/sql"
	"log/slog"

	// Drivers for the durable backends.
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Open builds a Log from configuration.
//
// When the durable backend is unconfigured or unreachable it falls back
// to the in-process store. The fallback is logged and never surfaced as
// an error: a run must not fail because its event log degraded.
func Open(cfg Config) Log {
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		slog.Warn("Invalid event log config, using in-process store", "error", err)
		return NewMemoryStore()
	}

	if cfg.DSN == "" {
		slog.Debug("No event log DSN configured, using in-process store")
		return NewMemoryStore()
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		slog.Warn("Failed to open event log backend, using in-process store",
			"driver", cfg.Driver, "error", err)
		return NewMemoryStore()
	}

	if err := db.Ping(); err != nil {
		slog.Warn("Event log backend unreachable, using in-process store",
			"driver", cfg.Driver, "error", err)
		_ = db.Close()
		return NewMemoryStore()
	}

	store, err := NewSQLStore(db, cfg.Driver, cfg.TTL)
	if err != nil {
		slog.Warn("Failed to initialize durable event log, using in-process store", "error", err)
		_ = db.Close()
		return NewMemoryStore()
	}

	slog.Info("Event log backed by durable store", "driver", cfg.Driver, "ttl", cfg.TTL)
	return store
}
