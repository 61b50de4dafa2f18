// Package eventlog provides the append-only, per-session event store.
//
// Each session owns one ordered list of events. Consumers read the suffix
// they have not yet seen via ReadSince, which gives at-least-once, in-order
// delivery without re-sending history. Events are never removed
// individually; a session's list can only be cleared wholesale or expire
// as a unit.
package eventlog

import (
	"context"
	"fmt"
	"time"

	"github.com/threadline-ai/threadline/event"
)

// DefaultTTL is the sliding expiry applied to a session's whole list on
// every append.
const DefaultTTL = time.Hour

// Log is the append-only, index-addressable event store.
//
// Implementations must be safe for concurrent use; multiple runs may
// append to different sessions at once.
type Log interface {
	// Append adds one event to the end of the session's list and
	// refreshes the list's expiry.
	Append(ctx context.Context, sessionID string, ev event.Event) error

	// ReadAll returns every event appended to the session, in order.
	ReadAll(ctx context.Context, sessionID string) ([]event.Event, error)

	// ReadSince returns events[fromIndex:]. After n appends,
	// ReadSince(sessionID, n) returns an empty slice.
	ReadSince(ctx context.Context, sessionID string, fromIndex int) ([]event.Event, error)

	// Clear removes the session's list wholesale.
	Clear(ctx context.Context, sessionID string) error
}

// Config configures log construction.
type Config struct {
	// DSN is the database connection string. Empty means no durable
	// backend is configured and the in-process store is used.
	DSN string

	// Driver is the database/sql driver name ("sqlite3" or "postgres").
	Driver string

	// TTL is the sliding expiry for session lists (default: 1h).
	// Ignored by the in-process store.
	TTL time.Duration
}

// SetDefaults applies default values.
func (c *Config) SetDefaults() {
	if c.TTL <= 0 {
		c.TTL = DefaultTTL
	}
	if c.Driver == "" {
		c.Driver = "sqlite3"
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.DSN == "" {
		return nil
	}
	switch c.Driver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("unsupported driver: %q (supported: sqlite3, postgres)", c.Driver)
	}
	return nil
}
