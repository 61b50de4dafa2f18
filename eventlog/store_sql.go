package eventlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/threadline-ai/threadline/event"
)

const createEventLogSchemaSQL = `
CREATE TABLE IF NOT EXISTS session_events (
    session_id VARCHAR(255) NOT NULL,
    seq BIGINT NOT NULL,
    payload TEXT NOT NULL,
    appended_at TIMESTAMP NOT NULL,
    PRIMARY KEY (session_id, seq)
);

CREATE TABLE IF NOT EXISTS session_expiry (
    session_id VARCHAR(255) PRIMARY KEY,
    expires_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_session_expiry_expires_at ON session_expiry(expires_at);
`

// SQLStore is the durable implementation of Log, backed by SQLite or
// Postgres through database/sql.
//
// Expiry is sliding: every append pushes the whole session list's
// expires_at forward by the configured TTL. Expired sessions read as
// empty and are swept lazily on append.
type SQLStore struct {
	db      *sql.DB
	dialect string
	ttl     time.Duration
}

// NewSQLStore creates a durable event log on an existing connection.
// Supported dialects: "sqlite3", "postgres".
func NewSQLStore(db *sql.DB, dialect string, ttl time.Duration) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	switch dialect {
	case "sqlite3", "postgres":
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: sqlite3, postgres)", dialect)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	s := &SQLStore{db: db, dialect: dialect, ttl: ttl}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize event log schema: %w", err)
	}
	return s, nil
}

func (s *SQLStore) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, createEventLogSchemaSQL); err != nil {
		return fmt.Errorf("failed to create session_events tables: %w", err)
	}
	return nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	out := make([]byte, 0, len(query)+8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			out = append(out, fmt.Sprintf("$%d", n)...)
			continue
		}
		out = append(out, query[i])
	}
	return string(out)
}

func (s *SQLStore) Append(ctx context.Context, sessionID string, ev event.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin append transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now()

	// Expired list is reclaimed before the new event lands so the
	// session restarts at seq 0.
	var expiresAt time.Time
	err = tx.QueryRowContext(ctx,
		s.rebind(`SELECT expires_at FROM session_expiry WHERE session_id = ?`),
		sessionID).Scan(&expiresAt)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return fmt.Errorf("failed to query session expiry: %w", err)
	case expiresAt.Before(now):
		if _, err := tx.ExecContext(ctx,
			s.rebind(`DELETE FROM session_events WHERE session_id = ?`), sessionID); err != nil {
			return fmt.Errorf("failed to reclaim expired session: %w", err)
		}
	}

	// Sequence assignment and insert happen in one statement so two
	// concurrent appends to the same session cannot read the same MAX
	// and collide on the (session_id, seq) primary key.
	if _, err := tx.ExecContext(ctx,
		s.rebind(`INSERT INTO session_events (session_id, seq, payload, appended_at)
		          SELECT ?, COALESCE(MAX(seq)+1, 0), ?, ? FROM session_events WHERE session_id = ?`),
		sessionID, string(payload), now, sessionID); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	newExpiry := now.Add(s.ttl)
	if s.dialect == "postgres" {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO session_expiry (session_id, expires_at) VALUES ($1, $2)
			 ON CONFLICT (session_id) DO UPDATE SET expires_at = EXCLUDED.expires_at`,
			sessionID, newExpiry)
	} else {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO session_expiry (session_id, expires_at) VALUES (?, ?)
			 ON CONFLICT (session_id) DO UPDATE SET expires_at = excluded.expires_at`,
			sessionID, newExpiry)
	}
	if err != nil {
		return fmt.Errorf("failed to refresh session expiry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit append: %w", err)
	}
	return nil
}

func (s *SQLStore) ReadAll(ctx context.Context, sessionID string) ([]event.Event, error) {
	return s.ReadSince(ctx, sessionID, 0)
}

func (s *SQLStore) ReadSince(ctx context.Context, sessionID string, fromIndex int) ([]event.Event, error) {
	if fromIndex < 0 {
		fromIndex = 0
	}

	expired, err := s.isExpired(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if expired {
		return []event.Event{}, nil
	}

	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT payload FROM session_events WHERE session_id = ? AND seq >= ? ORDER BY seq`),
		sessionID, int64(fromIndex))
	if err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	defer rows.Close()

	events := []event.Event{}
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		var ev event.Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, fmt.Errorf("failed to decode stored event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	return events, nil
}

func (s *SQLStore) isExpired(ctx context.Context, sessionID string) (bool, error) {
	var expiresAt time.Time
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT expires_at FROM session_expiry WHERE session_id = ?`),
		sessionID).Scan(&expiresAt)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to query session expiry: %w", err)
	}
	return expiresAt.Before(time.Now()), nil
}

func (s *SQLStore) Clear(ctx context.Context, sessionID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin clear transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		s.rebind(`DELETE FROM session_events WHERE session_id = ?`), sessionID); err != nil {
		return fmt.Errorf("failed to clear session events: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		s.rebind(`DELETE FROM session_expiry WHERE session_id = ?`), sessionID); err != nil {
		return fmt.Errorf("failed to clear session expiry: %w", err)
	}
	return tx.Commit()
}

// SweepExpired removes every session list whose expiry has passed.
// Intended to run periodically from the host process.
func (s *SQLStore) SweepExpired(ctx context.Context) error {
	now := time.Now()
	if _, err := s.db.ExecContext(ctx,
		s.rebind(`DELETE FROM session_events WHERE session_id IN
		          (SELECT session_id FROM session_expiry WHERE expires_at < ?)`), now); err != nil {
		return fmt.Errorf("failed to sweep expired events: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		s.rebind(`DELETE FROM session_expiry WHERE expires_at < ?`), now); err != nil {
		return fmt.Errorf("failed to sweep expired sessions: %w", err)
	}
	return nil
}

// Close closes the underlying connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Ensure SQLStore implements Log.
var _ Log = (*SQLStore)(nil)
