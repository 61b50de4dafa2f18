package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

const createAuditSchemaSQL = `
CREATE TABLE IF NOT EXISTS tool_audit_log (
    tool_name VARCHAR(255) NOT NULL,
    caller_id VARCHAR(255) NOT NULL,
    organization_id VARCHAR(255) NOT NULL,
    session_id VARCHAR(255) NOT NULL,
    success BOOLEAN NOT NULL,
    execution_time_ms BIGINT NOT NULL,
    arg_keys_hash VARCHAR(64) NOT NULL,
    recorded_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tool_audit_org ON tool_audit_log(organization_id, recorded_at);
CREATE INDEX IF NOT EXISTS idx_tool_audit_recorded_at ON tool_audit_log(recorded_at);
`

// SQLRecorder persists audit entries in SQLite or Postgres. The table is
// append-only; Sweep is the only delete path.
type SQLRecorder struct {
	db        *sql.DB
	dialect   string
	retention time.Duration
}

// NewSQLRecorder creates a durable recorder on an existing connection.
// Supported dialects: "sqlite3", "postgres".
func NewSQLRecorder(db *sql.DB, dialect string, retention time.Duration) (*SQLRecorder, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	switch dialect {
	case "sqlite3", "postgres":
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: sqlite3, postgres)", dialect)
	}
	if retention <= 0 {
		retention = DefaultRetention
	}

	r := &SQLRecorder{db: db, dialect: dialect, retention: retention}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, createAuditSchemaSQL); err != nil {
		return nil, fmt.Errorf("failed to create tool_audit_log table: %w", err)
	}
	return r, nil
}

func (r *SQLRecorder) rebind(query string) string {
	if r.dialect != "postgres" {
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

func (r *SQLRecorder) Record(ctx context.Context, entry Entry) error {
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx, r.rebind(
		`INSERT INTO tool_audit_log
		     (tool_name, caller_id, organization_id, session_id, success, execution_time_ms, arg_keys_hash, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		entry.ToolName, entry.CallerID, entry.OrganizationID, entry.SessionID,
		entry.Success, entry.ExecutionTime.Milliseconds(), entry.ArgKeysHash, entry.RecordedAt)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

func (r *SQLRecorder) List(ctx context.Context, organizationID string) ([]Entry, error) {
	cutoff := time.Now().Add(-r.retention)

	rows, err := r.db.QueryContext(ctx, r.rebind(
		`SELECT tool_name, caller_id, organization_id, session_id, success, execution_time_ms, arg_keys_hash, recorded_at
		 FROM tool_audit_log
		 WHERE organization_id = ? AND recorded_at >= ?
		 ORDER BY recorded_at DESC`),
		organizationID, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var execMs int64
		if err := rows.Scan(&e.ToolName, &e.CallerID, &e.OrganizationID, &e.SessionID,
			&e.Success, &execMs, &e.ArgKeysHash, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit row: %w", err)
		}
		e.ExecutionTime = time.Duration(execMs) * time.Millisecond
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit rows: %w", err)
	}
	return entries, nil
}

func (r *SQLRecorder) Sweep(ctx context.Context) error {
	cutoff := time.Now().Add(-r.retention)
	if _, err := r.db.ExecContext(ctx,
		r.rebind(`DELETE FROM tool_audit_log WHERE recorded_at < ?`), cutoff); err != nil {
		return fmt.Errorf("failed to sweep audit entries: %w", err)
	}
	return nil
}

var _ Recorder = (*SQLRecorder)(nil)
