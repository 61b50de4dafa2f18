// Package audit records tool invocations for later review.
//
// Entries identify who invoked which tool and whether it succeeded, but
// never the argument values: only a hash of the sorted argument key set
// is stored, which is enough to correlate call shapes without retaining
// user data. Entries are kept for a fixed retention window.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

// DefaultRetention is how long entries are kept.
const DefaultRetention = 7 * 24 * time.Hour

// Entry is one recorded tool invocation.
type Entry struct {
	ToolName       string        `json:"tool_name"`
	CallerID       string        `json:"caller_id"`
	OrganizationID string        `json:"organization_id"`
	SessionID      string        `json:"session_id"`
	Success        bool          `json:"success"`
	ExecutionTime  time.Duration `json:"execution_time"`
	ArgKeysHash    string        `json:"arg_keys_hash"`
	RecordedAt     time.Time     `json:"recorded_at"`
}

// Recorder persists audit entries.
//
// Record failures must not fail the tool call that produced them; the
// executor logs and continues.
type Recorder interface {
	// Record appends one entry.
	Record(ctx context.Context, entry Entry) error

	// List returns entries for an organization still inside the
	// retention window, newest first.
	List(ctx context.Context, organizationID string) ([]Entry, error)

	// Sweep removes entries older than the retention window.
	Sweep(ctx context.Context) error
}

// HashArgKeys returns the sha256 hex digest of the sorted argument key
// set. Values are deliberately excluded.
func HashArgKeys(args map[string]any) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	sum := sha256.Sum256([]byte(strings.Join(keys, ",")))
	return hex.EncodeToString(sum[:])
}
