package audit

import (
	"context"
	"sync"
	"time"
)

// MemoryRecorder is an in-process Recorder for single-instance
// deployments and tests.
type MemoryRecorder struct {
	retention time.Duration

	mu      sync.RWMutex
	entries []Entry
}

// NewMemoryRecorder creates an in-process recorder. A non-positive
// retention falls back to the default.
func NewMemoryRecorder(retention time.Duration) *MemoryRecorder {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &MemoryRecorder{retention: retention}
}

func (r *MemoryRecorder) Record(ctx context.Context, entry Entry) error {
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return nil
}

func (r *MemoryRecorder) List(ctx context.Context, organizationID string) ([]Entry, error) {
	cutoff := time.Now().Add(-r.retention)

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []Entry{}
	for i := len(r.entries) - 1; i >= 0; i-- {
		e := r.entries[i]
		if e.OrganizationID != organizationID || e.RecordedAt.Before(cutoff) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *MemoryRecorder) Sweep(ctx context.Context) error {
	cutoff := time.Now().Add(-r.retention)

	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.entries[:0]
	for _, e := range r.entries {
		if !e.RecordedAt.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	r.entries = kept
	return nil
}

var _ Recorder = (*MemoryRecorder)(nil)
