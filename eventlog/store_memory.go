package eventlog

import (
	"context"
	"sync"

	"github.com/threadline-ai/threadline/event"
)

// MemoryStore is the in-process implementation of Log.
//
// It serves as the deliberate degraded mode when no durable backend is
// configured: same contract, no expiry, single-process only. It is not a
// cache in front of the durable store.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]event.Event
}

// NewMemoryStore creates an in-process event log.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string][]event.Event),
	}
}

func (s *MemoryStore) Append(ctx context.Context, sessionID string, ev event.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[sessionID] = append(s.sessions[sessionID], ev)
	return nil
}

func (s *MemoryStore) ReadAll(ctx context.Context, sessionID string) ([]event.Event, error) {
	return s.ReadSince(ctx, sessionID, 0)
}

func (s *MemoryStore) ReadSince(ctx context.Context, sessionID string, fromIndex int) ([]event.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := s.sessions[sessionID]
	if fromIndex < 0 {
		fromIndex = 0
	}
	if fromIndex >= len(list) {
		return []event.Event{}, nil
	}

	out := make([]event.Event, len(list)-fromIndex)
	copy(out, list[fromIndex:])
	return out, nil
}

func (s *MemoryStore) Clear(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, sessionID)
	return nil
}

// Ensure MemoryStore implements Log.
var _ Log = (*MemoryStore)(nil)
