package search

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-process lexical index for single-instance
// deployments and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	scopes map[string]map[string]string // scope -> id -> content
}

// NewMemoryStore creates an in-process lexical index.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{scopes: make(map[string]map[string]string)}
}

func (s *MemoryStore) Index(ctx context.Context, scope, id, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.scopes[scope] == nil {
		s.scopes[scope] = make(map[string]string)
	}
	s.scopes[scope][id] = content
	return nil
}

func (s *MemoryStore) Remove(ctx context.Context, scope, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.scopes[scope], id)
	return nil
}

func (s *MemoryStore) Search(ctx context.Context, scope, query string, topK int) ([]Result, error) {
	terms := tokenize(query)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []Result
	for id, content := range s.scopes[scope] {
		score := scoreContent(content, terms)
		if score > 0 {
			results = append(results, Result{ID: id, Score: score, Content: content})
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		// Deterministic order across map iterations.
		return results[i].ID < results[j].ID
	})

	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

var _ Store = (*MemoryStore)(nil)
