package tokenstore

import (
	"context"
	"sort"
	"sync"

	"tokenward/pkg/oauth"
)

// MemoryStore keeps token sets in process memory. Values are copied on the
// way in and out so callers never share state with the store.
type MemoryStore struct {
	mu   sync.RWMutex
	sets map[oauth.Principal]*oauth.TokenSet
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sets: make(map[oauth.Principal]*oauth.TokenSet)}
}

func (s *MemoryStore) Save(_ context.Context, principal oauth.Principal, set *oauth.TokenSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sets[principal] = set.Clone()
	return nil
}

func (s *MemoryStore) Load(_ context.Context, principal oauth.Principal) (*oauth.TokenSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.sets[principal]
	if !ok {
		return nil, ErrNotFound
	}
	return set.Clone(), nil
}

func (s *MemoryStore) Clear(_ context.Context, principal oauth.Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sets, principal)
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]oauth.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]oauth.Principal, 0, len(s.sets))
	for p := range s.sets {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}
