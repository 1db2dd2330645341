// Package lastquery persists the last submitted free-text query per owner.
// It is read once at session start and cleared when the user explicitly
// empties the search box. Writes happen on discrete user actions, so last
// writer wins is the only discipline required.
package lastquery

import (
	"context"
	"strings"
	"sync"
	"time"
)

type Store interface {
	Get(ctx context.Context, owner string) (string, bool, error)
	Set(ctx context.Context, owner, query string) error
	Clear(ctx context.Context, owner string) error
}

type memoryEntry struct {
	query     string
	expiresAt time.Time
}

// MemoryStore is the fallback backend when Redis is not configured.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memoryEntry
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &MemoryStore{
		ttl:     ttl,
		entries: make(map[string]memoryEntry),
	}
}

func (s *MemoryStore) Get(_ context.Context, owner string) (string, bool, error) {
	owner = normalizeOwner(owner)
	if owner == "" {
		return "", false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[owner]
	if !ok {
		return "", false, nil
	}
	if time.Now().After(entry.expiresAt) {
		delete(s.entries, owner)
		return "", false, nil
	}
	return entry.query, true, nil
}

func (s *MemoryStore) Set(_ context.Context, owner, query string) error {
	owner = normalizeOwner(owner)
	query = strings.TrimSpace(query)
	if owner == "" || query == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[owner] = memoryEntry{query: query, expiresAt: time.Now().Add(s.ttl)}
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, owner string) error {
	owner = normalizeOwner(owner)
	if owner == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, owner)
	return nil
}

func normalizeOwner(owner string) string {
	return strings.TrimSpace(owner)
}
