// Package likes accumulates the user's liked track ids from a paginated feed.
package likes

import (
	"context"
	"sync"
)

// Store is a growing id set that becomes ready when the final page arrives.
type Store struct {
	mu    sync.RWMutex
	ids   map[string]struct{}
	pages int
	ready chan struct{}
	done  bool
}

// NewStore creates an empty, not-ready store.
func NewStore() *Store {
	return &Store{
		ids:   make(map[string]struct{}),
		ready: make(chan struct{}),
	}
}

// AbsorbPage unions ids into the set. When hasNextPage is false the store
// becomes ready; pages after that still add ids. Returns true on the call
// that made the store ready.
func (s *Store) AbsorbPage(ids []string, hasNextPage bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
	s.pages++

	if hasNextPage || s.done {
		return false
	}
	s.done = true
	close(s.ready)
	return true
}

// Ready returns a channel closed once the final page is seen.
func (s *Store) Ready() <-chan struct{} {
	return s.ready
}

// IsMember suspends until the store is ready, then reports membership.
func (s *Store) IsMember(ctx context.Context, id string) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-s.ready:
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok, nil
}

// TryIsMember reports membership without waiting. ready is false until
// pagination is complete, in which case member is meaningless.
func (s *Store) TryIsMember(id string) (member, ready bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, member = s.ids[id]
	return member, s.done
}

// Len returns the number of ids absorbed.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}

// Pages returns the number of pages absorbed.
func (s *Store) Pages() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pages
}
