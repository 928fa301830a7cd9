// Package streamstate holds the permalink-keyed stream metadata cache.
//
// Producers post batches at any time; consumers block in Get until the
// permalink they need appears, re-checking after every batch write up to a
// bounded number of write cycles.
package streamstate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/justapithecus/setscout/types"
)

// DefaultMaxRetries is the number of write cycles a Get waits through
// before giving up on a missing permalink.
const DefaultMaxRetries = 10

// ErrLookupExhausted is returned by Get when the retry cap is exceeded.
var ErrLookupExhausted = errors.New("stream lookup exhausted")

// LookupError carries the permalink and the number of write cycles observed.
type LookupError struct {
	Permalink types.Permalink
	Attempts  int
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("%s: %s after %d write cycles", ErrLookupExhausted, e.Permalink, e.Attempts)
}

// Unwrap returns ErrLookupExhausted.
func (e *LookupError) Unwrap() error {
	return ErrLookupExhausted
}

// Entry is the stream metadata of one permalink.
type Entry struct {
	ID       string
	Duration time.Duration
}

// Store maps permalinks to entries.
// A batch write is applied under one exclusive section, so readers observe
// either none or all of it.
type Store struct {
	mu         sync.RWMutex
	entries    map[types.Permalink]Entry
	generation uint64
	// updated is closed and replaced on every write; waiters select on the
	// channel they captured under the lock.
	updated    chan struct{}
	maxRetries int
	// closed means no further writes will arrive.
	closed bool

	// parks counts Get calls that suspended; used by tests to sequence writes.
	parks atomic.Uint64
}

// Option configures a Store.
type Option func(*Store)

// WithMaxRetries sets the write-cycle cap for Get. Values below 1 are ignored.
func WithMaxRetries(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		entries:    make(map[types.Permalink]Entry),
		updated:    make(chan struct{}),
		maxRetries: DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// UpsertBatch applies all records atomically, last wins per permalink,
// and wakes every pending reader. An empty batch still counts as a write
// cycle.
func (s *Store) UpsertBatch(records []types.StreamRecord) {
	s.mu.Lock()
	for _, r := range records {
		s.entries[r.Permalink] = Entry{ID: r.ID, Duration: r.Duration}
	}
	s.broadcastLocked()
	s.mu.Unlock()
}

// Reset clears every entry and wakes pending readers.
func (s *Store) Reset() {
	s.mu.Lock()
	clear(s.entries)
	s.broadcastLocked()
	s.mu.Unlock()
}

// Close marks the end of the producers. Pending and future Gets for a
// missing permalink fail with a *LookupError instead of waiting.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.broadcastLocked()
}

func (s *Store) broadcastLocked() {
	s.generation++
	close(s.updated)
	s.updated = make(chan struct{})
}

// Get returns the entry for p, suspending until a write supplies it.
// It gives up with a *LookupError after the configured number of write
// cycles and returns ctx.Err() if ctx ends first.
func (s *Store) Get(ctx context.Context, p types.Permalink) (Entry, error) {
	for attempt := 0; ; attempt++ {
		s.mu.RLock()
		e, ok := s.entries[p]
		wait := s.updated
		closed := s.closed
		s.mu.RUnlock()

		if ok {
			return e, nil
		}
		if attempt >= s.maxRetries || closed {
			return Entry{}, &LookupError{Permalink: p, Attempts: attempt}
		}

		s.parks.Add(1)
		select {
		case <-ctx.Done():
			return Entry{}, ctx.Err()
		case <-wait:
		}
	}
}

// Peek returns the entry for p without waiting.
func (s *Store) Peek(p types.Permalink) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[p]
	return e, ok
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Generation returns the number of writes applied so far.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}
