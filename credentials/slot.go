// Package credentials holds the single-value credential signals captured
// from the page: client id, authorization header and rotating cookie.
package credentials

import (
	"context"
	"sync"
)

// Slot is a single value that becomes ready on its first non-zero set.
// Later sets replace the value only when it differs.
type Slot[T comparable] struct {
	name string

	mu    sync.Mutex
	value T
	set   bool
	ready chan struct{}
}

// NewSlot creates an empty slot.
func NewSlot[T comparable](name string) *Slot[T] {
	return &Slot[T]{name: name, ready: make(chan struct{})}
}

// Name returns the slot name.
func (s *Slot[T]) Name() string {
	return s.name
}

// Set stores v if it differs from the current value and marks the slot
// ready. Returns whether the value changed. Setting the zero value on an
// empty slot is a no-op.
func (s *Slot[T]) Set(v T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v == s.value {
		return false
	}
	s.value = v
	if !s.set {
		s.set = true
		close(s.ready)
	}
	return true
}

// Ready returns a channel closed once the slot holds a value.
func (s *Slot[T]) Ready() <-chan struct{} {
	return s.ready
}

// IsReady reports whether the slot holds a value.
func (s *Slot[T]) IsReady() bool {
	select {
	case <-s.ready:
		return true
	default:
		return false
	}
}

// Peek returns the current value and whether it is set.
func (s *Slot[T]) Peek() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, s.set
}

// Await suspends until the slot is ready and returns the latest value.
func (s *Slot[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case <-s.ready:
	}
	v, _ := s.Peek()
	return v, nil
}
