// Package discovery deduplicates newly observed feed items and queues them
// for classification in arrival order.
package discovery

import (
	"context"
	"errors"
	"sync"

	"github.com/justapithecus/setscout/types"
)

// ErrQueueClosed is returned by Take once the queue is closed and drained.
var ErrQueueClosed = errors.New("discovery queue closed")

// Queued is an item together with the epoch it was enqueued in.
type Queued struct {
	Item  types.Item
	Epoch uint64
}

// Queue is an unbounded FIFO with a per-epoch seen set.
type Queue struct {
	mu     sync.Mutex
	seen   map[string]struct{}
	items  []Queued
	epoch  uint64
	closed bool
	// notify is closed and replaced whenever items are added or the queue closes.
	notify chan struct{}
}

// NewQueue creates an empty queue at epoch 0.
func NewQueue() *Queue {
	return &Queue{
		seen:   make(map[string]struct{}),
		notify: make(chan struct{}),
	}
}

// EnqueueIfNew appends item unless its handle was already seen this epoch.
// Returns true if the item was queued.
func (q *Queue) EnqueueIfNew(item types.Item) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	if _, ok := q.seen[item.Handle]; ok {
		return false
	}
	q.seen[item.Handle] = struct{}{}
	q.items = append(q.items, Queued{Item: item, Epoch: q.epoch})
	q.wakeLocked()
	return true
}

// ResetEpoch forgets every seen handle and starts a new epoch.
// Queued and in-flight items are left alone.
func (q *Queue) ResetEpoch() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	clear(q.seen)
	q.epoch++
	return q.epoch
}

// Take removes and returns the oldest item, suspending while the queue is
// empty. After Close, remaining items are still returned before
// ErrQueueClosed.
func (q *Queue) Take(ctx context.Context) (Queued, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			next := q.items[0]
			q.items[0] = Queued{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return next, nil
		}
		if q.closed {
			q.mu.Unlock()
			return Queued{}, ErrQueueClosed
		}
		wait := q.notify
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Queued{}, ctx.Err()
		case <-wait:
		}
	}
}

// Close stops accepting items and wakes blocked takers.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.wakeLocked()
}

func (q *Queue) wakeLocked() {
	close(q.notify)
	q.notify = make(chan struct{})
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Epoch returns the current epoch.
func (q *Queue) Epoch() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.epoch
}

// Seen reports whether handle was enqueued in the current epoch.
func (q *Queue) Seen(handle string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.seen[handle]
	return ok
}
