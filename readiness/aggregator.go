// Package readiness composes the readiness of every data source into one
// displayable record.
package readiness

import (
	"context"
	"strings"
	"sync"

	"github.com/justapithecus/setscout/credentials"
	"github.com/justapithecus/setscout/likes"
)

// Source keys.
const (
	KeyLikes    = "likes"
	KeyClientID = credentials.NameClientID
	KeyAuth     = credentials.NameAuth
	KeyDatadome = credentials.NameCookie
)

// Source is one observed readiness signal.
type Source struct {
	Key   string
	Label string
	Ready <-chan struct{}
}

// Status is the readiness of one source.
type Status struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Ready bool   `json:"ready"`
}

// Snapshot is the readiness of all sources in declaration order.
type Snapshot []Status

// AllReady reports whether every source is ready.
func (s Snapshot) AllReady() bool {
	for _, st := range s {
		if !st.Ready {
			return false
		}
	}
	return true
}

// Pending returns the labels of sources that are not ready.
func (s Snapshot) Pending() []string {
	var out []string
	for _, st := range s {
		if !st.Ready {
			out = append(out, st.Label)
		}
	}
	return out
}

// Summary is "ready" or "loading: " followed by the pending labels.
func (s Snapshot) Summary() string {
	pending := s.Pending()
	if len(pending) == 0 {
		return "ready"
	}
	return "loading: " + strings.Join(pending, ", ")
}

// Sources returns the standard sources for the credential and likes stores.
func Sources(creds *credentials.Store, liked *likes.Store) []Source {
	return []Source{
		{Key: KeyLikes, Label: "Likes", Ready: liked.Ready()},
		{Key: KeyClientID, Label: "Client ID", Ready: creds.ClientID.Ready()},
		{Key: KeyAuth, Label: "Auth", Ready: creds.AuthHeader.Ready()},
		{Key: KeyDatadome, Label: "Datadome", Ready: creds.Cookie.Ready()},
	}
}

// Aggregator watches sources and calls a refresh callback on every change.
type Aggregator struct {
	sources []Source
	refresh func(Snapshot)

	// refreshMu orders refresh calls by snapshot, newest last.
	refreshMu sync.Mutex
	mu        sync.Mutex
	ready     []bool
	all       chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
}

// New creates an aggregator. refresh may be nil; it is called once per
// source transition, never concurrently, in the order the snapshots were
// taken.
func New(sources []Source, refresh func(Snapshot)) *Aggregator {
	a := &Aggregator{
		sources: sources,
		refresh: refresh,
		ready:   make([]bool, len(sources)),
		all:     make(chan struct{}),
	}
	if len(sources) == 0 {
		close(a.all)
	}
	return a
}

// Start forks one waiter per source. Waiters exit when ctx is done.
// Calls after the first are no-ops.
func (a *Aggregator) Start(ctx context.Context) {
	a.startOnce.Do(func() { a.start(ctx) })
}

func (a *Aggregator) start(ctx context.Context) {
	for i, src := range a.sources {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			select {
			case <-ctx.Done():
				// A source that became ready before shutdown still counts.
				select {
				case <-src.Ready:
					a.mark(i)
				default:
				}
			case <-src.Ready:
				a.mark(i)
			}
		}()
	}
}

func (a *Aggregator) mark(i int) {
	a.refreshMu.Lock()
	defer a.refreshMu.Unlock()

	a.mu.Lock()
	a.ready[i] = true
	snap := a.snapshotLocked()
	if snap.AllReady() {
		close(a.all)
	}
	a.mu.Unlock()

	if a.refresh != nil {
		a.refresh(snap)
	}
}

// Wait blocks until every source is ready or ctx is done.
func (a *Aggregator) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-a.all:
		return nil
	}
}

// Stop waits for the waiters to exit. Call after cancelling Start's ctx.
func (a *Aggregator) Stop() {
	a.wg.Wait()
}

// Snapshot returns the current readiness record.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

func (a *Aggregator) snapshotLocked() Snapshot {
	out := make(Snapshot, len(a.sources))
	for i, src := range a.sources {
		out[i] = Status{Key: src.Key, Label: src.Label, Ready: a.ready[i]}
	}
	return out
}

// AllReady reports whether every source is ready.
func (a *Aggregator) AllReady() bool {
	return a.Snapshot().AllReady()
}

// Summary returns the human-readable readiness line.
func (a *Aggregator) Summary() string {
	return a.Snapshot().Summary()
}
