// Package membership loads the target collection once at startup and
// answers "is this track already in it".
//
// Loading is two-phase: the collection resource lists its tracks, but only
// the first few carry full metadata; the rest are id-only stubs that are
// resolved with a secondary batched fetch.
package membership

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/justapithecus/setscout/log"
	"github.com/justapithecus/setscout/types"
)

// DefaultBatchSize is the maximum number of ids per secondary fetch.
const DefaultBatchSize = 50

// ErrResourceFetch marks a failed membership load. It is fatal to
// initialization.
var ErrResourceFetch = errors.New("membership resource fetch failed")

// FetchError records which phase of the load failed.
type FetchError struct {
	Phase string
	Err   error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s (%s): %v", ErrResourceFetch, e.Phase, e.Err)
}

// Unwrap returns the underlying error.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// Is matches ErrResourceFetch.
func (e *FetchError) Is(target error) bool {
	return target == ErrResourceFetch
}

// Track is a collection entry. Permalink is empty for id-only stubs.
type Track struct {
	ID        string
	Permalink types.Permalink
	Duration  time.Duration
}

// IsStub reports whether the track still needs resolution.
func (t Track) IsStub() bool {
	return t.Permalink.IsZero()
}

// Source fetches the collection and resolves stub ids.
type Source interface {
	FetchCollection(ctx context.Context, collectionID string) ([]Track, error)
	FetchTracks(ctx context.Context, ids []string) ([]Track, error)
}

// Confirmer writes the full ordered id list of a collection remotely.
type Confirmer interface {
	SetCollection(ctx context.Context, collectionID string, ids []string) error
}

// Loader performs the two-phase load.
type Loader struct {
	Source    Source
	BatchSize int
	Logger    *log.Logger
	// OnTracks, if set, receives every fully resolved track.
	OnTracks func([]Track)
}

// Load fetches collectionID and builds a Snapshot.
func Load(ctx context.Context, source Source, collectionID string) (*Snapshot, error) {
	return (&Loader{Source: source}).Load(ctx, collectionID)
}

// Load fetches collectionID and builds a Snapshot.
func (l *Loader) Load(ctx context.Context, collectionID string) (*Snapshot, error) {
	logger := l.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	batchSize := l.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	tracks, err := l.Source.FetchCollection(ctx, collectionID)
	if err != nil {
		return nil, &FetchError{Phase: "collection", Err: err}
	}

	snap := newSnapshot(collectionID)
	var resolved []Track
	var stubs []string
	for _, t := range tracks {
		snap.addLocked(t)
		if t.IsStub() {
			stubs = append(stubs, t.ID)
		} else {
			resolved = append(resolved, t)
		}
	}

	if len(stubs) > 0 {
		found := make(map[string]struct{}, len(stubs))
		for chunk := range slices.Chunk(stubs, batchSize) {
			fetched, err := l.Source.FetchTracks(ctx, chunk)
			if err != nil {
				return nil, &FetchError{Phase: "tracks", Err: err}
			}
			for _, t := range fetched {
				if t.IsStub() {
					continue
				}
				found[t.ID] = struct{}{}
				snap.addLocked(t)
				resolved = append(resolved, t)
			}
		}

		var unresolved []string
		for _, id := range stubs {
			if _, ok := found[id]; !ok {
				unresolved = append(unresolved, id)
			}
		}
		if len(unresolved) > 0 {
			logger.Warn("membership stubs not resolved", map[string]any{
				"collection_id": collectionID,
				"ids":           unresolved,
			})
		}
	}

	if l.OnTracks != nil && len(resolved) > 0 {
		l.OnTracks(resolved)
	}

	logger.Info("membership loaded", map[string]any{
		"collection_id": collectionID,
		"tracks":        snap.Len(),
		"stubs":         len(stubs),
	})
	return snap, nil
}

// Snapshot is the set of ids already in the target collection.
// It only grows.
type Snapshot struct {
	collectionID string

	// appendMu serializes Append so each remote write sees the previous one.
	appendMu sync.Mutex

	mu         sync.RWMutex
	order      []string
	ids        map[string]struct{}
	permalinks map[types.Permalink]string
}

func newSnapshot(collectionID string) *Snapshot {
	return &Snapshot{
		collectionID: collectionID,
		ids:          make(map[string]struct{}),
		permalinks:   make(map[types.Permalink]string),
	}
}

// NewSnapshot builds a snapshot from known tracks. Used when the
// collection is supplied locally.
func NewSnapshot(collectionID string, tracks []Track) *Snapshot {
	s := newSnapshot(collectionID)
	for _, t := range tracks {
		s.addLocked(t)
	}
	return s
}

// addLocked is called during construction or with mu held.
func (s *Snapshot) addLocked(t Track) {
	if _, ok := s.ids[t.ID]; !ok {
		s.ids[t.ID] = struct{}{}
		s.order = append(s.order, t.ID)
	}
	if !t.Permalink.IsZero() {
		s.permalinks[t.Permalink] = t.ID
	}
}

// CollectionID returns the id of the target collection.
func (s *Snapshot) CollectionID() string {
	return s.collectionID
}

// Contains reports whether id is in the collection.
func (s *Snapshot) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok
}

// ContainsPermalink reports whether a resolved member has permalink p.
func (s *Snapshot) ContainsPermalink(p types.Permalink) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.permalinks[p]
	return ok
}

// Len returns the number of member ids.
func (s *Snapshot) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}

// IDs returns the member ids in collection order.
func (s *Snapshot) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.order)
}

// Append adds ids to the collection. The remote write happens first with
// the complete ordered list; the local set changes only if it succeeds.
// Ids already present are ignored. Returns the ids actually added.
func (s *Snapshot) Append(ctx context.Context, confirmer Confirmer, ids []string) ([]string, error) {
	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	s.mu.RLock()
	var added []string
	pending := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := s.ids[id]; ok {
			continue
		}
		if _, ok := pending[id]; ok {
			continue
		}
		pending[id] = struct{}{}
		added = append(added, id)
	}
	full := append(slices.Clone(s.order), added...)
	s.mu.RUnlock()

	if len(added) == 0 {
		return nil, nil
	}

	if err := confirmer.SetCollection(ctx, s.collectionID, full); err != nil {
		return nil, fmt.Errorf("append to collection %s: %w", s.collectionID, err)
	}

	s.mu.Lock()
	for _, id := range added {
		s.addLocked(Track{ID: id})
	}
	s.mu.Unlock()
	return added, nil
}
