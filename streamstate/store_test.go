package streamstate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/justapithecus/setscout/types"
)

func record(p string, id string, d time.Duration) types.StreamRecord {
	return types.StreamRecord{Permalink: types.Permalink(p), ID: id, Duration: d}
}

// waitParks blocks until at least n Get calls have suspended.
func waitParks(t *testing.T, s *Store, n uint64) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for s.parks.Load() < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d parked readers (have %d)", n, s.parks.Load())
		}
		time.Sleep(time.Millisecond)
	}
}

type getResult struct {
	entry Entry
	err   error
}

func asyncGet(ctx context.Context, s *Store, p string) <-chan getResult {
	ch := make(chan getResult, 1)
	go func() {
		e, err := s.Get(ctx, types.Permalink(p))
		ch <- getResult{e, err}
	}()
	return ch
}

func TestStore_ReadAfterWrite(t *testing.T) {
	s := NewStore()
	s.UpsertBatch([]types.StreamRecord{record("a/1", "1", 25*time.Minute)})

	e, err := s.Get(t.Context(), "a/1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if e.ID != "1" || e.Duration != 25*time.Minute {
		t.Errorf("Get = %+v", e)
	}
	if s.parks.Load() != 0 {
		t.Errorf("present key suspended %d times", s.parks.Load())
	}
}

func TestStore_LastWriteWins(t *testing.T) {
	s := NewStore()
	s.UpsertBatch([]types.StreamRecord{
		record("a/1", "1", time.Minute),
		record("a/1", "1", 2*time.Minute),
	})
	s.UpsertBatch([]types.StreamRecord{record("a/1", "9", 3*time.Minute)})

	e, ok := s.Peek("a/1")
	if !ok {
		t.Fatal("Peek: missing")
	}
	if e.ID != "9" || e.Duration != 3*time.Minute {
		t.Errorf("Peek = %+v, want last write", e)
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d, want 1", s.Len())
	}
}

func TestStore_BlockingReadResolvedByLaterWrite(t *testing.T) {
	s := NewStore()
	res := asyncGet(t.Context(), s, "a/1")

	waitParks(t, s, 1)
	s.UpsertBatch([]types.StreamRecord{record("a/1", "1", time.Minute)})

	select {
	case r := <-res:
		if r.err != nil {
			t.Fatalf("Get error: %v", r.err)
		}
		if r.entry.ID != "1" {
			t.Errorf("Get = %+v", r.entry)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Get did not resume after write")
	}
}

func TestStore_ExhaustionAfterWriteCycles(t *testing.T) {
	s := NewStore()
	missing := asyncGet(t.Context(), s, "a/missing")
	unrelated := asyncGet(t.Context(), s, "a/later")

	// Both readers park once per cycle; supply "a/later" halfway.
	for cycle := 1; cycle <= DefaultMaxRetries; cycle++ {
		want := uint64(2 * cycle)
		if cycle > 5 {
			want = uint64(5 + cycle)
		}
		waitParks(t, s, want)

		select {
		case r := <-missing:
			t.Fatalf("missing lookup finished early at cycle %d: %+v", cycle, r)
		default:
		}

		batch := []types.StreamRecord{record(fmt.Sprintf("x/%d", cycle), "0", 0)}
		if cycle == 5 {
			batch = append(batch, record("a/later", "7", time.Minute))
		}
		s.UpsertBatch(batch)
	}

	select {
	case r := <-missing:
		if !errors.Is(r.err, ErrLookupExhausted) {
			t.Fatalf("error = %v, want ErrLookupExhausted", r.err)
		}
		var le *LookupError
		if !errors.As(r.err, &le) {
			t.Fatalf("error %T is not *LookupError", r.err)
		}
		if le.Permalink != "a/missing" || le.Attempts != DefaultMaxRetries {
			t.Errorf("LookupError = %+v", le)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("missing lookup did not exhaust")
	}

	select {
	case r := <-unrelated:
		if r.err != nil || r.entry.ID != "7" {
			t.Errorf("unrelated lookup = %+v, %v", r.entry, r.err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("unrelated lookup did not resolve")
	}

	// The store stays usable after an exhausted lookup.
	s.UpsertBatch([]types.StreamRecord{record("a/missing", "3", time.Second)})
	if _, err := s.Get(t.Context(), "a/missing"); err != nil {
		t.Errorf("Get after exhaustion: %v", err)
	}
}

func TestStore_EmptyBatchCountsAsCycle(t *testing.T) {
	s := NewStore(WithMaxRetries(2))
	res := asyncGet(t.Context(), s, "a/1")

	waitParks(t, s, 1)
	s.UpsertBatch(nil)
	waitParks(t, s, 2)
	s.UpsertBatch(nil)

	select {
	case r := <-res:
		if !errors.Is(r.err, ErrLookupExhausted) {
			t.Errorf("error = %v, want ErrLookupExhausted", r.err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("lookup did not exhaust")
	}
	if s.Generation() != 2 {
		t.Errorf("Generation = %d, want 2", s.Generation())
	}
}

func TestStore_GetContextCanceled(t *testing.T) {
	s := NewStore()
	ctx, cancel := context.WithCancel(t.Context())
	res := asyncGet(ctx, s, "a/1")

	waitParks(t, s, 1)
	cancel()

	select {
	case r := <-res:
		if !errors.Is(r.err, context.Canceled) {
			t.Errorf("error = %v, want context.Canceled", r.err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Get ignored cancellation")
	}
}

func TestStore_BatchAtomicForReaders(t *testing.T) {
	s := NewStore()
	const batches = 200

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= batches; i++ {
			id := fmt.Sprint(i)
			s.UpsertBatch([]types.StreamRecord{
				record("pair/a", id, 0),
				record("pair/b", id, 0),
			})
		}
	}()

	for i := 0; i < 1000; i++ {
		s.mu.RLock()
		a, aok := s.entries["pair/a"]
		b, bok := s.entries["pair/b"]
		s.mu.RUnlock()
		if aok != bok || a.ID != b.ID {
			t.Fatalf("observed partial batch: a=%+v(%v) b=%+v(%v)", a, aok, b, bok)
		}
	}
	wg.Wait()
}

func TestStore_ResetWakesReaders(t *testing.T) {
	s := NewStore(WithMaxRetries(1))
	s.UpsertBatch([]types.StreamRecord{record("a/1", "1", 0)})
	res := asyncGet(t.Context(), s, "a/2")

	waitParks(t, s, 1)
	s.Reset()

	select {
	case r := <-res:
		if !errors.Is(r.err, ErrLookupExhausted) {
			t.Errorf("error = %v", r.err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Reset did not wake reader")
	}
	if s.Len() != 0 {
		t.Errorf("Len after Reset = %d", s.Len())
	}
}

func TestStore_CloseFailsPendingAndFutureMisses(t *testing.T) {
	s := NewStore()
	s.UpsertBatch([]types.StreamRecord{record("a/1", "1", time.Minute)})

	pending := asyncGet(t.Context(), s, "a/9")
	waitParks(t, s, 1)
	s.Close()

	res := <-pending
	var lookupErr *LookupError
	if !errors.As(res.err, &lookupErr) {
		t.Fatalf("pending Get error = %v, want *LookupError", res.err)
	}
	if lookupErr.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", lookupErr.Attempts)
	}

	if _, err := s.Get(t.Context(), "a/8"); !errors.Is(err, ErrLookupExhausted) {
		t.Errorf("Get after Close = %v, want ErrLookupExhausted", err)
	}
	if e, err := s.Get(t.Context(), "a/1"); err != nil || e.ID != "1" {
		t.Errorf("present key after Close = %+v, %v", e, err)
	}

	gen := s.Generation()
	s.Close()
	if s.Generation() != gen {
		t.Error("second Close should not broadcast")
	}
}
