package readiness

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/justapithecus/setscout/credentials"
	"github.com/justapithecus/setscout/likes"
	"github.com/justapithecus/setscout/types"
)

func TestAggregator_TracksSources(t *testing.T) {
	creds := credentials.NewStore()
	liked := likes.NewStore()

	var mu sync.Mutex
	var refreshes []Snapshot
	updates := make(chan struct{}, 8)
	a := New(Sources(creds, liked), func(s Snapshot) {
		mu.Lock()
		refreshes = append(refreshes, s)
		mu.Unlock()
		updates <- struct{}{}
	})
	a.Start(t.Context())

	if got := a.Summary(); got != "loading: Likes, Client ID, Auth, Datadome" {
		t.Errorf("initial Summary = %q", got)
	}

	creds.ClientID.Set("cid")
	<-updates
	creds.AuthHeader.Set(types.NewSecret("OAuth x"))
	<-updates

	if got := a.Summary(); got != "loading: Likes, Datadome" {
		t.Errorf("Summary = %q", got)
	}
	if a.AllReady() {
		t.Error("AllReady before likes and cookie")
	}

	liked.AbsorbPage([]string{"1"}, false)
	<-updates
	creds.Cookie.Set("dd")
	<-updates

	if err := a.Wait(t.Context()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if got := a.Summary(); got != "ready" {
		t.Errorf("Summary = %q, want ready", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(refreshes) != 4 {
		t.Errorf("refreshes = %d, want 4", len(refreshes))
	}
	if !refreshes[3].AllReady() {
		t.Error("last refresh not all ready")
	}
}

func TestAggregator_WaitCanceled(t *testing.T) {
	a := New(Sources(credentials.NewStore(), likes.NewStore()), nil)
	ctx, cancel := context.WithCancel(t.Context())
	a.Start(ctx)
	cancel()

	if err := a.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait = %v, want context.Canceled", err)
	}

	done := make(chan struct{})
	go func() { a.Stop(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("waiters did not exit")
	}
}

func TestAggregator_NoSources(t *testing.T) {
	a := New(nil, nil)
	if err := a.Wait(t.Context()); err != nil {
		t.Errorf("Wait = %v", err)
	}
	if a.Summary() != "ready" {
		t.Errorf("Summary = %q", a.Summary())
	}
}

func TestSnapshot_Pending(t *testing.T) {
	s := Snapshot{
		{Key: KeyLikes, Label: "Likes", Ready: true},
		{Key: KeyAuth, Label: "Auth"},
	}
	if p := s.Pending(); len(p) != 1 || p[0] != "Auth" {
		t.Errorf("Pending = %v", p)
	}
}

func TestAggregator_RefreshesInSnapshotOrder(t *testing.T) {
	srcA, srcB := make(chan struct{}), make(chan struct{})
	sources := []Source{
		{Key: "a", Label: "A", Ready: srcA},
		{Key: "b", Label: "B", Ready: srcB},
	}

	var mu sync.Mutex
	var renders []string
	entered := make(chan struct{}, 2)
	release := make(chan struct{})
	first := true
	a := New(sources, func(s Snapshot) {
		entered <- struct{}{}
		mu.Lock()
		hold := first
		first = false
		mu.Unlock()
		if hold {
			<-release
		}
		mu.Lock()
		renders = append(renders, s.Summary())
		mu.Unlock()
	})
	ctx, cancel := context.WithCancel(t.Context())
	a.Start(ctx)

	close(srcA)
	<-entered
	close(srcB)
	// Give B's waiter the chance to overtake the held refresh.
	time.Sleep(20 * time.Millisecond)
	close(release)

	if err := a.Wait(t.Context()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	cancel()
	a.Stop()

	mu.Lock()
	defer mu.Unlock()
	want := []string{"loading: B", "ready"}
	if len(renders) != len(want) {
		t.Fatalf("renders = %q, want %q", renders, want)
	}
	for i := range want {
		if renders[i] != want[i] {
			t.Errorf("renders = %q, want %q", renders, want)
			break
		}
	}
}

func TestAggregator_StartTwice(t *testing.T) {
	creds := credentials.NewStore()
	liked := likes.NewStore()
	a := New(Sources(creds, liked), nil)
	ctx, cancel := context.WithCancel(t.Context())
	a.Start(ctx)
	a.Start(ctx)

	creds.ClientID.Set("cid")
	creds.AuthHeader.Set(types.NewSecret("OAuth x"))
	creds.Cookie.Set("dd")
	liked.AbsorbPage([]string{"1"}, false)

	if err := a.Wait(t.Context()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	cancel()
	a.Stop()

	if got := a.Summary(); got != "ready" {
		t.Errorf("Summary = %q, want ready", got)
	}
}
