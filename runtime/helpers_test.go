package runtime

import (
	"bytes"
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/justapithecus/setscout/ipc"
	"github.com/justapithecus/setscout/membership"
	"github.com/justapithecus/setscout/types"
)

// eventStream builds a framed interceptor stream.
type eventStream struct {
	t       *testing.T
	buf     bytes.Buffer
	enc     *ipc.FrameEncoder
	session string
	seq     int64
}

func newEventStream(t *testing.T) *eventStream {
	t.Helper()
	s := &eventStream{t: t, session: "page-1"}
	s.enc = ipc.NewFrameEncoder(&s.buf)
	return s
}

// page switches to a new page session; seq restarts at 1.
func (s *eventStream) page(session string) *eventStream {
	s.session = session
	s.seq = 0
	return s
}

func (s *eventStream) emit(typ types.EventType, payload any) *eventStream {
	s.t.Helper()
	s.seq++
	if err := s.enc.WriteEnvelope(envelopeOf(s.t, s.session, s.seq, typ, payload)); err != nil {
		s.t.Fatalf("WriteEnvelope: %v", err)
	}
	return s
}

// raw writes a frame verbatim. It consumes a seq number like the event
// the frame stood in for.
func (s *eventStream) raw(frame []byte) *eventStream {
	s.t.Helper()
	s.seq++
	if err := s.enc.WriteFrame(frame); err != nil {
		s.t.Fatalf("WriteFrame: %v", err)
	}
	return s
}

func (s *eventStream) bytes() []byte {
	return s.buf.Bytes()
}

func envelopeOf(t *testing.T, session string, seq int64, typ types.EventType, payload any) *types.EventEnvelope {
	t.Helper()
	raw, err := ipc.EncodePayload(payload)
	if err != nil {
		t.Fatalf("EncodePayload: %v", err)
	}
	return &types.EventEnvelope{
		ContractVersion: types.ContractVersion,
		EventID:         fmt.Sprintf("%s-%d", session, seq),
		SessionID:       session,
		Seq:             seq,
		Type:            typ,
		Ts:              "2026-01-15T10:00:00Z",
		Payload:         raw,
	}
}

func track(id int64, path string, d time.Duration) types.TrackPayload {
	return types.TrackPayload{
		ID:           id,
		PermalinkURL: "https://soundcloud.com/" + path,
		Duration:     d.Milliseconds(),
	}
}

func streamPage(tracks ...types.TrackPayload) types.StreamPagePayload {
	var p types.StreamPagePayload
	for i := range tracks {
		p.Collection = append(p.Collection, types.StreamItemPayload{Track: &tracks[i]})
	}
	return p
}

func item(handle, path string) types.ItemPayload {
	return types.ItemPayload{Handle: handle, PermalinkURL: "https://soundcloud.com/" + path}
}

type fakeMembership struct {
	collection []membership.Track
	err        error
}

func (f *fakeMembership) FetchCollection(_ context.Context, _ string) ([]membership.Track, error) {
	return f.collection, f.err
}

func (f *fakeMembership) FetchTracks(_ context.Context, _ []string) ([]membership.Track, error) {
	return nil, nil
}

type fakeConfirmer struct {
	mu    sync.Mutex
	calls [][]string
	err   error
}

func (f *fakeConfirmer) SetCollection(_ context.Context, _ string, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, slices.Clone(ids))
	return f.err
}

// recorder collects decisions.
type recorder struct {
	mu        sync.Mutex
	decisions []types.Decision
}

func (r *recorder) Present(_ context.Context, d types.Decision) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisions = append(r.decisions, d)
	return nil
}

func (r *recorder) labels() map[string][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string][]string)
	for _, d := range r.decisions {
		out[d.Handle] = append(out[d.Handle], d.Label())
	}
	return out
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.decisions)
}
