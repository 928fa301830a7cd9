package runtime

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/justapithecus/setscout/metrics"
	"github.com/justapithecus/setscout/types"
)

// handlerFunc adapts a function to Handler.
type handlerFunc func(ctx context.Context, env *types.EventEnvelope) error

func (f handlerFunc) Handle(ctx context.Context, env *types.EventEnvelope) error {
	return f(ctx, env)
}

// seqRecorder records the (session, seq) of every handled event.
type seqRecorder struct {
	seen []string
}

func (r *seqRecorder) Handle(_ context.Context, env *types.EventEnvelope) error {
	r.seen = append(r.seen, env.EventID)
	return nil
}

func TestIngestionEngine_ValidEvents(t *testing.T) {
	s := newEventStream(t).
		emit(types.EventTypeClientID, types.ScalarPayload{Value: "cid"}).
		emit(types.EventTypeCookie, types.ScalarPayload{Value: "dd"})

	rec := &seqRecorder{}
	collector := metrics.NewCollector("", "", "sess", "")
	engine := NewIngestionEngine(bytes.NewReader(s.bytes()), rec, nil, collector)

	if err := engine.Run(t.Context()); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if len(rec.seen) != 2 {
		t.Fatalf("handled %d events, want 2", len(rec.seen))
	}
	if engine.CurrentSeq() != 2 {
		t.Errorf("CurrentSeq = %d, want 2", engine.CurrentSeq())
	}
	if got := collector.Snapshot().EventsReceived; got != 2 {
		t.Errorf("EventsReceived = %d, want 2", got)
	}
}

func TestIngestionEngine_ContractVersionMismatch(t *testing.T) {
	env := envelopeOf(t, "page-1", 1, types.EventTypeCookie, types.ScalarPayload{Value: "dd"})
	env.ContractVersion = "0.99.0"

	s := newEventStream(t)
	if err := s.enc.WriteEnvelope(env); err != nil {
		t.Fatalf("WriteEnvelope: %v", err)
	}

	engine := NewIngestionEngine(bytes.NewReader(s.bytes()), &seqRecorder{}, nil, nil)
	err := engine.Run(t.Context())
	if !IsStreamError(err) {
		t.Fatalf("expected stream error, got %v", err)
	}
}

func TestIngestionEngine_SequenceViolation(t *testing.T) {
	s := newEventStream(t).emit(types.EventTypeCookie, types.ScalarPayload{Value: "a"})
	s.seq++ // skip seq 2
	s.emit(types.EventTypeCookie, types.ScalarPayload{Value: "b"})

	rec := &seqRecorder{}
	engine := NewIngestionEngine(bytes.NewReader(s.bytes()), rec, nil, nil)
	err := engine.Run(t.Context())
	if !IsStreamError(err) {
		t.Fatalf("expected stream error, got %v", err)
	}
	if len(rec.seen) != 1 {
		t.Errorf("handled %d events before violation, want 1", len(rec.seen))
	}
}

func TestIngestionEngine_NewPageSessionRestartsSequence(t *testing.T) {
	s := newEventStream(t).
		emit(types.EventTypeCookie, types.ScalarPayload{Value: "a"}).
		emit(types.EventTypeCookie, types.ScalarPayload{Value: "b"}).
		page("page-2").
		emit(types.EventTypeCookie, types.ScalarPayload{Value: "c"})

	rec := &seqRecorder{}
	engine := NewIngestionEngine(bytes.NewReader(s.bytes()), rec, nil, nil)
	if err := engine.Run(t.Context()); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if engine.Sessions() != 2 {
		t.Errorf("Sessions = %d, want 2", engine.Sessions())
	}
	want := []string{"page-1-1", "page-1-2", "page-2-1"}
	if len(rec.seen) != len(want) {
		t.Fatalf("seen = %v, want %v", rec.seen, want)
	}
	for i := range want {
		if rec.seen[i] != want[i] {
			t.Errorf("seen[%d] = %s, want %s", i, rec.seen[i], want[i])
		}
	}
}

func TestIngestionEngine_UndecodableFrameDropped(t *testing.T) {
	tests := []struct {
		name string
		s    func(t *testing.T) *eventStream
		want []string
	}{
		{
			name: "gap filled by dropped frame",
			s: func(t *testing.T) *eventStream {
				return newEventStream(t).
					emit(types.EventTypeCookie, types.ScalarPayload{Value: "a"}).
					raw([]byte{0xC1, 0xC1, 0xC1}).
					emit(types.EventTypeCookie, types.ScalarPayload{Value: "b"})
			},
			want: []string{"page-1-1", "page-1-3"},
		},
		{
			name: "dropped frame opened a new page session",
			s: func(t *testing.T) *eventStream {
				return newEventStream(t).
					emit(types.EventTypeCookie, types.ScalarPayload{Value: "a"}).
					page("page-2").
					raw([]byte{0xC1, 0xC1, 0xC1}).
					emit(types.EventTypeCookie, types.ScalarPayload{Value: "b"})
			},
			want: []string{"page-1-1", "page-2-2"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &seqRecorder{}
			collector := metrics.NewCollector("", "", "sess", "")
			engine := NewIngestionEngine(bytes.NewReader(tt.s(t).bytes()), rec, nil, collector)
			if err := engine.Run(t.Context()); err != nil {
				t.Fatalf("Run error: %v", err)
			}
			if len(rec.seen) != len(tt.want) {
				t.Fatalf("seen = %v, want %v", rec.seen, tt.want)
			}
			for i := range tt.want {
				if rec.seen[i] != tt.want[i] {
					t.Errorf("seen[%d] = %s, want %s", i, rec.seen[i], tt.want[i])
				}
			}
			if got := collector.Snapshot().IPCDecodeErrors; got != 1 {
				t.Errorf("IPCDecodeErrors = %d, want 1", got)
			}
		})
	}
}

func TestIngestionEngine_GapLargerThanDropsIsStreamError(t *testing.T) {
	s := newEventStream(t).
		emit(types.EventTypeCookie, types.ScalarPayload{Value: "a"}).
		raw([]byte{0xC1, 0xC1, 0xC1})
	s.seq++ // a second missing frame that was never sent
	s.emit(types.EventTypeCookie, types.ScalarPayload{Value: "b"})

	engine := NewIngestionEngine(bytes.NewReader(s.bytes()), &seqRecorder{}, nil, nil)
	if err := engine.Run(t.Context()); !IsStreamError(err) {
		t.Fatalf("expected stream error, got %v", err)
	}
}

func TestIngestionEngine_TruncatedFrameIsStreamError(t *testing.T) {
	s := newEventStream(t).emit(types.EventTypeCookie, types.ScalarPayload{Value: "a"})
	data := s.bytes()
	data = data[:len(data)-2]

	engine := NewIngestionEngine(bytes.NewReader(data), &seqRecorder{}, nil, nil)
	err := engine.Run(t.Context())
	if !IsStreamError(err) {
		t.Fatalf("expected stream error, got %v", err)
	}
	if IsCanceledError(err) {
		t.Error("truncated frame should not be a cancellation")
	}
}

func TestIngestionEngine_MalformedPayloadDropped(t *testing.T) {
	s := newEventStream(t).
		emit(types.EventTypeItem, types.ItemPayload{}).
		emit(types.EventTypeCookie, types.ScalarPayload{Value: "a"})

	var handled int
	handler := handlerFunc(func(_ context.Context, env *types.EventEnvelope) error {
		handled++
		if env.Type == types.EventTypeItem {
			return malformed("item without handle")
		}
		return nil
	})

	collector := metrics.NewCollector("", "", "sess", "")
	engine := NewIngestionEngine(bytes.NewReader(s.bytes()), handler, nil, collector)
	if err := engine.Run(t.Context()); err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if handled != 2 {
		t.Errorf("handled = %d, want 2", handled)
	}
	snap := collector.Snapshot()
	if snap.EventsDropped != 1 || snap.DroppedByType["item"] != 1 {
		t.Errorf("dropped = %d by type %v", snap.EventsDropped, snap.DroppedByType)
	}
}

func TestIngestionEngine_HandlerFailureIsStreamError(t *testing.T) {
	s := newEventStream(t).emit(types.EventTypeCookie, types.ScalarPayload{Value: "a"})
	boom := errors.New("boom")
	handler := handlerFunc(func(context.Context, *types.EventEnvelope) error { return boom })

	engine := NewIngestionEngine(bytes.NewReader(s.bytes()), handler, nil, nil)
	err := engine.Run(t.Context())
	if !IsStreamError(err) || !errors.Is(err, boom) {
		t.Fatalf("expected stream error wrapping boom, got %v", err)
	}
}

func TestIngestionEngine_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	s := newEventStream(t).emit(types.EventTypeCookie, types.ScalarPayload{Value: "a"})
	engine := NewIngestionEngine(bytes.NewReader(s.bytes()), &seqRecorder{}, nil, nil)
	err := engine.Run(ctx)
	if !IsCanceledError(err) {
		t.Fatalf("expected canceled error, got %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error should wrap context.Canceled, got %v", err)
	}
}

func TestIsStreamError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		stream   bool
		canceled bool
	}{
		{"nil", nil, false, false},
		{"plain", errors.New("x"), false, false},
		{"stream", &IngestionError{Kind: IngestionErrorStream, Err: errors.New("x")}, true, false},
		{"canceled", &IngestionError{Kind: IngestionErrorCanceled, Err: context.Canceled}, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsStreamError(tt.err); got != tt.stream {
				t.Errorf("IsStreamError = %v, want %v", got, tt.stream)
			}
			if got := IsCanceledError(tt.err); got != tt.canceled {
				t.Errorf("IsCanceledError = %v, want %v", got, tt.canceled)
			}
		})
	}
}
