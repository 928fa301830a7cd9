package redis

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/justapithecus/setscout/adapter"
)

func testEvent() *adapter.Event {
	return &adapter.Event{
		ContractVersion: "0.1.0",
		EventType:       adapter.EventTypeDecision,
		SessionID:       "sess-1",
		Timestamp:       "2026-01-15T10:00:00Z",
		DecisionID:      "d2",
		Handle:          "h2",
		Disposition:     "skip",
		Label:           "below threshold",
	}
}

// asyncReceive reads one message from the subscriber in a goroutine. Call
// it before Publish; miniredis delivers pub/sub synchronously.
func asyncReceive(sub *miniredis.Subscriber) <-chan miniredis.PubsubMessage {
	ch := make(chan miniredis.PubsubMessage, 1)
	go func() {
		ch <- <-sub.Messages()
	}()
	return ch
}

func waitMessage(t *testing.T, ch <-chan miniredis.PubsubMessage) miniredis.PubsubMessage {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for pub/sub message")
		return miniredis.PubsubMessage{}
	}
}

func newAdapter(t *testing.T, cfg Config) *Adapter {
	t.Helper()
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestPublish_Channel(t *testing.T) {
	tests := []struct {
		name    string
		channel string
		want    string
	}{
		{"default", "", DefaultChannel},
		{"custom", "custom:notifications", "custom:notifications"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mr := miniredis.RunT(t)
			a := newAdapter(t, Config{URL: "redis://" + mr.Addr(), Channel: tt.channel})

			sub := mr.NewSubscriber()
			sub.Subscribe(tt.want)
			ch := asyncReceive(sub)

			if err := a.Publish(t.Context(), testEvent()); err != nil {
				t.Fatalf("publish: %v", err)
			}

			msg := waitMessage(t, ch)
			if msg.Channel != tt.want {
				t.Errorf("channel = %q, want %q", msg.Channel, tt.want)
			}
			var received adapter.Event
			if err := json.Unmarshal([]byte(msg.Message), &received); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if received.Handle != "h2" || received.Label != "below threshold" {
				t.Errorf("received = %+v", received)
			}
		})
	}
}

func TestPublish_AppendsToStream(t *testing.T) {
	mr := miniredis.RunT(t)
	a := newAdapter(t, Config{URL: "redis://" + mr.Addr(), Stream: "setscout:history"})

	completed := &adapter.Event{
		EventType: adapter.EventTypeSessionCompleted,
		SessionID: "sess-1",
		Outcome:   "completed",
	}
	for _, e := range []*adapter.Event{testEvent(), completed} {
		if err := a.Publish(t.Context(), e); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	reader := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer func() { _ = reader.Close() }()
	entries, err := reader.XRange(t.Context(), "setscout:history", "-", "+").Result()
	if err != nil {
		t.Fatalf("XRANGE: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("stream entries = %d, want 2", len(entries))
	}

	first := entries[0].Values
	if first[FieldEventType] != adapter.EventTypeDecision || first[FieldKey] != "d2" || first[FieldSessionID] != "sess-1" {
		t.Errorf("first entry = %v", first)
	}
	var payload adapter.Event
	if err := json.Unmarshal([]byte(first[FieldPayload].(string)), &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if payload.DecisionID != "d2" {
		t.Errorf("payload decision_id = %q", payload.DecisionID)
	}
	if got := entries[1].Values[FieldKey]; got != "sess-1/session_completed" {
		t.Errorf("second entry key = %v", got)
	}
}

func TestPublish_NoStreamByDefault(t *testing.T) {
	mr := miniredis.RunT(t)
	a := newAdapter(t, Config{URL: "redis://" + mr.Addr()})

	if err := a.Publish(t.Context(), testEvent()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if keys := mr.Keys(); len(keys) != 0 {
		t.Errorf("keys = %v, want none", keys)
	}
}

func TestStreamArgs_MaxLen(t *testing.T) {
	a := &Adapter{stream: "s", streamMaxLen: 1000}
	args := a.streamArgs(testEvent(), []byte("{}"))
	if args.MaxLen != 1000 || !args.Approx {
		t.Errorf("args = %+v, want approximate MAXLEN 1000", args)
	}

	a.streamMaxLen = 0
	if args := a.streamArgs(testEvent(), []byte("{}")); args.MaxLen != 0 {
		t.Errorf("MaxLen = %d, want untrimmed", args.MaxLen)
	}
}

func TestPublish_ExhaustsRetries(t *testing.T) {
	a := newAdapter(t, Config{URL: "redis://127.0.0.1:1", Retries: 2, Timeout: 100 * time.Millisecond, Backoff: time.Millisecond})

	err := a.Publish(t.Context(), testEvent())
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if errors.Is(err, adapter.ErrPermanent) {
		t.Errorf("connection failure should be retriable: %v", err)
	}
}

func TestPublish_ContextCanceled(t *testing.T) {
	a := newAdapter(t, Config{URL: "redis://127.0.0.1:1", Retries: 5, Timeout: 10 * time.Second})

	ctx, cancel := context.WithTimeout(t.Context(), 100*time.Millisecond)
	defer cancel()

	if err := a.Publish(ctx, testEvent()); err == nil {
		t.Fatal("expected error on canceled context")
	}
}

func TestPublish_AfterCloseIsPermanent(t *testing.T) {
	mr := miniredis.RunT(t)
	a, err := New(Config{URL: "redis://" + mr.Addr(), Retries: 3, Backoff: time.Hour})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	err = a.Publish(t.Context(), testEvent())
	if !errors.Is(err, adapter.ErrPermanent) {
		t.Fatalf("publish after close = %v, want permanent failure", err)
	}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing url", Config{}},
		{"invalid url", Config{URL: "not-a-redis-url"}},
		{"negative retries", Config{URL: "redis://localhost:6379", Retries: -1}},
		{"negative max len", Config{URL: "redis://localhost:6379", StreamMaxLen: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	a := newAdapter(t, Config{URL: "redis://localhost:6379"})
	if a.channel != DefaultChannel || a.timeout != DefaultTimeout {
		t.Errorf("channel=%q timeout=%v", a.channel, a.timeout)
	}
	if a.backoff.Initial != DefaultBackoff || a.backoff.Max != DefaultMaxBackoff {
		t.Errorf("backoff = %+v", a.backoff)
	}
}
