package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/justapithecus/setscout/adapter"
	"github.com/justapithecus/setscout/iox"
	"github.com/justapithecus/setscout/types"
)

func testEvent() *adapter.Event {
	return &adapter.Event{
		ContractVersion: "0.1.0",
		EventType:       adapter.EventTypeDecision,
		SessionID:       "sess-1",
		PlaylistID:      "806754918",
		Timestamp:       "2026-01-15T10:00:00Z",
		DecisionID:      "d1",
		Handle:          "h1",
		Disposition:     "match",
		Label:           "set",
		TrackID:         "1",
		DurationMs:      1_500_000,
	}
}

func newAdapter(t *testing.T, cfg Config) *Adapter {
	t.Helper()
	if cfg.Backoff == 0 {
		cfg.Backoff = time.Millisecond
	}
	a, err := New(cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	t.Cleanup(func() { iox.DiscardClose(a) })
	return a
}

func TestPublish_Delivers(t *testing.T) {
	var received adapter.Event
	var header http.Header
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		header = r.Header.Clone()
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &received); err != nil {
			t.Errorf("unmarshal: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer ts.Close()

	a := newAdapter(t, Config{
		URL:     ts.URL,
		Headers: map[string]string{"Authorization": "Bearer test-token"},
	})
	if err := a.Publish(t.Context(), testEvent()); err != nil {
		t.Fatalf("publish: %v", err)
	}

	if received.Label != "set" || received.TrackID != "1" || received.SessionID != "sess-1" {
		t.Errorf("received = %+v", received)
	}
	want := map[string]string{
		"Content-Type":       "application/json",
		HeaderEvent:          adapter.EventTypeDecision,
		HeaderSession:        "sess-1",
		HeaderIdempotencyKey: "d1",
		"Authorization":      "Bearer test-token",
	}
	for k, v := range want {
		if got := header.Get(k); got != v {
			t.Errorf("header %s = %q, want %q", k, got, v)
		}
	}
	if ua := header.Get("User-Agent"); !strings.HasPrefix(ua, "setscout/") {
		t.Errorf("User-Agent = %q", ua)
	}
}

func TestPublish_IdempotencyKeyStableAcrossRetries(t *testing.T) {
	var mu sync.Mutex
	var keys []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		keys = append(keys, r.Header.Get(HeaderIdempotencyKey))
		n := len(keys)
		mu.Unlock()
		if n < 3 {
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer ts.Close()

	a := newAdapter(t, Config{URL: ts.URL, Retries: 3})
	event := adapter.NewSessionCompletedEvent(types.SessionMeta{SessionID: "sess-1"}, "completed", 2, 5, time.Now())
	if err := a.Publish(t.Context(), event); err != nil {
		t.Fatalf("publish: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(keys) != 3 {
		t.Fatalf("attempts = %d, want 3", len(keys))
	}
	for _, k := range keys {
		if k != "sess-1/session_completed" {
			t.Errorf("key = %q, want sess-1/session_completed", k)
		}
	}
}

func TestPublish_StatusHandling(t *testing.T) {
	tests := []struct {
		name         string
		code         int
		retries      int
		wantAttempts int32
		wantErr      bool
		permanent    bool
	}{
		{"200", http.StatusOK, 3, 1, false, false},
		{"204", http.StatusNoContent, 3, 1, false, false},
		{"400 fails at once", http.StatusBadRequest, 3, 1, true, true},
		{"401 fails at once", http.StatusUnauthorized, 3, 1, true, true},
		{"422 fails at once", http.StatusUnprocessableEntity, 3, 1, true, true},
		{"408 retried", http.StatusRequestTimeout, 2, 3, true, false},
		{"429 retried", http.StatusTooManyRequests, 2, 3, true, false},
		{"500 retried", http.StatusInternalServerError, 2, 3, true, false},
		{"503 retried", http.StatusServiceUnavailable, 1, 2, true, false},
		{"no retries", http.StatusBadGateway, 0, 1, true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var attempts atomic.Int32
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				attempts.Add(1)
				w.WriteHeader(tt.code)
			}))
			defer ts.Close()

			a := newAdapter(t, Config{URL: ts.URL, Retries: tt.retries})
			err := a.Publish(t.Context(), testEvent())
			if (err != nil) != tt.wantErr {
				t.Fatalf("publish err = %v, wantErr %v", err, tt.wantErr)
			}
			if got := attempts.Load(); got != tt.wantAttempts {
				t.Errorf("attempts = %d, want %d", got, tt.wantAttempts)
			}
			if errors.Is(err, adapter.ErrPermanent) != tt.permanent {
				t.Errorf("permanent = %v, want %v (%v)", !tt.permanent, tt.permanent, err)
			}
			var statusErr *StatusError
			if tt.wantErr && (!errors.As(err, &statusErr) || statusErr.Code != tt.code) {
				t.Errorf("error %v does not carry status %d", err, tt.code)
			}
		})
	}
}

func TestPublish_HonorsRetryAfter(t *testing.T) {
	var attempts atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
		}
	}))
	defer ts.Close()

	a := newAdapter(t, Config{URL: ts.URL, Retries: 1, MaxBackoff: 50 * time.Millisecond})
	start := time.Now()
	if err := a.Publish(t.Context(), testEvent()); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if got := attempts.Load(); got != 2 {
		t.Errorf("attempts = %d, want 2", got)
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("retried after %v, want the Retry-After delay capped at MaxBackoff", elapsed)
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"3", 3 * time.Second},
		{"0", 0},
		{"-5", 0},
		{"soon", 0},
		{now.Add(90 * time.Second).Format(http.TimeFormat), 90 * time.Second},
		{now.Add(-time.Minute).Format(http.TimeFormat), 0},
	}
	for _, tt := range tests {
		if got := parseRetryAfter(tt.in, now); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestPublish_ContextCanceled(t *testing.T) {
	release := make(chan struct{})
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
	}))
	defer ts.Close()
	defer close(release)

	a := newAdapter(t, Config{URL: ts.URL, Timeout: 10 * time.Second})
	ctx, cancel := context.WithTimeout(t.Context(), 100*time.Millisecond)
	defer cancel()

	if err := a.Publish(ctx, testEvent()); err == nil {
		t.Fatal("expected error on canceled context")
	}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing url", Config{}},
		{"negative retries", Config{URL: "http://example.com", Retries: -1}},
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
	a := newAdapter(t, Config{URL: "http://example.com", Backoff: -1})
	if a.client.Timeout != DefaultTimeout {
		t.Errorf("timeout = %v, want %v", a.client.Timeout, DefaultTimeout)
	}
	if a.backoff.Initial != DefaultBackoff || a.backoff.Max != DefaultMaxBackoff {
		t.Errorf("backoff = %+v", a.backoff)
	}
}
