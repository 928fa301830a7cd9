// Package webhook delivers decision events to an HTTP endpoint.
//
// Each event is one JSON POST. The request carries the event type, the
// session id and an Idempotency-Key that stays the same across retries,
// so a receiver can drop duplicates. 5xx, 408, 429 and network failures
// are retried; a Retry-After header on the response replaces the backoff
// delay. Other 4xx responses fail at once.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/justapithecus/setscout/adapter"
	"github.com/justapithecus/setscout/iox"
	"github.com/justapithecus/setscout/types"
)

// Defaults applied by New.
const (
	DefaultTimeout    = 10 * time.Second
	DefaultRetries    = 3
	DefaultBackoff    = 500 * time.Millisecond
	DefaultMaxBackoff = 30 * time.Second
)

// Request headers set on every delivery.
const (
	HeaderEvent          = "X-Setscout-Event"
	HeaderSession        = "X-Setscout-Session"
	HeaderIdempotencyKey = "Idempotency-Key"
)

// Config configures the webhook adapter.
type Config struct {
	// URL is the endpoint to POST to (required).
	URL string
	// Headers are added to every request, after the built-in ones.
	Headers map[string]string
	// Timeout bounds one request.
	Timeout time.Duration
	// Retries is the number of attempts after the first.
	Retries int
	// Backoff is the delay before the first retry; it doubles per retry
	// up to MaxBackoff.
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// Adapter POSTs events to one endpoint.
type Adapter struct {
	url     string
	headers map[string]string
	backoff adapter.Backoff
	client  *http.Client
}

// New creates a webhook adapter.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook adapter requires a URL")
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultMaxBackoff
	}

	return &Adapter{
		url:     cfg.URL,
		headers: cfg.Headers,
		backoff: adapter.Backoff{Retries: cfg.Retries, Initial: cfg.Backoff, Max: cfg.MaxBackoff},
		client:  &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Publish delivers event, retrying per the adapter's backoff.
func (a *Adapter) Publish(ctx context.Context, event *adapter.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}
	if err := a.backoff.Retry(ctx, func(ctx context.Context) error {
		return a.post(ctx, event, body)
	}); err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	return nil
}

// StatusError is a non-2xx response.
type StatusError struct {
	Code       int
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// Delay implements adapter.Delayer.
func (e *StatusError) Delay() time.Duration {
	return e.RetryAfter
}

// retriable reports whether a later attempt can succeed.
func (e *StatusError) retriable() bool {
	switch {
	case e.Code >= 500:
		return true
	case e.Code == http.StatusTooManyRequests, e.Code == http.StatusRequestTimeout:
		return true
	}
	return false
}

func (a *Adapter) post(ctx context.Context, event *adapter.Event, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: create request: %w", adapter.ErrPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "setscout/"+types.Version)
	req.Header.Set(HeaderEvent, event.EventType)
	req.Header.Set(HeaderSession, event.SessionID)
	req.Header.Set(HeaderIdempotencyKey, event.Key())
	for k, v := range a.headers {
		req.Header.Set(k, v)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer iox.DrainClose(resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	statusErr := &StatusError{
		Code:       resp.StatusCode,
		RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
	}
	if !statusErr.retriable() {
		return fmt.Errorf("%w: %w", adapter.ErrPermanent, statusErr)
	}
	return statusErr
}

// parseRetryAfter reads delay-seconds or an HTTP date. Unparseable or past
// values yield zero.
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}

// Close releases idle connections.
func (a *Adapter) Close() error {
	a.client.CloseIdleConnections()
	return nil
}

var _ adapter.Adapter = (*Adapter)(nil)
