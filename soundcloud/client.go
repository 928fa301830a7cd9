// Package soundcloud is a minimal client for the api-v2 endpoints the
// engine needs: playlist fetch, batched track lookup and playlist update.
//
// It implements membership.Source and membership.Confirmer.
package soundcloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/justapithecus/setscout/iox"
	"github.com/justapithecus/setscout/membership"
	"github.com/justapithecus/setscout/types"
)

// DefaultBaseURL is the public api-v2 host.
const DefaultBaseURL = "https://api-v2.soundcloud.com"

// DefaultTimeout is the default HTTP request timeout.
const DefaultTimeout = 10 * time.Second

// DefaultRetries is the default number of retry attempts for reads.
const DefaultRetries = 3

// DefaultBackoff is the delay before the first retry; it doubles per attempt.
const DefaultBackoff = 500 * time.Millisecond

// ErrNoClientID is returned when no client id is configured or intercepted.
var ErrNoClientID = errors.New("soundcloud: no client id available")

// ErrNoAuth is returned when a write is attempted without an auth header.
var ErrNoAuth = errors.New("soundcloud: no authorization header available")

// StatusError is returned for non-2xx HTTP responses.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.Code, e.URL)
}

// Retriable reports whether the status warrants another attempt.
func (e *StatusError) Retriable() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

// Config configures the client.
type Config struct {
	// BaseURL is the API root (default DefaultBaseURL).
	BaseURL string
	// ClientID returns the client id to send; consulted per request.
	ClientID func() string
	// Authorization returns the auth header for writes; consulted per request.
	Authorization func() types.Secret
	// Timeout is the per-request timeout (default 10s).
	Timeout time.Duration
	// Retries is the number of retry attempts for reads (default 3).
	Retries int
	// Backoff is the initial retry delay (default 500ms).
	Backoff time.Duration
}

// Client talks to api-v2.
type Client struct {
	config Config
	base   *url.URL
	http   *http.Client
}

// New creates a client. ClientID is required.
func New(cfg Config) (*Client, error) {
	if cfg.ClientID == nil {
		return nil, errors.New("soundcloud: client id provider is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.Authorization == nil {
		cfg.Authorization = func() types.Secret { return types.Secret{} }
	}

	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("soundcloud: invalid base url: %w", err)
	}

	return &Client{
		config: cfg,
		base:   base,
		http:   &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// apiTrack is the track shape of api-v2. Stubs carry only the id.
type apiTrack struct {
	ID           int64  `json:"id"`
	PermalinkURL string `json:"permalink_url,omitempty"`
	Duration     int64  `json:"duration,omitempty"`
}

func (t apiTrack) track() membership.Track {
	out := membership.Track{
		ID:       strconv.FormatInt(t.ID, 10),
		Duration: time.Duration(t.Duration) * time.Millisecond,
	}
	if t.PermalinkURL != "" {
		if p, err := types.ParsePermalink(t.PermalinkURL); err == nil {
			out.Permalink = p
		}
	}
	return out
}

type apiPlaylist struct {
	ID     int64      `json:"id"`
	Tracks []apiTrack `json:"tracks"`
}

// FetchCollection returns the tracks of a playlist in playlist order.
func (c *Client) FetchCollection(ctx context.Context, playlistID string) ([]membership.Track, error) {
	u, err := c.endpoint("/playlists/"+url.PathEscape(playlistID), nil)
	if err != nil {
		return nil, err
	}

	var pl apiPlaylist
	if err := c.getJSON(ctx, u, &pl); err != nil {
		return nil, fmt.Errorf("fetch playlist %s: %w", playlistID, err)
	}

	out := make([]membership.Track, 0, len(pl.Tracks))
	for _, t := range pl.Tracks {
		out = append(out, t.track())
	}
	return out, nil
}

// FetchTracks resolves track ids to full tracks. Unknown ids are omitted.
func (c *Client) FetchTracks(ctx context.Context, ids []string) ([]membership.Track, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	u, err := c.endpoint("/tracks", url.Values{"ids": {strings.Join(ids, ",")}})
	if err != nil {
		return nil, err
	}

	var tracks []apiTrack
	if err := c.getJSON(ctx, u, &tracks); err != nil {
		return nil, fmt.Errorf("fetch %d tracks: %w", len(ids), err)
	}

	out := make([]membership.Track, 0, len(tracks))
	for _, t := range tracks {
		out = append(out, t.track())
	}
	return out, nil
}

type playlistUpdate struct {
	Playlist struct {
		Tracks []int64 `json:"tracks"`
	} `json:"playlist"`
}

// SetCollection replaces the playlist's track list with ids, in order.
// Writes are not retried; the caller decides whether to try again.
func (c *Client) SetCollection(ctx context.Context, playlistID string, ids []string) error {
	auth := c.config.Authorization()
	if auth.IsZero() {
		return ErrNoAuth
	}

	var body playlistUpdate
	body.Playlist.Tracks = make([]int64, 0, len(ids))
	for _, id := range ids {
		n, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return fmt.Errorf("soundcloud: invalid track id %q: %w", id, err)
		}
		body.Playlist.Tracks = append(body.Playlist.Tracks, n)
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("soundcloud: marshal playlist update: %w", err)
	}

	u, err := c.endpoint("/playlists/"+url.PathEscape(playlistID), nil)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", auth.Reveal())

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("update playlist %s: %w", playlistID, err)
	}
	defer iox.DrainClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("update playlist %s: %w", playlistID, &StatusError{Code: resp.StatusCode, URL: redactURL(u)})
	}
	return nil
}

func (c *Client) endpoint(path string, query url.Values) (string, error) {
	clientID := c.config.ClientID()
	if clientID == "" {
		return "", ErrNoClientID
	}
	if query == nil {
		query = url.Values{}
	}
	query.Set("client_id", clientID)

	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawQuery = query.Encode()
	return u.String(), nil
}

// getJSON performs a GET with retries on network errors and 5xx/429.
func (c *Client) getJSON(ctx context.Context, u string, out any) error {
	var lastErr error
	attempts := 1 + c.config.Retries

	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context canceled: %w", err)
		}

		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * c.config.Backoff
			select {
			case <-ctx.Done():
				return fmt.Errorf("context canceled during backoff: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		lastErr = c.doGet(ctx, u, out)
		if lastErr == nil {
			return nil
		}

		var statusErr *StatusError
		if errors.As(lastErr, &statusErr) && !statusErr.Retriable() {
			return fmt.Errorf("non-retriable error: %w", lastErr)
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}

func (c *Client) doGet(ctx context.Context, u string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer iox.DrainClose(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode, URL: redactURL(u)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// redactURL drops the query so client ids stay out of error messages.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	u.RawQuery = ""
	return u.String()
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

var (
	_ membership.Source    = (*Client)(nil)
	_ membership.Confirmer = (*Client)(nil)
)
