// Package types defines core domain types shared by the setscout engine.
//
//nolint:revive // types is a common Go package naming convention
package types

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// ContractVersion is the interceptor wire contract version.
const ContractVersion = "0.1.0"

// EventType is the discriminator of an intercepted event.
type EventType string

// Event types emitted by the interceptor.
const (
	EventTypeStreamPage EventType = "stream_page"
	EventTypeTracks     EventType = "tracks"
	EventTypeLikesPage  EventType = "likes_page"
	EventTypeClientID   EventType = "client_id"
	EventTypeAuthHeader EventType = "auth_header"
	EventTypeCookie     EventType = "cookie"
	EventTypeNavigation EventType = "navigation"
	EventTypeItem       EventType = "item"
)

// IsCredential returns true for single-value credential signals.
func (e EventType) IsCredential() bool {
	return e == EventTypeClientID || e == EventTypeAuthHeader || e == EventTypeCookie
}

// IsSensitive returns true if the payload must never be logged.
func (e EventType) IsSensitive() bool {
	return e == EventTypeAuthHeader
}

// EventEnvelope wraps every interceptor event.
// Payload is kept raw and decoded per Type by the dispatcher.
type EventEnvelope struct {
	// ContractVersion is the semantic version of the wire contract.
	ContractVersion string `msgpack:"contract_version"`
	// EventID is unique within a session.
	EventID string `msgpack:"event_id"`
	// SessionID identifies the page session that produced the event.
	SessionID string `msgpack:"session_id"`
	// Seq is monotonic within a session, starts at 1.
	Seq int64 `msgpack:"seq"`
	// Type is the event type discriminator.
	Type EventType `msgpack:"type"`
	// Ts is the event timestamp in ISO 8601 UTC format.
	Ts string `msgpack:"ts"`
	// RequestURL is the intercepted request URL, when the event came from a response.
	RequestURL string `msgpack:"request_url,omitempty"`
	// Payload is the type-specific payload, msgpack encoded.
	Payload msgpack.RawMessage `msgpack:"payload"`
}

// TrackPayload is the track shape shared by stream and tracks responses.
type TrackPayload struct {
	ID           int64  `msgpack:"id" json:"id"`
	PermalinkURL string `msgpack:"permalink_url" json:"permalink_url"`
	// Duration is in milliseconds.
	Duration int64 `msgpack:"duration" json:"duration"`
}

// Validate checks the fields the engine depends on.
func (t *TrackPayload) Validate() error {
	if t.ID <= 0 {
		return fmt.Errorf("track id must be positive, got %d", t.ID)
	}
	if t.PermalinkURL == "" {
		return errors.New("track permalink_url is empty")
	}
	if t.Duration < 0 {
		return fmt.Errorf("track %d has negative duration %d", t.ID, t.Duration)
	}
	return nil
}

// StreamItemPayload is one entry of a stream page. Reposts of playlists
// and other non-track activities carry no track.
type StreamItemPayload struct {
	Track *TrackPayload `msgpack:"track,omitempty"`
}

// StreamPagePayload is the payload of a stream_page event.
type StreamPagePayload struct {
	Collection []StreamItemPayload `msgpack:"collection"`
}

// TracksPayload is the payload of a tracks event.
type TracksPayload struct {
	Collection []TrackPayload `msgpack:"collection"`
}

// LikesPagePayload is the payload of a likes_page event.
// NextHref is nil on the final page.
type LikesPagePayload struct {
	Collection []int64 `msgpack:"collection"`
	NextHref   *string `msgpack:"next_href"`
}

// HasNextPage reports whether more pages follow.
func (p *LikesPagePayload) HasNextPage() bool {
	return p.NextHref != nil && *p.NextHref != ""
}

// ScalarPayload carries a single credential value.
type ScalarPayload struct {
	Value string `msgpack:"value"`
}

// NavigationPayload is the payload of a navigation event.
type NavigationPayload struct {
	// NavigationType mirrors the browser navigation type (push, replace, reload, traverse).
	NavigationType string `msgpack:"navigation_type,omitempty"`
}

// IsReplace returns true for replace navigations, which keep the current feed.
func (p *NavigationPayload) IsReplace() bool {
	return p.NavigationType == "replace"
}

// ItemPayload is the payload of an item event, emitted for every feed
// element the page observer discovers.
type ItemPayload struct {
	// Handle identifies the element for the lifetime of the page.
	Handle string `msgpack:"handle"`
	// HTML is the outer markup of the element, if the observer sent it.
	HTML string `msgpack:"html,omitempty"`
	// PermalinkURL is the title link href, if the observer resolved it.
	PermalinkURL string `msgpack:"permalink_url,omitempty"`
	// Playlist is set when the observer already knows the item is a playlist.
	Playlist bool `msgpack:"playlist,omitempty"`
	// Liked is set when the observer already knows the like button is selected.
	Liked bool `msgpack:"liked,omitempty"`
}

// Item converts the payload into a queueable item.
func (p *ItemPayload) Item() Item {
	return Item{
		Handle:       p.Handle,
		Markup:       p.HTML,
		PermalinkURL: p.PermalinkURL,
		Playlist:     p.Playlist,
		Liked:        p.Liked,
	}
}
