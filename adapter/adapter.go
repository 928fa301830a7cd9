// Package adapter defines the boundary for publishing decisions to
// downstream systems (webhooks, Redis pub/sub).
//
// The engine owns adapter lifecycle; users provide configuration only.
package adapter

import (
	"context"
	"time"

	"github.com/justapithecus/setscout/types"
)

// Event types published by adapters.
const (
	EventTypeDecision         = "decision"
	EventTypeSessionCompleted = "session_completed"
)

// Event is the JSON payload published for a decision or a finished session.
// Decision fields are empty on session_completed events and vice versa.
type Event struct {
	ContractVersion string `json:"contract_version"`
	EventType       string `json:"event_type"`
	SessionID       string `json:"session_id"`
	PlaylistID      string `json:"playlist_id,omitempty"`
	Timestamp       string `json:"timestamp"` // RFC 3339

	// decision
	DecisionID  string `json:"decision_id,omitempty"`
	Handle      string `json:"handle,omitempty"`
	Epoch       uint64 `json:"epoch,omitempty"`
	Disposition string `json:"disposition,omitempty"`
	Label       string `json:"label,omitempty"`
	Permalink   string `json:"permalink,omitempty"`
	TrackID     string `json:"track_id,omitempty"`
	DurationMs  int64  `json:"duration_ms,omitempty"`

	// session_completed
	Outcome string `json:"outcome,omitempty"`
	Matches int64  `json:"matches,omitempty"`
	Skips   int64  `json:"skips,omitempty"`
}

// Key identifies the event across publish retries. Receivers use it to
// drop duplicates.
func (e *Event) Key() string {
	if e.DecisionID != "" {
		return e.DecisionID
	}
	return e.SessionID + "/" + e.EventType
}

// NewDecisionEvent builds the event published for one decision.
func NewDecisionEvent(session types.SessionMeta, d types.Decision) *Event {
	e := &Event{
		ContractVersion: types.ContractVersion,
		EventType:       EventTypeDecision,
		SessionID:       session.SessionID,
		PlaylistID:      session.PlaylistID,
		Timestamp:       d.DecidedAt.UTC().Format(time.RFC3339Nano),
		DecisionID:      d.DecisionID,
		Handle:          d.Handle,
		Epoch:           d.Epoch,
		Disposition:     string(d.Disposition),
		Label:           d.Label(),
		Permalink:       d.Permalink.String(),
		TrackID:         d.TrackID,
	}
	if d.Duration > 0 {
		e.DurationMs = d.Duration.Milliseconds()
	}
	return e
}

// NewSessionCompletedEvent builds the event published when a session ends.
func NewSessionCompletedEvent(session types.SessionMeta, outcome string, matches, skips int64, at time.Time) *Event {
	return &Event{
		ContractVersion: types.ContractVersion,
		EventType:       EventTypeSessionCompleted,
		SessionID:       session.SessionID,
		PlaylistID:      session.PlaylistID,
		Timestamp:       at.UTC().Format(time.RFC3339Nano),
		Outcome:         outcome,
		Matches:         matches,
		Skips:           skips,
	}
}

// Adapter publishes events to a downstream system.
type Adapter interface {
	// Publish sends one event. Must respect context cancellation.
	Publish(ctx context.Context, event *Event) error

	// Close releases adapter resources.
	Close() error
}
