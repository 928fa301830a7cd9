package reader

import "time"

// SessionItem is one row of `list sessions`.
type SessionItem struct {
	SessionID  string    `json:"session_id"`
	PlaylistID string    `json:"playlist_id,omitempty"`
	Day        string    `json:"day"`
	Matches    int       `json:"matches"`
	Skips      int       `json:"skips"`
	FirstAt    time.Time `json:"first_at"`
	LastAt     time.Time `json:"last_at"`
}

// ListSessionsOptions filters `list sessions`.
type ListSessionsOptions struct {
	Day   string
	Limit int
}

// DecisionItem is one stored decision as shown by the CLI.
type DecisionItem struct {
	DecidedAt time.Time     `json:"decided_at"`
	Handle    string        `json:"handle"`
	Label     string        `json:"label"`
	Permalink string        `json:"permalink,omitempty"`
	TrackID   string        `json:"track_id,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
	Epoch     uint64        `json:"epoch"`
}

// InspectSessionResponse is the detail view of one session.
type InspectSessionResponse struct {
	SessionItem
	SkipsByReason map[string]int `json:"skips_by_reason,omitempty"`
	Matched       []DecisionItem `json:"matched"`
}

// DecisionStats aggregates stored decisions.
type DecisionStats struct {
	Sessions      int            `json:"sessions"`
	Total         int            `json:"total"`
	Matches       int            `json:"matches"`
	Skips         int            `json:"skips"`
	MatchRate     float64        `json:"match_rate"`
	SkipsByReason map[string]int `json:"skips_by_reason"`
}

// ReplayResponse summarizes a recorded frame stream.
type ReplayResponse struct {
	Frames       int            `json:"frames"`
	PageSessions int            `json:"page_sessions"`
	ByType       map[string]int `json:"by_type"`
	Navigations  int            `json:"navigations"`
	DecodeErrors int            `json:"decode_errors"`
	Truncated    bool           `json:"truncated"`
	Error        string         `json:"error,omitempty"`
	Events       []ReplayEvent  `json:"events,omitempty"`
}

// ReplayEvent is one envelope header from a replayed stream.
type ReplayEvent struct {
	Seq          int64  `json:"seq"`
	SessionID    string `json:"session_id"`
	Type         string `json:"type"`
	Ts           string `json:"ts"`
	PayloadBytes int    `json:"payload_bytes"`
}
