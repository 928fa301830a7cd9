package types

import "time"

// Item is a discovered feed element awaiting classification.
// Handle is its identity; the remaining fields are what the page observer
// captured and are interpreted by an inspector.
type Item struct {
	Handle       string
	Markup       string
	PermalinkURL string
	Playlist     bool
	Liked        bool
}

// StreamRecord is one permalink-keyed fact posted to the stream state.
type StreamRecord struct {
	Permalink Permalink
	ID        string
	Duration  time.Duration
}

// Disposition is the outcome of classifying an item.
type Disposition string

// Dispositions.
const (
	DispositionMatch Disposition = "match"
	DispositionSkip  Disposition = "skip"
)

// SkipReason is the short human-readable reason shown on a skipped item.
type SkipReason string

// Skip reasons, in decision-chain order.
const (
	ReasonPlaylist        SkipReason = "playlist"
	ReasonLiked           SkipReason = "liked"
	ReasonNoIdentity      SkipReason = "no identity"
	ReasonLookupExhausted SkipReason = "lookup exhausted"
	ReasonInCollection    SkipReason = "already in target collection"
	ReasonBelowThreshold  SkipReason = "below threshold"
	ReasonNavigation      SkipReason = "navigation"
	ReasonError           SkipReason = "error"
)

// Decision is the typed result of classifying one item.
type Decision struct {
	DecisionID  string        `json:"decision_id"`
	Handle      string        `json:"handle"`
	Epoch       uint64        `json:"epoch"`
	Disposition Disposition   `json:"disposition"`
	Reason      SkipReason    `json:"reason,omitempty"`
	Permalink   Permalink     `json:"permalink,omitempty"`
	TrackID     string        `json:"track_id,omitempty"`
	Duration    time.Duration `json:"-"`
	DecidedAt   time.Time     `json:"decided_at"`
}

// IsMatch returns true for positive matches.
func (d *Decision) IsMatch() bool {
	return d.Disposition == DispositionMatch
}

// Label is the text rendered on the item: the skip reason, or "set" for a match.
func (d *Decision) Label() string {
	if d.IsMatch() {
		return "set"
	}
	return string(d.Reason)
}

// SessionMeta identifies one engine session.
type SessionMeta struct {
	SessionID  string
	PlaylistID string
}
