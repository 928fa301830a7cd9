package lode

import (
	"time"

	"github.com/justapithecus/setscout/types"
)

// Partition keys, in Hive path order.
var partitionKeys = []string{"day", "session_id", "disposition"}

// DayFormat is the layout of the day partition value.
const DayFormat = "2006-01-02"

// DecisionRecord is the storage format for one classification decision.
type DecisionRecord struct {
	DecisionID  string `json:"decision_id"`
	Handle      string `json:"handle"`
	Epoch       uint64 `json:"epoch"`
	Disposition string `json:"disposition"`
	Reason      string `json:"reason,omitempty"`
	Permalink   string `json:"permalink,omitempty"`
	TrackID     string `json:"track_id,omitempty"`
	DurationMs  int64  `json:"duration_ms,omitempty"`
	DecidedAt   string `json:"decided_at"`
	PlaylistID  string `json:"playlist_id,omitempty"`

	// Partition keys
	Day       string `json:"day"`
	SessionID string `json:"session_id"`
}

// Label mirrors types.Decision.Label for stored records.
func (r DecisionRecord) Label() string {
	if r.Disposition == string(types.DispositionMatch) {
		return "set"
	}
	return r.Reason
}

// toDecisionRecordMap converts a decision to a map for Lode storage.
// HiveLayout reads partition values from map fields.
func toDecisionRecordMap(d types.Decision, session types.SessionMeta) map[string]any {
	decidedAt := d.DecidedAt.UTC()
	m := map[string]any{
		"decision_id": d.DecisionID,
		"handle":      d.Handle,
		"epoch":       d.Epoch,
		"disposition": string(d.Disposition),
		"decided_at":  decidedAt.Format(time.RFC3339Nano),
		"day":         decidedAt.Format(DayFormat),
		"session_id":  session.SessionID,
	}
	if d.Reason != "" {
		m["reason"] = string(d.Reason)
	}
	if !d.Permalink.IsZero() {
		m["permalink"] = d.Permalink.String()
	}
	if d.TrackID != "" {
		m["track_id"] = d.TrackID
	}
	if d.Duration > 0 {
		m["duration_ms"] = d.Duration.Milliseconds()
	}
	if session.PlaylistID != "" {
		m["playlist_id"] = session.PlaylistID
	}
	return m
}

// recordFromMap converts a decoded JSONL row back to a DecisionRecord.
// Numbers arrive as float64 from the JSON codec.
func recordFromMap(m map[string]any) DecisionRecord {
	return DecisionRecord{
		DecisionID:  toString(m["decision_id"]),
		Handle:      toString(m["handle"]),
		Epoch:       uint64(toInt64(m["epoch"])),
		Disposition: toString(m["disposition"]),
		Reason:      toString(m["reason"]),
		Permalink:   toString(m["permalink"]),
		TrackID:     toString(m["track_id"]),
		DurationMs:  toInt64(m["duration_ms"]),
		DecidedAt:   toString(m["decided_at"]),
		PlaylistID:  toString(m["playlist_id"]),
		Day:         toString(m["day"]),
		SessionID:   toString(m["session_id"]),
	}
}

// toString returns v if it is a string, else "".
func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case uint64:
		return int64(n)
	case int:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}
