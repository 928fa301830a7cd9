// Package reader provides read-only access to stored decisions and recorded
// event streams for the setscout CLI.
package reader

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"time"

	lodelibrary "github.com/justapithecus/lode/lode"

	"github.com/justapithecus/setscout/lode"
	"github.com/justapithecus/setscout/types"
)

// ErrSessionNotFound is returned by InspectSession for an unknown id.
var ErrSessionNotFound = errors.New("session not found")

// Reader abstracts read-only decision log access for CLI commands.
type Reader interface {
	ListSessions(ctx context.Context, opts ListSessionsOptions) ([]SessionItem, error)
	InspectSession(ctx context.Context, sessionID string) (*InspectSessionResponse, error)
	ListDecisions(ctx context.Context, filter lode.DecisionFilter) ([]DecisionItem, error)
	Stats(ctx context.Context, filter lode.DecisionFilter) (*DecisionStats, error)
}

// LodeReader reads the decision log dataset.
type LodeReader struct {
	dataset lodelibrary.Dataset
}

// NewLodeReader creates a reader over a dataset opened for reading.
func NewLodeReader(ds lodelibrary.Dataset) *LodeReader {
	return &LodeReader{dataset: ds}
}

// query treats an empty log as an empty result.
func (r *LodeReader) query(ctx context.Context, f lode.DecisionFilter) ([]lode.DecisionRecord, error) {
	records, err := lode.QueryDecisions(ctx, r.dataset, f)
	if errors.Is(err, lode.ErrNoDecisionsFound) {
		return nil, nil
	}
	return records, err
}

// ListSessions groups stored decisions by session, newest first.
func (r *LodeReader) ListSessions(ctx context.Context, opts ListSessionsOptions) ([]SessionItem, error) {
	records, err := r.query(ctx, lode.DecisionFilter{Day: opts.Day})
	if err != nil {
		return nil, err
	}

	sessions := summarize(records)
	slices.SortFunc(sessions, func(a, b SessionItem) int {
		return cmp.Or(b.LastAt.Compare(a.LastAt), cmp.Compare(a.SessionID, b.SessionID))
	})
	if opts.Limit > 0 && len(sessions) > opts.Limit {
		sessions = sessions[:opts.Limit]
	}
	return sessions, nil
}

// InspectSession returns the summary and matched items of one session.
func (r *LodeReader) InspectSession(ctx context.Context, sessionID string) (*InspectSessionResponse, error) {
	records, err := r.query(ctx, lode.DecisionFilter{SessionID: sessionID})
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrSessionNotFound
	}

	resp := &InspectSessionResponse{
		SessionItem:   summarize(records)[0],
		SkipsByReason: make(map[string]int),
		Matched:       []DecisionItem{},
	}
	for _, rec := range sortByTime(records) {
		if rec.Disposition == string(types.DispositionMatch) {
			resp.Matched = append(resp.Matched, toDecisionItem(rec))
		} else {
			resp.SkipsByReason[rec.Reason]++
		}
	}
	return resp, nil
}

// ListDecisions returns matching decisions in decision order.
func (r *LodeReader) ListDecisions(ctx context.Context, filter lode.DecisionFilter) ([]DecisionItem, error) {
	limit := filter.Limit
	filter.Limit = 0
	records, err := r.query(ctx, filter)
	if err != nil {
		return nil, err
	}

	records = sortByTime(records)
	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	items := make([]DecisionItem, 0, len(records))
	for _, rec := range records {
		items = append(items, toDecisionItem(rec))
	}
	return items, nil
}

// Stats aggregates matching decisions.
func (r *LodeReader) Stats(ctx context.Context, filter lode.DecisionFilter) (*DecisionStats, error) {
	filter.Limit = 0
	records, err := r.query(ctx, filter)
	if err != nil {
		return nil, err
	}

	stats := &DecisionStats{SkipsByReason: make(map[string]int)}
	sessions := make(map[string]struct{})
	for _, rec := range records {
		sessions[rec.SessionID] = struct{}{}
		stats.Total++
		if rec.Disposition == string(types.DispositionMatch) {
			stats.Matches++
		} else {
			stats.Skips++
			stats.SkipsByReason[rec.Reason]++
		}
	}
	stats.Sessions = len(sessions)
	if stats.Total > 0 {
		stats.MatchRate = float64(stats.Matches) / float64(stats.Total)
	}
	return stats, nil
}

func summarize(records []lode.DecisionRecord) []SessionItem {
	index := make(map[string]int)
	var out []SessionItem
	for _, rec := range records {
		at := decidedAt(rec)
		i, ok := index[rec.SessionID]
		if !ok {
			i = len(out)
			index[rec.SessionID] = i
			out = append(out, SessionItem{
				SessionID:  rec.SessionID,
				PlaylistID: rec.PlaylistID,
				Day:        rec.Day,
				FirstAt:    at,
				LastAt:     at,
			})
		}
		s := &out[i]
		if rec.Disposition == string(types.DispositionMatch) {
			s.Matches++
		} else {
			s.Skips++
		}
		if at.Before(s.FirstAt) {
			s.FirstAt = at
			s.Day = rec.Day
		}
		if at.After(s.LastAt) {
			s.LastAt = at
		}
	}
	return out
}

func sortByTime(records []lode.DecisionRecord) []lode.DecisionRecord {
	slices.SortStableFunc(records, func(a, b lode.DecisionRecord) int {
		return decidedAt(a).Compare(decidedAt(b))
	})
	return records
}

func decidedAt(rec lode.DecisionRecord) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, rec.DecidedAt)
	return t
}

func toDecisionItem(rec lode.DecisionRecord) DecisionItem {
	return DecisionItem{
		DecidedAt: decidedAt(rec),
		Handle:    rec.Handle,
		Label:     rec.Label(),
		Permalink: rec.Permalink,
		TrackID:   rec.TrackID,
		Duration:  time.Duration(rec.DurationMs) * time.Millisecond,
		Epoch:     rec.Epoch,
	}
}

var _ Reader = (*LodeReader)(nil)
