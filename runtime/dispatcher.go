package runtime

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/justapithecus/setscout/credentials"
	"github.com/justapithecus/setscout/discovery"
	"github.com/justapithecus/setscout/likes"
	"github.com/justapithecus/setscout/log"
	"github.com/justapithecus/setscout/metrics"
	"github.com/justapithecus/setscout/streamstate"
	"github.com/justapithecus/setscout/types"
)

// ErrMalformedPayload marks an event whose payload could not be used.
// Such events are dropped; ingestion continues.
var ErrMalformedPayload = errors.New("malformed payload")

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedPayload, fmt.Sprintf(format, args...))
}

// Dispatcher routes events to the component that owns them.
type Dispatcher struct {
	stream    *streamstate.Store
	creds     *credentials.Store
	likes     *likes.Store
	queue     *discovery.Queue
	navigate  func() uint64
	logger    *log.Logger
	collector *metrics.Collector
}

// NewDispatcher creates a dispatcher. navigate is called for every
// navigation event that changes the feed.
func NewDispatcher(
	stream *streamstate.Store,
	creds *credentials.Store,
	liked *likes.Store,
	queue *discovery.Queue,
	navigate func() uint64,
	logger *log.Logger,
	collector *metrics.Collector,
) *Dispatcher {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Dispatcher{
		stream:    stream,
		creds:     creds,
		likes:     liked,
		queue:     queue,
		navigate:  navigate,
		logger:    logger,
		collector: collector,
	}
}

// Handle implements Handler.
func (d *Dispatcher) Handle(_ context.Context, env *types.EventEnvelope) error {
	switch env.Type {
	case types.EventTypeStreamPage:
		var p types.StreamPagePayload
		if err := decode(env, &p); err != nil {
			return err
		}
		tracks := make([]types.TrackPayload, 0, len(p.Collection))
		for _, it := range p.Collection {
			if it.Track != nil {
				tracks = append(tracks, *it.Track)
			}
		}
		d.upsert(env, tracks)
		return nil

	case types.EventTypeTracks:
		var p types.TracksPayload
		if err := decode(env, &p); err != nil {
			return err
		}
		d.upsert(env, p.Collection)
		return nil

	case types.EventTypeLikesPage:
		var p types.LikesPagePayload
		if err := decode(env, &p); err != nil {
			return err
		}
		ids := make([]string, 0, len(p.Collection))
		for _, id := range p.Collection {
			ids = append(ids, strconv.FormatInt(id, 10))
		}
		if d.likes.AbsorbPage(ids, p.HasNextPage()) {
			d.logger.Info("likes loaded", map[string]any{
				"likes": d.likes.Len(),
				"pages": d.likes.Pages(),
			})
		}
		return nil

	case types.EventTypeClientID, types.EventTypeAuthHeader, types.EventTypeCookie:
		return d.credential(env)

	case types.EventTypeNavigation:
		var p types.NavigationPayload
		if err := decode(env, &p); err != nil {
			return err
		}
		if p.IsReplace() {
			return nil
		}
		d.navigate()
		return nil

	case types.EventTypeItem:
		var p types.ItemPayload
		if err := decode(env, &p); err != nil {
			return err
		}
		if p.Handle == "" {
			return malformed("item without handle")
		}
		if d.queue.EnqueueIfNew(p.Item()) {
			d.collector.IncItemDiscovered()
		} else {
			d.collector.IncItemDeduped()
		}
		return nil

	default:
		return malformed("unknown event type %q", env.Type)
	}
}

func (d *Dispatcher) credential(env *types.EventEnvelope) error {
	var p types.ScalarPayload
	if err := decode(env, &p); err != nil {
		return err
	}
	if p.Value == "" {
		return malformed("empty %s value", env.Type)
	}

	var changed bool
	switch env.Type {
	case types.EventTypeClientID:
		changed = d.creds.ClientID.Set(p.Value)
	case types.EventTypeAuthHeader:
		changed = d.creds.AuthHeader.Set(types.NewSecret(p.Value))
	case types.EventTypeCookie:
		changed = d.creds.Cookie.Set(p.Value)
	}
	if changed {
		d.logger.Debug("credential updated", map[string]any{"type": env.Type})
	}
	return nil
}

// upsert writes one batch. Tracks that fail validation are skipped on
// their own; the rest of the batch still lands.
func (d *Dispatcher) upsert(env *types.EventEnvelope, tracks []types.TrackPayload) {
	records := make([]types.StreamRecord, 0, len(tracks))
	for _, t := range tracks {
		rec, err := streamRecord(t)
		if err != nil {
			d.logger.Debug("skipping track", map[string]any{
				"type":  env.Type,
				"seq":   env.Seq,
				"error": err.Error(),
			})
			continue
		}
		records = append(records, rec)
	}
	d.stream.UpsertBatch(records)
	d.collector.AddStreamBatch(len(records))
}

func streamRecord(t types.TrackPayload) (types.StreamRecord, error) {
	if err := t.Validate(); err != nil {
		return types.StreamRecord{}, err
	}
	p, err := types.ParsePermalink(t.PermalinkURL)
	if err != nil {
		return types.StreamRecord{}, err
	}
	return types.StreamRecord{
		Permalink: p,
		ID:        strconv.FormatInt(t.ID, 10),
		Duration:  time.Duration(t.Duration) * time.Millisecond,
	}, nil
}

func decode(env *types.EventEnvelope, v any) error {
	if len(env.Payload) == 0 {
		return malformed("%s event has no payload", env.Type)
	}
	if err := msgpack.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("%w: decoding %s: %v", ErrMalformedPayload, env.Type, err)
	}
	return nil
}
