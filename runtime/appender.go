package runtime

import (
	"context"

	"github.com/justapithecus/setscout/log"
	"github.com/justapithecus/setscout/membership"
	"github.com/justapithecus/setscout/metrics"
	"github.com/justapithecus/setscout/types"
)

// Appender adds every positive match to the target collection.
// Once confirmed, the track is a member and later sightings of it are
// skipped as already collected.
type Appender struct {
	snapshot  *membership.Snapshot
	confirmer membership.Confirmer
	logger    *log.Logger
	collector *metrics.Collector
}

// NewAppender creates an appender writing through confirmer.
func NewAppender(snap *membership.Snapshot, confirmer membership.Confirmer, logger *log.Logger, collector *metrics.Collector) *Appender {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Appender{
		snapshot:  snap,
		confirmer: confirmer,
		logger:    logger,
		collector: collector,
	}
}

// Present implements classify.Presenter. Skips are ignored.
func (a *Appender) Present(ctx context.Context, d types.Decision) error {
	if !d.IsMatch() || d.TrackID == "" {
		return nil
	}

	added, err := a.snapshot.Append(ctx, a.confirmer, []string{d.TrackID})
	if err != nil {
		a.collector.IncAppendFailure()
		return err
	}
	if len(added) > 0 {
		a.collector.IncAppendSuccess()
		a.logger.Info("appended to collection", map[string]any{
			"track_id":      d.TrackID,
			"permalink":     d.Permalink,
			"collection_id": a.snapshot.CollectionID(),
		})
	}
	return nil
}
