// Package classify runs the single-lane classification loop over
// discovered feed items.
//
// Items are taken from the discovery queue one at a time in arrival order.
// Every item ends in exactly one Decision; per-item failures become skips
// and never stop the loop.
package classify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/justapithecus/setscout/discovery"
	"github.com/justapithecus/setscout/log"
	"github.com/justapithecus/setscout/metrics"
	"github.com/justapithecus/setscout/streamstate"
	"github.com/justapithecus/setscout/types"
)

// DefaultThreshold is the minimum duration of a positive match.
const DefaultThreshold = 20 * time.Minute

// ErrUnresolvedIdentity is returned by an Inspector that cannot derive a
// permalink from an item. It is a terminal skip, never retried.
var ErrUnresolvedIdentity = errors.New("unresolved item identity")

// errNavigated is the cancel cause of an in-flight item when a navigation
// interrupts it.
var errNavigated = errors.New("navigated away")

// Inspector reads classification facts off a discovered item.
type Inspector interface {
	IsPlaylist(item types.Item) bool
	IsLiked(item types.Item) bool
	Permalink(item types.Item) (types.Permalink, error)
}

// Presenter receives every decision, in order.
type Presenter interface {
	Present(ctx context.Context, d types.Decision) error
}

// PresenterFunc adapts a function to Presenter.
type PresenterFunc func(ctx context.Context, d types.Decision) error

// Present calls f.
func (f PresenterFunc) Present(ctx context.Context, d types.Decision) error {
	return f(ctx, d)
}

// Presenters fans a decision out to every presenter and joins the errors.
type Presenters []Presenter

// Present calls every presenter even if earlier ones fail.
func (ps Presenters) Present(ctx context.Context, d types.Decision) error {
	var errs []error
	for _, p := range ps {
		if err := p.Present(ctx, d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Members answers target collection membership.
type Members interface {
	Contains(id string) bool
}

// Likes answers liked-set membership without waiting.
type Likes interface {
	TryIsMember(id string) (member, ready bool)
}

// Config holds classifier settings.
type Config struct {
	// Threshold is the minimum duration of a match (default 20m).
	Threshold time.Duration
	// CancelOnNavigation interrupts the in-flight lookup on navigation.
	CancelOnNavigation bool
}

// Classifier owns the classification loop.
type Classifier struct {
	config    Config
	queue     *discovery.Queue
	stream    *streamstate.Store
	members   Members
	likes     Likes
	inspector Inspector
	presenter Presenter
	logger    *log.Logger
	collector *metrics.Collector
	now       func() time.Time

	mu       sync.Mutex
	inflight context.CancelCauseFunc
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithLikes enables the secondary liked check against a likes store.
func WithLikes(l Likes) Option {
	return func(c *Classifier) { c.likes = l }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Classifier) { c.logger = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Classifier) { c.collector = m }
}

// WithClock overrides the decision timestamp source.
func WithClock(now func() time.Time) Option {
	return func(c *Classifier) { c.now = now }
}

// New creates a classifier. presenter may be nil.
func New(
	cfg Config,
	queue *discovery.Queue,
	stream *streamstate.Store,
	members Members,
	inspector Inspector,
	presenter Presenter,
	opts ...Option,
) *Classifier {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if presenter == nil {
		presenter = Presenters(nil)
	}
	c := &Classifier{
		config:    cfg,
		queue:     queue,
		stream:    stream,
		members:   members,
		inspector: inspector,
		presenter: presenter,
		logger:    log.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run classifies queued items until ctx is done or the queue is closed.
// It returns nil when the queue is closed and drained.
func (c *Classifier) Run(ctx context.Context) error {
	for {
		q, err := c.queue.Take(ctx)
		if errors.Is(err, discovery.ErrQueueClosed) {
			return nil
		}
		if err != nil {
			return err
		}

		d, err := c.Classify(ctx, q)
		if err != nil {
			return err
		}

		if err := c.presenter.Present(ctx, d); err != nil {
			c.logger.Warn("presenting decision failed", map[string]any{
				"handle": d.Handle,
				"error":  err.Error(),
			})
		}
	}
}

// Navigate starts a new discovery epoch. With CancelOnNavigation set, the
// in-flight item's lookup is interrupted and it is skipped.
func (c *Classifier) Navigate() uint64 {
	epoch := c.queue.ResetEpoch()
	c.collector.IncEpochReset()

	if c.config.CancelOnNavigation {
		c.mu.Lock()
		if c.inflight != nil {
			c.inflight(errNavigated)
		}
		c.mu.Unlock()
	}
	c.logger.Debug("navigation epoch reset", map[string]any{"epoch": epoch})
	return epoch
}

// Classify runs the decision chain for one item. The returned error is
// non-nil only when ctx itself is done.
func (c *Classifier) Classify(ctx context.Context, q discovery.Queued) (types.Decision, error) {
	itemCtx, cancel := context.WithCancelCause(ctx)
	c.mu.Lock()
	c.inflight = cancel
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.inflight = nil
		c.mu.Unlock()
		cancel(nil)
	}()

	d := c.safeDecide(itemCtx, q)
	if err := ctx.Err(); err != nil {
		return types.Decision{}, err
	}

	d.DecisionID = uuid.NewString()
	d.Handle = q.Item.Handle
	d.Epoch = q.Epoch
	d.DecidedAt = c.now().UTC()

	if d.IsMatch() {
		c.collector.IncMatch()
	} else {
		c.collector.IncSkip(string(d.Reason))
	}
	c.logger.Debug("item classified", map[string]any{
		"handle":    d.Handle,
		"epoch":     d.Epoch,
		"label":     d.Label(),
		"permalink": d.Permalink.String(),
	})
	return d, nil
}

func skip(reason types.SkipReason) types.Decision {
	return types.Decision{Disposition: types.DispositionSkip, Reason: reason}
}

// safeDecide turns a panic in an inspector into an "error" skip.
func (c *Classifier) safeDecide(ctx context.Context, q discovery.Queued) (d types.Decision) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("classification panicked", map[string]any{
				"handle": q.Item.Handle,
				"panic":  fmt.Sprint(r),
			})
			d = skip(types.ReasonError)
		}
	}()
	return c.decide(ctx, q)
}

// unresolved marks err as ErrUnresolvedIdentity unless it already is.
func unresolved(err error) error {
	if errors.Is(err, ErrUnresolvedIdentity) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUnresolvedIdentity, err)
}

func (c *Classifier) decide(ctx context.Context, q discovery.Queued) types.Decision {
	item := q.Item

	if c.inspector.IsPlaylist(item) {
		return skip(types.ReasonPlaylist)
	}
	if c.inspector.IsLiked(item) {
		return skip(types.ReasonLiked)
	}

	permalink, err := c.inspector.Permalink(item)
	if err != nil {
		c.logger.Debug("item has no identity", map[string]any{
			"handle": item.Handle,
			"error":  unresolved(err).Error(),
		})
		return skip(types.ReasonNoIdentity)
	}

	entry, err := c.stream.Get(ctx, permalink)
	if err != nil {
		d := c.lookupFailure(ctx, item, permalink, err)
		d.Permalink = permalink
		return d
	}

	d := types.Decision{Permalink: permalink, TrackID: entry.ID, Duration: entry.Duration}

	switch {
	case c.members.Contains(entry.ID):
		d.Disposition, d.Reason = types.DispositionSkip, types.ReasonInCollection
	case c.likedByID(entry.ID):
		d.Disposition, d.Reason = types.DispositionSkip, types.ReasonLiked
	case entry.Duration < c.config.Threshold:
		d.Disposition, d.Reason = types.DispositionSkip, types.ReasonBelowThreshold
	default:
		d.Disposition = types.DispositionMatch
	}
	return d
}

func (c *Classifier) likedByID(id string) bool {
	if c.likes == nil {
		return false
	}
	member, ready := c.likes.TryIsMember(id)
	return ready && member
}

func (c *Classifier) lookupFailure(ctx context.Context, item types.Item, p types.Permalink, err error) types.Decision {
	switch {
	case errors.Is(err, streamstate.ErrLookupExhausted):
		c.collector.IncLookupExhausted()
		c.logger.Warn("stream lookup exhausted", map[string]any{
			"handle":    item.Handle,
			"permalink": p.String(),
			"error":     err.Error(),
		})
		return skip(types.ReasonLookupExhausted)
	case errors.Is(context.Cause(ctx), errNavigated):
		return skip(types.ReasonNavigation)
	case ctx.Err() != nil:
		// The caller checks its own context; this value is discarded.
		return skip(types.ReasonError)
	default:
		c.logger.Error("stream lookup failed", map[string]any{
			"handle":    item.Handle,
			"permalink": p.String(),
			"error":     err.Error(),
		})
		return skip(types.ReasonError)
	}
}
