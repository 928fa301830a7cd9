// Package runtime builds the engine context, feeds it from an event source
// and drives the classification loop.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/justapithecus/setscout/classify"
	"github.com/justapithecus/setscout/credentials"
	"github.com/justapithecus/setscout/discovery"
	"github.com/justapithecus/setscout/likes"
	"github.com/justapithecus/setscout/log"
	"github.com/justapithecus/setscout/membership"
	"github.com/justapithecus/setscout/metrics"
	"github.com/justapithecus/setscout/readiness"
	"github.com/justapithecus/setscout/streamstate"
	"github.com/justapithecus/setscout/types"
)

// ErrNoClientID is returned when the event source ends before a client id
// was intercepted and none was configured.
var ErrNoClientID = errors.New("no client id available")

// EngineConfig holds engine settings.
type EngineConfig struct {
	// Session identifies this engine session.
	Session *types.SessionMeta
	// ClientID, when set, skips waiting for the intercepted client id.
	ClientID string
	// Threshold is the minimum duration of a match.
	Threshold time.Duration
	// LookupRetries is the stream lookup write-cycle cap.
	LookupRetries int
	// CancelOnNavigation interrupts the in-flight lookup on navigation.
	CancelOnNavigation bool
	// UseLikes enables the secondary liked check.
	UseLikes bool
	// AutoAppend adds positive matches to the target collection.
	AutoAppend bool
	// Source is the framed event stream.
	Source io.Reader
}

// EngineDeps are the collaborators injected into the engine.
type EngineDeps struct {
	// Credentials is shared with the API client. A fresh store is used if nil.
	Credentials *credentials.Store
	// Membership loads the target collection.
	Membership membership.Source
	// Confirmer writes the target collection. Required with AutoAppend.
	Confirmer membership.Confirmer
	// Inspector reads facts off discovered items.
	Inspector classify.Inspector
	// Presenter receives every decision. May be nil.
	Presenter classify.Presenter
	// OnReadiness is called on every readiness transition. May be nil.
	OnReadiness func(readiness.Snapshot)
	Logger      *log.Logger
	Collector   *metrics.Collector
}

// Engine is the single context owning every store of one session.
type Engine struct {
	config    EngineConfig
	deps      EngineDeps
	logger    *log.Logger
	collector *metrics.Collector

	stream     *streamstate.Store
	queue      *discovery.Queue
	creds      *credentials.Store
	likes      *likes.Store
	readiness  *readiness.Aggregator
	dispatcher *Dispatcher

	classifier atomic.Pointer[classify.Classifier]
	snapshot   atomic.Pointer[membership.Snapshot]
}

// NewEngine builds every component once.
func NewEngine(cfg EngineConfig, deps EngineDeps) (*Engine, error) {
	if cfg.Session == nil {
		return nil, errors.New("engine session is required")
	}
	if cfg.Source == nil {
		return nil, errors.New("engine event source is required")
	}
	if deps.Membership == nil {
		return nil, errors.New("membership source is required")
	}
	if deps.Inspector == nil {
		return nil, errors.New("inspector is required")
	}
	if cfg.AutoAppend && deps.Confirmer == nil {
		return nil, errors.New("auto append requires a confirmer")
	}
	if deps.Credentials == nil {
		deps.Credentials = credentials.NewStore()
	}
	logger := deps.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	e := &Engine{
		config:    cfg,
		deps:      deps,
		logger:    logger,
		collector: deps.Collector,
		stream:    streamstate.NewStore(streamstate.WithMaxRetries(cfg.LookupRetries)),
		queue:     discovery.NewQueue(),
		creds:     deps.Credentials,
		likes:     likes.NewStore(),
	}
	e.readiness = readiness.New(readiness.Sources(e.creds, e.likes), deps.OnReadiness)
	e.dispatcher = NewDispatcher(
		e.stream, e.creds, e.likes, e.queue, e.Navigate,
		logger.Named("dispatcher"), e.collector,
	)
	return e, nil
}

// Run ingests the event source and classifies discovered items until the
// source ends and the queue drains, a fatal error occurs, or ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	readyCtx, stopReadiness := context.WithCancel(gctx)
	e.readiness.Start(readyCtx)
	defer func() {
		stopReadiness()
		e.readiness.Stop()
	}()

	sourceDone := make(chan struct{})

	g.Go(func() error {
		defer close(sourceDone)
		defer e.stream.Close()
		defer e.queue.Close()
		return e.ingest(gctx)
	})

	g.Go(func() error {
		snap, err := e.loadMembership(gctx, sourceDone)
		if err != nil {
			return err
		}
		c := e.newClassifier(snap)
		e.classifier.Store(c)
		return c.Run(gctx)
	})

	err := g.Wait()
	e.logger.Info("engine stopped", map[string]any{
		"readiness": e.readiness.Summary(),
		"queued":    e.queue.Len(),
		"entries":   e.stream.Len(),
	})
	return err
}

// ingest reads the source until EOF. A blocked read is abandoned when ctx
// ends; closable sources are closed to release it.
func (e *Engine) ingest(ctx context.Context) error {
	ing := NewIngestionEngine(e.config.Source, e.dispatcher, e.logger.Named("ingestion"), e.collector)

	done := make(chan error, 1)
	go func() { done <- ing.Run(ctx) }()

	select {
	case err := <-done:
		if err == nil {
			e.logger.Info("event source ended", map[string]any{
				"page_sessions": ing.Sessions(),
			})
		}
		return err
	case <-ctx.Done():
		if c, ok := e.config.Source.(io.Closer); ok {
			_ = c.Close()
		}
		return &IngestionError{Kind: IngestionErrorCanceled, Err: ctx.Err()}
	}
}

// loadMembership waits for a client id, then loads the target collection.
func (e *Engine) loadMembership(ctx context.Context, sourceDone <-chan struct{}) (*membership.Snapshot, error) {
	if e.config.ClientID == "" {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-e.creds.ClientID.Ready():
		case <-sourceDone:
			if !e.creds.ClientID.IsReady() {
				return nil, &membership.FetchError{Phase: "client_id", Err: ErrNoClientID}
			}
		}
	}

	loader := &membership.Loader{
		Source: e.deps.Membership,
		Logger: e.logger.Named("membership"),
		OnTracks: func(tracks []membership.Track) {
			records := make([]types.StreamRecord, 0, len(tracks))
			for _, t := range tracks {
				records = append(records, types.StreamRecord{Permalink: t.Permalink, ID: t.ID, Duration: t.Duration})
			}
			e.stream.UpsertBatch(records)
			e.collector.AddStreamBatch(len(records))
		},
	}
	snap, err := loader.Load(ctx, e.config.Session.PlaylistID)
	if err != nil {
		e.logger.Error("membership load failed", map[string]any{
			"collection_id": e.config.Session.PlaylistID,
			"error":         err.Error(),
		})
		return nil, fmt.Errorf("initialize membership: %w", err)
	}
	e.snapshot.Store(snap)
	return snap, nil
}

func (e *Engine) newClassifier(snap *membership.Snapshot) *classify.Classifier {
	presenters := classify.Presenters{}
	if e.deps.Presenter != nil {
		presenters = append(presenters, e.deps.Presenter)
	}
	if e.config.AutoAppend {
		presenters = append(presenters, NewAppender(snap, e.deps.Confirmer, e.logger.Named("appender"), e.collector))
	}

	opts := []classify.Option{
		classify.WithLogger(e.logger.Named("classifier")),
		classify.WithMetrics(e.collector),
	}
	if e.config.UseLikes {
		opts = append(opts, classify.WithLikes(e.likes))
	}

	return classify.New(
		classify.Config{
			Threshold:          e.config.Threshold,
			CancelOnNavigation: e.config.CancelOnNavigation,
		},
		e.queue, e.stream, snap, e.deps.Inspector, presenters,
		opts...,
	)
}

// Navigate starts a new discovery epoch. Before the classifier exists only
// the seen set is reset.
func (e *Engine) Navigate() uint64 {
	if c := e.classifier.Load(); c != nil {
		return c.Navigate()
	}
	epoch := e.queue.ResetEpoch()
	e.collector.IncEpochReset()
	return epoch
}

// Readiness returns the current readiness record.
func (e *Engine) Readiness() readiness.Snapshot {
	return e.readiness.Snapshot()
}

// Membership returns the loaded target collection, or nil before it loads.
func (e *Engine) Membership() *membership.Snapshot {
	return e.snapshot.Load()
}

// Stats returns the session counters.
func (e *Engine) Stats() metrics.Snapshot {
	return e.collector.Snapshot()
}
