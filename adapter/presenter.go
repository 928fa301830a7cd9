package adapter

import (
	"context"

	"github.com/justapithecus/setscout/log"
	"github.com/justapithecus/setscout/metrics"
	"github.com/justapithecus/setscout/types"
)

// Presenter publishes decisions through an Adapter.
// Publish failures are logged and counted; they never reach the classifier.
type Presenter struct {
	adapter     Adapter
	session     types.SessionMeta
	matchesOnly bool
	logger      *log.Logger
	collector   *metrics.Collector
}

// PresenterOption configures a Presenter.
type PresenterOption func(*Presenter)

// MatchesOnly restricts publishing to positive matches.
func MatchesOnly() PresenterOption {
	return func(p *Presenter) { p.matchesOnly = true }
}

// WithLogger sets the logger for publish failures.
func WithLogger(l *log.Logger) PresenterOption {
	return func(p *Presenter) { p.logger = l }
}

// WithCollector counts publish outcomes.
func WithCollector(c *metrics.Collector) PresenterOption {
	return func(p *Presenter) { p.collector = c }
}

// NewPresenter wraps a for use as a decision presenter.
func NewPresenter(a Adapter, session types.SessionMeta, opts ...PresenterOption) *Presenter {
	p := &Presenter{adapter: a, session: session}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = log.NewNop()
	}
	return p
}

// Present publishes d unless it is filtered out. Always returns nil.
func (p *Presenter) Present(ctx context.Context, d types.Decision) error {
	if p.matchesOnly && !d.IsMatch() {
		return nil
	}
	if err := p.adapter.Publish(ctx, NewDecisionEvent(p.session, d)); err != nil {
		p.collector.IncPublishFailure()
		p.logger.Warn("decision publish failed", map[string]any{
			"handle":      d.Handle,
			"decision_id": d.DecisionID,
			"error":       err.Error(),
		})
		return nil
	}
	p.collector.IncPublishSuccess()
	return nil
}
