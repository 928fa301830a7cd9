package lode

import (
	"context"
	"errors"

	"github.com/justapithecus/lode/lode"

	"github.com/justapithecus/setscout/types"
)

// DefaultDataset is the dataset id decisions are written under.
const DefaultDataset = "setscout"

// Config identifies where and for which session decisions are written.
type Config struct {
	// Dataset is the Lode dataset id. Empty uses DefaultDataset.
	Dataset string
	// Session supplies the session_id partition and the playlist id.
	Session types.SessionMeta
}

func (c Config) dataset() string {
	if c.Dataset == "" {
		return DefaultDataset
	}
	return c.Dataset
}

// DecisionWriter persists a batch of decisions.
type DecisionWriter interface {
	WriteDecisions(ctx context.Context, decisions []types.Decision) error
}

// DecisionLog is an append-only, Lode-backed decision store.
// Each WriteDecisions call produces one snapshot.
type DecisionLog struct {
	dataset lode.Dataset
	config  Config
}

// NewDecisionLogFS creates a decision log rooted at a local directory.
func NewDecisionLogFS(cfg Config, root string) (*DecisionLog, error) {
	return NewDecisionLogWithFactory(cfg, lode.NewFSFactory(root))
}

// NewDecisionLogWithFactory creates a decision log over any store factory.
// Use lode.NewMemoryFactory() in tests.
func NewDecisionLogWithFactory(cfg Config, factory lode.StoreFactory) (*DecisionLog, error) {
	if cfg.Session.SessionID == "" {
		return nil, errors.New("decision log requires a session id")
	}
	ds, err := NewReadDataset(cfg.dataset(), factory)
	if err != nil {
		return nil, WrapInitError(err, cfg.dataset())
	}
	return &DecisionLog{dataset: ds, config: cfg}, nil
}

// NewDecisionLogS3 creates a decision log on an S3 or S3-compatible bucket.
func NewDecisionLogS3(ctx context.Context, cfg Config, s3cfg S3Config) (*DecisionLog, error) {
	factory, err := newS3Factory(ctx, s3cfg)
	if err != nil {
		return nil, err
	}
	return NewDecisionLogWithFactory(cfg, factory)
}

// WriteDecisions writes decisions as a single snapshot.
// An empty batch is a no-op.
func (l *DecisionLog) WriteDecisions(ctx context.Context, decisions []types.Decision) error {
	if len(decisions) == 0 {
		return nil
	}
	records := make([]any, 0, len(decisions))
	for _, d := range decisions {
		records = append(records, toDecisionRecordMap(d, l.config.Session))
	}
	if _, err := l.dataset.Write(ctx, records, lode.Metadata{}); err != nil {
		return WrapWriteError(err, l.config.dataset())
	}
	return nil
}

// Dataset exposes the underlying dataset for queries.
func (l *DecisionLog) Dataset() lode.Dataset {
	return l.dataset
}

var _ DecisionWriter = (*DecisionLog)(nil)
