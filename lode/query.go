package lode

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/justapithecus/lode/lode"
)

// ErrNoDecisionsFound is returned when no stored decision passes the filter.
var ErrNoDecisionsFound = errors.New("no decision records found")

// NewReadDataset opens a decision dataset with the write-path layout and codec.
func NewReadDataset(dataset string, factory lode.StoreFactory) (lode.Dataset, error) {
	return lode.NewDataset(
		lode.DatasetID(dataset),
		factory,
		lode.WithHiveLayout(partitionKeys...),
		lode.WithCodec(lode.NewJSONLCodec()),
	)
}

// NewReadDatasetFS opens a decision dataset on the local filesystem.
func NewReadDatasetFS(dataset, root string) (lode.Dataset, error) {
	return NewReadDataset(dataset, lode.NewFSFactory(root))
}

// NewReadDatasetS3 opens a decision dataset on S3.
func NewReadDatasetS3(ctx context.Context, dataset string, s3cfg S3Config) (lode.Dataset, error) {
	factory, err := newS3Factory(ctx, s3cfg)
	if err != nil {
		return nil, err
	}
	return NewReadDataset(dataset, factory)
}

// DecisionFilter narrows a query. Empty fields match everything.
type DecisionFilter struct {
	SessionID   string
	Disposition string
	Day         string
	// Limit caps the number of records returned. Zero means no limit.
	Limit int
}

// QueryDecisions reads stored decisions, oldest snapshot first.
// Manifest paths are a coarse pre-filter; record fields are authoritative.
// A decision id seen in more than one snapshot is returned once.
func QueryDecisions(ctx context.Context, ds lode.Dataset, f DecisionFilter) ([]DecisionRecord, error) {
	snapshots, err := ds.Snapshots(ctx)
	if err != nil {
		return nil, WrapReadError(err, string(ds.ID())+"/snapshots")
	}

	var out []DecisionRecord
	seen := make(map[string]struct{})
	for _, snap := range snapshots {
		if !snapshotMatchesFilter(snap, "session_id", f.SessionID) ||
			!snapshotMatchesFilter(snap, "disposition", f.Disposition) ||
			!snapshotMatchesFilter(snap, "day", f.Day) {
			continue
		}

		data, err := ds.Read(ctx, snap.ID)
		if err != nil {
			return nil, WrapReadError(err, fmt.Sprintf("%s/snapshot/%s", ds.ID(), snap.ID))
		}
		for _, item := range data {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			rec := recordFromMap(m)
			if !f.matches(rec) {
				continue
			}
			if rec.DecisionID != "" {
				if _, dup := seen[rec.DecisionID]; dup {
					continue
				}
				seen[rec.DecisionID] = struct{}{}
			}
			out = append(out, rec)
			if f.Limit > 0 && len(out) >= f.Limit {
				return out, nil
			}
		}
	}

	if len(out) == 0 {
		return nil, ErrNoDecisionsFound
	}
	return out, nil
}

func (f DecisionFilter) matches(r DecisionRecord) bool {
	return (f.SessionID == "" || r.SessionID == f.SessionID) &&
		(f.Disposition == "" || r.Disposition == f.Disposition) &&
		(f.Day == "" || r.Day == f.Day)
}

// snapshotMatchesFilter reports whether any file in the snapshot sits under
// key=value. An empty value matches every snapshot.
func snapshotMatchesFilter(snap *lode.Snapshot, key, value string) bool {
	if value == "" {
		return true
	}
	for _, f := range snap.Manifest.Files {
		if matchesPartitionValue(f.Path, key, value) {
			return true
		}
	}
	return false
}

// matchesPartitionValue checks for an exact key=value path segment, so
// session_id=s-1 does not match session_id=s-10.
func matchesPartitionValue(path, key, value string) bool {
	segment := key + "=" + value
	for _, part := range strings.Split(path, "/") {
		if part == segment {
			return true
		}
	}
	return false
}
