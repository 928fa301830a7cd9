package cmd

import (
	"context"
	"fmt"

	lodelibrary "github.com/justapithecus/lode/lode"
	"github.com/urfave/cli/v2"

	"github.com/justapithecus/setscout/cli/config"
	"github.com/justapithecus/setscout/cli/reader"
	"github.com/justapithecus/setscout/lode"
	"github.com/justapithecus/setscout/log"
	"github.com/justapithecus/setscout/metrics"
	"github.com/justapithecus/setscout/types"
)

// s3Config builds the lode S3 config from a storage section.
func s3Config(s config.StorageConfig) lode.S3Config {
	bucket, prefix := lode.ParseS3Path(s.Path)
	return lode.S3Config{
		Bucket:       bucket,
		Prefix:       prefix,
		Region:       s.Region,
		Endpoint:     s.Endpoint,
		UsePathStyle: s.S3PathStyle,
	}
}

// openReader resolves storage flags and opens the decision log for reading.
// Read commands default to the fs backend.
func openReader(c *cli.Context) (reader.Reader, error) {
	cfg, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	applyStorageFlags(c, cfg)
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "fs"
	}
	full := cfg.WithDefaults()
	if err := full.Validate(); err != nil {
		return nil, err
	}

	ds, err := openDataset(c.Context, full.Storage)
	if err != nil {
		return nil, err
	}
	return reader.NewLodeReader(ds), nil
}

func openDataset(ctx context.Context, s config.StorageConfig) (lodelibrary.Dataset, error) {
	switch s.Backend {
	case "fs":
		return lode.NewReadDatasetFS(s.Dataset, s.Path)
	case "s3":
		return lode.NewReadDatasetS3(ctx, s.Dataset, s3Config(s))
	default:
		return nil, fmt.Errorf("unknown storage backend: %s (must be fs or s3)", s.Backend)
	}
}

// buildRecorder creates the buffered decision log writer for a session.
// Returns nil when storage is disabled.
func buildRecorder(ctx context.Context, cfg config.Config, session types.SessionMeta, logger *log.Logger, collector *metrics.Collector) (*lode.Recorder, error) {
	s := cfg.Storage
	if s.Backend == "" {
		return nil, nil
	}

	logCfg := lode.Config{Dataset: s.Dataset, Session: session}
	var (
		dl  *lode.DecisionLog
		err error
	)
	switch s.Backend {
	case "fs":
		dl, err = lode.NewDecisionLogFS(logCfg, s.Path)
	case "s3":
		dl, err = lode.NewDecisionLogS3(ctx, logCfg, s3Config(s))
	default:
		return nil, fmt.Errorf("unknown storage backend: %s (must be fs or s3)", s.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open decision log: %w", err)
	}

	return lode.NewRecorder(dl, lode.RecorderConfig{
		FlushCount:    s.FlushCount,
		FlushInterval: s.FlushInterval.Duration,
		Logger:        logger.Named("recorder"),
		Collector:     collector,
	})
}
