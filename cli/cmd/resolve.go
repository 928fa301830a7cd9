package cmd

import (
	"time"

	"github.com/urfave/cli/v2"

	"github.com/justapithecus/setscout/cli/config"
)

// loadConfig reads --config when set. A missing flag yields an empty config.
func loadConfig(c *cli.Context) (*config.Config, error) {
	path := c.String("config")
	if path == "" {
		return &config.Config{}, nil
	}
	return config.Load(path)
}

// configVal extracts a value from a possibly nil config.
func configVal[T any](cfg *config.Config, get func(*config.Config) T) T {
	var zero T
	if cfg == nil {
		return zero
	}
	return get(cfg)
}

// resolveString returns the flag when set on the command line, else the
// config value, else the flag default.
func resolveString(c *cli.Context, name, configValue string) string {
	if c.IsSet(name) || configValue == "" {
		return c.String(name)
	}
	return configValue
}

func resolveInt(c *cli.Context, name string, configValue int) int {
	if c.IsSet(name) || configValue == 0 {
		return c.Int(name)
	}
	return configValue
}

func resolveBool(c *cli.Context, name string, configValue bool) bool {
	if c.IsSet(name) {
		return c.Bool(name)
	}
	return configValue || c.Bool(name)
}

func resolveDuration(c *cli.Context, name string, configValue time.Duration) time.Duration {
	if c.IsSet(name) || configValue == 0 {
		return c.Duration(name)
	}
	return configValue
}

// resolveIntPtr keeps an explicit config zero distinct from an unset value.
func resolveIntPtr(c *cli.Context, name string, configValue *int) *int {
	if c.IsSet(name) {
		v := c.Int(name)
		return &v
	}
	return configValue
}

// applyStorageFlags merges storage flags over the file config.
func applyStorageFlags(c *cli.Context, cfg *config.Config) {
	s := &cfg.Storage
	s.Backend = resolveString(c, "storage-backend", s.Backend)
	s.Path = resolveString(c, "storage-path", s.Path)
	s.Dataset = resolveString(c, "storage-dataset", s.Dataset)
	s.Region = resolveString(c, "storage-region", s.Region)
	s.Endpoint = resolveString(c, "storage-endpoint", s.Endpoint)
	s.S3PathStyle = resolveBool(c, "storage-s3-path-style", s.S3PathStyle)
}
