package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/justapithecus/setscout/classify"
	"github.com/justapithecus/setscout/log"
	"github.com/justapithecus/setscout/soundcloud"
	"github.com/justapithecus/setscout/streamstate"
)

// Defaults applied by WithDefaults.
const (
	DefaultPlaylistID    = "806754918"
	DefaultDataset       = "setscout"
	DefaultStoragePath   = "./data"
	DefaultFlushCount    = 50
	DefaultFlushInterval = 5 * time.Second
)

// Config represents a setscout.yaml configuration file.
// All values are optional and act as defaults for setscout run flags.
// CLI flags always override config values.
type Config struct {
	ThresholdMinutes   *int              `yaml:"threshold_minutes,omitempty"`
	PlaylistID         string            `yaml:"playlist_id"`
	ClientID           string            `yaml:"client_id,omitempty"`
	APIBaseURL         string            `yaml:"api_base_url"`
	LookupRetries      *int              `yaml:"lookup_retries,omitempty"`
	CancelOnNavigation bool              `yaml:"cancel_on_navigation"`
	UseLikes           *bool             `yaml:"use_likes,omitempty"`
	AutoAppend         bool              `yaml:"auto_append"`
	LogLevel           string            `yaml:"log_level"`
	Interceptor        InterceptorConfig `yaml:"interceptor"`
	Inspector          InspectorConfig   `yaml:"inspector"`
	Storage            StorageConfig     `yaml:"storage"`
	Adapter            AdapterConfig     `yaml:"adapter"`
	Metrics            MetricsConfig     `yaml:"metrics"`
}

// InterceptorConfig describes the subprocess that produces the event stream.
// An empty command means events are read from stdin.
type InterceptorConfig struct {
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`
}

// InspectorConfig overrides the feed markup selectors.
type InspectorConfig struct {
	Playlist string `yaml:"playlist,omitempty"`
	Liked    string `yaml:"liked,omitempty"`
	Link     string `yaml:"link,omitempty"`
}

// StorageConfig configures the decision log. An empty backend disables it.
type StorageConfig struct {
	Dataset       string   `yaml:"dataset"`
	Backend       string   `yaml:"backend"`
	Path          string   `yaml:"path"`
	Region        string   `yaml:"region"`
	Endpoint      string   `yaml:"endpoint"`
	S3PathStyle   bool     `yaml:"s3_path_style"`
	FlushCount    int      `yaml:"flush_count"`
	FlushInterval Duration `yaml:"flush_interval"`
}

// AdapterConfig configures decision publishing. An empty type disables it.
type AdapterConfig struct {
	Type        string            `yaml:"type"`
	URL         string            `yaml:"url"`
	Channel     string            `yaml:"channel,omitempty"`
	Stream      string            `yaml:"stream,omitempty"`
	Headers     map[string]string `yaml:"headers,omitempty"`
	Timeout     Duration          `yaml:"timeout,omitempty"`
	Retries     *int              `yaml:"retries,omitempty"`
	MatchesOnly bool              `yaml:"matches_only"`
}

// MetricsConfig configures the Prometheus endpoint. An empty addr disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML renders the duration in time.Duration string form.
func (d Duration) MarshalYAML() (any, error) {
	if d.Duration == 0 {
		return "", nil
	}
	return d.String(), nil
}

// WithDefaults returns a copy with every unset field filled in.
func (c Config) WithDefaults() Config {
	out := c
	if out.ThresholdMinutes == nil {
		out.ThresholdMinutes = ptr(int(classify.DefaultThreshold / time.Minute))
	}
	if out.PlaylistID == "" {
		out.PlaylistID = DefaultPlaylistID
	}
	if out.APIBaseURL == "" {
		out.APIBaseURL = soundcloud.DefaultBaseURL
	}
	if out.LookupRetries == nil {
		out.LookupRetries = ptr(streamstate.DefaultMaxRetries)
	}
	if out.UseLikes == nil {
		out.UseLikes = ptr(true)
	}
	if out.LogLevel == "" {
		out.LogLevel = "info"
	}
	if out.Storage.Backend != "" {
		if out.Storage.Dataset == "" {
			out.Storage.Dataset = DefaultDataset
		}
		if out.Storage.Path == "" && out.Storage.Backend == "fs" {
			out.Storage.Path = DefaultStoragePath
		}
		if out.Storage.FlushCount == 0 && out.Storage.FlushInterval.Duration == 0 {
			out.Storage.FlushCount = DefaultFlushCount
			out.Storage.FlushInterval = Duration{DefaultFlushInterval}
		}
	}
	return out
}

// Threshold returns the minimum positive-match duration.
func (c *Config) Threshold() time.Duration {
	if c.ThresholdMinutes == nil {
		return classify.DefaultThreshold
	}
	return time.Duration(*c.ThresholdMinutes) * time.Minute
}

// Validate checks the config for values that cannot be run.
// It expects WithDefaults to have been applied.
func (c *Config) Validate() error {
	var errs []error
	if c.ThresholdMinutes != nil && *c.ThresholdMinutes <= 0 {
		errs = append(errs, fmt.Errorf("threshold_minutes must be > 0, got %d", *c.ThresholdMinutes))
	}
	if c.LookupRetries != nil && *c.LookupRetries <= 0 {
		errs = append(errs, fmt.Errorf("lookup_retries must be > 0, got %d", *c.LookupRetries))
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if c.AutoAppend && c.PlaylistID == "" {
		errs = append(errs, errors.New("auto_append requires playlist_id"))
	}

	switch c.Storage.Backend {
	case "", "fs":
	case "s3":
		if c.Storage.Path == "" {
			errs = append(errs, errors.New("storage.path (bucket[/prefix]) is required for s3"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage.backend %q (want fs or s3)", c.Storage.Backend))
	}
	if c.Storage.FlushCount < 0 || c.Storage.FlushInterval.Duration < 0 {
		errs = append(errs, errors.New("storage flush_count and flush_interval must be >= 0"))
	}

	switch c.Adapter.Type {
	case "":
	case "webhook", "redis":
		if c.Adapter.URL == "" {
			errs = append(errs, fmt.Errorf("adapter.url is required for %s", c.Adapter.Type))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown adapter.type %q (want webhook or redis)", c.Adapter.Type))
	}
	if c.Adapter.Stream != "" && c.Adapter.Type != "redis" {
		errs = append(errs, errors.New("adapter.stream requires adapter.type redis"))
	}
	if c.Adapter.Retries != nil && *c.Adapter.Retries < 0 {
		errs = append(errs, fmt.Errorf("adapter.retries must be >= 0, got %d", *c.Adapter.Retries))
	}

	return errors.Join(errs...)
}

func ptr[T any](v T) *T { return &v }
