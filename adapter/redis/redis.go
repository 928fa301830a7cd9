// Package redis publishes decision events to Redis.
//
// Every event is PUBLISHed as JSON on a pub/sub channel for live
// listeners. When a stream is configured the same event is also appended
// with XADD, so consumers that connect later can read the session's
// history. Both commands go out in one pipeline.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/justapithecus/setscout/adapter"
)

// Defaults applied by New.
const (
	DefaultChannel    = "setscout:decisions"
	DefaultTimeout    = 5 * time.Second
	DefaultRetries    = 3
	DefaultBackoff    = 500 * time.Millisecond
	DefaultMaxBackoff = 10 * time.Second
)

// Stream entry fields.
const (
	FieldEventType = "event_type"
	FieldSessionID = "session_id"
	FieldKey       = "key"
	FieldPayload   = "payload"
)

// Config configures the Redis adapter.
type Config struct {
	// URL is the connection URL (required):
	// redis://[:password@]host:port[/db]
	URL string
	// Channel is the pub/sub channel.
	Channel string
	// Stream, when set, also appends every event to this stream.
	Stream string
	// StreamMaxLen trims the stream to about this many entries; 0 keeps all.
	StreamMaxLen int64
	// Timeout bounds one pipeline round trip.
	Timeout time.Duration
	// Retries is the number of attempts after the first.
	Retries int
	// Backoff is the delay before the first retry; it doubles per retry
	// up to MaxBackoff.
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// Adapter publishes events through one Redis client.
type Adapter struct {
	channel      string
	stream       string
	streamMaxLen int64
	timeout      time.Duration
	backoff      adapter.Backoff
	client       *goredis.Client
}

// New creates a Redis adapter. The connection is opened lazily.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis adapter requires a URL")
	}
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis adapter: invalid URL: %w", err)
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}
	if cfg.StreamMaxLen < 0 {
		return nil, fmt.Errorf("stream max length must be >= 0, got %d", cfg.StreamMaxLen)
	}
	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultMaxBackoff
	}

	return &Adapter{
		channel:      cfg.Channel,
		stream:       cfg.Stream,
		streamMaxLen: cfg.StreamMaxLen,
		timeout:      cfg.Timeout,
		backoff:      adapter.Backoff{Retries: cfg.Retries, Initial: cfg.Backoff, Max: cfg.MaxBackoff},
		client:       goredis.NewClient(opts),
	}, nil
}

// Publish sends event, retrying per the adapter's backoff. A closed
// client is not retried.
func (a *Adapter) Publish(ctx context.Context, event *adapter.Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}
	if err := a.backoff.Retry(ctx, func(ctx context.Context) error {
		return a.send(ctx, event, body)
	}); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	return nil
}

func (a *Adapter) send(ctx context.Context, event *adapter.Event, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	_, err := a.client.Pipelined(ctx, func(p goredis.Pipeliner) error {
		p.Publish(ctx, a.channel, body)
		if a.stream != "" {
			p.XAdd(ctx, a.streamArgs(event, body))
		}
		return nil
	})
	if errors.Is(err, goredis.ErrClosed) {
		return fmt.Errorf("%w: %w", adapter.ErrPermanent, err)
	}
	return err
}

func (a *Adapter) streamArgs(event *adapter.Event, body []byte) *goredis.XAddArgs {
	args := &goredis.XAddArgs{
		Stream: a.stream,
		Values: []any{
			FieldEventType, event.EventType,
			FieldSessionID, event.SessionID,
			FieldKey, event.Key(),
			FieldPayload, string(body),
		},
	}
	if a.streamMaxLen > 0 {
		args.MaxLen = a.streamMaxLen
		args.Approx = true
	}
	return args
}

// Close closes the client.
func (a *Adapter) Close() error {
	return a.client.Close()
}

var _ adapter.Adapter = (*Adapter)(nil)
