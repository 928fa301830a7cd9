package lode

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/justapithecus/setscout/log"
	"github.com/justapithecus/setscout/metrics"
	"github.com/justapithecus/setscout/types"
)

// RecorderConfig configures a Recorder.
type RecorderConfig struct {
	// FlushCount flushes after N decisions accumulate. Zero disables it.
	FlushCount int
	// FlushInterval flushes on a timer. Zero disables it.
	FlushInterval time.Duration
	Logger        *log.Logger
	Collector     *metrics.Collector
}

// FlushTrigger identifies which trigger caused a flush.
type FlushTrigger string

const (
	FlushTriggerCount       FlushTrigger = "count"
	FlushTriggerInterval    FlushTrigger = "interval"
	FlushTriggerTermination FlushTrigger = "termination"
)

// ErrRecorderInvalidConfig is returned when neither trigger is set.
var ErrRecorderInvalidConfig = errors.New("invalid recorder config: at least one of FlushCount or FlushInterval must be set")

// Recorder buffers decisions and writes them to a DecisionWriter in batches.
//
// Decisions are never dropped: a failed flush puts the batch back in front
// of anything buffered since, and the next trigger retries it.
//
// mu guards the buffer; flushMu serializes writes so the interval loop and
// the count trigger never write concurrently.
type Recorder struct {
	writer    DecisionWriter
	config    RecorderConfig
	logger    *log.Logger
	collector *metrics.Collector

	mu        sync.Mutex
	buffer    []types.Decision
	persisted int64
	failures  int64
	stopped   bool

	flushMu sync.Mutex
	stopCh  chan struct{}
	done    chan struct{}
}

// NewRecorder creates a recorder and starts its interval loop if configured.
func NewRecorder(writer DecisionWriter, config RecorderConfig) (*Recorder, error) {
	if config.FlushCount <= 0 && config.FlushInterval <= 0 {
		return nil, ErrRecorderInvalidConfig
	}
	logger := config.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	r := &Recorder{
		writer:    writer,
		config:    config,
		logger:    logger.Named("recorder"),
		collector: config.Collector,
		buffer:    make([]types.Decision, 0, 64),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
	if config.FlushInterval > 0 {
		go r.intervalLoop()
	} else {
		close(r.done)
	}
	return r, nil
}

// Present buffers a decision and flushes when the count threshold is hit.
func (r *Recorder) Present(ctx context.Context, d types.Decision) error {
	r.mu.Lock()
	r.buffer = append(r.buffer, d)
	shouldFlush := r.config.FlushCount > 0 && len(r.buffer) >= r.config.FlushCount
	r.mu.Unlock()

	if shouldFlush {
		return r.triggerFlush(ctx, FlushTriggerCount)
	}
	return nil
}

// Flush writes everything buffered. It matches runtime.FlushFunc.
func (r *Recorder) Flush(ctx context.Context) error {
	return r.triggerFlush(ctx, FlushTriggerTermination)
}

// Buffered returns the number of decisions awaiting a write.
func (r *Recorder) Buffered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buffer)
}

// Persisted returns the number of decisions successfully written.
func (r *Recorder) Persisted() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.persisted
}

func (r *Recorder) triggerFlush(ctx context.Context, trigger FlushTrigger) error {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	r.mu.Lock()
	batch := r.buffer
	if len(batch) == 0 {
		r.mu.Unlock()
		return nil
	}
	r.buffer = make([]types.Decision, 0, 64)
	r.mu.Unlock()

	if err := r.writer.WriteDecisions(ctx, batch); err != nil {
		r.mu.Lock()
		r.buffer = append(batch, r.buffer...)
		r.failures++
		r.mu.Unlock()
		r.collector.IncLodeWriteFailure()
		r.logger.Error("decision flush failed", map[string]any{
			"trigger":   string(trigger),
			"decisions": len(batch),
			"error":     err.Error(),
		})
		return err
	}

	r.mu.Lock()
	r.persisted += int64(len(batch))
	r.mu.Unlock()
	r.collector.IncLodeWriteSuccess()
	r.logger.Debug("decision flush", map[string]any{
		"trigger":   string(trigger),
		"decisions": len(batch),
	})
	return nil
}

// Close stops the interval loop and makes a final best-effort flush.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if !r.stopped {
		r.stopped = true
		close(r.stopCh)
	}
	r.mu.Unlock()
	<-r.done

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return r.Flush(ctx)
}

func (r *Recorder) intervalLoop() {
	defer close(r.done)
	ticker := time.NewTicker(r.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if r.Buffered() > 0 {
				// errors are logged and the batch is retried on the next tick
				_ = r.triggerFlush(context.Background(), FlushTriggerInterval)
			}
		case <-r.stopCh:
			return
		}
	}
}
