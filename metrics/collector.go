// Package metrics provides per-session counters for the engine.
//
// The Collector accumulates counters for a single session. It is a leaf
// package with no internal dependencies; event types and skip reasons are
// passed as plain strings.
package metrics

import (
	"maps"
	"sync"
)

// Snapshot is an immutable point-in-time view of all counters.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Ingestion
	EventsReceived  int64
	EventsDropped   int64
	DroppedByType   map[string]int64
	IPCDecodeErrors int64

	// Interceptor
	InterceptorLaunchSuccess int64
	InterceptorLaunchFailure int64

	// Stream state
	StreamBatches int64
	StreamRecords int64

	// Discovery
	ItemsDiscovered int64
	ItemsDeduped    int64
	EpochResets     int64

	// Classification
	Matches          int64
	Skips            int64
	SkipsByReason    map[string]int64
	LookupsExhausted int64

	// Outputs
	PublishSuccess   int64
	PublishFailure   int64
	LodeWriteSuccess int64
	LodeWriteFailure int64
	AppendSuccess    int64
	AppendFailure    int64

	// Dimensions (informational, set at construction)
	StorageBackend string
	Adapter        string
	SessionID      string
	PlaylistID     string
}

// Collector accumulates metrics during a session.
// Thread-safe via sync.Mutex. All increment methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	eventsReceived  int64
	eventsDropped   int64
	droppedByType   map[string]int64
	ipcDecodeErrors int64

	interceptorLaunchSuccess int64
	interceptorLaunchFailure int64

	streamBatches int64
	streamRecords int64

	itemsDiscovered int64
	itemsDeduped    int64
	epochResets     int64

	matches          int64
	skips            int64
	skipsByReason    map[string]int64
	lookupsExhausted int64

	publishSuccess   int64
	publishFailure   int64
	lodeWriteSuccess int64
	lodeWriteFailure int64
	appendSuccess    int64
	appendFailure    int64

	storageBackend string
	adapter        string
	sessionID      string
	playlistID     string
}

// NewCollector creates a Collector with dimension labels.
// Empty dimensions are allowed.
func NewCollector(storageBackend, adapter, sessionID, playlistID string) *Collector {
	return &Collector{
		droppedByType:  make(map[string]int64),
		skipsByReason:  make(map[string]int64),
		storageBackend: storageBackend,
		adapter:        adapter,
		sessionID:      sessionID,
		playlistID:     playlistID,
	}
}

func (c *Collector) add(field *int64, n int64) {
	c.mu.Lock()
	*field += n
	c.mu.Unlock()
}

// --- Ingestion ---

// IncEventReceived records an event accepted from the source.
func (c *Collector) IncEventReceived() {
	if c == nil {
		return
	}
	c.add(&c.eventsReceived, 1)
}

// IncEventDropped records a malformed event that was dropped.
func (c *Collector) IncEventDropped(eventType string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.eventsDropped++
	c.droppedByType[eventType]++
	c.mu.Unlock()
}

// IncIPCDecodeErrors records a frame decode error.
func (c *Collector) IncIPCDecodeErrors() {
	if c == nil {
		return
	}
	c.add(&c.ipcDecodeErrors, 1)
}

// --- Interceptor ---

// IncInterceptorLaunchSuccess records a successful interceptor launch.
func (c *Collector) IncInterceptorLaunchSuccess() {
	if c == nil {
		return
	}
	c.add(&c.interceptorLaunchSuccess, 1)
}

// IncInterceptorLaunchFailure records a failed interceptor launch.
func (c *Collector) IncInterceptorLaunchFailure() {
	if c == nil {
		return
	}
	c.add(&c.interceptorLaunchFailure, 1)
}

// --- Stream state ---

// AddStreamBatch records one batch write of n records.
func (c *Collector) AddStreamBatch(n int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.streamBatches++
	c.streamRecords += int64(n)
	c.mu.Unlock()
}

// --- Discovery ---

// IncItemDiscovered records an item accepted into the queue.
func (c *Collector) IncItemDiscovered() {
	if c == nil {
		return
	}
	c.add(&c.itemsDiscovered, 1)
}

// IncItemDeduped records an item rejected as already seen this epoch.
func (c *Collector) IncItemDeduped() {
	if c == nil {
		return
	}
	c.add(&c.itemsDeduped, 1)
}

// IncEpochReset records a navigation-driven epoch reset.
func (c *Collector) IncEpochReset() {
	if c == nil {
		return
	}
	c.add(&c.epochResets, 1)
}

// --- Classification ---

// IncMatch records a positive match.
func (c *Collector) IncMatch() {
	if c == nil {
		return
	}
	c.add(&c.matches, 1)
}

// IncSkip records a skip with its reason.
func (c *Collector) IncSkip(reason string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.skips++
	c.skipsByReason[reason]++
	c.mu.Unlock()
}

// IncLookupExhausted records a stream lookup that hit the retry cap.
func (c *Collector) IncLookupExhausted() {
	if c == nil {
		return
	}
	c.add(&c.lookupsExhausted, 1)
}

// --- Outputs ---
// Publish and Lode counters are per-call, not per-decision.

// IncPublishSuccess records a successful adapter publish.
func (c *Collector) IncPublishSuccess() {
	if c == nil {
		return
	}
	c.add(&c.publishSuccess, 1)
}

// IncPublishFailure records a failed adapter publish.
func (c *Collector) IncPublishFailure() {
	if c == nil {
		return
	}
	c.add(&c.publishFailure, 1)
}

// IncLodeWriteSuccess records a successful decision log write.
func (c *Collector) IncLodeWriteSuccess() {
	if c == nil {
		return
	}
	c.add(&c.lodeWriteSuccess, 1)
}

// IncLodeWriteFailure records a failed decision log write.
func (c *Collector) IncLodeWriteFailure() {
	if c == nil {
		return
	}
	c.add(&c.lodeWriteFailure, 1)
}

// IncAppendSuccess records a confirmed collection append.
func (c *Collector) IncAppendSuccess() {
	if c == nil {
		return
	}
	c.add(&c.appendSuccess, 1)
}

// IncAppendFailure records a rejected collection append.
func (c *Collector) IncAppendFailure() {
	if c == nil {
		return
	}
	c.add(&c.appendFailure, 1)
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		EventsReceived:  c.eventsReceived,
		EventsDropped:   c.eventsDropped,
		DroppedByType:   maps.Clone(c.droppedByType),
		IPCDecodeErrors: c.ipcDecodeErrors,

		InterceptorLaunchSuccess: c.interceptorLaunchSuccess,
		InterceptorLaunchFailure: c.interceptorLaunchFailure,

		StreamBatches: c.streamBatches,
		StreamRecords: c.streamRecords,

		ItemsDiscovered: c.itemsDiscovered,
		ItemsDeduped:    c.itemsDeduped,
		EpochResets:     c.epochResets,

		Matches:          c.matches,
		Skips:            c.skips,
		SkipsByReason:    maps.Clone(c.skipsByReason),
		LookupsExhausted: c.lookupsExhausted,

		PublishSuccess:   c.publishSuccess,
		PublishFailure:   c.publishFailure,
		LodeWriteSuccess: c.lodeWriteSuccess,
		LodeWriteFailure: c.lodeWriteFailure,
		AppendSuccess:    c.appendSuccess,
		AppendFailure:    c.appendFailure,

		StorageBackend: c.storageBackend,
		Adapter:        c.adapter,
		SessionID:      c.sessionID,
		PlaylistID:     c.playlistID,
	}
}
