package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "setscout"

// Exporter exposes a Collector to Prometheus. Values are read from a
// fresh Snapshot on every scrape.
type Exporter struct {
	collector *Collector

	counters      []counterDesc
	droppedByType *prometheus.Desc
	skipsByReason *prometheus.Desc
	info          *prometheus.Desc
}

type counterDesc struct {
	desc  *prometheus.Desc
	value func(Snapshot) int64
}

func newCounter(name, help string, value func(Snapshot) int64) counterDesc {
	return counterDesc{
		desc:  prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, nil, nil),
		value: value,
	}
}

// NewExporter wraps c.
func NewExporter(c *Collector) *Exporter {
	return &Exporter{
		collector: c,
		counters: []counterDesc{
			newCounter("events_received_total", "Events accepted from the source.", func(s Snapshot) int64 { return s.EventsReceived }),
			newCounter("events_dropped_total", "Malformed events dropped.", func(s Snapshot) int64 { return s.EventsDropped }),
			newCounter("ipc_decode_errors_total", "Frame decode errors.", func(s Snapshot) int64 { return s.IPCDecodeErrors }),
			newCounter("interceptor_launch_success_total", "Successful interceptor launches.", func(s Snapshot) int64 { return s.InterceptorLaunchSuccess }),
			newCounter("interceptor_launch_failure_total", "Failed interceptor launches.", func(s Snapshot) int64 { return s.InterceptorLaunchFailure }),
			newCounter("stream_batches_total", "Stream state batch writes.", func(s Snapshot) int64 { return s.StreamBatches }),
			newCounter("stream_records_total", "Stream records written.", func(s Snapshot) int64 { return s.StreamRecords }),
			newCounter("items_discovered_total", "Items queued for classification.", func(s Snapshot) int64 { return s.ItemsDiscovered }),
			newCounter("items_deduped_total", "Items rejected as already seen.", func(s Snapshot) int64 { return s.ItemsDeduped }),
			newCounter("epoch_resets_total", "Navigation epoch resets.", func(s Snapshot) int64 { return s.EpochResets }),
			newCounter("matches_total", "Positive matches.", func(s Snapshot) int64 { return s.Matches }),
			newCounter("skips_total", "Skipped items.", func(s Snapshot) int64 { return s.Skips }),
			newCounter("lookups_exhausted_total", "Stream lookups that hit the retry cap.", func(s Snapshot) int64 { return s.LookupsExhausted }),
			newCounter("publish_success_total", "Successful adapter publishes.", func(s Snapshot) int64 { return s.PublishSuccess }),
			newCounter("publish_failure_total", "Failed adapter publishes.", func(s Snapshot) int64 { return s.PublishFailure }),
			newCounter("lode_write_success_total", "Successful decision log writes.", func(s Snapshot) int64 { return s.LodeWriteSuccess }),
			newCounter("lode_write_failure_total", "Failed decision log writes.", func(s Snapshot) int64 { return s.LodeWriteFailure }),
			newCounter("append_success_total", "Confirmed collection appends.", func(s Snapshot) int64 { return s.AppendSuccess }),
			newCounter("append_failure_total", "Rejected collection appends.", func(s Snapshot) int64 { return s.AppendFailure }),
		},
		droppedByType: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "events_dropped_by_type_total"),
			"Malformed events dropped, by event type.", []string{"type"}, nil),
		skipsByReason: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "skips_by_reason_total"),
			"Skipped items, by reason.", []string{"reason"}, nil),
		info: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "session_info"),
			"Session dimensions.", []string{"session_id", "playlist_id", "storage_backend", "adapter"}, nil),
	}
}

// Describe implements prometheus.Collector.
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	for _, c := range e.counters {
		ch <- c.desc
	}
	ch <- e.droppedByType
	ch <- e.skipsByReason
	ch <- e.info
}

// Collect implements prometheus.Collector.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	s := e.collector.Snapshot()
	for _, c := range e.counters {
		ch <- prometheus.MustNewConstMetric(c.desc, prometheus.CounterValue, float64(c.value(s)))
	}
	for typ, n := range s.DroppedByType {
		ch <- prometheus.MustNewConstMetric(e.droppedByType, prometheus.CounterValue, float64(n), typ)
	}
	for reason, n := range s.SkipsByReason {
		ch <- prometheus.MustNewConstMetric(e.skipsByReason, prometheus.CounterValue, float64(n), reason)
	}
	ch <- prometheus.MustNewConstMetric(e.info, prometheus.GaugeValue, 1,
		s.SessionID, s.PlaylistID, s.StorageBackend, s.Adapter)
}

// Handler returns an HTTP handler serving the collector on its own registry.
func Handler(c *Collector) (http.Handler, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(NewExporter(c)); err != nil {
		return nil, err
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), nil
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string, c *Collector) error {
	h, err := Handler(c)
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
