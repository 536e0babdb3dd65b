package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/nerrad567/qlc-bridge/internal/bridges/qlc"
	"github.com/nerrad567/qlc-bridge/internal/process"
)

// metricsNamespace prefixes every exported Prometheus metric.
const metricsNamespace = "qlcbridge"

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp       string                 `json:"timestamp"`
	Version         string                 `json:"version"`
	UptimeSeconds   int64                  `json:"uptime_seconds"`
	Runtime         RuntimeMetrics         `json:"runtime"`
	WebSocket       WSMetrics              `json:"websocket"`
	MQTT            MQTTMetrics            `json:"mqtt"`
	Controller      qlc.Stats              `json:"controller"`
	Bridge          *qlc.BridgeMetrics     `json:"bridge,omitempty"`
	Classifications *ClassificationMetrics `json:"classifications,omitempty"`
	Process         *process.Stats         `json:"process,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Connected bool `json:"connected"`
}

// ClassificationMetrics describes the persistent classification cache.
type ClassificationMetrics struct {
	Cached int `json:"cached"`
}

// handleMetrics returns comprehensive system metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
		},
		Controller: s.controller.Stats(),
	}

	if s.mqtt != nil {
		metrics.MQTT = MQTTMetrics{Connected: s.mqtt.IsConnected()}
	}
	if s.bridge != nil {
		bm := s.bridge.GetMetrics()
		metrics.Bridge = &bm
	}
	if s.classifications != nil {
		metrics.Classifications = &ClassificationMetrics{Cached: s.classifications.Len()}
	}
	if s.process != nil {
		ps := s.process.Stats()
		metrics.Process = &ps
	}

	writeJSON(w, http.StatusOK, metrics)
}

// newMetricsRegistry builds the registry behind /metrics: Go runtime and
// process collectors plus the controller client's statistics.
func newMetricsRegistry(stats statsSource) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		newClientCollector(stats),
	)
	return reg
}

// statsSource is the part of the controller the collector reads.
type statsSource interface {
	Stats() qlc.Stats
}

// clientCollector exports qlc.Stats, read from the client on every scrape.
type clientCollector struct {
	source statsSource

	connected       *prometheus.Desc
	frames          *prometheus.Desc
	queries         *prometheus.Desc
	replies         *prometheus.Desc
	timeouts        *prometheus.Desc
	pushes          *prometheus.Desc
	dropped         *prometheus.Desc
	errors          *prometheus.Desc
	connects        *prometheus.Desc
	reconnects      *prometheus.Desc
	refreshes       *prometheus.Desc
	refreshFailures *prometheus.Desc
	pending         *prometheus.Desc
	subscribers     *prometheus.Desc
	entities        *prometheus.Desc
}

// Ensure clientCollector implements prometheus.Collector.
var _ prometheus.Collector = (*clientCollector)(nil)

func newClientCollector(source statsSource) *clientCollector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(metricsNamespace, "controller", name), help, labels, nil)
	}
	return &clientCollector{
		source:          source,
		connected:       desc("connected", "1 when the controller connection is up."),
		frames:          desc("frames_total", "Frames exchanged with the controller.", "direction"),
		queries:         desc("queries_total", "Queries sent to the controller."),
		replies:         desc("replies_total", "Query replies received."),
		timeouts:        desc("request_timeouts_total", "Queries that received no reply in time."),
		pushes:          desc("pushes_total", "Status pushes received, by outcome.", "outcome"),
		dropped:         desc("frames_dropped_total", "Inbound frames discarded, by reason.", "reason"),
		errors:          desc("errors_total", "Connection and transport errors."),
		connects:        desc("connects_total", "Successful connections."),
		reconnects:      desc("reconnects_scheduled_total", "Reconnect attempts scheduled."),
		refreshes:       desc("refreshes_total", "Catalog refreshes completed."),
		refreshFailures: desc("refresh_failures_total", "Catalog refreshes that failed."),
		pending:         desc("pending_requests", "Queries awaiting a reply."),
		subscribers:     desc("event_subscribers", "Active event subscriptions."),
		entities:        desc("entities", "Mirrored entities, by kind.", "kind"),
	}
}

// Describe implements prometheus.Collector.
func (c *clientCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.connected, c.frames, c.queries, c.replies, c.timeouts, c.pushes,
		c.dropped, c.errors, c.connects, c.reconnects, c.refreshes,
		c.refreshFailures, c.pending, c.subscribers, c.entities,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *clientCollector) Collect(ch chan<- prometheus.Metric) {
	st := c.source.Stats()

	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}
	counter := func(d *prometheus.Desc, v uint64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}

	connected := 0.0
	if st.Connected {
		connected = 1
	}
	gauge(c.connected, connected)
	counter(c.frames, st.FramesTx, "tx")
	counter(c.frames, st.FramesRx, "rx")
	counter(c.queries, st.QueriesTotal)
	counter(c.replies, st.RepliesTotal)
	counter(c.timeouts, st.RequestTimeouts)
	counter(c.pushes, st.PushesApplied, "applied")
	counter(c.pushes, st.PushesStale, "stale")
	counter(c.dropped, st.EchoesDropped, "echo")
	counter(c.dropped, st.UnrecognizedDropped, "unrecognized")
	counter(c.dropped, st.ParseErrors, "parse_error")
	counter(c.dropped, st.LateRepliesDropped, "late_reply")
	counter(c.errors, st.ErrorsTotal)
	counter(c.connects, st.ConnectsTotal)
	counter(c.reconnects, st.ReconnectsScheduled)
	counter(c.refreshes, st.RefreshesTotal)
	counter(c.refreshFailures, st.RefreshFailures)
	gauge(c.pending, float64(st.PendingRequests))
	gauge(c.subscribers, float64(st.Subscribers))
	gauge(c.entities, float64(st.Functions), string(qlc.KindFunction))
	gauge(c.entities, float64(st.Widgets), string(qlc.KindWidget))
}
