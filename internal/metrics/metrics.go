// Package metrics provides Prometheus metrics for the sidebar.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without a registry in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors registered by New.
type Metrics struct {
	registry *prometheus.Registry

	eventsPublished *prometheus.CounterVec
	handlerPanics   *prometheus.CounterVec

	refreshes        *prometheus.CounterVec
	refreshesSkipped *prometheus.CounterVec
	scanErrors       prometheus.Counter
	treeNodes        *prometheus.GaugeVec

	watchHandles   prometheus.Gauge
	watchBatches   prometheus.Counter
	watchEventsRaw prometheus.Counter
	gitRepos       prometheus.Gauge
	gitStatusTime  *prometheus.HistogramVec
	jobFailures    *prometheus.CounterVec
}

// New creates a Metrics instance with its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		eventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sidetree_events_published_total",
			Help: "Events published on the bus",
		}, []string{"topic"}),

		handlerPanics: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sidetree_event_handler_panics_total",
			Help: "Event handlers that panicked",
		}, []string{"topic"}),

		refreshes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sidetree_panel_refreshes_total",
			Help: "Panel refreshes run",
		}, []string{"panel"}),

		refreshesSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sidetree_panel_refreshes_skipped_total",
			Help: "Re-entrant panel refreshes skipped while busy",
		}, []string{"panel"}),

		scanErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "sidetree_scan_errors_total",
			Help: "Directory scans that failed and left a node stale",
		}),

		treeNodes: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sidetree_tree_nodes",
			Help: "Nodes loaded per panel tree",
		}, []string{"panel"}),

		watchHandles: f.NewGauge(prometheus.GaugeOpts{
			Name: "sidetree_watch_handles",
			Help: "Open directory watch handles",
		}),

		watchBatches: f.NewCounter(prometheus.CounterOpts{
			Name: "sidetree_watch_batches_total",
			Help: "Coalesced change notifications emitted",
		}),

		watchEventsRaw: f.NewCounter(prometheus.CounterOpts{
			Name: "sidetree_watch_events_raw_total",
			Help: "Raw OS change events received",
		}),

		gitRepos: f.NewGauge(prometheus.GaugeOpts{
			Name: "sidetree_git_repositories",
			Help: "Repositories held by the status cache",
		}),

		gitStatusTime: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sidetree_git_status_duration_seconds",
			Help:    "Time to run and parse git status",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind", "result"}),

		jobFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "sidetree_job_failures_total",
			Help: "External commands that failed or timed out",
		}, []string{"command"}),
	}
}

// Handler returns an HTTP handler serving the registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) EventPublished(topic string) {
	if m != nil {
		m.eventsPublished.WithLabelValues(topic).Inc()
	}
}

func (m *Metrics) HandlerPanicked(topic string) {
	if m != nil {
		m.handlerPanics.WithLabelValues(topic).Inc()
	}
}

func (m *Metrics) RefreshRan(panel string) {
	if m != nil {
		m.refreshes.WithLabelValues(panel).Inc()
	}
}

func (m *Metrics) RefreshSkipped(panel string) {
	if m != nil {
		m.refreshesSkipped.WithLabelValues(panel).Inc()
	}
}

func (m *Metrics) ScanFailed() {
	if m != nil {
		m.scanErrors.Inc()
	}
}

func (m *Metrics) TreeSize(panel string, n int) {
	if m != nil {
		m.treeNodes.WithLabelValues(panel).Set(float64(n))
	}
}

func (m *Metrics) WatchHandles(n int) {
	if m != nil {
		m.watchHandles.Set(float64(n))
	}
}

func (m *Metrics) WatchBatch(raw int) {
	if m != nil {
		m.watchBatches.Inc()
		m.watchEventsRaw.Add(float64(raw))
	}
}

func (m *Metrics) GitRepositories(n int) {
	if m != nil {
		m.gitRepos.Set(float64(n))
	}
}

// GitStatus records one status run. kind is "full" or "path".
func (m *Metrics) GitStatus(kind string, d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.gitStatusTime.WithLabelValues(kind, result).Observe(d.Seconds())
}

func (m *Metrics) JobFailed(command string) {
	if m != nil {
		m.jobFailures.WithLabelValues(command).Inc()
	}
}
