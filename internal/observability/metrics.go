// Package observability holds the Prometheus metrics of the poller and the
// API, plus exporters for runs that end before anything can scrape them.
package observability

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/abschwenker/wps/internal/types"
)

const namespace = "wps_chaines"

// Metrics holds the counters and histograms of the pipeline.
type Metrics struct {
	Units            *prometheus.CounterVec   // labels: model, state
	PolygonsStored   *prometheus.CounterVec   // labels: model, severity
	DownloadDuration *prometheus.HistogramVec // labels: model
	ProcessDuration  *prometheus.HistogramVec // labels: model
	BoundsCacheFills *prometheus.CounterVec   // labels: model
	RunsPurged       prometheus.Counter

	HTTPRequests *prometheus.CounterVec   // labels: route, status
	HTTPDuration *prometheus.HistogramVec // labels: route

	registry *prometheus.Registry
}

func newMetrics() *Metrics {
	return &Metrics{
		Units: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_total",
			Help:      "Prediction-hour units by terminal state.",
		}, []string{"model", "state"}),
		PolygonsStored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polygons_stored_total",
			Help:      "Severity polygons written, by severity class.",
		}, []string{"model", "severity"}),
		DownloadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "download_duration_seconds",
			Help:      "Time to fetch one GRIB2 file from the Datamart.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"model"}),
		ProcessDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "process_duration_seconds",
			Help:      "Scan, classify, vectorize and reproject time per unit.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"model"}),
		BoundsCacheFills: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bounds_cache_fills_total",
			Help:      "Full bounds computations; every other unit reuses a frozen cache.",
		}, []string{"model"}),
		RunsPurged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_runs_purged_total",
			Help:      "Model runs deleted by the retention job.",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "API requests by route pattern and status code.",
		}, []string{"route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "API request latency by route pattern.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Units, m.PolygonsStored, m.DownloadDuration, m.ProcessDuration,
		m.BoundsCacheFills, m.RunsPurged, m.HTTPRequests, m.HTTPDuration,
	}
}

// NewMetrics creates the metrics and registers them with the default
// registry so promhttp.Handler serves them.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting registers with a fresh registry to avoid "already
// registered" panics across tests.
func NewMetricsForTesting() *Metrics {
	m := newMetrics()
	m.registry = prometheus.NewRegistry()
	m.registry.MustRegister(m.collectors()...)
	return m
}

// Gatherer returns the registry the metrics were registered with.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m.registry != nil {
		return m.registry
	}
	return prometheus.DefaultGatherer
}

// The Record and Observe helpers are no-ops on a nil *Metrics.

// RecordUnit counts a unit reaching a terminal state.
func (m *Metrics) RecordUnit(model types.ModelAbbrev, state types.UnitState) {
	if m == nil {
		return
	}
	m.Units.WithLabelValues(string(model), string(state)).Inc()
}

// RecordPolygons counts stored polygons per severity class.
func (m *Metrics) RecordPolygons(model types.ModelAbbrev, polygons []types.SeverityPolygon) {
	if m == nil {
		return
	}
	for _, p := range polygons {
		m.PolygonsStored.WithLabelValues(string(model), p.Severity.String()).Inc()
	}
}

// ObserveDownload records the duration of one file download.
func (m *Metrics) ObserveDownload(model types.ModelAbbrev, d time.Duration) {
	if m == nil {
		return
	}
	m.DownloadDuration.WithLabelValues(string(model)).Observe(d.Seconds())
}

// ObserveProcess records the raster-to-polygon time of one unit.
func (m *Metrics) ObserveProcess(model types.ModelAbbrev, d time.Duration) {
	if m == nil {
		return
	}
	m.ProcessDuration.WithLabelValues(string(model)).Observe(d.Seconds())
}

// RecordBoundsFill counts a full bounds computation.
func (m *Metrics) RecordBoundsFill(model types.ModelAbbrev) {
	if m == nil {
		return
	}
	m.BoundsCacheFills.WithLabelValues(string(model)).Inc()
}

// RecordPurge counts model runs removed by retention.
func (m *Metrics) RecordPurge(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.RunsPurged.Add(float64(n))
}

// RecordRequest records one API request. route is the chi route pattern,
// not the raw path, to keep label cardinality bounded.
func (m *Metrics) RecordRequest(route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(d.Seconds())
}

// Push sends all metrics to a Prometheus Pushgateway under job, grouped by
// run id so concurrent invocations do not overwrite each other.
func (m *Metrics) Push(ctx context.Context, url, job, runID string) error {
	p := push.New(url, job).Gatherer(m.Gatherer())
	if runID != "" {
		p = p.Grouping("run_id", runID)
	}
	if err := p.PushContext(ctx); err != nil {
		return fmt.Errorf("pushing metrics to %s: %w", url, err)
	}
	return nil
}
