package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics represents the collection of all Prometheus metrics
type Metrics struct {
	RecordsMerged    prometheus.Counter
	MalformedRecords prometheus.Counter
	ChangeEvents     *prometheus.CounterVec
	ReportsBuilt     prometheus.Counter
	ReportsDiscarded prometheus.Counter

	ReportsDispatched  *prometheus.CounterVec
	DispatchDuration   *prometheus.HistogramVec
	DispatchesInFlight prometheus.Gauge

	RunsTotal   *prometheus.CounterVec
	RunDuration prometheus.Histogram
}

// NewMetrics creates all pipeline metrics on a fresh registry, so independent
// runs in one process (and tests) never collide on registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{}

	m.RecordsMerged = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "records_merged_total",
		Help: "Total number of canonical records merged",
	})
	m.MalformedRecords = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "records_malformed_total",
		Help: "Total number of raw records rejected as malformed",
	})
	m.ChangeEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "change_events_total",
		Help: "Total number of change events detected",
	}, []string{"type"})
	m.ReportsBuilt = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reports_built_total",
		Help: "Total number of reports built for dispatch",
	})
	m.ReportsDiscarded = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "reports_discarded_total",
		Help: "Total number of reports discarded empty after filtering",
	})

	m.ReportsDispatched = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reports_dispatched_total",
		Help: "Total number of dispatch attempts by channel and final state",
	}, []string{"channel", "state"})
	m.DispatchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dispatch_duration_seconds",
		Help:    "Duration of report deliveries in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"channel"})
	m.DispatchesInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dispatches_in_flight",
		Help: "Number of deliveries currently in flight",
	})

	m.RunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_runs_total",
		Help: "Total number of pipeline runs by status",
	}, []string{"status"})
	m.RunDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "pipeline_run_duration_seconds",
		Help:    "Duration of full pipeline runs in seconds",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	reg.MustRegister(
		m.RecordsMerged,
		m.MalformedRecords,
		m.ChangeEvents,
		m.ReportsBuilt,
		m.ReportsDiscarded,
		m.ReportsDispatched,
		m.DispatchDuration,
		m.DispatchesInFlight,
		m.RunsTotal,
		m.RunDuration,
	)

	return m
}

// Handler returns the HTTP handler exposing reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
