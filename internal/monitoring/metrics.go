package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	RunsTotal         *prometheus.CounterVec
	CandidatesTotal   *prometheus.CounterVec
	BlocksTotal       *prometheus.CounterVec
	EnrichmentsTotal  *prometheus.CounterVec
	ProxyFailures     prometheus.Counter
	RecordsSaved      *prometheus.CounterVec
	ActiveRuns        prometheus.Gauge
	CandidateDuration prometheus.Histogram
	RunDuration       prometheus.Histogram

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics registers every collector on reg. Tests pass a fresh
// prometheus.NewRegistry().
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_runs_total",
			Help: "Crawl runs by outcome.",
		}, []string{"outcome"}), // completed, no_results, blocked, cancelled, failed
		CandidatesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_candidates_total",
			Help: "Candidates processed by result.",
		}, []string{"result"}), // extracted, fallback, filtered
		BlocksTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_blocks_total",
			Help: "Block verdicts by kind.",
		}, []string{"kind"}),
		EnrichmentsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_enrichments_total",
			Help: "Website enrichment fetches by result.",
		}, []string{"result"}), // found, empty
		ProxyFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "harvester_proxy_failures_total",
			Help: "Runs whose proxy was marked failed.",
		}),
		RecordsSaved: f.NewCounterVec(prometheus.CounterOpts{
			Name: "harvester_records_saved_total",
			Help: "Records written to the store.",
		}, []string{"op"}), // inserted, updated, error
		ActiveRuns: f.NewGauge(prometheus.GaugeOpts{
			Name: "harvester_active_runs",
			Help: "Runs currently executing.",
		}),
		CandidateDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "harvester_candidate_duration_seconds",
			Help:    "Time spent per candidate, enrichment included.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 45},
		}),
		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "harvester_run_duration_seconds",
			Help:    "Wall time of whole runs.",
			Buckets: []float64{10, 30, 60, 120, 300, 600, 1200, 1800},
		}),
		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
	}
}

func (m *Metrics) IncRun(outcome string) {
	m.RunsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncCandidate(result string) {
	m.CandidatesTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) IncBlock(kind string) {
	m.BlocksTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncEnrichment(found bool) {
	result := "empty"
	if found {
		result = "found"
	}
	m.EnrichmentsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) AddSaved(inserted, updated, failed int) {
	m.RecordsSaved.WithLabelValues("inserted").Add(float64(inserted))
	m.RecordsSaved.WithLabelValues("updated").Add(float64(updated))
	m.RecordsSaved.WithLabelValues("error").Add(float64(failed))
}
