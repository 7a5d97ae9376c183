package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"topicgrader/domain/core/valueobjects"
)

// Collector holds all Prometheus metrics for the grader
type Collector struct {
	registry *prometheus.Registry

	// Grading metrics
	QAPairs         *prometheus.CounterVec
	ScoringDuration *prometheus.HistogramVec
	ScoringResults  *prometheus.CounterVec

	// Session metrics
	ActiveSessions  prometheus.Gauge
	ExpiredSessions prometheus.Counter

	// Store metrics
	StoreOperations *prometheus.CounterVec
}

// NewCollector creates a collector with its own registry so that several
// instances can coexist in tests
func NewCollector(namespace string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		QAPairs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "qa_pairs_total",
				Help:      "Q&A pairs added, by how they related to the tree",
			},
			[]string{"relationship"},
		),
		ScoringDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "scoring_duration_seconds",
				Help:      "Time spent in the scoring strategy",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"strategy"},
		),
		ScoringResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scoring_results_total",
				Help:      "Scoring attempts, by strategy and whether the default score was used",
			},
			[]string{"strategy", "outcome"},
		),
		ActiveSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sessions_active",
				Help:      "Sessions currently held in memory",
			},
		),
		ExpiredSessions: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_expired_total",
				Help:      "Sessions removed by the expiry sweep",
			},
		),
		StoreOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_operations_total",
				Help:      "Tree store operations, by operation and status",
			},
			[]string{"operation", "status"},
		),
	}

	c.registry.MustRegister(
		c.QAPairs,
		c.ScoringDuration,
		c.ScoringResults,
		c.ActiveSessions,
		c.ExpiredSessions,
		c.StoreOperations,
	)
	return c
}

// Registry exposes the registry for gathering
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the metrics in the Prometheus text format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// QAPairAdded counts a pair by relationship type
func (c *Collector) QAPairAdded(relationship valueobjects.RelationshipType) {
	c.QAPairs.WithLabelValues(string(relationship)).Inc()
}

// ObserveScoring records one scoring attempt
func (c *Collector) ObserveScoring(strategy string, elapsed time.Duration, fallback bool) {
	c.ScoringDuration.WithLabelValues(strategy).Observe(elapsed.Seconds())
	outcome := "scored"
	if fallback {
		outcome = "fallback"
	}
	c.ScoringResults.WithLabelValues(strategy, outcome).Inc()
}

// SessionsActive sets the in-memory session gauge
func (c *Collector) SessionsActive(count int) {
	c.ActiveSessions.Set(float64(count))
}

// SessionsExpired counts swept sessions
func (c *Collector) SessionsExpired(count int) {
	c.ExpiredSessions.Add(float64(count))
}

// PersistenceOp counts a store call
func (c *Collector) PersistenceOp(operation string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	c.StoreOperations.WithLabelValues(operation, status).Inc()
}
