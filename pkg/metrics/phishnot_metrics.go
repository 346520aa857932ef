// Package metrics exposes Prometheus instruments for the feedback engine.
package metrics

import (
	"database/sql"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "phishnot"

// Metrics groups every instrument. A nil *Metrics is a valid no-op recorder.
type Metrics struct {
	registry *prometheus.Registry

	feedbackDecisions  *prometheus.CounterVec
	validationScore    prometheus.Histogram
	rateLimitDecisions *prometheus.CounterVec
	alertsEmitted      prometheus.Counter
	alertsSuppressed   prometheus.Counter
	patternUpdates     *prometheus.CounterVec
	invariantFailures  prometheus.Counter
	classifications    *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
}

// New registers all instruments on a fresh registry together with the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		feedbackDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feedback_decisions_total",
			Help:      "Feedback submissions by terminal outcome.",
		}, []string{"outcome"}),
		validationScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "validation_score",
			Help:      "Blended validation score of evaluated feedback.",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}),
		rateLimitDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ratelimit_decisions_total",
			Help:      "Rate limiter decisions by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		alertsEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_emitted_total",
			Help:      "Threshold-crossing alerts emitted.",
		}),
		alertsSuppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_suppressed_total",
			Help:      "Threshold crossings suppressed by the user's cooldown.",
		}),
		patternUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pattern_updates_total",
			Help:      "Pattern weight updates by pattern type.",
		}, []string{"pattern_type"}),
		invariantFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invariant_violations_total",
			Help:      "Corrupted rows detected while applying updates.",
		}),
		classifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifications_total",
			Help:      "Recorded classifications by verdict.",
		}, []string{"verdict"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and status.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	reg.MustRegister(
		m.feedbackDecisions,
		m.validationScore,
		m.rateLimitDecisions,
		m.alertsEmitted,
		m.alertsSuppressed,
		m.patternUpdates,
		m.invariantFailures,
		m.classifications,
		m.requestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry is what the /metrics handler serves.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RegisterDB exports database/sql pool statistics.
func (m *Metrics) RegisterDB(db *sql.DB, name string) {
	if m == nil || db == nil {
		return
	}
	m.registry.MustRegister(collectors.NewDBStatsCollector(db, name))
}

func (m *Metrics) FeedbackDecision(outcome string) {
	if m == nil {
		return
	}
	m.feedbackDecisions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ValidationScore(score float64) {
	if m == nil {
		return
	}
	m.validationScore.Observe(score)
}

func (m *Metrics) RateLimitDecision(endpoint, outcome string) {
	if m == nil {
		return
	}
	m.rateLimitDecisions.WithLabelValues(endpoint, outcome).Inc()
}

func (m *Metrics) AlertEmitted() {
	if m == nil {
		return
	}
	m.alertsEmitted.Inc()
}

func (m *Metrics) AlertSuppressed() {
	if m == nil {
		return
	}
	m.alertsSuppressed.Inc()
}

func (m *Metrics) PatternUpdated(patternType string) {
	if m == nil {
		return
	}
	m.patternUpdates.WithLabelValues(patternType).Inc()
}

func (m *Metrics) InvariantViolation() {
	if m == nil {
		return
	}
	m.invariantFailures.Inc()
}

func (m *Metrics) Classification(verdict string) {
	if m == nil {
		return
	}
	m.classifications.WithLabelValues(verdict).Inc()
}

func (m *Metrics) ObserveRequest(method, route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.requestDuration.WithLabelValues(method, route, status).Observe(seconds)
}
