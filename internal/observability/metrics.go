// Package observability provides Prometheus metrics for the receipt
// splitting service. Metrics are registered once at startup and exposed
// on /metrics.
package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tabsplit"

// Claim submission outcomes, used as the "outcome" label.
const (
	OutcomeSuccess      = "success"
	OutcomeConflict     = "conflict"
	OutcomeAvailability = "availability_conflict"
	OutcomeValidation   = "validation"
	OutcomePrecondition = "precondition_failed"
	OutcomeNotFound     = "not_found"
	OutcomeError        = "error"
)

// Metrics holds all Prometheus collectors for the service.
type Metrics struct {
	// HTTPDuration measures request latency by route, method and status.
	HTTPDuration *prometheus.HistogramVec

	// ClaimSubmissions counts claim submissions by outcome.
	ClaimSubmissions *prometheus.CounterVec

	// ReconcileOutcomes counts receipt corrections by method.
	ReconcileOutcomes *prometheus.CounterVec

	// StatusPolls counts claim status reads.
	StatusPolls prometheus.Counter

	// Finalizations counts receipts moved to the claims phase.
	Finalizations prometheus.Counter
}

// New creates and registers all collectors. Passing nil registers with
// the default registry; tests pass their own to stay isolated.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		HTTPDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency by route, method and status",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"route", "method", "status"},
		),
		ClaimSubmissions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "claim_submissions_total",
				Help:      "Claim submissions by outcome",
			},
			[]string{"outcome"},
		),
		ReconcileOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconcile_outcomes_total",
				Help:      "Receipt corrections by method used to reach balance",
			},
			[]string{"method"},
		),
		StatusPolls: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "status_polls_total",
				Help:      "Claim status reads",
			},
		),
		Finalizations: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "finalizations_total",
				Help:      "Receipts locked and opened for claims",
			},
		),
	}
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(route, method string, status int, elapsed time.Duration) {
	m.HTTPDuration.WithLabelValues(route, method, strconv.Itoa(status)).Observe(elapsed.Seconds())
}

// RecordClaim records a claim submission outcome.
func (m *Metrics) RecordClaim(outcome string) {
	m.ClaimSubmissions.WithLabelValues(outcome).Inc()
}

// RecordReconcile records which correction method balanced a receipt.
func (m *Metrics) RecordReconcile(method string) {
	m.ReconcileOutcomes.WithLabelValues(method).Inc()
}

// RecordStatusPoll records one claim status read.
func (m *Metrics) RecordStatusPoll() {
	m.StatusPolls.Inc()
}

// RecordFinalization records a receipt entering the claims phase.
func (m *Metrics) RecordFinalization() {
	m.Finalizations.Inc()
}
