// Package observability holds the Prometheus metrics recorded by the service.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/agenthands/caire/internal/core/model"
)

const namespace = "caire"

// Metrics is safe for concurrent use. A nil *Metrics records nothing.
type Metrics struct {
	// validations counts validator runs.
	// Labels: result (valid, invalid)
	validations *prometheus.CounterVec

	// issues counts validation findings.
	// Labels: kind (structural, condition), code
	issues *prometheus.CounterVec

	// testCases counts executed cases.
	// Labels: status (passed, failed, error)
	testCases *prometheus.CounterVec

	suiteRuns       prometheus.Counter
	breakingChanges prometheus.Counter

	// executionDuration measures single case execution time.
	executionDuration prometheus.Histogram

	// compilations counts guideline compilations.
	// Labels: status (completed, failed, rejected)
	compilations *prometheus.CounterVec
}

// NewMetrics registers the metrics with reg. Tests pass a fresh
// prometheus.NewRegistry() so registrations never collide.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		validations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "validation",
			Name:      "runs_total",
			Help:      "Tree validations by result",
		}, []string{"result"}),
		issues: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "validation",
			Name:      "issues_total",
			Help:      "Validation issues by kind and code",
		}, []string{"kind", "code"}),
		testCases: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "test_cases_total",
			Help:      "Executed test cases by status",
		}, []string{"status"}),
		suiteRuns: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "suite_runs_total",
			Help:      "Completed suite runs",
		}),
		breakingChanges: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "breaking_changes_total",
			Help:      "Test cases that passed in the previous run and fail now",
		}),
		executionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "duration_seconds",
			Help:      "Single test case execution time in seconds",
			Buckets:   []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05},
		}),
		compilations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "compiler",
			Name:      "compilations_total",
			Help:      "Guideline compilations by status",
		}, []string{"status"}),
	}
}

func (m *Metrics) RecordValidation(r model.Report) {
	if m == nil {
		return
	}
	result := "invalid"
	if r.Valid {
		result = "valid"
	}
	m.validations.WithLabelValues(result).Inc()
	for _, is := range r.StructuralIssues {
		m.issues.WithLabelValues("structural", is.Code).Inc()
	}
	for _, is := range r.ConditionIssues {
		m.issues.WithLabelValues("condition", is.Code).Inc()
	}
}

func (m *Metrics) RecordResult(r model.TestResult) {
	if m == nil {
		return
	}
	status := "failed"
	switch {
	case r.Error != "":
		status = "error"
	case r.Passed:
		status = "passed"
	}
	m.testCases.WithLabelValues(status).Inc()
	m.executionDuration.Observe(r.Elapsed.Seconds())
}

func (m *Metrics) RecordSuite(s *model.TestSuite) {
	if m == nil || s == nil {
		return
	}
	for _, r := range s.Results {
		m.RecordResult(r)
	}
	m.suiteRuns.Inc()
	m.breakingChanges.Add(float64(len(s.BreakingChanges)))
}

func (m *Metrics) RecordCompilation(status string) {
	if m == nil {
		return
	}
	m.compilations.WithLabelValues(status).Inc()
}
