// Package metrics provides observability for the traceability module.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the traceability module.
type Metrics struct {
	// Rules created from cases, by policy area
	RulesCreated *prometheus.CounterVec

	// Case-to-rule link operations by kind (created, removed, cleaned)
	LinkOperations *prometheus.CounterVec

	// Integrity issues found in the latest validation pass, by issue type
	IntegrityIssues *prometheus.GaugeVec

	// Audit trail assembly latency
	AuditTrailLatency prometheus.Histogram
}

// New creates a Metrics instance with all traceability metrics registered.
func New() *Metrics {
	return &Metrics{
		RulesCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ruletrace_rules_created_total",
			Help: "Total rules created from cases by policy area",
		}, []string{"policy"}),

		LinkOperations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "ruletrace_link_operations_total",
			Help: "Total case-to-rule link operations by kind",
		}, []string{"kind"}), // kind: "created", "removed", "cleaned"

		IntegrityIssues: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ruletrace_integrity_issues",
			Help: "Issues found by the latest integrity validation pass, by type",
		}, []string{"type"}),

		AuditTrailLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "ruletrace_audit_trail_duration_seconds",
			Help:    "Duration of audit trail assembly including cross-tier fetches",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
	}
}

// IncrementRulesCreated records a rule creation under its policy area.
func (m *Metrics) IncrementRulesCreated(policy string) {
	if m != nil {
		m.RulesCreated.WithLabelValues(policy).Inc()
	}
}

// IncrementLinkOperation records one link mutation.
func (m *Metrics) IncrementLinkOperation(kind string) {
	if m != nil {
		m.LinkOperations.WithLabelValues(kind).Inc()
	}
}

// SetIntegrityIssues records the issue count for one issue type.
func (m *Metrics) SetIntegrityIssues(issueType string, count int) {
	if m != nil {
		m.IntegrityIssues.WithLabelValues(issueType).Set(float64(count))
	}
}

// ObserveAuditTrailLatency records the audit trail assembly duration.
func (m *Metrics) ObserveAuditTrailLatency(d time.Duration) {
	if m != nil {
		m.AuditTrailLatency.Observe(d.Seconds())
	}
}
