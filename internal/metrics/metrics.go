package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Append failure reasons.
const (
	FailureQueueFull = "queue_full"
	FailureClosed    = "closed"
	FailureStore     = "store"
)

// Metrics holds the Prometheus collectors for de-identification and the
// audit trail. A nil *Metrics is valid and records nothing.
type Metrics struct {
	Deidentifications   *prometheus.CounterVec
	RedactedItems       *prometheus.CounterVec
	Fallbacks           *prometheus.CounterVec
	AssistedDuration    prometheus.Histogram
	AuditAppended       prometheus.Counter
	AuditAppendFailures *prometheus.CounterVec
	AuditQueueDepth     prometheus.Gauge
	AuditUnreadable     prometheus.Counter
	RetentionRemoved    prometheus.Counter
}

// New creates the collectors and registers them with reg. A nil reg creates
// unregistered collectors, which keeps tests independent of each other.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Deidentifications: f.NewCounterVec(prometheus.CounterOpts{
			Name: "phiguard_deidentifications_total",
			Help: "Total de-identification calls by usage context and path taken",
		}, []string{"context", "path"}),
		RedactedItems: f.NewCounterVec(prometheus.CounterOpts{
			Name: "phiguard_redacted_items_total",
			Help: "Total redacted spans by category",
		}, []string{"category"}),
		Fallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "phiguard_assisted_fallbacks_total",
			Help: "Total assisted redactions that fell back to the deterministic path, by reason",
		}, []string{"reason"}),
		AssistedDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "phiguard_assisted_duration_seconds",
			Help:    "Latency of assisted redaction calls",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		AuditAppended: f.NewCounter(prometheus.CounterOpts{
			Name: "phiguard_audit_appended_total",
			Help: "Total audit events sealed and persisted",
		}),
		AuditAppendFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "phiguard_audit_append_failures_total",
			Help: "Total audit events that could not be persisted, by reason",
		}, []string{"reason"}),
		AuditQueueDepth: f.NewGauge(prometheus.GaugeOpts{
			Name: "phiguard_audit_queue_depth",
			Help: "Audit events waiting to be persisted",
		}),
		AuditUnreadable: f.NewCounter(prometheus.CounterOpts{
			Name: "phiguard_audit_unreadable_total",
			Help: "Total audit files skipped during queries because they could not be opened",
		}),
		RetentionRemoved: f.NewCounter(prometheus.CounterOpts{
			Name: "phiguard_audit_retention_removed_total",
			Help: "Total audit files removed by retention sweeps",
		}),
	}
}

// IncDeidentification counts one de-identification call.
func (m *Metrics) IncDeidentification(context, path string) {
	if m == nil {
		return
	}
	m.Deidentifications.WithLabelValues(context, path).Inc()
}

// AddRedactedItems counts n redacted spans of category.
func (m *Metrics) AddRedactedItems(category string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RedactedItems.WithLabelValues(category).Add(float64(n))
}

// IncFallback counts a fallback to the deterministic path.
func (m *Metrics) IncFallback(reason string) {
	if m == nil {
		return
	}
	m.Fallbacks.WithLabelValues(reason).Inc()
}

// ObserveAssisted records the latency of one assisted call.
func (m *Metrics) ObserveAssisted(d time.Duration) {
	if m == nil {
		return
	}
	m.AssistedDuration.Observe(d.Seconds())
}

// IncAppended counts a persisted audit event.
func (m *Metrics) IncAppended() {
	if m == nil {
		return
	}
	m.AuditAppended.Inc()
}

// IncAppendFailure counts an audit event that was not persisted.
func (m *Metrics) IncAppendFailure(reason string) {
	if m == nil {
		return
	}
	m.AuditAppendFailures.WithLabelValues(reason).Inc()
}

// SetQueueDepth reports the emitter backlog.
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.AuditQueueDepth.Set(float64(n))
}

// AddUnreadable counts audit files skipped by a query.
func (m *Metrics) AddUnreadable(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.AuditUnreadable.Add(float64(n))
}

// AddRetentionRemoved counts files deleted by a sweep.
func (m *Metrics) AddRetentionRemoved(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RetentionRemoved.Add(float64(n))
}
