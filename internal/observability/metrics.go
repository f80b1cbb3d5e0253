package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the Prometheus collectors for workflows and jobs.
type Metrics struct {
	WorkflowRuns       *prometheus.CounterVec
	WorkflowDuration   *prometheus.HistogramVec
	RecordsScraped     prometheus.Counter
	LowConfidencePages prometheus.Counter
	ResolverConfidence *prometheus.HistogramVec
	JobsProcessed      *prometheus.CounterVec
	JobRetries         prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered, which is convenient in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		WorkflowRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portalpilot",
			Name:      "workflow_runs_total",
			Help:      "Workflow invocations by workflow and outcome.",
		}, []string{"workflow", "outcome"}),
		WorkflowDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "portalpilot",
			Name:      "workflow_duration_seconds",
			Help:      "Wall time of workflow invocations.",
			Buckets:   []float64{1, 2.5, 5, 10, 20, 40, 80, 160},
		}, []string{"workflow"}),
		RecordsScraped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "portalpilot",
			Name:      "records_scraped_total",
			Help:      "Records accepted by scrape runs.",
		}),
		LowConfidencePages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "portalpilot",
			Name:      "low_confidence_pages_total",
			Help:      "Pages whose table profile fell below the confidence threshold.",
		}),
		ResolverConfidence: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "portalpilot",
			Name:      "resolver_confidence",
			Help:      "Overall confidence of resolved profiles.",
			Buckets:   []float64{0.3, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
		}, []string{"kind"}),
		JobsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "portalpilot",
			Name:      "jobs_processed_total",
			Help:      "Jobs finished by type and final status.",
		}, []string{"job_type", "status"}),
		JobRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "portalpilot",
			Name:      "job_retries_total",
			Help:      "Additional attempts made for idempotent jobs.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.WorkflowRuns,
			m.WorkflowDuration,
			m.RecordsScraped,
			m.LowConfidencePages,
			m.ResolverConfidence,
			m.JobsProcessed,
			m.JobRetries,
		)
	}
	return m
}

// Outcome maps a success flag to a metric label value.
func Outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
