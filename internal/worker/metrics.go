package worker

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts worker activity. All methods are nil-safe so tests can
// run a Worker without a registry.
type Metrics struct {
	jobsProcessed  *prometheus.CounterVec
	scoresUpserted prometheus.Counter
	staleRequeued  prometheus.Counter
}

// NewMetrics registers the worker counters on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		jobsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "feedrank",
			Subsystem: "worker",
			Name:      "jobs_processed_total",
			Help:      "Jobs processed, by type and outcome.",
		}, []string{"type", "result"}),
		scoresUpserted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "feedrank",
			Subsystem: "worker",
			Name:      "scores_upserted_total",
			Help:      "Personalized score rows written.",
		}),
		staleRequeued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "feedrank",
			Subsystem: "worker",
			Name:      "stale_jobs_requeued_total",
			Help:      "In-progress jobs returned to pending by the stale reaper.",
		}),
	}
	reg.MustRegister(m.jobsProcessed, m.scoresUpserted, m.staleRequeued)
	return m
}

func (m *Metrics) JobProcessed(jobType, result string) {
	if m == nil {
		return
	}
	m.jobsProcessed.WithLabelValues(jobType, result).Inc()
}

func (m *Metrics) ScoresUpserted(n int) {
	if m == nil {
		return
	}
	m.scoresUpserted.Add(float64(n))
}

func (m *Metrics) StaleRequeued(n int) {
	if m == nil {
		return
	}
	m.staleRequeued.Add(float64(n))
}
