package txmanager

import (
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics counts what the engine does, partitioned by result.
type Metrics struct {
	submissions  *prometheus.CounterVec
	escalations  prometheus.Counter
	replacements *prometheus.CounterVec
	outcomes     *prometheus.CounterVec
	latencies    *prometheus.HistogramVec
}

// NewMetrics registers the engine's collectors with the default registry,
// reusing them if they already are.
func NewMetrics() *Metrics {
	m := &Metrics{
		submissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "txmgr_submissions_total",
				Help: "How many raw transactions were sent, partitioned by result.",
			},
			[]string{"result"}, // Labels.
		),
		escalations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "txmgr_escalations_total",
				Help: "How many resubmissions raised the gas price of a pending transaction.",
			},
		),
		replacements: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "txmgr_replacements_total",
				Help: "How many explicit replacements were requested, partitioned by result.",
			},
			[]string{"result"}, // Labels.
		),
		outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "txmgr_outcomes_total",
				Help: "How many transactions reached each terminal state.",
			},
			[]string{"state"}, // Labels.
		),
		latencies: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "txmgr_resolution_seconds",
				Help:    "Time from handle creation to its terminal state, partitioned by state.",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
			[]string{"state"}, // Labels.
		),
	}
	m.submissions = registerOnce(m.submissions).(*prometheus.CounterVec)
	m.escalations = registerOnce(m.escalations).(prometheus.Counter)
	m.replacements = registerOnce(m.replacements).(*prometheus.CounterVec)
	m.outcomes = registerOnce(m.outcomes).(*prometheus.CounterVec)
	m.latencies = registerOnce(m.latencies).(*prometheus.HistogramVec)
	return m
}

func (m *Metrics) Submission(result string) {
	m.submissions.WithLabelValues(result).Inc()
}

func (m *Metrics) Escalation() {
	m.escalations.Inc()
}

func (m *Metrics) Replacement(result string) {
	m.replacements.WithLabelValues(result).Inc()
}

func (m *Metrics) Outcome(h *TxHandle) {
	state := string(h.state)
	m.outcomes.WithLabelValues(state).Inc()
	m.latencies.WithLabelValues(state).Observe(time.Since(h.createdAt).Seconds())
}

// Registers the collector with Prometheus. If an identical collector is already
// registered, returns the existing collector, otherwise returns the provided collector.
// Panics if the collector cannot be registered.
func registerOnce(collector prometheus.Collector) prometheus.Collector {
	if err := prometheus.Register(collector); err != nil {
		are := &prometheus.AlreadyRegisteredError{}
		if errors.As(err, are) {
			// Use the old collector from now on.
			return are.ExistingCollector
		}
		// Something else went wrong.
		panic(err)
	}
	return collector
}
