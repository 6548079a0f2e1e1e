package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	SealOutcomes     *prometheus.CounterVec
	RetriesScheduled prometheus.Counter
	SweepBatches     prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		SealOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "chronoseal_notary_seals_total",
			Help: "Total number of sealing attempts, by outcome",
		}, []string{"outcome"}),
		RetriesScheduled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chronoseal_notary_retries_total",
			Help: "Total number of retries scheduled after transient failures",
		}),
		SweepBatches: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chronoseal_notary_sweeps_total",
			Help: "Total number of notarization sweep passes",
		}),
	}
}

func (m *Metrics) IncrementSeals(outcome string) {
	m.SealOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncrementRetries() {
	m.RetriesScheduled.Inc()
}

func (m *Metrics) IncrementSweeps() {
	m.SweepBatches.Inc()
}
