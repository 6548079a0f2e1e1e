package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	LedgerEntries   *prometheus.CounterVec
	LedgerConflicts prometheus.Counter
	InvalidChains   prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		LedgerEntries: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "chronoseal_ledger_entries_total",
			Help: "Total number of evidence ledger entries recorded, by event type",
		}, []string{"event_type"}),
		LedgerConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chronoseal_ledger_conflicts_total",
			Help: "Total number of appends rejected because the thread tail moved",
		}),
		InvalidChains: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chronoseal_ledger_invalid_chains_total",
			Help: "Total number of thread validations that found a divergence",
		}),
	}
}

func (m *Metrics) IncrementEntries(eventType string) {
	m.LedgerEntries.WithLabelValues(eventType).Inc()
}

func (m *Metrics) IncrementConflicts() {
	m.LedgerConflicts.Inc()
}

func (m *Metrics) IncrementInvalidChains() {
	m.InvalidChains.Inc()
}
