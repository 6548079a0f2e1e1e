package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	ChainAppends   *prometheus.CounterVec
	ChainConflicts prometheus.Counter
	OfflineReplays prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		ChainAppends: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "chronoseal_chain_appends_total",
			Help: "Total number of chain events appended, by event type",
		}, []string{"event_type"}),
		ChainConflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chronoseal_chain_conflicts_total",
			Help: "Total number of appends rejected because the chain tail moved",
		}),
		OfflineReplays: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chronoseal_chain_offline_replays_total",
			Help: "Total number of offline sync appends answered from an existing event",
		}),
	}
}

func (m *Metrics) IncrementAppends(eventType string) {
	m.ChainAppends.WithLabelValues(eventType).Inc()
}

func (m *Metrics) IncrementConflicts() {
	m.ChainConflicts.Inc()
}

func (m *Metrics) IncrementOfflineReplays() {
	m.OfflineReplays.Inc()
}
