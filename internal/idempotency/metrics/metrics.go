package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Executions prometheus.Counter
	Replays    prometheus.Counter
	Conflicts  prometheus.Counter
	InFlight   prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		Executions: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chronoseal_idempotency_executions_total",
			Help: "Total number of first executions under an idempotency key",
		}),
		Replays: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chronoseal_idempotency_replays_total",
			Help: "Total number of requests answered from a stored response",
		}),
		Conflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chronoseal_idempotency_conflicts_total",
			Help: "Total number of keys reused with a different payload",
		}),
		InFlight: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chronoseal_idempotency_in_flight_rejections_total",
			Help: "Total number of duplicates rejected while the first execution was running",
		}),
	}
}

func (m *Metrics) IncrementExecutions() { m.Executions.Inc() }
func (m *Metrics) IncrementReplays()    { m.Replays.Inc() }
func (m *Metrics) IncrementConflicts()  { m.Conflicts.Inc() }
func (m *Metrics) IncrementInFlight()   { m.InFlight.Inc() }
