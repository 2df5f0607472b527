package publisher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for audit publishing.
type Metrics struct {
	Persisted       prometheus.Counter
	Dropped         prometheus.Counter
	PersistFailures prometheus.Counter
	CircuitDropped  prometheus.Counter
	CircuitState    prometheus.Gauge
}

// NewMetrics registers the audit publisher metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Persisted: factory.NewCounter(prometheus.CounterOpts{
			Name: "tipline_audit_persisted_total",
			Help: "Total number of audit events successfully persisted",
		}),
		Dropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "tipline_audit_dropped_total",
			Help: "Total number of audit events dropped because the buffer was full",
		}),
		PersistFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "tipline_audit_persist_failures_total",
			Help: "Total number of audit event persistence failures",
		}),
		CircuitDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "tipline_audit_circuit_dropped_total",
			Help: "Total number of audit events dropped while the store circuit was open",
		}),
		CircuitState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "tipline_audit_circuit_state",
			Help: "Audit store circuit state (0=closed, 1=open)",
		}),
	}
}

func (m *Metrics) IncPersisted()       { m.Persisted.Inc() }
func (m *Metrics) IncDropped()         { m.Dropped.Inc() }
func (m *Metrics) IncPersistFailures() { m.PersistFailures.Inc() }
func (m *Metrics) IncCircuitDropped()  { m.CircuitDropped.Inc() }

func (m *Metrics) SetCircuitOpen(open bool) {
	if open {
		m.CircuitState.Set(1)
	} else {
		m.CircuitState.Set(0)
	}
}
