// Package metrics exposes pipeline metrics in Prometheus format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rezonia/invoice-compliance/internal/queue"
	"github.com/rezonia/invoice-compliance/internal/resilience"
)

const namespace = "compliance"

// Metrics owns a private registry so tests can create many instances
type Metrics struct {
	registry *prometheus.Registry

	jobs        *prometheus.CounterVec
	circuit     *prometheus.GaugeVec
	transitions *prometheus.CounterVec
	outcomes    *prometheus.CounterVec
}

var _ queue.Observer = (*Metrics)(nil)

// New registers the pipeline collectors plus Go runtime collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_total",
			Help:      "Job attempts by outcome.",
		}, []string{"kind", "outcome"}),
		circuit: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_state",
			Help:      "Circuit breaker state: 0 closed, 1 open, 2 half-open.",
		}, []string{"breaker"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_transitions_total",
			Help:      "Circuit breaker state transitions.",
		}, []string{"breaker", "to"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invoice_status_total",
			Help:      "Compliance statuses persisted on invoices.",
		}, []string{"record_kind", "status"}),
	}
	m.registry.MustRegister(
		m.jobs,
		m.circuit,
		m.transitions,
		m.outcomes,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveQueue exports the queue size, read at scrape time
func (m *Metrics) ObserveQueue(size func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_size",
		Help:      "Jobs waiting or in flight.",
	}, func() float64 {
		return float64(size())
	}))
}

// JobFinished counts a job attempt
func (m *Metrics) JobFinished(job queue.Job, outcome queue.Outcome, _ error) {
	m.jobs.WithLabelValues(string(job.Kind), string(outcome)).Inc()
}

// CircuitChanged records a breaker transition; use as a StateChangeFunc
func (m *Metrics) CircuitChanged(name string, _, to resilience.State) {
	m.circuit.WithLabelValues(name).Set(float64(to))
	m.transitions.WithLabelValues(name, to.String()).Inc()
}

// SetCircuit initialises the gauge for a breaker
func (m *Metrics) SetCircuit(name string, state resilience.State) {
	m.circuit.WithLabelValues(name).Set(float64(state))
}

// StatusPersisted counts a terminal or intermediate status write
func (m *Metrics) StatusPersisted(kind, status string) {
	m.outcomes.WithLabelValues(kind, status).Inc()
}
