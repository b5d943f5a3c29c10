// Package metrics exposes Prometheus counters for a simulation run. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/stockflow-dev/stockflow/internal/model"
)

const namespace = "stockflow"

// Metrics holds the run's counters.
type Metrics struct {
	flows        *prometheus.CounterVec
	stock        prometheus.Counter
	bankruptcies *prometheus.CounterVec
	checks       *prometheus.CounterVec
	resets       prometheus.Counter
	periods      prometheus.Counter
}

// New creates the counters and registers them on reg. Use a fresh
// prometheus.NewRegistry() per run so parallel runs stay isolated.
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		flows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "flows_logged_total",
			Help:      "Explicit flows logged, segmented by from/to account kind.",
		}, []string{"from", "to"}),
		stock: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "stock_postings_total",
			Help:      "Implicit Δstock postings made by balance sheets.",
		}),
		bankruptcies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agents",
			Name:      "bankruptcies_total",
			Help:      "Bankruptcy latches raised, segmented by reason.",
		}, []string{"reason"}),
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "consistency_checks_total",
			Help:      "Global consistency checks, segmented by outcome.",
		}, []string{"outcome"}),
		resets: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "resets_total",
			Help:      "Flow ledger resets.",
		}),
		periods: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sim",
			Name:      "periods_total",
			Help:      "Simulated periods completed.",
		}),
	}
	for _, c := range []prometheus.Collector{m.flows, m.stock, m.bankruptcies, m.checks, m.resets, m.periods} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// FlowLogged records one explicit flow.
func (m *Metrics) FlowLogged(from, to model.AccountKind) {
	if m == nil {
		return
	}
	m.flows.WithLabelValues(from.String(), to.String()).Inc()
}

// StockPosted records one implicit Δstock posting.
func (m *Metrics) StockPosted() {
	if m == nil {
		return
	}
	m.stock.Inc()
}

// Bankruptcy records a raised latch.
func (m *Metrics) Bankruptcy(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.bankruptcies.WithLabelValues(reason).Inc()
}

// ConsistencyCheck records the outcome of a global check.
func (m *Metrics) ConsistencyCheck(ok bool) {
	if m == nil {
		return
	}
	outcome := "consistent"
	if !ok {
		outcome = "inconsistent"
	}
	m.checks.WithLabelValues(outcome).Inc()
}

// Reset records a flow ledger reset.
func (m *Metrics) Reset() {
	if m == nil {
		return
	}
	m.resets.Inc()
}

// Period records a completed period.
func (m *Metrics) Period() {
	if m == nil {
		return
	}
	m.periods.Inc()
}
