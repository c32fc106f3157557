package runtime

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects runtime telemetry on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	transactions  *prometheus.CounterVec
	instructions  *prometheus.CounterVec
	computeUnits  prometheus.Histogram
	lamportsMoved prometheus.Counter
}

// NewMetrics creates a collector. An empty namespace defaults to "tipledger".
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "tipledger"
	}

	m := &Metrics{registry: prometheus.NewRegistry()}

	m.transactions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runtime",
			Name:      "transactions_total",
			Help:      "Total number of processed transactions",
		},
		[]string{"status"},
	)

	m.instructions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runtime",
			Name:      "instructions_total",
			Help:      "Total number of executed instructions by program",
		},
		[]string{"program", "status"},
	)

	m.computeUnits = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "runtime",
			Name:      "compute_units",
			Help:      "Compute units consumed per transaction",
			Buckets:   prometheus.ExponentialBuckets(100, 2, 14), // 100 to ~800k
		},
	)

	m.lamportsMoved = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "runtime",
			Name:      "lamports_moved_total",
			Help:      "Total lamports credited to accounts by committed transactions",
		},
	)

	m.registry.MustRegister(
		m.transactions,
		m.instructions,
		m.computeUnits,
		m.lamportsMoved,
	)
	return m
}

// Registry returns the underlying registry for exposition.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordTransaction records one processed transaction.
func (m *Metrics) RecordTransaction(success bool, computeUnits, lamportsMoved uint64) {
	if m == nil {
		return
	}
	m.transactions.WithLabelValues(statusLabel(success)).Inc()
	m.computeUnits.Observe(float64(computeUnits))
	if success {
		m.lamportsMoved.Add(float64(lamportsMoved))
	}
}

// RecordInstruction records one executed instruction.
func (m *Metrics) RecordInstruction(program string, success bool) {
	if m == nil {
		return
	}
	m.instructions.WithLabelValues(program, statusLabel(success)).Inc()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
