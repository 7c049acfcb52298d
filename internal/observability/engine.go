package observability

import "github.com/prometheus/client_golang/prometheus"

// EngineMetrics counts stock movements. A nil *EngineMetrics is a no-op.
type EngineMetrics struct {
	unitsReserved *prometheus.CounterVec
	checkouts     *prometheus.CounterVec
	sweepRows     *prometheus.CounterVec
}

func newEngineMetrics(registerer prometheus.Registerer) *EngineMetrics {
	reserved := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockengine_units_reserved_total",
		Help: "Units linked to sale lines, by assignment source.",
	}, []string{"source"})
	checkouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockengine_checkouts_total",
		Help: "Checkout attempts by outcome.",
	}, []string{"outcome"})
	sweepRows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "stockengine_sweep_rows_total",
		Help: "Rows visited by batch sweeps, by sweep and result.",
	}, []string{"sweep", "result"})
	registerer.MustRegister(reserved, checkouts, sweepRows)
	return &EngineMetrics{unitsReserved: reserved, checkouts: checkouts, sweepRows: sweepRows}
}

// UnitsReserved adds n reserved units for source.
func (m *EngineMetrics) UnitsReserved(source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.unitsReserved.WithLabelValues(source).Add(float64(n))
}

// CheckoutOutcome counts one checkout result such as created, replayed or insufficient_stock.
func (m *EngineMetrics) CheckoutOutcome(outcome string) {
	if m == nil {
		return
	}
	m.checkouts.WithLabelValues(outcome).Inc()
}

// SweepRows adds n rows for a sweep result.
func (m *EngineMetrics) SweepRows(sweep, result string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sweepRows.WithLabelValues(sweep, result).Add(float64(n))
}
