package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type poolMetrics struct {
	operations   *prometheus.CounterVec
	liquidations *prometheus.CounterVec
	flashLoans   *prometheus.CounterVec
	borrowerAR   *prometheus.GaugeVec
	lenderAR     *prometheus.GaugeVec
}

var (
	poolMetricsOnce sync.Once
	poolRegistry    *poolMetrics
)

// Pool returns the metrics registry tracking pool operation activity.
func Pool() *poolMetrics {
	poolMetricsOnce.Do(func() {
		poolRegistry = &poolMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendingpool",
				Subsystem: "pool",
				Name:      "operations_total",
				Help:      "Count of pool operations segmented by reserve and kind.",
			}, []string{"reserve", "operation"}),
			liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendingpool",
				Subsystem: "pool",
				Name:      "liquidations_total",
				Help:      "Count of completed liquidations segmented by debt and collateral reserve.",
			}, []string{"debt_reserve", "collateral_reserve"}),
			flashLoans: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendingpool",
				Subsystem: "pool",
				Name:      "flash_loans_total",
				Help:      "Count of flash loan settlements segmented by reserve and mode.",
			}, []string{"reserve", "mode"}),
			borrowerAR: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "lendingpool",
				Subsystem: "pool",
				Name:      "borrower_accrued_rate",
				Help:      "Current borrower accrued-rate coefficient per reserve.",
			}, []string{"reserve"}),
			lenderAR: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "lendingpool",
				Subsystem: "pool",
				Name:      "lender_accrued_rate",
				Help:      "Current lender accrued-rate coefficient per reserve.",
			}, []string{"reserve"}),
		}
		prometheus.MustRegister(
			poolRegistry.operations,
			poolRegistry.liquidations,
			poolRegistry.flashLoans,
			poolRegistry.borrowerAR,
			poolRegistry.lenderAR,
		)
	})
	return poolRegistry
}

// RecordOperation increments the operation counter for the given reserve.
func (m *poolMetrics) RecordOperation(reserve, operation string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(normalize(reserve), normalize(operation)).Inc()
}

// RecordLiquidation increments the liquidation counter for a debt/collateral pair.
func (m *poolMetrics) RecordLiquidation(debtReserve, collateralReserve string) {
	if m == nil {
		return
	}
	m.liquidations.WithLabelValues(normalize(debtReserve), normalize(collateralReserve)).Inc()
}

// RecordFlashLoan increments the flash loan counter for the given mode
// ("repay" or "borrow").
func (m *poolMetrics) RecordFlashLoan(reserve, mode string) {
	if m == nil {
		return
	}
	m.flashLoans.WithLabelValues(normalize(reserve), normalize(mode)).Inc()
}

// SetAccruedRates updates the accrued-rate gauges for a reserve, expressed
// as a float approximation of the fixed-point value scaled by 1e9.
func (m *poolMetrics) SetAccruedRates(reserve string, borrowerAR, lenderAR float64) {
	if m == nil {
		return
	}
	m.borrowerAR.WithLabelValues(normalize(reserve)).Set(borrowerAR)
	m.lenderAR.WithLabelValues(normalize(reserve)).Set(lenderAR)
}

func normalize(s string) string {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
