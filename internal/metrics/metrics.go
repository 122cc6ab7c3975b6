// Package metrics exposes the engine's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog/log"
)

// Registry holds all Prometheus metrics for the trading engine.
type Registry struct {
	reg *prometheus.Registry

	// Execution metrics
	FillsTotal       *prometheus.CounterVec
	OrdersTotal      *prometheus.CounterVec
	OrderDuration    prometheus.Histogram
	OpenPositions    prometheus.Gauge
	KillSwitchTrips  prometheus.Counter
	KillSwitchActive prometheus.Gauge

	// Risk metrics
	VetoesTotal  *prometheus.CounterVec
	BreakerState *prometheus.GaugeVec
	Equity       prometheus.Gauge
	DrawdownPct  prometheus.Gauge

	// Allocation metrics
	Rebalances    prometheus.Counter
	ArmAllocation *prometheus.GaugeVec
	Confidence    prometheus.Gauge
	RegimeActive  *prometheus.GaugeVec
}

// NewRegistry creates a registry with every engine metric registered.
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		FillsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quanthelm_fills_total",
				Help: "Total number of filled orders by side",
			},
			[]string{"side"},
		),

		OrdersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quanthelm_orders_total",
				Help: "Total number of orders by terminal state",
			},
			[]string{"state"},
		),

		OrderDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "quanthelm_order_execution_seconds",
				Help:    "Wall time from proposal receipt to terminal order state",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
			},
		),

		OpenPositions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "quanthelm_open_positions",
				Help: "Number of currently open positions",
			},
		),

		KillSwitchTrips: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "quanthelm_kill_switch_trips_total",
				Help: "Total number of kill switch activations",
			},
		),

		KillSwitchActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "quanthelm_kill_switch_active",
				Help: "Whether the kill switch is currently active (0 or 1)",
			},
		),

		VetoesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quanthelm_vetoes_total",
				Help: "Total number of trade vetoes by severity",
			},
			[]string{"severity"},
		),

		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "quanthelm_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=half_open, 2=open)",
			},
			[]string{"breaker"},
		),

		Equity: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "quanthelm_equity",
				Help: "Current account equity in quote currency",
			},
		),

		DrawdownPct: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "quanthelm_drawdown_percent",
				Help: "Current drawdown from peak equity in percent",
			},
		),

		Rebalances: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "quanthelm_rebalances_total",
				Help: "Total number of allocation rebalances",
			},
		),

		ArmAllocation: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "quanthelm_arm_allocation_weight",
				Help: "Current capital allocation weight per strategy arm",
			},
			[]string{"strategy"},
		),

		Confidence: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "quanthelm_allocation_confidence",
				Help: "Confidence score of the latest allocation decision",
			},
		),

		RegimeActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "quanthelm_regime_active",
				Help: "Active market regime (1 for the current regime, 0 otherwise)",
			},
			[]string{"regime"},
		),
	}

	r.reg.MustRegister(
		r.FillsTotal,
		r.OrdersTotal,
		r.OrderDuration,
		r.OpenPositions,
		r.KillSwitchTrips,
		r.KillSwitchActive,
		r.VetoesTotal,
		r.BreakerState,
		r.Equity,
		r.DrawdownPct,
		r.Rebalances,
		r.ArmAllocation,
		r.Confidence,
		r.RegimeActive,
	)

	return r
}

// Prometheus returns the underlying registry for HTTP exposition.
func (r *Registry) Prometheus() *prometheus.Registry {
	return r.reg
}

// RecordFill counts a filled order on the given side.
func (r *Registry) RecordFill(side string) {
	r.FillsTotal.WithLabelValues(side).Inc()
	r.OrdersTotal.WithLabelValues("filled").Inc()
}

// RecordOrderOutcome counts a terminal order state other than filled.
func (r *Registry) RecordOrderOutcome(state string) {
	r.OrdersTotal.WithLabelValues(state).Inc()
}

// RecordVeto counts a veto by severity.
func (r *Registry) RecordVeto(severity string) {
	r.VetoesTotal.WithLabelValues(severity).Inc()
}

// RecordBreakerState sets the numeric state gauge for one breaker.
func (r *Registry) RecordBreakerState(breaker, state string) {
	r.BreakerState.WithLabelValues(breaker).Set(breakerStateValue(state))
}

// RecordKillSwitchTrip counts an activation and raises the active gauge.
func (r *Registry) RecordKillSwitchTrip() {
	r.KillSwitchTrips.Inc()
	r.KillSwitchActive.Set(1)
	log.Warn().Msg("kill switch trip recorded")
}

// RecordKillSwitchReset lowers the active gauge after an operator reset.
func (r *Registry) RecordKillSwitchReset() {
	r.KillSwitchActive.Set(0)
}

// RecordEquity updates the equity and drawdown gauges.
func (r *Registry) RecordEquity(equity, drawdownPct float64) {
	r.Equity.Set(equity)
	r.DrawdownPct.Set(drawdownPct)
}

// RecordAllocation updates the per-arm weight gauges and confidence after a
// rebalance. Arms absent from the decision keep their previous gauge value,
// so callers should pass the full weight map.
func (r *Registry) RecordAllocation(weights map[string]float64, confidence float64) {
	r.Rebalances.Inc()
	r.Confidence.Set(confidence)
	for strategy, weight := range weights {
		r.ArmAllocation.WithLabelValues(strategy).Set(weight)
	}
}

// RecordRegime marks one regime as active and clears the others.
func (r *Registry) RecordRegime(active string, all []string) {
	for _, name := range all {
		v := 0.0
		if name == active {
			v = 1.0
		}
		r.RegimeActive.WithLabelValues(name).Set(v)
	}
}

// GaugeValue reads the current value of a gauge, for status reporting.
func GaugeValue(g prometheus.Gauge) float64 {
	m := &dto.Metric{}
	if err := g.Write(m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}

// CounterValue reads the current value of a counter.
func CounterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

func breakerStateValue(state string) float64 {
	switch state {
	case "closed":
		return 0
	case "half_open":
		return 1
	case "open":
		return 2
	default:
		return -1
	}
}
