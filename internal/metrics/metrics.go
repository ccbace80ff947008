// Package metrics registers the engine's Prometheus collectors and serves
// them in text exposition format.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OrdersPlaced counts venue order submissions by form and outcome.
	OrdersPlaced = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swapbot_orders_placed_total",
			Help: "Venue orders placed, by order form and outcome",
		},
		[]string{"form", "outcome"}, // form: limit|conditional|market; outcome: accepted|rejected
	)

	// CancelAttempts counts protective-order cancel attempts by result.
	CancelAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swapbot_cancel_attempts_total",
			Help: "Cancel attempts against superseded protective orders",
		},
		[]string{"result"}, // ok|gone|failed|exhausted
	)

	// StopReplacements counts completed updateStop protocols by final form.
	StopReplacements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swapbot_stop_replacements_total",
			Help: "Stop-loss replacement protocols completed, by final order form",
		},
		[]string{"form"},
	)

	// ReconcileTransitions counts state transitions applied by reconciliation.
	ReconcileTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swapbot_reconcile_transitions_total",
			Help: "Order/position transitions applied by the reconciliation loop",
		},
		[]string{"kind"}, // entry_fill|exit_fill|protective|skipped
	)

	// FeedReconnects counts streaming feed reconnections per symbol.
	FeedReconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swapbot_feed_reconnects_total",
			Help: "WebSocket feed reconnect attempts",
		},
		[]string{"feed"},
	)

	// OpenPositions tracks the number of currently open positions.
	OpenPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "swapbot_open_positions",
			Help: "Positions currently open",
		},
	)
)

func init() {
	prometheus.MustRegister(
		OrdersPlaced,
		CancelAttempts,
		StopReplacements,
		ReconcileTransitions,
		FeedReconnects,
		OpenPositions,
	)
}

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
