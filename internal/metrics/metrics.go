// Package metrics exposes the engine's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// CartMutations counts cart writes by operation (add, set, remove,
	// clear, apply_discount, remove_discount).
	CartMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "checkout_engine",
		Subsystem: "cart",
		Name:      "mutations_total",
		Help:      "Cart mutations by operation.",
	}, []string{"op"})

	// CheckoutOutcomes counts commit attempts by outcome (placed, rejected,
	// race_lost, empty, error).
	CheckoutOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "checkout_engine",
		Subsystem: "checkout",
		Name:      "commits_total",
		Help:      "Checkout commit attempts by outcome.",
	}, []string{"outcome"})

	// RaceLosses counts commit-time conditional writes that lost (stock,
	// discount).
	RaceLosses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "checkout_engine",
		Subsystem: "checkout",
		Name:      "race_losses_total",
		Help:      "Conditional writes lost at commit time.",
	}, []string{"kind"})

	// CommitDuration observes the wall time of checkout commits.
	CommitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "checkout_engine",
		Subsystem: "checkout",
		Name:      "commit_duration_seconds",
		Help:      "Wall time of checkout commit transactions.",
		Buckets:   prometheus.DefBuckets,
	})

	// StatusTransitions counts order status transitions by target status.
	StatusTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "checkout_engine",
		Subsystem: "orders",
		Name:      "status_transitions_total",
		Help:      "Order status transitions by target status.",
	}, []string{"to"})

	// StockAdjustments counts manual inventory adjustments.
	StockAdjustments = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "checkout_engine",
		Subsystem: "catalog",
		Name:      "stock_adjustments_total",
		Help:      "Manual stock adjustments applied.",
	})
)

// Handler serves the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
