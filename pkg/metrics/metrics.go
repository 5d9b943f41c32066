// Package metrics exposes Prometheus series for the engine's request
// dispatcher and trading activity:
//   - hourglass_requests_total{type}            – dispatched requests, by RequestKind
//   - hourglass_request_latency_seconds{type}   – handler latency, by RequestKind
//   - hourglass_fills_total{instrument,side}     – fills applied to the account
//   - hourglass_liquidations_total{instrument}   – forced closes
//   - hourglass_equity_usd{instrument}           – latest mark-to-market equity snapshot
//
// Registered on the default registry in init() and served wherever the host
// binary mounts promhttp.Handler() at /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hourglass_requests_total",
			Help: "Requests dispatched to the engine, by request kind.",
		},
		[]string{"type"},
	)

	requestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hourglass_request_latency_seconds",
			Help:    "Engine handler latency, by request kind.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	fillsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hourglass_fills_total",
			Help: "Fills applied against the top of book, by instrument and order side.",
		},
		[]string{"instrument", "side"},
	)

	liquidationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hourglass_liquidations_total",
			Help: "Positions force-closed by the liquidation check, by instrument.",
		},
		[]string{"instrument"},
	)

	equityGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hourglass_equity_usd",
			Help: "Latest mark-to-market equity snapshot, by instrument.",
		},
		[]string{"instrument"},
	)
)

func init() {
	prometheus.MustRegister(requestsTotal, requestLatency)
	prometheus.MustRegister(fillsTotal, liquidationsTotal, equityGauge)
}

// ObserveRequest records one dispatched request and its handler latency.
func ObserveRequest(requestType string, seconds float64) {
	requestsTotal.WithLabelValues(requestType).Inc()
	requestLatency.WithLabelValues(requestType).Observe(seconds)
}

// IncFill records one fill against the top of book.
func IncFill(instrument, side string) {
	fillsTotal.WithLabelValues(instrument, side).Inc()
}

// IncLiquidation records one forced close.
func IncLiquidation(instrument string) {
	liquidationsTotal.WithLabelValues(instrument).Inc()
}

// SetEquity records the latest equity snapshot for an instrument.
func SetEquity(instrument string, usd float64) {
	equityGauge.WithLabelValues(instrument).Set(usd)
}
