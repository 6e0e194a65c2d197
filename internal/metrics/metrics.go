package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	StepsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tradebot_steps_total",
			Help: "Total number of portfolio scheduler steps.",
		},
	)

	TradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradebot_trades_total",
			Help: "Total number of executed trades (by bot).",
		},
		[]string{"bot"},
	)

	PortfolioEquity = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradebot_portfolio_equity",
			Help: "Current total portfolio equity in quote units.",
		},
	)

	ManagerEquity = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tradebot_manager_equity",
			Help: "Current equity per strategy family.",
		},
		[]string{"manager"},
	)

	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradebot_http_requests_total",
			Help: "Total HTTP requests served (by route and status class).",
		},
		[]string{"route", "status"},
	)
)

func init() {
	prometheus.MustRegister(StepsTotal, TradesTotal, PortfolioEquity, ManagerEquity, HTTPRequests)
}
