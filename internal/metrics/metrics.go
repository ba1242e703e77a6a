// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ExchangeRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "torra_exchange_requests_total",
		Help: "Exchange REST requests by endpoint and outcome",
	}, []string{"endpoint", "outcome"})

	ClockResyncs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "torra_clock_resyncs_total",
		Help: "Server time resynchronisations of the signing clock",
	})

	ClockOffset = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "torra_clock_offset_ms",
		Help: "Last measured exchange clock offset in milliseconds",
	})

	RankingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "torra_ranking_duration_seconds",
		Help:    "Wall time of a full ranking pass",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
	})

	RankingSymbolFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "torra_ranking_symbol_failures_total",
		Help: "Symbols whose trailing return could not be computed",
	})

	Decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "torra_decisions_total",
		Help: "Decision verdicts by kind",
	}, []string{"kind"})

	Executions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "torra_executions_total",
		Help: "Order execution cycles by final state",
	}, []string{"state"})

	UnmanagedExposure = promauto.NewCounter(prometheus.CounterOpts{
		Name: "torra_unmanaged_exposure_total",
		Help: "Executions that bought without placing an exit",
	})

	Equity = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "torra_equity_quote",
		Help: "Quote asset free plus locked balance",
	})
)
