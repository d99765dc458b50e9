package signalmux

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics for monitoring service.
var (
	// signalsTotal prometheus metric.
	signalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Help:      "Number of signals injected by the engine",
			Name:      "signals_total",
			Namespace: "chainmux",
		},
		[]string{"signal"},
	)
	// subscriberFaults prometheus metric.
	subscriberFaults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Help:      "Number of failed subscriber handler invocations",
			Name:      "subscriber_faults_total",
			Namespace: "chainmux",
		},
		[]string{"event"},
	)
	// forcedFlushes prometheus metric.
	forcedFlushes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Help:      "Number of transaction batches flushed without an accepted block",
			Name:      "forced_flushes_total",
			Namespace: "chainmux",
		},
	)
	// batchSize prometheus metric.
	batchSize = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Help:      "Number of transactions in delivered batches",
			Name:      "batch_size",
			Namespace: "chainmux",
			Buckets:   []float64{0, 1, 5, 10, 50, 100, 500, 1000},
		},
	)
)

func init() {
	prometheus.MustRegister(
		signalsTotal,
		subscriberFaults,
		forcedFlushes,
		batchSize,
	)
}
