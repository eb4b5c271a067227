// Package metrics exposes prometheus instrumentation for the settlement
// pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// JobsProcessed counts settlement jobs by name and outcome
	// (ok, skipped, retried, failed).
	JobsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_jobs_processed_total",
			Help: "Total settlement jobs processed by job name and outcome",
		},
		[]string{"job", "outcome"},
	)

	// FailuresTotal counts terminal withdrawal failures by failure type.
	FailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_failures_total",
			Help: "Total terminal withdrawal failures by classified type",
		},
		[]string{"type"},
	)

	// FeeFallbacks counts fee-oracle fallback activations by chain and tier
	// (secondary, static, default).
	FeeFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_fee_fallbacks_total",
			Help: "Total fee estimation fallback activations by chain and tier",
		},
		[]string{"chain", "tier"},
	)

	// TransferDuration observes hot-wallet transfer latency per chain.
	TransferDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "settlement_transfer_duration_seconds",
			Help:    "Latency of hot wallet transfer submissions",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"chain"},
	)

	// QueueDepth tracks the number of delayed jobs awaiting dispatch.
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "settlement_queue_depth",
			Help: "Number of jobs waiting in the settlement queue",
		},
		[]string{"state"},
	)
)

func init() {
	prometheus.MustRegister(
		JobsProcessed,
		FailuresTotal,
		FeeFallbacks,
		TransferDuration,
		QueueDepth,
	)
}
