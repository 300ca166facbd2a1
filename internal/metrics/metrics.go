// Package metrics declares the Prometheus collectors exported on /metrics.
//
// Metrics:
//   - shiryo_sync_runs_total{status} - finished sync runs by final status
//   - shiryo_sync_files_total{outcome} - files processed by outcome
//   - shiryo_sync_run_duration_seconds - wall time of finished sync runs
//   - shiryo_embedding_requests_total{result} - embedding API calls by result
//   - shiryo_embedding_retries_total - embedding calls retried after a transient failure
//   - shiryo_router_decisions_total{tier,target} - routing decisions
//   - shiryo_search_duration_seconds - search latency including query embedding
//   - shiryo_responder_failures_total{responder} - responders that returned an error
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SyncRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shiryo_sync_runs_total",
			Help: "Total number of finished sync runs by status",
		},
		[]string{"status"},
	)

	SyncFiles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shiryo_sync_files_total",
			Help: "Total number of files handled by sync runs by outcome",
		},
		[]string{"outcome"},
	)

	SyncRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shiryo_sync_run_duration_seconds",
			Help:    "Duration of sync runs in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
	)

	EmbeddingRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shiryo_embedding_requests_total",
			Help: "Total number of embedding requests by result",
		},
		[]string{"result"}, // "ok", "retry", "error"
	)

	EmbeddingRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "shiryo_embedding_retries_total",
			Help: "Total number of embedding requests retried after a transient failure",
		},
	)

	RouterDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shiryo_router_decisions_total",
			Help: "Total number of routing decisions by tier and target",
		},
		[]string{"tier", "target"},
	)

	SearchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "shiryo_search_duration_seconds",
			Help:    "Duration of search requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ResponderFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "shiryo_responder_failures_total",
			Help: "Total number of responder invocations that failed",
		},
		[]string{"responder"},
	)
)
