package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesTotal tracks data messages persisted per collection
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_messages_total",
			Help: "Total number of data messages written to the output sink",
		},
		[]string{"collection"},
	)

	// RateLimitedTotal tracks messages the stream reported as skipped
	RateLimitedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_rate_limited_messages_total",
			Help: "Total number of messages skipped by the remote side due to rate limiting",
		},
		[]string{"collection"},
	)

	// ControlMessagesTotal tracks non-data frames by kind
	ControlMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_control_messages_total",
			Help: "Total number of control frames received (rate_limit, warning, disconnect)",
		},
		[]string{"collection", "kind"},
	)

	// MalformedFramesTotal tracks frames that failed to decode
	MalformedFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_malformed_frames_total",
			Help: "Total number of frames that were not valid JSON objects",
		},
		[]string{"collection"},
	)

	// ReconnectsTotal tracks backoff entries by failure kind
	ReconnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_reconnects_total",
			Help: "Total number of reconnect backoffs by failure kind",
		},
		[]string{"collection", "kind"},
	)

	// BackoffSeconds tracks the delays slept before reconnecting
	BackoffSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "collector_backoff_seconds",
			Help:    "Backoff delay before a reconnect attempt in seconds",
			Buckets: []float64{0.25, 1, 4, 16, 60, 120, 240, 320},
		},
		[]string{"collection", "kind"},
	)

	// WorkerState exposes the stream client state (1 for the current state)
	WorkerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "collector_worker_state",
			Help: "Current stream client state, 1 for the active state",
		},
		[]string{"collection", "state"},
	)

	// WorkerStartsTotal tracks worker launches by the supervisor
	WorkerStartsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_worker_starts_total",
			Help: "Total number of stream workers started",
		},
		[]string{"collection"},
	)

	// WorkerExitsTotal tracks worker terminations by outcome
	WorkerExitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_worker_exits_total",
			Help: "Total number of stream workers terminated by outcome",
		},
		[]string{"collection", "outcome"},
	)

	// ControlStoreErrorsTotal tracks failed control store operations
	ControlStoreErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_control_store_errors_total",
			Help: "Total number of failed control store operations",
		},
		[]string{"operation"},
	)

	// OutputFilesCreated tracks new bucket files
	OutputFilesCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_output_files_created_total",
			Help: "Total number of output bucket files created",
		},
		[]string{"collection"},
	)

	// OutputFilesPruned tracks bucket files removed by retention
	OutputFilesPruned = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collector_output_files_pruned_total",
			Help: "Total number of output bucket files deleted by the retention pruner",
		},
		[]string{"collection"},
	)
)

// DBConnectionPoolUsage tracks the control store connection pool usage
var DBConnectionPoolUsage = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "collector_db_connection_pool_usage_percent",
		Help: "Open connections as a percentage of the control store pool size",
	},
)
