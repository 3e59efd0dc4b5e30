package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hlsvault_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hlsvault_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Task Metrics
	TasksEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hlsvault_tasks_enqueued_total",
			Help: "Total number of processing tasks enqueued",
		},
		[]string{"codec"},
	)

	TasksClaimedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hlsvault_tasks_claimed_total",
			Help: "Total number of processing tasks claimed by workers",
		},
	)

	TasksFinishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hlsvault_tasks_finished_total",
			Help: "Total number of processing tasks reaching a terminal state",
		},
		[]string{"status"},
	)

	TasksInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hlsvault_tasks_in_progress",
			Help: "Number of tasks currently being processed by this process",
		},
	)

	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hlsvault_task_duration_seconds",
			Help:    "Task processing duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1 hour
		},
		[]string{"codec", "status"},
	)

	PipelineFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hlsvault_pipeline_failures_total",
			Help: "Processing failures by pipeline stage",
		},
		[]string{"stage"},
	)

	TasksByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hlsvault_tasks",
			Help: "Number of tasks in the task table by status",
		},
		[]string{"status"},
	)

	OldestPendingSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hlsvault_oldest_pending_task_seconds",
			Help: "Age of the oldest pending task",
		},
	)

	LongestProcessingSeconds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hlsvault_longest_processing_task_seconds",
			Help: "Time since the longest running task was claimed",
		},
	)

	WebhookDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hlsvault_webhook_deliveries_total",
			Help: "Task lifecycle callbacks by outcome",
		},
		[]string{"event", "outcome"},
	)

	// Access Metrics
	KeyRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hlsvault_key_requests_total",
			Help: "Decryption key requests by outcome",
		},
		[]string{"outcome"},
	)

	// Storage Metrics
	StorageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hlsvault_storage_operations_total",
			Help: "Total number of storage operations",
		},
		[]string{"backend", "operation", "status"},
	)

	StorageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hlsvault_storage_operation_duration_seconds",
			Help:    "Storage operation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"backend", "operation"},
	)

	// Cache Metrics
	CacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hlsvault_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hlsvault_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache_type"},
	)
)

// RecordHTTPRequest records an HTTP request
func RecordHTTPRequest(method, endpoint, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordTaskEnqueued records a new pending task
func RecordTaskEnqueued(codec string) {
	TasksEnqueuedTotal.WithLabelValues(codec).Inc()
}

// RecordTaskClaimed records a successful claim
func RecordTaskClaimed() {
	TasksClaimedTotal.Inc()
}

// RecordTaskFinished records a terminal transition
func RecordTaskFinished(status, codec string, duration float64) {
	TasksFinishedTotal.WithLabelValues(status).Inc()
	TaskDuration.WithLabelValues(codec, status).Observe(duration)
}

// RecordPipelineFailure records the stage at which processing failed
func RecordPipelineFailure(stage string) {
	PipelineFailuresTotal.WithLabelValues(stage).Inc()
}

// RecordQueueStats publishes a task table snapshot
func RecordQueueStats(pending, processing, completed, failed int64, oldestPending, longestProcessing float64) {
	TasksByStatus.WithLabelValues("pending").Set(float64(pending))
	TasksByStatus.WithLabelValues("processing").Set(float64(processing))
	TasksByStatus.WithLabelValues("completed").Set(float64(completed))
	TasksByStatus.WithLabelValues("failed").Set(float64(failed))
	OldestPendingSeconds.Set(oldestPending)
	LongestProcessingSeconds.Set(longestProcessing)
}

// RecordWebhookDelivery records the final outcome of a callback
func RecordWebhookDelivery(event, outcome string) {
	WebhookDeliveriesTotal.WithLabelValues(event, outcome).Inc()
}

// RecordKeyRequest records the outcome of a key request
func RecordKeyRequest(outcome string) {
	KeyRequestsTotal.WithLabelValues(outcome).Inc()
}

// RecordStorageOperation records a storage operation
func RecordStorageOperation(backend, operation, status string, duration float64) {
	StorageOperationsTotal.WithLabelValues(backend, operation, status).Inc()
	StorageOperationDuration.WithLabelValues(backend, operation).Observe(duration)
}

// RecordCacheAccess records cache hit or miss
func RecordCacheAccess(cacheType string, hit bool) {
	if hit {
		CacheHitsTotal.WithLabelValues(cacheType).Inc()
	} else {
		CacheMissesTotal.WithLabelValues(cacheType).Inc()
	}
}
