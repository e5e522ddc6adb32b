package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BackupsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tablevault_backups_written_total",
			Help: "Total number of documents copied to the backup store",
		},
		[]string{"collection"},
	)

	BackupsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tablevault_backups_dropped_total",
			Help: "Total number of backup copies dropped because the queue was full or retries were exhausted",
		},
		[]string{"collection", "reason"},
	)

	BackupRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tablevault_backup_retries_total",
			Help: "Total number of backup write retries",
		},
	)

	BackupQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tablevault_backup_queue_depth",
			Help: "Number of backup jobs waiting to be written",
		},
	)

	FailedLogins = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tablevault_failed_logins_total",
			Help: "Total number of failed login attempts",
		},
		[]string{"admin_target"},
	)

	WipesTriggered = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tablevault_wipes_triggered_total",
			Help: "Total number of intrusion wipes started",
		},
	)

	WipeFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tablevault_wipe_failures_total",
			Help: "Total number of intrusion wipes that left the primary store partially wiped",
		},
	)

	AccessDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tablevault_access_decisions_total",
			Help: "Total number of table access decisions by outcome",
		},
		[]string{"state"},
	)

	RowsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tablevault_rows_written_total",
			Help: "Total number of row writes by operation",
		},
		[]string{"operation"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tablevault_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tablevault_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tablevault_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache"},
	)

	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tablevault_cache_errors_total",
			Help: "Total number of cache errors",
		},
		[]string{"cache", "operation"},
	)
)
