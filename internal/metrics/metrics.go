package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convert_web_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "convert_web_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "convert_web_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)
)

// Transfer (zip stream registry) metrics
var (
	TransfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convert_web_transfers_total",
			Help: "Transfer lifecycle events",
		},
		[]string{"event"}, // created, closed, consumed, orphaned, expired, detached
	)

	TransfersActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "convert_web_transfers_active",
			Help: "Transfers currently held in the registry by state",
		},
		[]string{"state"},
	)

	TransferBufferedBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "convert_web_transfer_buffered_bytes",
			Help: "Bytes written into transfer streams and not yet read",
		},
	)

	TransferBytesWritten = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "convert_web_transfer_bytes_written_total",
			Help: "Total bytes accepted by transfer writers",
		},
	)

	TransferBytesServed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "convert_web_transfer_bytes_served_total",
			Help: "Total bytes streamed to download responses",
		},
	)

	TransferDownloadsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "convert_web_transfer_downloads_in_flight",
			Help: "Download responses currently attached to a transfer",
		},
	)
)

// Bridge protocol metrics
var (
	BridgeMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convert_web_bridge_messages_total",
			Help: "Bridge messages processed by action and outcome",
		},
		[]string{"action", "outcome"}, // outcome: ok, unknown_id, error
	)

	BridgeBroadcastDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "convert_web_bridge_broadcast_dropped_total",
			Help: "Broadcast messages dropped because a subscriber buffer was full",
		},
	)

	BridgeSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "convert_web_bridge_subscribers",
			Help: "Number of contexts listening on the broadcast channel",
		},
	)

	BridgeQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "convert_web_bridge_queue_depth",
			Help: "Messages waiting for the sequential worker dispatcher",
		},
	)
)

// Asset cache metrics
var (
	AssetRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convert_web_asset_requests_total",
			Help: "Non-intercepted requests by resolution",
		},
		[]string{"result"}, // network, cache_fallback, miss, bypass
	)

	AssetCacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "convert_web_asset_cache_entries",
			Help: "Number of responses held in the asset cache",
		},
	)

	AssetCacheBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "convert_web_asset_cache_bytes",
			Help: "Total body bytes held in the asset cache",
		},
	)

	AssetInstallDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "convert_web_asset_install_duration_seconds",
			Help:    "Duration of asset cache installs",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	AssetInstallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convert_web_asset_installs_total",
			Help: "Asset cache installs by status",
		},
		[]string{"status"},
	)
)

// Database metrics
var (
	DBQueryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convert_web_db_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"operation", "status"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "convert_web_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	DBTransactionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "convert_web_db_transaction_duration_seconds",
			Help:    "Database transaction duration in seconds",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"result"}, // commit, rollback
	)

	DBConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "convert_web_db_connections_open",
			Help: "Number of open database connections",
		},
	)
)

// Filesystem retry metrics
var (
	FilesystemRetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convert_web_filesystem_retry_attempts_total",
			Help: "Retries of filesystem operations after a stale file handle",
		},
		[]string{"operation"},
	)

	FilesystemRetryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "convert_web_filesystem_retry_failures_total",
			Help: "Filesystem operations that failed after exhausting retries",
		},
		[]string{"operation"},
	)
)

// Memory metrics
var (
	MemoryUsageRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "convert_web_memory_usage_ratio",
			Help: "Heap allocation as a fraction of the configured memory limit",
		},
	)

	MemoryPaused = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "convert_web_memory_paused",
			Help: "Whether chunk intake is paused for memory pressure (1 = paused)",
		},
	)

	MemoryGCPauses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "convert_web_memory_gc_pauses_total",
			Help: "Number of times memory pressure paused chunk intake",
		},
	)
)

// Application info
var AppInfo = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "convert_web_app_info",
		Help: "Application build information",
	},
	[]string{"version", "commit", "go_version"},
)
