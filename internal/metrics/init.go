package metrics

// Transfer states reported by TransfersActive.
var transferStates = []string{"open", "draining", "closed"}

// InitializeMetrics pre-populates all expected label combinations so that
// every metric is exported from the first Prometheus scrape.
// Call this once at startup after metric registration.
func InitializeMetrics() {
	for _, event := range []string{"created", "closed", "consumed", "orphaned", "expired", "detached"} {
		TransfersTotal.WithLabelValues(event)
	}

	for _, state := range transferStates {
		TransfersActive.WithLabelValues(state)
	}

	for _, action := range []string{"CreateStream", "WriteChunk", "CloseStream", "unknown"} {
		for _, outcome := range []string{"ok", "unknown_id", "error"} {
			BridgeMessagesTotal.WithLabelValues(action, outcome)
		}
	}

	for _, result := range []string{"network", "cache_fallback", "miss", "bypass"} {
		AssetRequestsTotal.WithLabelValues(result)
	}

	for _, status := range []string{"success", "error"} {
		AssetInstallsTotal.WithLabelValues(status)
	}

	for _, op := range []string{"put_asset", "get_asset", "asset_stats", "delete_asset",
		"get_preference", "set_preference", "delete_preference", "get_metadata", "set_metadata"} {
		DBQueryTotal.WithLabelValues(op, "success")
		DBQueryTotal.WithLabelValues(op, "error")
		DBQueryDuration.WithLabelValues(op)
	}

	for _, op := range []string{"stat", "open"} {
		FilesystemRetryAttempts.WithLabelValues(op)
		FilesystemRetryFailures.WithLabelValues(op)
	}
}
