// Package startup handles application initialization, configuration loading,
// and startup/shutdown logging.
//
// # Configuration
//
// Configuration is loaded by [LoadConfig] through viper: built-in defaults,
// then an optional YAML file (keys in lower case, e.g. metrics_port), then
// environment variables, which always win. The following variables are
// supported:
//
//   - PORT: HTTP server port (default: 8080)
//   - METRICS_PORT: Prometheus metrics server port (default: 9090)
//   - METRICS_ENABLED: Enable or disable metrics server (default: true)
//   - DATABASE_DIR: Directory holding the SQLite database (default: /database)
//   - UPSTREAM_URL: Origin that assets and uncaught requests are fetched from
//   - ASSETS: Comma-separated assets installed at startup (default: built-in list)
//   - BYPASS_PATTERNS: Comma-separated URL substrings never cached (default: updatecode,youtube)
//   - DOWNLOAD_MARKER: URL marker preceding a transfer id (default: /downloader?id=)
//   - PING_PATH: Path suffix answered with "Success." (default: /ping)
//   - ARCHIVE_PREFIX: Download file name prefix (default: ConvertWeb-Zip)
//   - TRANSFER_TTL: Idle transfers are aborted after this duration, 0 disables (default: 1h)
//   - STREAM_MAX_BUFFERED: Per-transfer buffer bound such as 64MiB, 0 is unbounded (default: 0)
//   - STRICT_TRANSFER_IDS: Reject messages for unknown transfer ids (default: false)
//   - DOWNLOAD_IDLE_TIMEOUT: Abort a download that sees no data for this long (default: 0)
//   - BROADCAST_BUFFER: Per-subscriber broadcast queue length (default: 1024)
//   - LOG_LEVEL: Logging level - debug, info, warn, error (default: info)
//   - LOG_STATIC_FILES: Log static file requests (default: false)
//   - LOG_HEALTH_CHECKS: Log health check requests (default: true)
//   - MEMORY_LIMIT: Container memory limit for automatic GOMEMLIMIT configuration
//   - MEMORY_RATIO: Fraction of MEMORY_LIMIT for the Go heap (default: 0.85)
//   - GOMEMLIMIT: Direct override for Go's memory limit
//
// # Build Information
//
// Build-time variables are injected via ldflags and exposed via [GetBuildInfo]:
//   - Version: Application version
//   - Commit: Git commit hash
//   - BuildTime: Build timestamp
//   - GoVersion: Go compiler version
//
// # Lifecycle Logging
//
//   - [LogMemoryConfig]: Memory limit configuration
//   - [LogDatabaseInit]: Database initialization timing
//   - [LogAssetInstall]: Asset cache install outcome
//   - [LogBridgeInit]: Transfer bridge settings
//   - [LogHTTPRoutes]: Registered HTTP routes (debug level)
//   - [LogServerStarted]: Server endpoints and startup duration
//   - [LogShutdownInitiated]: Graceful shutdown start
//   - [LogShutdownComplete]: Shutdown completion
package startup
