package startup

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/mux"
	"github.com/spf13/viper"

	"convert-web/internal/assetcache"
	"convert-web/internal/database"
	"convert-web/internal/logging"
	"convert-web/internal/memory"
)

// Build-time variables (injected via -ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
	GoVersion = runtime.Version()
)

// BuildInfo contains version and build information
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
	GoVersion string `json:"goVersion"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// GetBuildInfo returns the current build information
func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

// RouteInfo contains information about a registered route
type RouteInfo struct {
	Method string
	Path   string
	Name   string
}

// Config holds all application configuration
type Config struct {
	Port           string
	MetricsPort    string
	MetricsEnabled bool
	DatabaseDir    string

	// Network-first cache
	UpstreamURL    string
	Assets         []string
	BypassPatterns []string

	// Interception
	DownloadMarker string
	PingPath       string
	ArchivePrefix  string

	// Transfers
	TransferTTL         time.Duration
	StreamMaxBuffered   int64
	StrictTransferIDs   bool
	DownloadIdleTimeout time.Duration
	BroadcastBuffer     int

	LogStaticFiles  bool
	LogHealthChecks bool

	MemoryLimit string
	MemoryRatio float64

	// Derived paths
	DatabasePath string
}

// Defaults for keys whose zero value is not a sensible default.
const (
	DefaultDownloadMarker = "/downloader?id="
	DefaultPingPath       = "/ping"
	DefaultArchivePrefix  = "ConvertWeb-Zip"
)

func newViper(configFile string) (*viper.Viper, error) {
	v := viper.New()

	v.SetDefault("port", "8080")
	v.SetDefault("metrics_port", "9090")
	v.SetDefault("metrics_enabled", "true")
	v.SetDefault("database_dir", "/database")
	v.SetDefault("upstream_url", "")
	v.SetDefault("assets", "")
	v.SetDefault("bypass_patterns", strings.Join(assetcache.DefaultBypassPatterns, ","))
	v.SetDefault("download_marker", DefaultDownloadMarker)
	v.SetDefault("ping_path", DefaultPingPath)
	v.SetDefault("archive_prefix", DefaultArchivePrefix)
	v.SetDefault("transfer_ttl", "1h")
	v.SetDefault("stream_max_buffered", "0")
	v.SetDefault("strict_transfer_ids", "false")
	v.SetDefault("download_idle_timeout", "0")
	v.SetDefault("broadcast_buffer", "1024")
	v.SetDefault("log_static_files", "false")
	v.SetDefault("log_health_checks", "true")
	v.SetDefault("memory_limit", "")
	v.SetDefault("memory_ratio", "0.85")

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
	}

	// Bare variable names: the key "metrics_port" reads METRICS_PORT
	v.AutomaticEnv()
	return v, nil
}

// LoadConfig loads and validates configuration from the optional YAML file
// and environment variables. Environment variables win over the file.
func LoadConfig(configFile string) (*Config, error) {
	printBanner()
	logSystemInfo()

	v, err := newViper(configFile)
	if err != nil {
		return nil, err
	}

	logging.Info("------------------------------------------------------------")
	logging.Info("CONFIGURATION")
	logging.Info("------------------------------------------------------------")
	if configFile != "" {
		logging.Info("  Config file:           %s", configFile)
	}

	config, err := configFromViper(v)
	if err != nil {
		return nil, err
	}
	logConfig(config)

	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("DIRECTORY SETUP")
	logging.Info("------------------------------------------------------------")

	config.DatabaseDir, err = filepath.Abs(config.DatabaseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve database directory path: %w", err)
	}
	config.DatabasePath = filepath.Join(config.DatabaseDir, database.FileName)
	logging.Info("  Database directory (absolute): %s", config.DatabaseDir)

	if err := ensureDirectory(config.DatabaseDir, "database"); err != nil {
		return nil, fmt.Errorf("database directory error: %w", err)
	}

	logging.Debug("  Testing database directory write access...")
	if err := testWriteAccess(config.DatabaseDir); err != nil {
		return nil, fmt.Errorf("database directory is not writable (required for database): %w", err)
	}
	logging.Info("  [OK] Database directory is writable")

	logging.Info("")
	logging.Info("  Feature availability:")
	logging.Info("    Database:       ENABLED (required)")
	logging.Info("    Upstream:       %s", enabledString(config.UpstreamURL != ""))
	logging.Info("    Strict acks:    %s", enabledString(config.StrictTransferIDs))
	logging.Info("    Metrics:        %s", enabledString(config.MetricsEnabled))

	return config, nil
}

// configFromViper reads and validates every key.
func configFromViper(v *viper.Viper) (*Config, error) {
	config := &Config{
		Port:              v.GetString("port"),
		MetricsPort:       v.GetString("metrics_port"),
		MetricsEnabled:    getBool(v, "metrics_enabled", true),
		DatabaseDir:       v.GetString("database_dir"),
		UpstreamURL:       strings.TrimSpace(v.GetString("upstream_url")),
		Assets:            getList(v, "assets"),
		BypassPatterns:    getList(v, "bypass_patterns"),
		DownloadMarker:    v.GetString("download_marker"),
		PingPath:          v.GetString("ping_path"),
		ArchivePrefix:     v.GetString("archive_prefix"),
		StrictTransferIDs: getBool(v, "strict_transfer_ids", false),
		LogStaticFiles:    getBool(v, "log_static_files", false),
		LogHealthChecks:   getBool(v, "log_health_checks", true),
		MemoryLimit:       v.GetString("memory_limit"),
	}

	if config.UpstreamURL != "" {
		u, err := url.Parse(config.UpstreamURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("UPSTREAM_URL must be an absolute http(s) URL, got %q", config.UpstreamURL)
		}
	}
	if config.DownloadMarker == "" {
		return nil, fmt.Errorf("DOWNLOAD_MARKER must not be empty")
	}
	if config.PingPath == "" {
		config.PingPath = DefaultPingPath
	}
	if config.ArchivePrefix == "" {
		config.ArchivePrefix = DefaultArchivePrefix
	}
	if config.BypassPatterns == nil {
		config.BypassPatterns = []string{}
	}

	config.TransferTTL = getDuration(v, "transfer_ttl", time.Hour)
	config.DownloadIdleTimeout = getDuration(v, "download_idle_timeout", 0)

	maxBuffered := strings.TrimSpace(v.GetString("stream_max_buffered"))
	if maxBuffered != "" && maxBuffered != "0" {
		n, err := humanize.ParseBytes(maxBuffered)
		if err != nil {
			logging.Warn("  Invalid STREAM_MAX_BUFFERED %q, buffering is unbounded", maxBuffered)
		} else {
			config.StreamMaxBuffered = int64(n)
		}
	}

	buffer, err := strconv.Atoi(v.GetString("broadcast_buffer"))
	if err != nil || buffer <= 0 {
		logging.Warn("  Invalid BROADCAST_BUFFER %q, using default: 1024", v.GetString("broadcast_buffer"))
		buffer = 1024
	}
	config.BroadcastBuffer = buffer

	ratio, err := strconv.ParseFloat(v.GetString("memory_ratio"), 64)
	if err != nil || ratio <= 0 || ratio > 1 {
		ratio = 0.85
	}
	config.MemoryRatio = ratio

	return config, nil
}

func logConfig(config *Config) {
	assets := fmt.Sprintf("%d (default list)", len(assetcache.DefaultAssets))
	if config.Assets != nil {
		assets = strconv.Itoa(len(config.Assets))
	}
	maxBuffered := "unbounded"
	if config.StreamMaxBuffered > 0 {
		maxBuffered = humanize.IBytes(uint64(config.StreamMaxBuffered))
	}
	idle := "none"
	if config.DownloadIdleTimeout > 0 {
		idle = config.DownloadIdleTimeout.String()
	}

	logging.Info("  DATABASE_DIR:          %s", config.DatabaseDir)
	logging.Info("  PORT:                  %s", config.Port)
	logging.Info("  METRICS_PORT:          %s", config.MetricsPort)
	logging.Info("  METRICS_ENABLED:       %v", config.MetricsEnabled)
	logging.Info("  UPSTREAM_URL:          %s", orNone(config.UpstreamURL))
	logging.Info("  ASSETS:                %s", assets)
	logging.Info("  BYPASS_PATTERNS:       %s", orNone(strings.Join(config.BypassPatterns, ",")))
	logging.Info("  DOWNLOAD_MARKER:       %s", config.DownloadMarker)
	logging.Info("  PING_PATH:             %s", config.PingPath)
	logging.Info("  ARCHIVE_PREFIX:        %s", config.ArchivePrefix)
	logging.Info("  TRANSFER_TTL:          %v", config.TransferTTL)
	logging.Info("  STREAM_MAX_BUFFERED:   %s", maxBuffered)
	logging.Info("  STRICT_TRANSFER_IDS:   %v", config.StrictTransferIDs)
	logging.Info("  DOWNLOAD_IDLE_TIMEOUT: %s", idle)
	logging.Info("  BROADCAST_BUFFER:      %d", config.BroadcastBuffer)
	logging.Info("  LOG_STATIC_FILES:      %v", config.LogStaticFiles)
	logging.Info("  LOG_HEALTH_CHECKS:     %v", config.LogHealthChecks)
	logging.Info("  LOG_LEVEL:             %s", logging.GetLevel())
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

func enabledString(enabled bool) string {
	if enabled {
		return "ENABLED"
	}
	return "DISABLED"
}

// LogMemoryConfig logs the Go soft memory limit chosen at startup.
func LogMemoryConfig(mc memory.ConfigResult) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("MEMORY CONFIGURATION")
	logging.Info("------------------------------------------------------------")

	switch {
	case !mc.Configured:
		logging.Info("  GOMEMLIMIT: not set (set MEMORY_LIMIT or GOMEMLIMIT to bound the heap)")
	case mc.Source == "GOMEMLIMIT":
		logging.Info("  GOMEMLIMIT: %s (from environment)", humanize.IBytes(uint64(mc.GoMemLimit)))
	default:
		logging.Info("  Container limit: %s", humanize.IBytes(uint64(mc.ContainerLimit)))
		logging.Info("  GOMEMLIMIT:      %s (%.0f%% of limit)", humanize.IBytes(uint64(mc.GoMemLimit)), mc.Ratio*100)
	}
}

// LogDatabaseInit logs database initialization
func LogDatabaseInit(duration time.Duration) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("DATABASE INITIALIZATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  [OK] Database initialized in %v", duration)
}

// LogAssetInstall logs the outcome of the asset cache install.
func LogAssetInstall(count int, duration time.Duration, err error) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("ASSET CACHE INSTALL")
	logging.Info("------------------------------------------------------------")
	if err != nil {
		logging.Warn("  Install failed after %v: %v", duration, err)
		logging.Warn("  Serving without a fresh cache; /readyz reports not ready")
		return
	}
	logging.Info("  [OK] %d assets cached in %v", count, duration)
}

// LogBridgeInit logs the transfer bridge settings.
func LogBridgeInit(strict bool, ttl time.Duration) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("TRANSFER BRIDGE")
	logging.Info("------------------------------------------------------------")
	if strict {
		logging.Info("  Unknown transfer ids are rejected with ErrorStream")
	} else {
		logging.Info("  Unknown transfer ids are acknowledged and dropped")
	}
	if ttl > 0 {
		logging.Info("  Idle transfers are aborted after %v", ttl)
	}
	logging.Info("  [OK] Bridge worker started")
}

// GetRoutes extracts all registered routes from a mux.Router
func GetRoutes(router *mux.Router) ([]RouteInfo, error) {
	var routes []RouteInfo

	err := router.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		pathTemplate, err := route.GetPathTemplate()
		if err != nil {
			// Catch-all routes registered with PathPrefix("/") still have a template,
			// matcher-only routes do not
			pathTemplate = "*"
		}

		methods, err := route.GetMethods()
		if err != nil {
			methods = []string{"*"}
		}

		name := route.GetName()

		for _, method := range methods {
			routes = append(routes, RouteInfo{
				Method: method,
				Path:   pathTemplate,
				Name:   name,
			})
		}

		return nil
	})

	return routes, err
}

// LogHTTPRoutes logs all registered HTTP routes dynamically
func LogHTTPRoutes(router *mux.Router, logStaticFiles, logHealthChecks bool) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("HTTP SERVER SETUP")
	logging.Info("------------------------------------------------------------")

	if logging.IsDebugEnabled() {
		routes, err := GetRoutes(router)
		if err != nil {
			logging.Warn("error walking routes: %v", err)
		}

		logging.Debug("  Registered routes (%d total):", len(routes))
		logging.Debug("")

		groups := make(map[string][]RouteInfo)
		for _, route := range routes {
			prefix := getRouteGroup(route.Path)
			groups[prefix] = append(groups[prefix], route)
		}

		groupKeys := make([]string, 0, len(groups))
		for k := range groups {
			groupKeys = append(groupKeys, k)
		}
		sort.Strings(groupKeys)

		for _, group := range groupKeys {
			if group != "" {
				logging.Debug("  [%s]", group)
			} else {
				logging.Debug("  [root]")
			}

			for _, route := range groups[group] {
				logging.Debug("    %-6s %s", route.Method, route.Path)
			}
			logging.Debug("")
		}
	}

	logging.Info("  HTTP logging enabled")
	if logStaticFiles {
		logging.Info("    Static file logging: ON")
	} else {
		logging.Info("    Static file logging: OFF (set LOG_STATIC_FILES=true to enable)")
	}
	if logHealthChecks {
		logging.Info("    Health check logging: ON")
	} else {
		logging.Info("    Health check logging: OFF (set LOG_HEALTH_CHECKS=true to enable)")
	}
}

// getRouteGroup extracts a group name from a route path
func getRouteGroup(path string) string {
	path = strings.TrimPrefix(path, "/")

	parts := strings.SplitN(path, "/", 2)
	first := parts[0]

	if first == "api" && len(parts) > 1 {
		subParts := strings.SplitN(parts[1], "/", 2)
		return "api/" + subParts[0]
	}

	return first
}

// ServerConfig holds configuration for the server startup log
type ServerConfig struct {
	Port            string
	MetricsPort     string
	MetricsEnabled  bool
	StartupDuration time.Duration
}

// LogServerStarted logs successful server start with all endpoint information
func LogServerStarted(config ServerConfig) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("SERVER STARTED")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Startup time:    %v", config.StartupDuration)
	logging.Info("")
	logging.Info("  Endpoints:")
	logging.Info("    Application:   http://0.0.0.0:%s", config.Port)
	if config.MetricsEnabled {
		logging.Info("    Metrics:       http://0.0.0.0:%s/metrics", config.MetricsPort)
	} else {
		logging.Info("    Metrics:       DISABLED")
	}
	logging.Info("")
	logging.Info("  Local access:")
	logging.Info("    Application:   http://localhost:%s", config.Port)
	if config.MetricsEnabled {
		logging.Info("    Metrics:       http://localhost:%s/metrics", config.MetricsPort)
	}
	logging.Info("")
	logging.Info("  Press Ctrl+C to stop the server")
	logging.Info("------------------------------------------------------------")
	logging.Info("")
}

// LogShutdownInitiated logs shutdown start
func LogShutdownInitiated(signal string) {
	logging.Info("")
	logging.Info("------------------------------------------------------------")
	logging.Info("SHUTDOWN INITIATED (received %s)", signal)
	logging.Info("------------------------------------------------------------")
}

// LogShutdownStep logs a shutdown step
func LogShutdownStep(step string) {
	logging.Debug("  %s...", step)
}

// LogShutdownStepComplete logs a completed shutdown step
func LogShutdownStepComplete(step string) {
	logging.Info("  [OK] %s", step)
}

// LogShutdownComplete logs shutdown completion
func LogShutdownComplete() {
	logging.Info("  [OK] Shutdown complete")
}

// LogFatal logs a fatal error and exits
func LogFatal(format string, args ...interface{}) {
	logging.Fatal(format, args...)
}

// Helper functions

func printBanner() {
	banner := `
------------------------------------------------------------
                                   _                     _
  ___ ___  _ ____   _____ _ __| |_  __      _____| |__
 / __/ _ \| '_ \ \ / / _ \ '__| __| \ \ /\ / / _ \ '_ \
| (_| (_) | | | \ V /  __/ |  | |_   \ V  V /  __/ |_) |
 \___\___/|_| |_|\_/ \___|_|   \__|   \_/\_/ \___|_.__/

------------------------------------------------------------`
	fmt.Println(banner)
	logging.Info("  Version:    %s", Version)
	logging.Info("  Commit:     %s", Commit)
	logging.Info("  Build Time: %s", BuildTime)
	logging.Info("  Started:    %s", time.Now().Format(time.RFC1123))
	logging.Info("")
}

func logSystemInfo() {
	logging.Info("------------------------------------------------------------")
	logging.Info("SYSTEM INFORMATION")
	logging.Info("------------------------------------------------------------")
	logging.Info("  Go version:      %s", runtime.Version())
	logging.Info("  OS/Arch:         %s/%s", runtime.GOOS, runtime.GOARCH)
	logging.Info("  CPUs available:  %d", runtime.NumCPU())
	logging.Info("  GOMAXPROCS:      %d", runtime.GOMAXPROCS(0))

	if runtime.GOMAXPROCS(0) < runtime.NumCPU() {
		logging.Info("  (Container CPU limit detected)")
	}

	if logging.IsDebugEnabled() {
		logging.Debug("  Goroutines:      %d", runtime.NumGoroutine())

		if wd, err := os.Getwd(); err == nil {
			logging.Debug("  Working dir:     %s", wd)
		}

		if hostname, err := os.Hostname(); err == nil {
			logging.Debug("  Hostname:        %s", hostname)
		}
	}

	logging.Info("")
}

func ensureDirectory(path, name string) error {
	logging.Debug("  Checking %s directory: %s", name, path)

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		logging.Debug("    Directory does not exist, creating...")
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
		logging.Debug("    [OK] Created directory: %s", path)
		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to stat directory: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("path exists but is not a directory")
	}

	logging.Debug("    [OK] Directory exists")
	return nil
}

func testWriteAccess(dir string) error {
	testFile := filepath.Join(dir, ".write-test")
	if err := os.WriteFile(testFile, []byte("test"), 0o644); err != nil {
		return err
	}
	if err := os.Remove(testFile); err != nil {
		logging.Warn("failed to remove write test file %s: %v", testFile, err)
	}
	return nil
}

// getBool parses key with strconv.ParseBool, warning on invalid values.
func getBool(v *viper.Viper, key string, defaultValue bool) bool {
	value := strings.TrimSpace(v.GetString(key))
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		logging.Warn("Invalid boolean value for %s: %q, using default: %v", strings.ToUpper(key), value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getDuration(v *viper.Viper, key string, defaultValue time.Duration) time.Duration {
	value := strings.TrimSpace(v.GetString(key))
	if value == "" || value == "0" {
		return 0
	}
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		logging.Warn("  Invalid %s %q, using default: %v", strings.ToUpper(key), value, defaultValue)
		return defaultValue
	}
	return d
}

// getList reads a comma-separated list from the environment or a YAML
// sequence from the config file. Unset or empty yields nil.
func getList(v *viper.Viper, key string) []string {
	var raw []string
	switch value := v.Get(key).(type) {
	case string:
		raw = strings.Split(value, ",")
	case []string:
		raw = value
	case []interface{}:
		for _, item := range value {
			raw = append(raw, fmt.Sprint(item))
		}
	}

	var out []string
	for _, item := range raw {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
