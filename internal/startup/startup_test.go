package startup

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"convert-web/internal/memory"
)

func TestGetBuildInfo(t *testing.T) {
	info := GetBuildInfo()

	if info.Version == "" {
		t.Error("Expected Version to be set")
	}
	if info.GoVersion == "" {
		t.Error("Expected GoVersion to be set")
	}
	if info.OS == "" {
		t.Error("Expected OS to be set")
	}
	if info.Arch == "" {
		t.Error("Expected Arch to be set")
	}
	if info.GoVersion != GoVersion {
		t.Errorf("Expected GoVersion=%s, got %s", GoVersion, info.GoVersion)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DATABASE_DIR", t.TempDir())

	config, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if config.Port != "8080" {
		t.Errorf("Expected Port=8080, got %s", config.Port)
	}
	if config.MetricsPort != "9090" {
		t.Errorf("Expected MetricsPort=9090, got %s", config.MetricsPort)
	}
	if !config.MetricsEnabled {
		t.Error("Expected metrics enabled by default")
	}
	if config.DownloadMarker != DefaultDownloadMarker {
		t.Errorf("Expected marker %s, got %s", DefaultDownloadMarker, config.DownloadMarker)
	}
	if config.ArchivePrefix != DefaultArchivePrefix {
		t.Errorf("Expected archive prefix %s, got %s", DefaultArchivePrefix, config.ArchivePrefix)
	}
	if config.TransferTTL != time.Hour {
		t.Errorf("Expected TransferTTL=1h, got %v", config.TransferTTL)
	}
	if config.StreamMaxBuffered != 0 {
		t.Errorf("Expected unbounded buffering, got %d", config.StreamMaxBuffered)
	}
	if config.Assets != nil {
		t.Errorf("Expected nil assets (default list), got %v", config.Assets)
	}
	if len(config.BypassPatterns) != 2 {
		t.Errorf("Expected 2 default bypass patterns, got %v", config.BypassPatterns)
	}
	if filepath.Base(config.DatabasePath) != "convert-web.db" {
		t.Errorf("Unexpected database path %s", config.DatabasePath)
	}
}

func TestLoadConfigFromEnvironment(t *testing.T) {
	t.Setenv("DATABASE_DIR", t.TempDir())
	t.Setenv("PORT", "3000")
	t.Setenv("UPSTREAM_URL", "http://origin:5173")
	t.Setenv("ASSETS", "./, ./index.html ,,./app.js")
	t.Setenv("STREAM_MAX_BUFFERED", "64MiB")
	t.Setenv("STRICT_TRANSFER_IDS", "true")
	t.Setenv("DOWNLOAD_IDLE_TIMEOUT", "2m")
	t.Setenv("TRANSFER_TTL", "0")
	t.Setenv("METRICS_ENABLED", "not-a-bool")

	config, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if config.Port != "3000" {
		t.Errorf("Expected Port=3000, got %s", config.Port)
	}
	if config.UpstreamURL != "http://origin:5173" {
		t.Errorf("Unexpected upstream %s", config.UpstreamURL)
	}
	if len(config.Assets) != 3 || config.Assets[1] != "./index.html" {
		t.Errorf("Expected 3 trimmed assets, got %v", config.Assets)
	}
	if config.StreamMaxBuffered != 64<<20 {
		t.Errorf("Expected 64MiB, got %d", config.StreamMaxBuffered)
	}
	if !config.StrictTransferIDs {
		t.Error("Expected strict transfer ids")
	}
	if config.DownloadIdleTimeout != 2*time.Minute {
		t.Errorf("Expected 2m idle timeout, got %v", config.DownloadIdleTimeout)
	}
	if config.TransferTTL != 0 {
		t.Errorf("Expected TTL disabled, got %v", config.TransferTTL)
	}
	if !config.MetricsEnabled {
		t.Error("Expected invalid boolean to fall back to default true")
	}
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	content := "port: \"7070\"\narchive_prefix: MyZip\nbypass_patterns:\n  - live\n  - stream\ndatabase_dir: " + dir + "\n"
	if err := os.WriteFile(file, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	t.Setenv("PORT", "7171")

	config, err := LoadConfig(file)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if config.Port != "7171" {
		t.Errorf("Expected environment to win with 7171, got %s", config.Port)
	}
	if config.ArchivePrefix != "MyZip" {
		t.Errorf("Expected prefix from file, got %s", config.ArchivePrefix)
	}
	if len(config.BypassPatterns) != 2 || config.BypassPatterns[0] != "live" {
		t.Errorf("Expected bypass patterns from file, got %v", config.BypassPatterns)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	t.Run("missing config file", func(t *testing.T) {
		if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
			t.Error("Expected error for missing config file")
		}
	})

	t.Run("invalid upstream", func(t *testing.T) {
		t.Setenv("DATABASE_DIR", t.TempDir())
		t.Setenv("UPSTREAM_URL", "not a url")
		if _, err := LoadConfig(""); err == nil {
			t.Error("Expected error for invalid upstream")
		}
	})

	t.Run("database dir is a file", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		if err := os.WriteFile(file, nil, 0o600); err != nil {
			t.Fatal(err)
		}
		t.Setenv("DATABASE_DIR", file)
		if _, err := LoadConfig(""); err == nil {
			t.Error("Expected error when DATABASE_DIR is a file")
		}
	})
}

func TestGetRouteGroup(t *testing.T) {
	tests := map[string]string{
		"/api/bridge/messages":    "api/bridge",
		"/api/preferences/{name}": "api/preferences",
		"/healthz":                "healthz",
		"/":                       "",
		"/api":                    "api",
	}
	for path, expected := range tests {
		if got := getRouteGroup(path); got != expected {
			t.Errorf("getRouteGroup(%q): expected %q, got %q", path, expected, got)
		}
	}
}

func TestGetRoutes(t *testing.T) {
	r := mux.NewRouter()
	noop := func(_ http.ResponseWriter, _ *http.Request) {}
	r.HandleFunc("/healthz", noop).Methods("GET", "HEAD")
	r.HandleFunc("/api/bridge/messages", noop).Methods("POST").Name("bridgeMessages")

	routes, err := GetRoutes(r)
	if err != nil {
		t.Fatalf("GetRoutes failed: %v", err)
	}
	if len(routes) != 3 {
		t.Fatalf("Expected 3 routes, got %d: %+v", len(routes), routes)
	}
	if routes[2].Name != "bridgeMessages" {
		t.Errorf("Expected route name bridgeMessages, got %s", routes[2].Name)
	}
}

func TestLogHelpersDoNotPanic(_ *testing.T) {
	LogMemoryConfig(memory.ConfigResult{})
	LogMemoryConfig(memory.ConfigResult{Configured: true, Source: "GOMEMLIMIT", GoMemLimit: 524288000})
	LogMemoryConfig(memory.ConfigResult{Configured: true, Source: "MEMORY_LIMIT", ContainerLimit: 1 << 30, GoMemLimit: 912680550, Ratio: 0.85})
	LogDatabaseInit(time.Millisecond)
	LogAssetInstall(3, time.Second, nil)
	LogAssetInstall(0, time.Second, errors.New("upstream down"))
	LogBridgeInit(true, time.Hour)
	LogBridgeInit(false, 0)
	LogServerStarted(ServerConfig{Port: "8080", MetricsPort: "9090", MetricsEnabled: true})
	LogShutdownInitiated("SIGTERM")
	LogShutdownStep("Stopping")
	LogShutdownStepComplete("Stopped")
	LogShutdownComplete()
}
