package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"convert-web/internal/assetcache"
	"convert-web/internal/bridge"
	"convert-web/internal/database"
	"convert-web/internal/handlers"
	"convert-web/internal/logging"
	"convert-web/internal/memory"
	"convert-web/internal/metrics"
	"convert-web/internal/middleware"
	"convert-web/internal/preferences"
	"convert-web/internal/startup"
	"convert-web/internal/zipstream"

	"github.com/spf13/cobra"
)

const (
	metricsInterval = time.Minute
	shutdownTimeout = 30 * time.Second
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:          "convert-web",
		Short:        "Serve the converter page, its asset cache and streamed zip downloads",
		SilenceUsage: true,
		RunE: func(_ *cobra.Command, _ []string) error {
			return run(configFile)
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "optional YAML config file")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, _ []string) {
			info := startup.GetBuildInfo()
			fmt.Fprintf(cmd.OutOrStdout(), "convert-web %s (commit %s, built %s, %s %s/%s)\n",
				info.Version, info.Commit, info.BuildTime, info.GoVersion, info.OS, info.Arch)
		},
	})
	return cmd
}

// serverStats feeds the periodic metrics collector.
type serverStats struct {
	registry *zipstream.Registry
	assets   *assetcache.Manager
	db       *database.Database
}

// GetStats implements metrics.StatsProvider
func (s *serverStats) GetStats() metrics.Stats {
	byState, buffered := s.registry.Stats()
	stats := metrics.Stats{
		TransfersByState: byState,
		BufferedBytes:    buffered,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if cached, err := s.assets.Stats(ctx); err != nil {
		logging.Debug("Asset cache stats unavailable: %v", err)
	} else {
		stats.CachedAssets = cached.Entries
		stats.CachedBytes = cached.Bytes
	}

	s.db.UpdateDBMetrics()
	return stats
}

func run(configFile string) error {
	startTime := time.Now()

	config, err := startup.LoadConfig(configFile)
	if err != nil {
		startup.LogFatal("Configuration error: %v", err)
	}

	startup.LogMemoryConfig(memory.Configure(config.MemoryLimit, config.MemoryRatio))

	metrics.InitializeMetrics()
	metrics.AppInfo.WithLabelValues(startup.Version, startup.Commit, startup.GoVersion).Set(1)

	// Initialize database
	dbStart := time.Now()
	db, err := database.New(context.Background(), config.DatabasePath)
	if err != nil {
		startup.LogFatal("Failed to initialize database: %v", err)
	}
	startup.LogDatabaseInit(time.Since(dbStart))

	prefs, err := preferences.Open(context.Background(), db)
	if err != nil {
		startup.LogFatal("Failed to load preferences: %v", err)
	}

	assetList := config.Assets
	if len(assetList) == 0 {
		assetList = assetcache.DefaultAssets
	}
	assets, err := assetcache.NewManager(db, assetcache.Options{
		Upstream:       config.UpstreamURL,
		Assets:         assetList,
		BypassPatterns: config.BypassPatterns,
	})
	if err != nil {
		startup.LogFatal("Failed to configure asset cache: %v", err)
	}

	// Background context for long-running components
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	// Install in background; the server answers from the start and
	// readiness flips once the cache is populated.
	go func() {
		installStart := time.Now()
		err := assets.Install(bgCtx)
		startup.LogAssetInstall(len(assetList), time.Since(installStart), err)
	}()

	memMonitor := memory.NewMonitor(memory.DefaultConfig())
	memMonitor.Start()

	registry := zipstream.NewRegistry(zipstream.Options{MaxBufferedBytes: config.StreamMaxBuffered})
	hub := bridge.NewHub(config.BroadcastBuffer)
	worker := bridge.NewWorker(registry, hub, bridge.WorkerOptions{
		Strict: config.StrictTransferIDs,
		Pauser: memMonitor,
	})
	go worker.Run(bgCtx)

	if config.TransferTTL > 0 {
		go registry.RunSweeper(bgCtx, sweepInterval(config.TransferTTL), config.TransferTTL)
	}
	startup.LogBridgeInit(config.StrictTransferIDs, config.TransferTTL)

	collector := metrics.NewCollector(&serverStats{registry: registry, assets: assets, db: db}, metricsInterval)
	collector.Start()

	h := handlers.New(handlers.Deps{
		DB:       db,
		Registry: registry,
		Worker:   worker,
		Hub:      hub,
		Assets:   assets,
		Prefs:    prefs,
	}, config)

	router := h.Router()
	startup.LogHTTPRoutes(router, config.LogStaticFiles, config.LogHealthChecks)

	srv := &http.Server{
		Addr:              ":" + config.Port,
		Handler:           buildHandler(router, config),
		ReadHeaderTimeout: 15 * time.Second,
		// Downloads and event streams stay open for as long as the page
		// keeps producing.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	// Event streams never finish on their own, so request contexts are
	// cancelled as soon as shutdown starts.
	reqCtx, reqCancel := context.WithCancel(context.Background())
	srv.BaseContext = func(net.Listener) context.Context { return reqCtx }
	srv.RegisterOnShutdown(reqCancel)

	var metricsSrv *http.Server
	if config.MetricsEnabled {
		metricsSrv = startMetricsServer(config.MetricsPort, h.MetricsHandler())
	}

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		handleShutdown(srv, metricsSrv, func() {
			startup.LogShutdownStep("Stopping metrics collector")
			collector.Stop()
			startup.LogShutdownStepComplete("Metrics collector stopped")

			startup.LogShutdownStep("Stopping bridge worker")
			bgCancel()
			<-worker.Done()
			startup.LogShutdownStepComplete("Bridge worker stopped")

			startup.LogShutdownStep("Stopping memory monitor")
			memMonitor.Stop()
			startup.LogShutdownStepComplete("Memory monitor stopped")

			startup.LogShutdownStep("Closing database")
			if err := db.Close(); err != nil {
				logging.Warn("Database close error: %v", err)
			} else {
				startup.LogShutdownStepComplete("Database closed")
			}
		})
	}()

	startup.LogServerStarted(startup.ServerConfig{
		Port:            config.Port,
		MetricsPort:     config.MetricsPort,
		MetricsEnabled:  config.MetricsEnabled,
		StartupDuration: time.Since(startTime),
	})

	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		startup.LogFatal("Server error: %v", err)
	}
	<-shutdownDone
	return nil
}

// buildHandler wraps the router in the middleware chain.
func buildHandler(router http.Handler, config *startup.Config) http.Handler {
	metricsConfig := middleware.DefaultMetricsConfig()
	metricsConfig.DownloadMarker = config.DownloadMarker
	handler := middleware.Metrics(metricsConfig)(router)

	loggingConfig := middleware.DefaultLoggingConfig()
	loggingConfig.LogStaticFiles = config.LogStaticFiles
	loggingConfig.LogHealthChecks = config.LogHealthChecks
	handler = middleware.Logger(loggingConfig)(handler)

	return middleware.Compression(middleware.DefaultCompressionConfig())(handler)
}

// sweepInterval checks for idle transfers a few times per TTL.
func sweepInterval(ttl time.Duration) time.Duration {
	interval := ttl / 4
	if interval < time.Second {
		interval = time.Second
	}
	return interval
}

func startMetricsServer(port string, handler http.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logging.Error("Metrics server error: %v", err)
		}
	}()
	return srv
}

func handleShutdown(srv, metricsSrv *http.Server, stopComponents func()) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	startup.LogShutdownInitiated(sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	startup.LogShutdownStep("Shutting down HTTP server")
	if err := srv.Shutdown(ctx); err != nil {
		logging.Warn("Server shutdown error: %v", err)
	} else {
		startup.LogShutdownStepComplete("HTTP server stopped")
	}

	if metricsSrv != nil {
		startup.LogShutdownStep("Shutting down metrics server")
		if err := metricsSrv.Shutdown(ctx); err != nil {
			logging.Warn("Metrics server shutdown error: %v", err)
		} else {
			startup.LogShutdownStepComplete("Metrics server stopped")
		}
	}

	stopComponents()
	startup.LogShutdownComplete()
}
