package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"convert-web/internal/logging"
	"convert-web/internal/startup"
)

const (
	statusHealthy  = "healthy"
	statusStarting = "starting"
	statusDegraded = "degraded"
)

// HealthResponse contains the health check response
type HealthResponse struct {
	Status      string `json:"status"`
	Ready       bool   `json:"ready"`
	Version     string `json:"version"`
	Uptime      string `json:"uptime"`
	LastInstall string `json:"lastInstall,omitempty"`
	Error       string `json:"error,omitempty"`

	// Transfer and cache info
	Transfers     int   `json:"transfers"`
	BufferedBytes int64 `json:"bufferedBytes"`
	CachedAssets  int   `json:"cachedAssets"`
	CachedBytes   int64 `json:"cachedBytes"`
	Subscribers   int   `json:"subscribers"`

	// System info
	GoVersion    string `json:"goVersion"`
	NumCPU       int    `json:"numCpu"`
	NumGoroutine int    `json:"numGoroutine"`
}

// HealthCheck returns the health status of the service. It answers 503
// until the asset cache has been installed.
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	byState, buffered := h.registry.Stats()
	transfers := 0
	for _, n := range byState {
		transfers += n
	}

	response := HealthResponse{
		Ready:         h.assets.Ready(),
		Version:       startup.Version,
		Uptime:        time.Since(h.started).Round(time.Second).String(),
		Transfers:     transfers,
		BufferedBytes: buffered,
		Subscribers:   h.hub.Subscribers(),
		GoVersion:     runtime.Version(),
		NumCPU:        runtime.NumCPU(),
		NumGoroutine:  runtime.NumGoroutine(),
	}

	if response.Ready {
		response.Status = statusHealthy
	} else {
		response.Status = statusStarting
	}

	if err := h.db.Ping(ctx); err != nil {
		logging.Warn("Health check database ping failed: %v", err)
		response.Status = statusDegraded
		response.Error = "database unavailable"
	} else {
		if stats, err := h.assets.Stats(ctx); err == nil {
			response.CachedAssets = stats.Entries
			response.CachedBytes = stats.Bytes
		}
		if last, err := h.db.GetLastInstall(ctx); err == nil && !last.IsZero() {
			response.LastInstall = last.Format(time.RFC3339)
		}
	}

	status := http.StatusOK
	if !response.Ready {
		status = http.StatusServiceUnavailable
	}
	writeJSONStatus(w, status, response)
}

// LivenessCheck is a simple liveness probe (always returns 200 if server is running)
func (h *Handlers) LivenessCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	// For HEAD requests, only send headers (no body)
	if r.Method != http.MethodHead {
		writeJSON(w, map[string]string{
			"status": "alive",
		})
	}
}

// ReadinessCheck returns 200 only once the asset cache is installed
func (h *Handlers) ReadinessCheck(w http.ResponseWriter, _ *http.Request) {
	if h.assets.Ready() {
		writeJSONStatus(w, http.StatusOK, map[string]string{
			"status": "ready",
		})
		return
	}
	writeJSONStatus(w, http.StatusServiceUnavailable, map[string]string{
		"status": "not_ready",
	})
}
