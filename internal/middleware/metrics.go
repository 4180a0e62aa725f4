package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"convert-web/internal/metrics"
)

// metricsResponseWriter captures the status code and, for long-lived
// responses, the time the first byte went out.
type metricsResponseWriter struct {
	http.ResponseWriter
	statusCode      int
	headerWritten   bool
	startTime       time.Time
	firstByteTime   time.Time
	isStreamingPath bool
}

func newMetricsResponseWriter(w http.ResponseWriter, startTime time.Time, streaming bool) *metricsResponseWriter {
	return &metricsResponseWriter{
		ResponseWriter:  w,
		statusCode:      http.StatusOK,
		startTime:       startTime,
		isStreamingPath: streaming,
	}
}

func (rw *metricsResponseWriter) markHeader() {
	if rw.headerWritten {
		return
	}
	rw.headerWritten = true
	if rw.isStreamingPath {
		rw.firstByteTime = time.Now()
	}
}

func (rw *metricsResponseWriter) WriteHeader(code int) {
	if !rw.headerWritten {
		rw.statusCode = code
	}
	rw.markHeader()
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *metricsResponseWriter) Write(b []byte) (int, error) {
	rw.markHeader()
	return rw.ResponseWriter.Write(b)
}

func (rw *metricsResponseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *metricsResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// GetDuration returns time to first byte for streaming responses and total
// duration otherwise. A zip download can stay open for minutes while the page
// produces chunks, so total time says nothing about server latency.
func (rw *metricsResponseWriter) GetDuration() time.Duration {
	if rw.isStreamingPath && !rw.firstByteTime.IsZero() {
		return rw.firstByteTime.Sub(rw.startTime)
	}
	return time.Since(rw.startTime)
}

// MetricsConfig holds configuration for the metrics middleware
type MetricsConfig struct {
	// SkipPaths are paths that should not be recorded
	SkipPaths []string
	// DownloadMarker identifies intercepted zip downloads, which are timed to first byte.
	DownloadMarker string
}

// DefaultMetricsConfig returns the default metrics configuration
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		SkipPaths:      []string{"/metrics", "/healthz", "/livez", "/readyz"},
		DownloadMarker: "/downloader?id=",
	}
}

// isStreamingRequest reports whether the response is expected to stay open:
// the broadcast event stream or an intercepted download.
func isStreamingRequest(r *http.Request, marker string) bool {
	if r.URL.Path == "/api/bridge/events" {
		return true
	}
	if marker == "" {
		return false
	}
	target := r.URL.Path
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}
	return strings.Contains(target, marker)
}

// Metrics returns a middleware that records Prometheus metrics
func Metrics(config MetricsConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, path := range config.SkipPaths {
				if strings.HasPrefix(r.URL.Path, path) {
					next.ServeHTTP(w, r)
					return
				}
			}

			metrics.HTTPRequestsInFlight.Inc()
			defer metrics.HTTPRequestsInFlight.Dec()

			streaming := isStreamingRequest(r, config.DownloadMarker)
			wrapped := newMetricsResponseWriter(w, time.Now(), streaming)

			next.ServeHTTP(wrapped, r)

			path := normalizePath(r.URL.Path)
			if streaming && path != "/api/bridge/events" {
				path = "{download}"
			}
			status := strconv.Itoa(wrapped.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(wrapped.GetDuration().Seconds())
		})
	}
}

// normalizePath collapses everything past the third segment so proxied asset
// paths and preference names cannot blow up label cardinality.
func normalizePath(path string) string {
	parts := strings.Split(path, "/")
	for i, part := range parts {
		if part == "" {
			continue
		}
		if i > 3 {
			parts[i] = "{path}"
			return strings.Join(parts[:i+1], "/")
		}
	}

	return path
}
