package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"convert-web/internal/logging"
	"convert-web/internal/metrics"
	"convert-web/internal/streaming"

	"github.com/dustin/go-humanize"
)

// pingBody is the ping probe response. Pages poll it to keep the worker
// alive while a long transfer runs.
const pingBody = "Success."

// Intercept is the catch-all route. A request naming a live transfer gets
// the zip stream; the ping probe is answered locally; a request carrying
// the download marker for an unknown transfer gets 404 and never reaches
// the network; everything else goes to the asset cache.
func (h *Handlers) Intercept(w http.ResponseWriter, r *http.Request) {
	uri := r.URL.RequestURI()

	id, marked := h.transferID(uri)
	if marked {
		rc, err := h.registry.Attach(r.Context(), id)
		if err == nil {
			h.serveDownload(w, r, id, rc)
			return
		}
		logging.Debug("Download for transfer %q not available: %v", id, err)
	}

	if strings.HasSuffix(uri, h.pingPath) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, pingBody)
		return
	}

	if marked {
		http.NotFound(w, r)
		return
	}

	h.assets.ServeHTTP(w, r)
}

// transferID returns the text after the last download marker in uri.
func (h *Handlers) transferID(uri string) (string, bool) {
	idx := strings.LastIndex(uri, h.marker)
	if idx < 0 {
		return "", false
	}
	return uri[idx+len(h.marker):], true
}

func (h *Handlers) serveDownload(w http.ResponseWriter, r *http.Request, id string, rc io.ReadCloser) {
	// Closing before end-of-stream aborts the transfer.
	defer func() { _ = rc.Close() }()

	metrics.TransferDownloadsInFlight.Inc()
	defer metrics.TransferDownloadsInFlight.Dec()

	filename := fmt.Sprintf("%s-%d.zip", h.archivePrefix, h.now().UnixMilli())
	header := w.Header()
	header.Set("Content-Type", "application/zip")
	header.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	header.Set("Cache-Control", "no-store")
	header.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	// Headers go out before the first chunk so the download starts while
	// the page is still producing.
	if err := http.NewResponseController(w).Flush(); err != nil {
		logging.Debug("Flush not supported for transfer %q: %v", id, err)
	}

	config := streaming.DefaultTimeoutWriterConfig()
	config.IdleTimeout = h.idleTimeout
	if logging.IsDebugEnabled() {
		config.OnProgress = func(written int64, elapsed time.Duration) {
			logging.Debug("Transfer %q: %s served in %v", id, humanize.Bytes(uint64(written)), elapsed)
		}
	}

	written, err := streaming.StreamWithTimeout(r.Context(), w, rc, config)
	switch {
	case err == nil:
		logging.Info("Transfer %q delivered as %s (%s)", id, filename, humanize.Bytes(uint64(written)))
	case errors.Is(err, streaming.ErrClientGone), errors.Is(err, streaming.ErrStreamCanceled):
		logging.Warn("Transfer %q aborted by client after %s", id, humanize.Bytes(uint64(written)))
	default:
		logging.Error("Transfer %q failed after %s: %v", id, humanize.Bytes(uint64(written)), err)
	}
}
