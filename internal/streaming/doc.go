/*
Package streaming provides timeout-protected streaming for HTTP responses.

Intercepted zip downloads are fed by a producer on the other side of the
bridge: the response stays open while chunks trickle in, and the client may
go away at any point. The streaming package wraps http.ResponseWriter so that
a stalled client cannot pin a transfer forever and a vanished client releases
the reader it was attached to.

# Key Features

  - Per-write timeouts bound each write to the client
  - Optional idle detection (off by default, since the producer sets the pace)
  - Large writes are split into ChunkSize pieces and flushed one by one
  - Client disconnect detection through the request context
  - Progress callbacks every ProgressInterval bytes

# Basic Usage

	func (h *Handlers) serveTransfer(w http.ResponseWriter, r *http.Request, id string) {
		rc, err := h.registry.Attach(r.Context(), id)
		if err != nil {
			http.NotFound(w, r)
			return
		}
		defer rc.Close()

		w.Header().Set("Content-Type", "application/zip")
		n, err := streaming.StreamWithTimeout(r.Context(), w, rc, streaming.DefaultTimeoutWriterConfig())
		if err != nil && !errors.Is(err, streaming.ErrClientGone) {
			logging.Warn("Download %s failed after %d bytes: %v", id, n, err)
		}
	}

When the source passed to StreamWithTimeout implements io.Closer it is closed
as soon as the writer gives up, so a Read blocked on a producer returns.

# Errors

	ErrWriteTimeout    a single write or the whole stream ran out of time
	ErrClientGone      the request context was canceled
	ErrStreamCanceled  the writer was closed or went idle
*/
package streaming
