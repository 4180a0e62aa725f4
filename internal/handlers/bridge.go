package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"convert-web/internal/bridge"
	"convert-web/internal/logging"
)

// maxMessageBytes bounds one POSTed bridge message. Chunks travel as base64,
// so this allows chunks of roughly 12 MiB.
const maxMessageBytes = 16 << 20

// heartbeatInterval keeps idle event streams from being cut by proxies.
const heartbeatInterval = 15 * time.Second

// PostBridgeMessage queues one page message for the worker. The worker
// answers on the event stream, so a 202 only means the message was queued.
func (h *Handlers) PostBridgeMessage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxMessageBytes)

	var msg bridge.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSONError(w, "Message too large", http.StatusRequestEntityTooLarge)
			return
		}
		writeJSONError(w, "Invalid message body", http.StatusBadRequest)
		return
	}

	if err := msg.Validate(); err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.worker.Submit(r.Context(), msg); err != nil {
		if errors.Is(err, bridge.ErrStopped) {
			writeJSONError(w, "Bridge worker stopped", http.StatusServiceUnavailable)
			return
		}
		logging.Warn("Bridge message %s for %q not queued: %v", msg.Action, msg.ID, err)
		writeJSONError(w, "Message not queued", http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// BridgeEvents streams every worker broadcast as server-sent events. The
// subscription is registered before the response headers are sent.
func (h *Handlers) BridgeEvents(w http.ResponseWriter, r *http.Request) {
	rc := http.NewResponseController(w)

	sub := h.hub.Subscribe()
	defer sub.Cancel()

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if _, err := io.WriteString(w, ": connected\n\n"); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		logging.Error("Event stream cannot be flushed: %v", err)
		return
	}

	logging.Debug("Bridge subscriber connected from %s", r.RemoteAddr)
	defer logging.Debug("Bridge subscriber from %s disconnected", r.RemoteAddr)

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return

		case msg, ok := <-sub.C:
			if !ok {
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				logging.Error("Failed to encode broadcast %s: %v", msg.Action, err)
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}

		case <-ticker.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
			if err := rc.Flush(); err != nil {
				return
			}
		}
	}
}
