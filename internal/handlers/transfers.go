package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
)

// ListTransfers returns a snapshot of every transfer in the registry,
// oldest first.
func (h *Handlers) ListTransfers(w http.ResponseWriter, _ *http.Request) {
	transfers := h.registry.List()

	w.Header().Set("Cache-Control", "no-cache")
	writeJSONStatus(w, http.StatusOK, transfers)
}

// GetTransfer returns one transfer snapshot.
func (h *Handlers) GetTransfer(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	info, ok := h.registry.Get(id)
	if !ok {
		writeJSONError(w, "Transfer not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Cache-Control", "no-cache")
	writeJSONStatus(w, http.StatusOK, info)
}
