package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"convert-web/internal/logging"
	"convert-web/internal/preferences"

	"github.com/gorilla/mux"
)

// maxPreferenceBytes bounds a PUT preference document.
const maxPreferenceBytes = 1 << 20

// PreferenceIndex lists the preference documents and the restore switch.
type PreferenceIndex struct {
	Names           []string `json:"names"`
	RestoreDisabled bool     `json:"restoreDisabled"`
}

// ListPreferences returns the names accepted by GetPreference.
func (h *Handlers) ListPreferences(w http.ResponseWriter, r *http.Request) {
	disabled, err := preferences.RestoreDisabled(r.Context(), h.db)
	if err != nil {
		logging.Error("Failed to read restore switch: %v", err)
		writeJSONError(w, "Failed to read preferences", http.StatusInternalServerError)
		return
	}

	writeJSONStatus(w, http.StatusOK, PreferenceIndex{
		Names:           h.prefs.Names(),
		RestoreDisabled: disabled,
	})
}

// GetPreference returns one option tree as JSON.
func (h *Handlers) GetPreference(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.prefs.Lookup(mux.Vars(r)["name"])
	if !ok {
		writeJSONError(w, "Unknown preference document", http.StatusNotFound)
		return
	}

	h.writeDocument(w, doc)
}

// PutPreference merges the request body over one option tree, persists
// it, and returns the result.
func (h *Handlers) PutPreference(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	doc, ok := h.prefs.Lookup(name)
	if !ok {
		writeJSONError(w, "Unknown preference document", http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPreferenceBytes))
	if err != nil {
		writeJSONError(w, "Preference document too large", http.StatusRequestEntityTooLarge)
		return
	}
	if !json.Valid(body) {
		writeJSONError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if err := doc.SetJSON(r.Context(), body); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			writeJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
		logging.Error("Failed to save preference %s: %v", name, err)
		writeJSONError(w, "Failed to save preferences", http.StatusInternalServerError)
		return
	}

	h.writeDocument(w, doc)
}

func (h *Handlers) writeDocument(w http.ResponseWriter, doc preferences.Document) {
	data, err := doc.JSON()
	if err != nil {
		logging.Error("Failed to encode preference %s: %v", doc.Key(), err)
		writeJSONError(w, "Failed to encode preferences", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
