package handlers

import (
	"net/http"

	"convert-web/internal/bridge"

	"github.com/gorilla/mux"
)

// Router registers every route. Intercept is the catch-all, so anything
// not claimed by the API (downloads, the ping probe, proxied assets) ends
// up there.
func (h *Handlers) Router() *mux.Router {
	r := mux.NewRouter()

	// Health check and version routes
	r.HandleFunc("/healthz", h.HealthCheck).Methods("GET")
	r.HandleFunc("/livez", h.LivenessCheck).Methods("GET", "HEAD")
	r.HandleFunc("/readyz", h.ReadinessCheck).Methods("GET")
	r.HandleFunc("/version", h.GetVersion).Methods("GET")

	// Bridge
	r.HandleFunc(bridge.MessagesPath, h.PostBridgeMessage).Methods("POST")
	r.HandleFunc(bridge.EventsPath, h.BridgeEvents).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/transfers", h.ListTransfers).Methods("GET")
	api.HandleFunc("/transfers/{id}", h.GetTransfer).Methods("GET")
	api.HandleFunc("/preferences", h.ListPreferences).Methods("GET")
	api.HandleFunc("/preferences/{name}", h.GetPreference).Methods("GET")
	api.HandleFunc("/preferences/{name}", h.PutPreference).Methods("PUT")

	r.PathPrefix("/").Handler(http.HandlerFunc(h.Intercept))

	return r
}
