package api

import (
	"net/http"
)

// SetupRoutes registers every API route on the mux.
func SetupRoutes(mux *http.ServeMux, h *Handlers) {
	mux.HandleFunc("/api/v1/sync", h.SyncTriggerHandler)
	mux.HandleFunc("/api/v1/sync/progress", h.SyncProgressHandler)
	mux.HandleFunc("/api/v1/sync/status", h.SyncStatusHandler)
	mux.HandleFunc("/api/v1/sync/sources", h.SyncSourcesHandler)
	mux.HandleFunc("/api/v1/snapshots", h.SnapshotsHandler)
	mux.HandleFunc("/api/v1/snapshots/trend", h.TrendHandler)
}
