// Package api exposes the sync pipeline over HTTP: trigger and progress
// endpoints, sync status, and the snapshot/trend surface.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/VulnFusion/go-api/fusion/pipeline"
	"github.com/VulnFusion/go-api/fusion/snapshot"
	"github.com/VulnFusion/go-api/fusion/vulnerability"
)

// Handlers carries the HTTP endpoint dependencies.
type Handlers struct {
	orchestrator *pipeline.Orchestrator
	vulns        *vulnerability.Repository
	snapshots    *snapshot.Manager
}

// NewHandlers wires the endpoint set.
func NewHandlers(orchestrator *pipeline.Orchestrator, vulns *vulnerability.Repository, snapshots *snapshot.Manager) *Handlers {
	return &Handlers{
		orchestrator: orchestrator,
		vulns:        vulns,
		snapshots:    snapshots,
	}
}

// SyncTriggerRequest selects the sources a sync run should execute. An
// empty or absent list selects every default-enabled source.
type SyncTriggerRequest struct {
	Sources []string `json:"sources,omitempty"`
}

// SyncTriggerHandler starts a sync run in the background. The response is
// 202 as soon as the run is accepted; progress is observed separately.
func (h *Handlers) SyncTriggerHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req SyncTriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	err := h.orchestrator.Start(r.Context(), req.Sources)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]any{
			"status":  "accepted",
			"sources": req.Sources,
		})
	case errors.Is(err, pipeline.ErrSyncInProgress):
		writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error()})
	case errors.Is(err, pipeline.ErrUnknownSource), errors.Is(err, pipeline.ErrNoSources):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
	default:
		slog.Error("sync trigger failed", "error", err)
		http.Error(w, "Failed to start sync", http.StatusInternalServerError)
	}
}

// SyncProgressHandler returns the current (or most recent) run state.
func (h *Handlers) SyncProgressHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	progress, err := h.orchestrator.Progress(r.Context())
	if err != nil {
		http.Error(w, "Failed to load sync progress", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

// SyncStatusHandler reports the most recent completed primary sync.
func (h *Handlers) SyncStatusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	state, err := h.vulns.LastSyncState(r.Context())
	if err != nil {
		http.Error(w, "Failed to load sync state", http.StatusInternalServerError)
		return
	}
	if state == nil {
		writeJSON(w, http.StatusOK, map[string]any{"synced": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"synced":         true,
		"last_synced_at": state.LastSyncTime.UTC().Format(time.RFC3339),
		"sync_type":      state.SyncType,
		"records_count":  state.RecordsCount,
	})
}

// sourceInfo is the public shape of a registered sync source.
type sourceInfo struct {
	Key            string `json:"key"`
	Name           string `json:"name"`
	Description    string `json:"description"`
	DefaultEnabled bool   `json:"default_enabled"`
	FailureMode    string `json:"failure_mode"`
}

// SyncSourcesHandler lists the registered sources in execution order.
func (h *Handlers) SyncSourcesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sources := h.orchestrator.Sources()
	out := make([]sourceInfo, 0, len(sources))
	for _, src := range sources {
		out = append(out, sourceInfo{
			Key:            src.Key,
			Name:           src.Name,
			Description:    src.Description,
			DefaultEnabled: src.DefaultEnabled,
			FailureMode:    string(src.FailureMode),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sources": out})
}

// SnapshotsHandler creates a snapshot on POST and lists snapshots on GET.
func (h *Handlers) SnapshotsHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		snap, err := h.snapshots.Create(r.Context())
		if err != nil {
			slog.Error("snapshot creation failed", "error", err)
			http.Error(w, "Failed to create snapshot", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{
			"snapshot_id":   snap.ID,
			"snapshot_time": snap.SnapshotTime.UTC().Format(time.RFC3339),
		})
	case http.MethodGet:
		limit := 30
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 1 {
				http.Error(w, "Invalid limit", http.StatusBadRequest)
				return
			}
			limit = parsed
		}
		snaps, err := h.snapshots.List(r.Context(), limit)
		if err != nil {
			http.Error(w, "Failed to list snapshots", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"snapshots": snaps})
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// TrendHandler returns the day-bucketed trend series for a calendar period.
func (h *Handlers) TrendHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	period := r.URL.Query().Get("period")
	if period == "" {
		period = snapshot.PeriodWeek
	}
	switch period {
	case snapshot.PeriodWeek, snapshot.PeriodMonth, snapshot.PeriodYear:
	default:
		http.Error(w, fmt.Sprintf("Invalid period: %s", period), http.StatusBadRequest)
		return
	}

	points, err := h.snapshots.Trend(r.Context(), period)
	if err != nil {
		slog.Error("trend query failed", "period", period, "error", err)
		http.Error(w, "Failed to compute trend", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"period": period,
		"points": points,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}
