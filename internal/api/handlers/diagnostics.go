package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/probelabs/fleet-master/internal/dispatch"
	"github.com/probelabs/fleet-master/internal/models"
)

// DiagnosticsHandler serves bulk diagnostic fan-out.
type DiagnosticsHandler struct {
	dispatcher *dispatch.Dispatcher
	logger     *slog.Logger
}

// NewDiagnosticsHandler creates a diagnostics handler.
func NewDiagnosticsHandler(dispatcher *dispatch.Dispatcher, logger *slog.Logger) *DiagnosticsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DiagnosticsHandler{dispatcher: dispatcher, logger: logger}
}

// bulkRequest names the nodes and the diagnostic to trigger.
type bulkRequest struct {
	NodeIDs []string              `json:"node_ids"`
	Kind    models.DiagnosticKind `json:"kind"`
}

// validKind keeps the accepted diagnostics a closed set.
func validKind(kind models.DiagnosticKind) bool {
	return kind == models.DiagnosticServiceRescan || kind == models.DiagnosticUnlockProbe
}

// Bulk handles POST /v1/diagnostics/bulk. Per-node failures come back inside
// a 200 report; only a missing shared credential fails the whole request.
func (h *DiagnosticsHandler) Bulk(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "invalid request body")
		return
	}
	if len(req.NodeIDs) == 0 {
		WriteBadRequest(w, "node_ids must not be empty")
		return
	}
	if !validKind(req.Kind) {
		WriteBadRequest(w, "unknown diagnostic kind: "+string(req.Kind))
		return
	}

	job, err := h.dispatcher.Dispatch(r.Context(), req.NodeIDs, req.Kind)
	if err != nil {
		if errors.Is(err, dispatch.ErrMissingAPIKey) {
			WriteMisconfigured(w, "agent api key is not configured")
			return
		}
		WriteInternalError(w, "dispatch failed")
		return
	}

	WriteJSON(w, http.StatusOK, job.Report())
}
