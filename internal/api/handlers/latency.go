package handlers

import (
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/probelabs/fleet-master/internal/latency"
	"github.com/probelabs/fleet-master/internal/models"
)

// LatencyHandler serves latency test sessions.
type LatencyHandler struct {
	service *latency.Service
	logger  *slog.Logger
}

// NewLatencyHandler creates a latency handler.
func NewLatencyHandler(service *latency.Service, logger *slog.Logger) *LatencyHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &LatencyHandler{service: service, logger: logger}
}

// startResponse identifies a newly started session.
type startResponse struct {
	SessionID string `json:"session_id"`
	ClientIP  string `json:"client_ip"`
}

// Start handles POST /v1/latency/start.
func (h *LatencyHandler) Start(w http.ResponseWriter, r *http.Request) {
	session := h.service.StartSession(r.Context(), clientIP(r))
	WriteJSON(w, http.StatusOK, startResponse{
		SessionID: session.SessionID,
		ClientIP:  session.ClientIP,
	})
}

// resultsResponse is the poll answer: the current result set plus stats.
type resultsResponse struct {
	SessionID string                `json:"session_id"`
	Results   []models.TargetResult `json:"results"`
	Stats     models.LatencyStats   `json:"stats"`
	Timestamp time.Time             `json:"timestamp"`
}

// Results handles GET /v1/latency/{sessionID}/results.
func (h *LatencyHandler) Results(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	session, stats, err := h.service.Results(sessionID)
	if err != nil {
		if errors.Is(err, latency.ErrSessionNotFound) {
			WriteNotFound(w, "session not found: "+sessionID)
			return
		}
		WriteInternalError(w, "fetching results failed")
		return
	}

	WriteJSON(w, http.StatusOK, resultsResponse{
		SessionID: session.SessionID,
		Results:   session.Targets,
		Stats:     stats,
		Timestamp: time.Now().UTC(),
	})
}

// clientIP extracts the caller's address; RealIP middleware has already
// rewritten RemoteAddr when a proxy header is present.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
