// Package handlers implements the HTTP handlers for the fleet master API.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/probelabs/fleet-master/internal/geo"
	"github.com/probelabs/fleet-master/internal/health"
	"github.com/probelabs/fleet-master/internal/models"
	"github.com/probelabs/fleet-master/internal/registry"
)

// NodeHandler serves node registration, heartbeat ingestion, listing and the
// clustered map view.
type NodeHandler struct {
	registry *registry.Registry
	scorer   *health.Scorer
	view     *geo.View
	logger   *slog.Logger
}

// NewNodeHandler creates a node handler.
func NewNodeHandler(reg *registry.Registry, scorer *health.Scorer, view *geo.View, logger *slog.Logger) *NodeHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &NodeHandler{
		registry: reg,
		scorer:   scorer,
		view:     view,
		logger:   logger,
	}
}

// registerRequest is the node registration body.
type registerRequest struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	IPv4      string  `json:"ipv4,omitempty"`
	IPv6      string  `json:"ipv6,omitempty"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Register handles POST /v1/nodes.
func (h *NodeHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "invalid request body")
		return
	}
	if req.ID == "" {
		WriteBadRequest(w, "node id is required")
		return
	}

	node := models.Node{
		ID:        req.ID,
		Name:      req.Name,
		IPv4:      req.IPv4,
		IPv6:      req.IPv6,
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
	}

	if err := h.registry.Register(r.Context(), node); err != nil {
		if errors.Is(err, registry.ErrAlreadyRegistered) {
			WriteConflict(w, err.Error())
			return
		}
		WriteBadRequest(w, err.Error())
		return
	}

	// The map view gains a point.
	h.view.Refresh()

	registered, _ := h.registry.Get(req.ID)
	WriteJSON(w, http.StatusCreated, registered)
}

// nodeView is a node annotated with its derived health score and sample
// expiry flag.
type nodeView struct {
	models.Node
	Score   int  `json:"score"`
	Expired bool `json:"expired"`
}

// List handles GET /v1/nodes.
func (h *NodeHandler) List(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	nodes := h.registry.Snapshot()

	views := make([]nodeView, 0, len(nodes))
	for _, node := range nodes {
		views = append(views, nodeView{
			Node:    node,
			Score:   h.scorer.Score(node.Status, node.Sample),
			Expired: h.scorer.Expired(node.Sample, node.CreatedAt, now),
		})
	}

	WriteJSON(w, http.StatusOK, views)
}

// heartbeatRequest is the heartbeat ingestion body.
type heartbeatRequest struct {
	NodeID        string     `json:"node_id"`
	CPUUsage      *float64   `json:"cpu_usage,omitempty"`
	MemoryUsage   *float64   `json:"memory_usage,omitempty"`
	DiskUsage     *float64   `json:"disk_usage,omitempty"`
	UptimeSeconds int64      `json:"uptime_seconds"`
	Timestamp     *time.Time `json:"timestamp,omitempty"`
}

// Heartbeat handles POST /v1/nodes/heartbeat. A heartbeat from an id that
// was never registered is acknowledged and dropped; agents are not told to
// self-register.
func (h *NodeHandler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "invalid request body")
		return
	}
	if req.NodeID == "" {
		WriteBadRequest(w, "node_id is required")
		return
	}

	sample := models.HeartbeatSample{
		CPUUsage:      req.CPUUsage,
		MemoryUsage:   req.MemoryUsage,
		DiskUsage:     req.DiskUsage,
		UptimeSeconds: req.UptimeSeconds,
	}
	if req.Timestamp != nil {
		sample.CapturedAt = *req.Timestamp
	}

	h.registry.UpsertHeartbeat(r.Context(), req.NodeID, sample)
	WriteJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
}

// mapResponse is the clustered rendering of the fleet at one zoom level.
type mapResponse struct {
	Zoom    int            `json:"zoom"`
	Entries []geo.MapEntry `json:"entries"`
}

// MapView handles GET /v1/nodes/map?zoom=z. Repeated reads at the current
// zoom are served from the debounced view; a zoom change answers with a
// fresh clustering and schedules the view to follow.
func (h *NodeHandler) MapView(w http.ResponseWriter, r *http.Request) {
	zoom := h.view.Zoom()
	if param := r.URL.Query().Get("zoom"); param != "" {
		z, err := strconv.Atoi(param)
		if err != nil || z < 1 {
			WriteBadRequest(w, "zoom must be a positive integer")
			return
		}
		zoom = z
	}

	if zoom != h.view.Zoom() {
		h.view.SetZoom(zoom)
		WriteJSON(w, http.StatusOK, mapResponse{
			Zoom:    zoom,
			Entries: geo.Cluster(h.points(), zoom),
		})
		return
	}

	entries := h.view.Entries()
	if entries == nil {
		h.view.Refresh()
		entries = h.view.Entries()
	}
	WriteJSON(w, http.StatusOK, mapResponse{Zoom: zoom, Entries: entries})
}

// points projects the current fleet snapshot onto clusterer input.
func (h *NodeHandler) points() []geo.Point {
	nodes := h.registry.Snapshot()
	points := make([]geo.Point, 0, len(nodes))
	for _, node := range nodes {
		points = append(points, geo.Point{
			ID:     node.ID,
			Lat:    node.Latitude,
			Lon:    node.Longitude,
			Status: node.Status,
		})
	}
	return points
}

// maintenanceRequest toggles the operator maintenance override.
type maintenanceRequest struct {
	Enabled bool `json:"enabled"`
}

// Maintenance handles PUT /v1/nodes/{nodeID}/maintenance.
func (h *NodeHandler) Maintenance(w http.ResponseWriter, r *http.Request) {
	nodeID := chi.URLParam(r, "nodeID")

	var req maintenanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "invalid request body")
		return
	}

	if err := h.registry.SetMaintenance(r.Context(), nodeID, req.Enabled); err != nil {
		WriteNotFound(w, err.Error())
		return
	}

	node, _ := h.registry.Get(nodeID)
	WriteJSON(w, http.StatusOK, node)
}
