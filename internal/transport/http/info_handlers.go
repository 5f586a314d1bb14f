package http

import (
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/chatwave/chatwave-server/internal/core"
)

const (
	apiTitle   = "ChatWave"
	apiVersion = "1.0.0"
)

// SystemHandlers provides HTTP handlers for health and service info.
type SystemHandlers struct {
	hub   *core.Hub
	mongo Pinger
	redis Pinger
	log   *zerolog.Logger
}

// NewSystemHandlers creates a new system handlers instance.
func NewSystemHandlers(hub *core.Hub, mongo, redis Pinger, logger *zerolog.Logger) *SystemHandlers {
	return &SystemHandlers{
		hub:   hub,
		mongo: mongo,
		redis: redis,
		log:   logger,
	}
}

// HealthResponse represents the health check response body.
type HealthResponse struct {
	Status  string `json:"status"`
	MongoDB string `json:"mongodb"`
	Redis   string `json:"redis"`
}

// InfoResponse represents the service info response body.
type InfoResponse struct {
	Title            string             `json:"title"`
	Version          string             `json:"version"`
	ActiveRooms      []RoomInfoResponse `json:"active_rooms"`
	TotalConnections int                `json:"total_connections"`
}

// RoomInfoResponse represents an occupied room in the rooms listing.
type RoomInfoResponse struct {
	Name    string `json:"name"`
	Clients int    `json:"clients"`
}

// Health reports reachability of the backing services. The endpoint
// always answers 200 so load balancers can read the degraded status.
// GET /health
func (h *SystemHandlers) Health(c *gin.Context) {
	resp := HealthResponse{
		Status:  "healthy",
		MongoDB: pingStatus(c, h.mongo),
		Redis:   pingStatus(c, h.redis),
	}
	if resp.MongoDB != "connected" || resp.Redis != "connected" {
		resp.Status = "degraded"
	}

	c.JSON(http.StatusOK, resp)
}

// Info reports service metadata and current room occupancy.
// GET /info
func (h *SystemHandlers) Info(c *gin.Context) {
	rooms := h.snapshot()

	active := make([]RoomInfoResponse, 0, len(rooms))
	total := 0
	for _, room := range rooms {
		active = append(active, RoomInfoResponse{Name: room.Name, Clients: room.Clients})
		total += room.Clients
	}
	sort.Slice(active, func(i, j int) bool { return active[i].Name < active[j].Name })

	c.JSON(http.StatusOK, InfoResponse{
		Title:            apiTitle,
		Version:          apiVersion,
		ActiveRooms:      active,
		TotalConnections: total,
	})
}

// ListRooms lists the currently occupied rooms with client counts.
// GET /api/v1/rooms
func (h *SystemHandlers) ListRooms(c *gin.Context) {
	rooms := h.snapshot()

	resp := make([]RoomInfoResponse, 0, len(rooms))
	for _, room := range rooms {
		resp = append(resp, RoomInfoResponse{Name: room.Name, Clients: room.Clients})
	}
	sort.Slice(resp, func(i, j int) bool { return resp[i].Name < resp[j].Name })

	c.JSON(http.StatusOK, gin.H{"rooms": resp, "count": len(resp)})
}

func (h *SystemHandlers) snapshot() []core.RoomInfo {
	if h.hub == nil {
		return nil
	}
	return h.hub.Snapshot()
}

func pingStatus(c *gin.Context, p Pinger) string {
	if p == nil {
		return "error: not configured"
	}
	if err := p.Ping(c.Request.Context()); err != nil {
		return "error: " + err.Error()
	}
	return "connected"
}
