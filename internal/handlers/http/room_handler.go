package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"comlink/internal/core/domain"
	"comlink/internal/core/ports"
	"comlink/internal/core/services"
	"comlink/internal/infrastructure/monitoring"
	"comlink/internal/infrastructure/signal"
	"comlink/pkg/cache"
	"comlink/pkg/utils"
	"comlink/pkg/validation"

	"github.com/gin-gonic/gin"
)

// PresenceDirectory answers cluster-wide room occupancy for rooms hosted on
// other relay instances.
type PresenceDirectory interface {
	Occupancy(ctx context.Context, room domain.RoomID) ([]domain.PeerID, error)
}

// RoomHandler exposes the relay's HTTP surface: room provisioning, room
// status and the alert archive. The websocket endpoint lives next to it so
// one listener serves both.
type RoomHandler struct {
	relay    *signal.Relay
	tokens   services.TokenService
	alerts   ports.AlertRepository
	health   *monitoring.HealthChecker
	presence PresenceDirectory

	statusCache *cache.Cache
}

func NewRoomHandler(relay *signal.Relay, tokens services.TokenService, alerts ports.AlertRepository, health *monitoring.HealthChecker) *RoomHandler {
	return &RoomHandler{
		relay:       relay,
		tokens:      tokens,
		alerts:      alerts,
		health:      health,
		statusCache: cache.New(2 * time.Second),
	}
}

// SetPresence attaches the cluster presence directory. Without one, room
// status answers from this instance's rooms only.
func (h *RoomHandler) SetPresence(presence PresenceDirectory) {
	h.presence = presence
}

func (h *RoomHandler) SetupRoutes(router *gin.Engine) {
	router.GET("/ws", gin.WrapF(h.relay.HandleWebSocket))
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)

	api := router.Group("/api/v1")
	{
		api.POST("/rooms/token", h.ProvisionRoom)
		api.GET("/rooms/:id", h.GetRoomStatus)
		api.GET("/rooms/:id/alerts", h.GetRoomAlerts)
	}
}

// ProvisionRoom mints a room token for a peer. When no room is given a fresh
// human-readable one is generated.
func (h *RoomHandler) ProvisionRoom(c *gin.Context) {
	var req struct {
		Room domain.RoomID `json:"room"`
		Peer domain.PeerID `json:"peer" binding:"required"`
	}

	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	room := req.Room
	if room == "" {
		room = domain.RoomID(utils.GenerateRoomToken())
	} else if err := validation.ValidateRoomID(string(room)); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validation.ValidatePeerID(string(req.Peer)); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp := gin.H{"room": room, "peer": req.Peer}

	if h.tokens != nil {
		token, err := h.tokens.GenerateRoomToken(room, req.Peer)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to mint room token"})
			return
		}
		resp["token"] = token
	}

	c.JSON(http.StatusCreated, resp)
}

func (h *RoomHandler) GetRoomStatus(c *gin.Context) {
	roomID := domain.RoomID(c.Param("id"))

	// Status polls come from dashboards at a steady clip; serve a short
	// lived cached view instead of hitting the room table every time.
	if cached, ok := h.statusCache.Get(string(roomID)); ok {
		c.JSON(http.StatusOK, cached)
		return
	}

	peers := h.relay.RoomOccupancy(roomID)
	if len(peers) == 0 && h.presence != nil {
		// The room may live on another relay instance.
		remote, err := h.presence.Occupancy(c.Request.Context(), roomID)
		if err == nil {
			peers = remote
		}
	}
	if len(peers) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
		return
	}

	status := gin.H{
		"room":      roomID,
		"peers":     peers,
		"occupants": len(peers),
	}
	h.statusCache.Set(string(roomID), status)
	c.JSON(http.StatusOK, status)
}

func (h *RoomHandler) GetRoomAlerts(c *gin.Context) {
	if h.alerts == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "alert archive not configured"})
		return
	}

	roomID := domain.RoomID(c.Param("id"))

	limit := 100
	if q := c.Query("limit"); q != "" {
		parsed, err := strconv.Atoi(q)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	alerts, err := h.alerts.History(c.Request.Context(), roomID, limit)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "alert archive unavailable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"room":   roomID,
		"alerts": alerts,
	})
}

func (h *RoomHandler) Health(c *gin.Context) {
	if h.health == nil {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now().Unix(),
			"rooms":     h.relay.RoomCount(),
		})
		return
	}

	status := h.health.CheckAll(c.Request.Context())
	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":    status.Status,
		"timestamp": status.Timestamp.Unix(),
		"rooms":     h.relay.RoomCount(),
		"checks":    status.Checks,
	})
}

// Ready reports dependency readiness for load balancer probes.
func (h *RoomHandler) Ready(c *gin.Context) {
	if h.health == nil || h.health.IsReady(c.Request.Context()) {
		c.JSON(http.StatusOK, gin.H{"ready": true})
		return
	}
	c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false})
}
