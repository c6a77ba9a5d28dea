// Package presence exposes presence status controls and the peer roster.
package presence

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"callcore/internal/domain"
	"callcore/internal/presence"
	"callcore/pkg/response"
)

// Handler handles presence requests
type Handler struct {
	tracker *presence.Tracker
}

// NewHandler creates a new presence handler
func NewHandler(tracker *presence.Tracker) *Handler {
	return &Handler{tracker: tracker}
}

// SetStatusRequest represents a status change request
type SetStatusRequest struct {
	Status string `json:"status" binding:"required,oneof=online away busy offline"`
}

// Self reports the local user's own status and connectivity
// GET /v1/presence
func (h *Handler) Self(c *gin.Context) {
	response.Success(c, http.StatusOK, gin.H{
		"status":   h.tracker.Status(),
		"degraded": h.tracker.Degraded(),
	})
}

// SetStatus changes the local user's reported status
// PUT /v1/presence
func (h *Handler) SetStatus(c *gin.Context) {
	var req SetStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	h.tracker.SetStatus(c.Request.Context(), domain.PresenceStatus(req.Status))
	response.Success(c, http.StatusOK, gin.H{"status": req.Status})
}

// Peers lists every tracked peer with its effective status
// GET /v1/presence/peers
func (h *Handler) Peers(c *gin.Context) {
	peers := h.tracker.Peers()
	out := make([]gin.H, 0, len(peers))
	for id, status := range peers {
		out = append(out, gin.H{"user_id": id, "status": status})
	}
	response.Success(c, http.StatusOK, out)
}

// Peer reports one peer's effective status
// GET /v1/presence/peers/:id
func (h *Handler) Peer(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid user ID")
		return
	}
	response.Success(c, http.StatusOK, gin.H{
		"user_id": id,
		"status":  h.tracker.EffectiveStatus(id),
	})
}
