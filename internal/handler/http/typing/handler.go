// Package typing exposes typing indicator controls per conversation.
package typing

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"callcore/internal/typing"
	"callcore/pkg/response"
)

// Handler handles typing indicator requests
type Handler struct {
	coordinator *typing.Coordinator
}

// NewHandler creates a new typing handler
func NewHandler(coordinator *typing.Coordinator) *Handler {
	return &Handler{coordinator: coordinator}
}

// Notify reports local input activity in a conversation. Safe to call on
// every keystroke; broadcasts are debounced internally.
// POST /v1/typing/:conversation_id
func (h *Handler) Notify(c *gin.Context) {
	conversationID, err := uuid.Parse(c.Param("conversation_id"))
	if err != nil {
		response.ValidationError(c, "Invalid conversation ID")
		return
	}

	if err := h.coordinator.NotifyTyping(c.Request.Context(), conversationID); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"typing": true})
}

// Stop reports that local input stopped (message sent or input cleared)
// DELETE /v1/typing/:conversation_id
func (h *Handler) Stop(c *gin.Context) {
	conversationID, err := uuid.Parse(c.Param("conversation_id"))
	if err != nil {
		response.ValidationError(c, "Invalid conversation ID")
		return
	}

	if err := h.coordinator.StopTyping(c.Request.Context(), conversationID); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"typing": false})
}

// Typists lists peers currently typing in a conversation
// GET /v1/typing/:conversation_id
func (h *Handler) Typists(c *gin.Context) {
	conversationID, err := uuid.Parse(c.Param("conversation_id"))
	if err != nil {
		response.ValidationError(c, "Invalid conversation ID")
		return
	}
	response.Success(c, http.StatusOK, h.coordinator.Typists(conversationID))
}
