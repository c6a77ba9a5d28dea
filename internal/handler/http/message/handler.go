// Package message exposes the durable message feed: sending composed
// messages (with any staged attachments) and reading recent history.
package message

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"callcore/internal/attachment"
	"callcore/internal/domain"
	"callcore/internal/msgstore"
	"callcore/internal/typing"
	"callcore/pkg/response"
)

// Handler handles message requests
type Handler struct {
	feed     *msgstore.Feed
	pipeline *attachment.Pipeline
	typing   *typing.Coordinator
}

// NewHandler creates a new message handler. pipeline and typingCoord may
// be nil.
func NewHandler(feed *msgstore.Feed, pipeline *attachment.Pipeline, typingCoord *typing.Coordinator) *Handler {
	return &Handler{
		feed:     feed,
		pipeline: pipeline,
		typing:   typingCoord,
	}
}

// SendRequest represents a composed message
type SendRequest struct {
	ConversationID string `json:"conversation_id" binding:"required,uuid"`
	Content        string `json:"content"`
}

// Send uploads any staged attachments, persists the message, and fans it
// out on the bus. Sending also retires the local typing indicator.
// POST /v1/messages
func (h *Handler) Send(c *gin.Context) {
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	conversationID, err := uuid.Parse(req.ConversationID)
	if err != nil {
		response.ValidationError(c, "Invalid conversation ID")
		return
	}

	var urls []string
	if h.pipeline != nil {
		if _, err := h.pipeline.UploadAll(c.Request.Context()); err != nil {
			response.FromError(c, err)
			return
		}
		urls = h.pipeline.CompletedURLs()
	}

	if req.Content == "" && len(urls) == 0 {
		response.ValidationError(c, "Message needs content or attachments")
		return
	}

	msg := &domain.Message{
		ConversationID: conversationID,
		Content:        req.Content,
		AttachmentURLs: urls,
	}
	if err := h.feed.Send(c.Request.Context(), msg); err != nil {
		response.FromError(c, err)
		return
	}

	if h.pipeline != nil {
		h.pipeline.Clear()
	}
	if h.typing != nil {
		h.typing.StopTyping(c.Request.Context(), conversationID)
	}

	response.Success(c, http.StatusCreated, msg)
}

// Recent lists the newest messages in a conversation
// GET /v1/messages?conversation_id=...&limit=...
func (h *Handler) Recent(c *gin.Context) {
	conversationID, err := uuid.Parse(c.Query("conversation_id"))
	if err != nil {
		response.ValidationError(c, "Invalid conversation ID")
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	messages, err := h.feed.Recent(c.Request.Context(), conversationID, limit)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, messages)
}
