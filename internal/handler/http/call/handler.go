// Package call exposes the call session state machine over the local
// control API consumed by the UI.
package call

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"callcore/internal/call"
	"callcore/internal/domain"
	"callcore/internal/identity"
	"callcore/internal/repository/cockroach"
	"callcore/pkg/response"
)

// Handler handles call control requests
type Handler struct {
	store    *call.Store
	identity *identity.Provider
	records  *cockroach.CallRepository
}

// NewHandler creates a new call handler. records may be nil when no call
// log database is configured.
func NewHandler(store *call.Store, provider *identity.Provider, records *cockroach.CallRepository) *Handler {
	return &Handler{
		store:    store,
		identity: provider,
		records:  records,
	}
}

// StartCallRequest represents an outgoing call request
type StartCallRequest struct {
	PeerID    string `json:"peer_id" binding:"required,uuid"`
	MediaKind string `json:"media_kind" binding:"required,oneof=audio video"`
}

// Current returns the active call session, if any
// GET /v1/call
func (h *Handler) Current(c *gin.Context) {
	session := h.store.Current()
	if session == nil {
		response.Success(c, http.StatusOK, gin.H{"active": false})
		return
	}
	response.Success(c, http.StatusOK, gin.H{"active": true, "session": session})
}

// Start places an outgoing call
// POST /v1/call
func (h *Handler) Start(c *gin.Context) {
	var req StartCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ValidationError(c, err.Error())
		return
	}

	peerID, err := uuid.Parse(req.PeerID)
	if err != nil {
		response.ValidationError(c, "Invalid peer ID")
		return
	}

	peerName := h.identity.DisplayName(c.Request.Context(), peerID)
	session, err := h.store.StartCall(c.Request.Context(), peerID, peerName, domain.MediaKind(req.MediaKind))
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, session)
}

// Accept answers the ringing incoming call
// POST /v1/call/accept
func (h *Handler) Accept(c *gin.Context) {
	session, err := h.store.AcceptCall(c.Request.Context())
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, session)
}

// Reject declines the ringing incoming call
// POST /v1/call/reject
func (h *Handler) Reject(c *gin.Context) {
	if err := h.store.RejectCall(); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"rejected": true})
}

// End hangs up the active call
// POST /v1/call/end
func (h *Handler) End(c *gin.Context) {
	if err := h.store.EndCall(); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"ended": true})
}

// ToggleMute flips the microphone mute flag
// POST /v1/call/mute
func (h *Handler) ToggleMute(c *gin.Context) {
	session, err := h.store.ToggleMute()
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, session)
}

// ToggleVideo flips the camera flag
// POST /v1/call/video
func (h *Handler) ToggleVideo(c *gin.Context) {
	session, err := h.store.ToggleVideo()
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, session)
}

// ToggleSpeaker flips the speakerphone flag
// POST /v1/call/speaker
func (h *Handler) ToggleSpeaker(c *gin.Context) {
	session, err := h.store.ToggleSpeaker()
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, session)
}

// History lists recent calls with a peer
// GET /v1/call/history?peer_id=...&limit=...
func (h *Handler) History(c *gin.Context) {
	if h.records == nil {
		response.Success(c, http.StatusOK, []any{})
		return
	}

	peerID, err := uuid.Parse(c.Query("peer_id"))
	if err != nil {
		response.ValidationError(c, "Invalid peer ID")
		return
	}

	limit := 50
	records, err := h.records.RecentWith(c.Request.Context(), peerID, limit)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, records)
}
