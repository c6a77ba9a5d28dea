// Package attachment exposes the media capture and upload pipeline over
// the local control API.
package attachment

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"callcore/internal/attachment"
	"callcore/pkg/response"
)

// Handler handles attachment requests
type Handler struct {
	pipeline *attachment.Pipeline
	recorder *attachment.Recorder
}

// NewHandler creates a new attachment handler
func NewHandler(pipeline *attachment.Pipeline, recorder *attachment.Recorder) *Handler {
	return &Handler{
		pipeline: pipeline,
		recorder: recorder,
	}
}

// List returns the staged attachments for the message being composed
// GET /v1/attachments
func (h *Handler) List(c *gin.Context) {
	response.Success(c, http.StatusOK, h.pipeline.Attachments())
}

// Add stages one or more files from a multipart form
// POST /v1/attachments
func (h *Handler) Add(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		response.ValidationError(c, "Expected multipart form")
		return
	}

	headers := form.File["files"]
	if len(headers) == 0 {
		response.ValidationError(c, "No files in request")
		return
	}

	files := make([]attachment.File, 0, len(headers))
	for _, header := range headers {
		f, err := header.Open()
		if err != nil {
			response.ValidationError(c, "Unreadable file: "+header.Filename)
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			response.ValidationError(c, "Unreadable file: "+header.Filename)
			return
		}
		files = append(files, attachment.File{Name: header.Filename, Data: data})
	}

	staged, err := h.pipeline.AddFiles(files...)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, staged)
}

// Remove discards one staged attachment
// DELETE /v1/attachments/:id
func (h *Handler) Remove(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid attachment ID")
		return
	}
	h.pipeline.Remove(id)
	response.Success(c, http.StatusOK, gin.H{"removed": true})
}

// Clear discards every staged attachment
// DELETE /v1/attachments
func (h *Handler) Clear(c *gin.Context) {
	h.pipeline.Clear()
	response.Success(c, http.StatusOK, gin.H{"cleared": true})
}

// Upload pushes one staged attachment to the object store
// POST /v1/attachments/:id/upload
func (h *Handler) Upload(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid attachment ID")
		return
	}

	att, err := h.pipeline.Upload(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, att)
}

// UploadAll uploads every pending attachment, stopping at the first failure
// POST /v1/attachments/upload
func (h *Handler) UploadAll(c *gin.Context) {
	atts, err := h.pipeline.UploadAll(c.Request.Context())
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, atts)
}

// Retry re-attempts a failed upload
// POST /v1/attachments/:id/retry
func (h *Handler) Retry(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.ValidationError(c, "Invalid attachment ID")
		return
	}

	att, err := h.pipeline.Retry(c.Request.Context(), id)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, att)
}

// StartRecording acquires the microphone for a voice message
// POST /v1/attachments/voice/start
func (h *Handler) StartRecording(c *gin.Context) {
	if err := h.recorder.Start(c.Request.Context()); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"recording": true})
}

// AppendChunk feeds captured audio into the active recording
// POST /v1/attachments/voice/chunk
func (h *Handler) AppendChunk(c *gin.Context) {
	chunk, err := io.ReadAll(c.Request.Body)
	if err != nil {
		response.ValidationError(c, "Unreadable chunk")
		return
	}
	if err := h.recorder.AppendChunk(chunk); err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"recording": true})
}

// StopRecording finishes the recording and stages it as an attachment
// POST /v1/attachments/voice/stop
func (h *Handler) StopRecording(c *gin.Context) {
	file, duration, err := h.recorder.Stop()
	if err != nil {
		response.FromError(c, err)
		return
	}

	att, err := h.pipeline.AddVoiceRecording(file, attachment.VoiceContentType, duration)
	if err != nil {
		response.FromError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, att)
}

// CancelRecording discards the recording and releases the microphone
// POST /v1/attachments/voice/cancel
func (h *Handler) CancelRecording(c *gin.Context) {
	h.recorder.Cancel()
	response.Success(c, http.StatusOK, gin.H{"recording": false})
}
