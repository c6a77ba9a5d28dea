package domain

import (
	"time"

	"github.com/google/uuid"
)

// AttachmentKind is the MIME category of an attachment
type AttachmentKind string

const (
	AttachmentImage    AttachmentKind = "image"
	AttachmentVideo    AttachmentKind = "video"
	AttachmentAudio    AttachmentKind = "audio"
	AttachmentDocument AttachmentKind = "document"
)

// UploadState tracks the attachment through the upload pipeline
type UploadState string

const (
	UploadPending    UploadState = "pending"
	UploadInProgress UploadState = "uploading"
	UploadCompleted  UploadState = "completed"
	UploadFailed     UploadState = "failed"
)

// MediaAttachment is a locally captured or selected file on its way to the
// object store. The pipeline owns the local bytes until upload completes or
// the attachment is removed.
type MediaAttachment struct {
	ID             uuid.UUID      `json:"id"`
	FileName       string         `json:"file_name"`
	Kind           AttachmentKind `json:"kind"`
	ContentType    string         `json:"content_type"`
	ByteSize       int64          `json:"byte_size"`
	PreviewDataURI string         `json:"preview_data_uri,omitempty"`
	DurationSec    float64        `json:"duration_sec,omitempty"` // voice recordings
	UploadState    UploadState    `json:"upload_state"`
	UploadProgress int            `json:"upload_progress"` // 0-100
	UploadedURL    string         `json:"uploaded_url,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Message is a chat message appended to the durable message store.
type Message struct {
	MessageID      uuid.UUID   `json:"message_id"`
	ConversationID uuid.UUID   `json:"conversation_id"`
	SenderID       uuid.UUID   `json:"sender_id"`
	Content        string      `json:"content,omitempty"`
	AttachmentURLs []string    `json:"attachment_urls,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}
