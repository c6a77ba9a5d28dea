// Package attachment stages locally selected or captured files, validates
// them, and drives their upload into the object store. The pipeline owns
// the local bytes until upload completes or the attachment is removed.
package attachment

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"callcore/internal/domain"
	"callcore/internal/storage"
	"callcore/pkg/constants"
	"callcore/pkg/sanitize"
	"callcore/pkg/errors"
	"callcore/pkg/metrics"
)

// File is one locally selected file handed to the pipeline
type File struct {
	Name string
	Data []byte
}

// UpdateFunc observes attachment state changes (progress, completion, failure)
type UpdateFunc func(att domain.MediaAttachment)

// PipelineConfig wires the pipeline's collaborators
type PipelineConfig struct {
	Store    storage.ObjectStore
	OnUpdate UpdateFunc       // optional
	Metrics  *metrics.Metrics // optional
	Logger   *zap.Logger      // optional
}

// Pipeline stages attachments for one outgoing message.
type Pipeline struct {
	store    storage.ObjectStore
	onUpdate UpdateFunc
	metrics  *metrics.Metrics
	log      *zap.Logger

	mu    sync.Mutex
	items []*item
}

type item struct {
	att  domain.MediaAttachment
	data []byte
}

// NewPipeline creates an empty attachment pipeline
func NewPipeline(cfg PipelineConfig) *Pipeline {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{
		store:    cfg.Store,
		onUpdate: cfg.OnUpdate,
		metrics:  cfg.Metrics,
		log:      log,
	}
}

// AddFiles validates and stages files. All-or-nothing: one bad file rejects
// the batch so the composer shows a single actionable error.
func (p *Pipeline) AddFiles(files ...File) ([]domain.MediaAttachment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.items)+len(files) > constants.MaxAttachmentsPerMessage {
		return nil, errors.TooManyFilesError(constants.MaxAttachmentsPerMessage)
	}

	staged := make([]*item, 0, len(files))
	for _, f := range files {
		it, err := stage(f)
		if err != nil {
			return nil, err
		}
		staged = append(staged, it)
	}

	out := make([]domain.MediaAttachment, 0, len(staged))
	for _, it := range staged {
		p.items = append(p.items, it)
		out = append(out, it.att)
	}
	return out, nil
}

// stage validates one file and builds its pending attachment
func stage(f File) (*item, error) {
	size := int64(len(f.Data))
	if size > constants.MaxAttachmentBytes {
		return nil, errors.TooLargeError(size, constants.MaxAttachmentBytes)
	}

	contentType := detectContentType(f.Name, f.Data)
	kind, ok := classify(contentType)
	if !ok {
		return nil, errors.UnsupportedAttachmentError(contentType)
	}

	return &item{
		att: domain.MediaAttachment{
			ID:             uuid.New(),
			FileName:       f.Name,
			Kind:           kind,
			ContentType:    contentType,
			ByteSize:       size,
			PreviewDataURI: buildPreview(contentType, f.Data),
			UploadState:    domain.UploadPending,
			CreatedAt:      time.Now(),
		},
		data: f.Data,
	}, nil
}

// AddVoiceRecording stages a finished voice capture. The content type comes
// from the recorder, not sniffing: encoded audio often looks like an opaque
// binary blob.
func (p *Pipeline) AddVoiceRecording(f File, contentType string, duration time.Duration) (*domain.MediaAttachment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.items)+1 > constants.MaxAttachmentsPerMessage {
		return nil, errors.TooManyFilesError(constants.MaxAttachmentsPerMessage)
	}
	size := int64(len(f.Data))
	if size > constants.MaxAttachmentBytes {
		return nil, errors.TooLargeError(size, constants.MaxAttachmentBytes)
	}

	it := &item{
		att: domain.MediaAttachment{
			ID:          uuid.New(),
			FileName:    f.Name,
			Kind:        domain.AttachmentAudio,
			ContentType: contentType,
			ByteSize:    size,
			DurationSec: duration.Seconds(),
			UploadState: domain.UploadPending,
			CreatedAt:   time.Now(),
		},
		data: f.Data,
	}
	p.items = append(p.items, it)
	att := it.att
	return &att, nil
}

// Attachments returns a snapshot of every staged attachment in order
func (p *Pipeline) Attachments() []domain.MediaAttachment {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]domain.MediaAttachment, len(p.items))
	for i, it := range p.items {
		out[i] = it.att
	}
	return out
}

// Remove drops a staged attachment and releases its bytes
func (p *Pipeline) Remove(id uuid.UUID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, it := range p.items {
		if it.att.ID == id {
			p.items = append(p.items[:i], p.items[i+1:]...)
			return
		}
	}
}

// Clear drops every staged attachment
func (p *Pipeline) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items = nil
}

// Upload streams one attachment into the object store, reporting progress
// 0-100. Failures park the attachment in failed; Retry re-attempts it, the
// pipeline never retries on its own.
func (p *Pipeline) Upload(ctx context.Context, id uuid.UUID) (*domain.MediaAttachment, error) {
	p.mu.Lock()
	it := p.findLocked(id)
	if it == nil {
		p.mu.Unlock()
		return nil, errors.NotFoundError("Attachment")
	}
	switch it.att.UploadState {
	case domain.UploadPending, domain.UploadFailed:
	default:
		p.mu.Unlock()
		return nil, errors.InvalidStateError("attachment is not awaiting upload")
	}
	it.att.UploadState = domain.UploadInProgress
	it.att.UploadProgress = 0
	att := it.att
	data := it.data
	p.mu.Unlock()

	p.notify(att)

	objectName := fmt.Sprintf("%s/%s", att.ID, sanitize.Filename(att.FileName))
	started := time.Now()
	url, err := p.store.Upload(ctx, objectName, att.ContentType, bytes.NewReader(data), att.ByteSize, func(uploaded, total int64) {
		p.setProgress(id, uploaded, total)
	})

	p.mu.Lock()
	it = p.findLocked(id)
	if it == nil {
		// Removed mid-upload; nothing left to update
		p.mu.Unlock()
		return nil, errors.NotFoundError("Attachment")
	}
	if err != nil {
		it.att.UploadState = domain.UploadFailed
		att = it.att
		p.mu.Unlock()

		if p.metrics != nil {
			p.metrics.UploadFinished("failure", att.ByteSize, time.Since(started))
		}
		p.notify(att)
		p.log.Warn("attachment upload failed",
			zap.String("attachment_id", id.String()),
			zap.Error(err))
		return nil, err
	}

	it.att.UploadState = domain.UploadCompleted
	it.att.UploadProgress = 100
	it.att.UploadedURL = url
	it.data = nil // local bytes released once the store has them
	att = it.att
	p.mu.Unlock()

	if p.metrics != nil {
		p.metrics.UploadFinished("success", att.ByteSize, time.Since(started))
	}
	p.notify(att)
	p.log.Info("attachment uploaded",
		zap.String("attachment_id", id.String()),
		zap.Int64("bytes", att.ByteSize))
	return &att, nil
}

// UploadAll uploads every pending attachment, stopping at the first failure
func (p *Pipeline) UploadAll(ctx context.Context) ([]domain.MediaAttachment, error) {
	var ids []uuid.UUID
	p.mu.Lock()
	for _, it := range p.items {
		if it.att.UploadState == domain.UploadPending {
			ids = append(ids, it.att.ID)
		}
	}
	p.mu.Unlock()

	for _, id := range ids {
		if _, err := p.Upload(ctx, id); err != nil {
			return p.Attachments(), err
		}
	}
	return p.Attachments(), nil
}

// Retry re-attempts a failed upload
func (p *Pipeline) Retry(ctx context.Context, id uuid.UUID) (*domain.MediaAttachment, error) {
	p.mu.Lock()
	it := p.findLocked(id)
	if it == nil {
		p.mu.Unlock()
		return nil, errors.NotFoundError("Attachment")
	}
	if it.att.UploadState != domain.UploadFailed {
		p.mu.Unlock()
		return nil, errors.InvalidStateError("only failed uploads can be retried")
	}
	p.mu.Unlock()

	return p.Upload(ctx, id)
}

// CompletedURLs returns the uploaded URLs in staging order, for the message
func (p *Pipeline) CompletedURLs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []string
	for _, it := range p.items {
		if it.att.UploadState == domain.UploadCompleted {
			out = append(out, it.att.UploadedURL)
		}
	}
	return out
}

func (p *Pipeline) setProgress(id uuid.UUID, uploaded, total int64) {
	if total <= 0 {
		return
	}
	pct := int(uploaded * 100 / total)
	if pct > 100 {
		pct = 100
	}

	p.mu.Lock()
	it := p.findLocked(id)
	if it == nil || it.att.UploadState != domain.UploadInProgress || it.att.UploadProgress == pct {
		p.mu.Unlock()
		return
	}
	it.att.UploadProgress = pct
	att := it.att
	p.mu.Unlock()

	p.notify(att)
}

func (p *Pipeline) findLocked(id uuid.UUID) *item {
	for _, it := range p.items {
		if it.att.ID == id {
			return it
		}
	}
	return nil
}

func (p *Pipeline) notify(att domain.MediaAttachment) {
	if p.onUpdate != nil {
		p.onUpdate(att)
	}
}

// detectContentType sniffs the payload, falling back to the extension for
// types the sniffer cannot distinguish
func detectContentType(name string, data []byte) string {
	ct := http.DetectContentType(data)
	if ct != "application/octet-stream" && ct != "text/plain; charset=utf-8" {
		return ct
	}
	switch {
	case strings.HasSuffix(strings.ToLower(name), ".pdf"):
		return "application/pdf"
	case strings.HasSuffix(strings.ToLower(name), ".txt"):
		return "text/plain"
	case strings.HasSuffix(strings.ToLower(name), ".mp3"):
		return "audio/mpeg"
	case strings.HasSuffix(strings.ToLower(name), ".ogg"):
		return "audio/ogg"
	}
	return ct
}

// classify maps a content type onto an attachment kind
func classify(contentType string) (domain.AttachmentKind, bool) {
	base := contentType
	if i := strings.Index(base, ";"); i >= 0 {
		base = strings.TrimSpace(base[:i])
	}

	switch {
	case strings.HasPrefix(base, "image/"):
		return domain.AttachmentImage, true
	case strings.HasPrefix(base, "video/"):
		return domain.AttachmentVideo, true
	case strings.HasPrefix(base, "audio/"):
		return domain.AttachmentAudio, true
	case base == "application/pdf", base == "text/plain":
		return domain.AttachmentDocument, true
	default:
		return "", false
	}
}
