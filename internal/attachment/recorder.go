package attachment

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"callcore/internal/domain"
	"callcore/internal/media"
	"callcore/pkg/errors"
)

// VoiceContentType is the encoding voice recordings are captured in
const VoiceContentType = "audio/ogg"

// Recorder captures a voice message through the device stack. One recording
// at a time; the microphone is held from Start until Stop or Cancel.
type Recorder struct {
	devices media.Devices

	mu        sync.Mutex
	stream    *media.Stream
	buf       bytes.Buffer
	startedAt time.Time
	now       func() time.Time
}

// NewRecorder creates a voice recorder over the given device stack
func NewRecorder(devices media.Devices) *Recorder {
	return &Recorder{devices: devices, now: time.Now}
}

// Start acquires the microphone and begins a recording. Device refusal and
// missing hardware surface exactly like starting an audio call.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stream != nil {
		return errors.InvalidStateError("a recording is already in progress")
	}

	stream, err := r.devices.AcquireStream(ctx, domain.MediaAudio)
	if err != nil {
		return err
	}

	r.stream = stream
	r.buf.Reset()
	r.startedAt = r.now()
	return nil
}

// Recording reports whether a capture is in progress
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stream != nil
}

// AppendChunk feeds encoded audio from the capture callback
func (r *Recorder) AppendChunk(chunk []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stream == nil {
		return errors.InvalidStateError("no recording in progress")
	}
	_, _ = r.buf.Write(chunk)
	return nil
}

// Stop releases the microphone and returns the captured file with its
// duration. The caller stages it through Pipeline.AddVoiceRecording.
func (r *Recorder) Stop() (File, time.Duration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stream == nil {
		return File{}, 0, errors.InvalidStateError("no recording in progress")
	}

	r.stream.Stop()
	r.stream = nil
	duration := r.now().Sub(r.startedAt)

	data := make([]byte, r.buf.Len())
	copy(data, r.buf.Bytes())
	r.buf.Reset()

	name := fmt.Sprintf("voice-%s.ogg", r.startedAt.UTC().Format("20060102-150405"))
	return File{Name: name, Data: data}, duration, nil
}

// Cancel releases the microphone and discards the capture. Idempotent.
func (r *Recorder) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stream == nil {
		return
	}
	r.stream.Stop()
	r.stream = nil
	r.buf.Reset()
}
