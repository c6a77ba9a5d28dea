// Package media abstracts local capture devices (camera/microphone).
// The real device stack lives behind the Devices interface; the core only
// needs acquire/release semantics and per-track enable flags.
package media

import (
	"context"
	"sync"

	"callcore/internal/domain"
)

// TrackKind distinguishes audio from video tracks
type TrackKind string

const (
	TrackAudio TrackKind = "audio"
	TrackVideo TrackKind = "video"
)

// Devices acquires capture hardware. Implementations must return
// ErrCodePermissionDenied when the user refuses access and
// ErrCodeDeviceUnavailable when no suitable hardware exists.
type Devices interface {
	// AcquireStream opens the devices needed for kind. Video implies an
	// audio track as well.
	AcquireStream(ctx context.Context, kind domain.MediaKind) (*Stream, error)
}

// Track is one live capture track. Disabling keeps the device open but
// silences/blanks the output; stopping releases the device.
type Track struct {
	kind TrackKind

	mu      sync.Mutex
	enabled bool
	stopped bool
}

// NewTrack creates an enabled track of the given kind
func NewTrack(kind TrackKind) *Track {
	return &Track{kind: kind, enabled: true}
}

// Kind returns the track kind
func (t *Track) Kind() TrackKind { return t.kind }

// Enabled reports whether the track currently produces media
func (t *Track) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled && !t.stopped
}

// SetEnabled flips the track's live flag. No-op on a stopped track.
func (t *Track) SetEnabled(enabled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return
	}
	t.enabled = enabled
}

// Stop releases the underlying device. Idempotent.
func (t *Track) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

// Stopped reports whether the track has been released
func (t *Track) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// Stream is an exclusively owned handle over one or more capture tracks.
// The owning call session releases it on end; leaking a stream after a
// failed call is a defect.
type Stream struct {
	mu     sync.Mutex
	tracks []*Track
}

// NewStream bundles tracks into a stream handle
func NewStream(tracks ...*Track) *Stream {
	return &Stream{tracks: tracks}
}

// AddTrack appends a track to the stream
func (s *Stream) AddTrack(t *Track) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks = append(s.tracks, t)
}

// Tracks returns all tracks in the stream
func (s *Stream) Tracks() []*Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Track(nil), s.tracks...)
}

// TracksOf returns tracks of one kind
func (s *Stream) TracksOf(kind TrackKind) []*Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Track
	for _, t := range s.tracks {
		if t.kind == kind {
			out = append(out, t)
		}
	}
	return out
}

// SetEnabled flips every track of the given kind
func (s *Stream) SetEnabled(kind TrackKind, enabled bool) {
	for _, t := range s.TracksOf(kind) {
		t.SetEnabled(enabled)
	}
}

// Stop releases every track. Idempotent.
func (s *Stream) Stop() {
	for _, t := range s.Tracks() {
		t.Stop()
	}
}

// Stopped reports whether every track has been released
func (s *Stream) Stopped() bool {
	for _, t := range s.Tracks() {
		if !t.Stopped() {
			return false
		}
	}
	return true
}
