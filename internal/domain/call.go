package domain

import (
	"time"

	"github.com/google/uuid"
)

// CallState is the lifecycle state of a call session
type CallState string

const (
	CallStateIdle            CallState = "idle"
	CallStateOutgoingCalling CallState = "outgoing-calling"
	CallStateIncomingRinging CallState = "incoming-ringing"
	CallStateConnecting      CallState = "connecting"
	CallStateConnected       CallState = "connected"
	CallStateEnded           CallState = "ended"
)

// CallDirection indicates which side initiated the call
type CallDirection string

const (
	DirectionIncoming CallDirection = "incoming"
	DirectionOutgoing CallDirection = "outgoing"
)

// MediaKind is the requested media for a call. Video implies audio.
type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

// EndReason explains why a session reached the ended state
type EndReason string

const (
	EndReasonHangup         EndReason = "hangup"
	EndReasonRejected       EndReason = "rejected"
	EndReasonBusy           EndReason = "busy"
	EndReasonConnectionLost EndReason = "connection-lost"
	EndReasonFailed         EndReason = "failed"
)

// CallSession represents one call attempt between the local user and a peer.
// At most one non-ended session exists per device; the session store enforces that.
type CallSession struct {
	CallID          uuid.UUID     `json:"call_id"`
	Direction       CallDirection `json:"direction"`
	MediaKind       MediaKind     `json:"media_kind"`
	PeerID          uuid.UUID     `json:"peer_id"`
	PeerDisplayName string        `json:"peer_display_name"`
	State           CallState     `json:"state"`
	StartedAt       time.Time     `json:"started_at"`
	ConnectedAt     *time.Time    `json:"connected_at,omitempty"`
	EndedAt         *time.Time    `json:"ended_at,omitempty"`
	EndReason       EndReason     `json:"end_reason,omitempty"`
	IsMuted         bool          `json:"is_muted"`
	IsVideoEnabled  bool          `json:"is_video_enabled"`
	IsSpeakerOn     bool          `json:"is_speaker_on"`
}

// Active reports whether the session still occupies the device (not yet ended).
func (s *CallSession) Active() bool {
	return s.State != CallStateEnded
}

// Duration returns wall-clock time since the session connected, zero before that.
func (s *CallSession) Duration(now time.Time) time.Duration {
	if s.ConnectedAt == nil || s.State == CallStateEnded {
		return 0
	}
	return now.Sub(*s.ConnectedAt)
}

// CallRecord is the persisted outcome of a finished call attempt.
type CallRecord struct {
	CallID      uuid.UUID     `json:"call_id"`
	PeerID      uuid.UUID     `json:"peer_id"`
	Direction   CallDirection `json:"direction"`
	MediaKind   MediaKind     `json:"media_kind"`
	StartedAt   time.Time     `json:"started_at"`
	ConnectedAt *time.Time    `json:"connected_at,omitempty"`
	EndedAt     time.Time     `json:"ended_at"`
	EndReason   EndReason     `json:"end_reason"`
	Duration    int           `json:"duration,omitempty"` // in seconds
}
