package domain

import (
	"time"

	"github.com/google/uuid"
)

// SignalKind identifies the payload carried by a SignalingEnvelope
type SignalKind string

const (
	SignalOffer        SignalKind = "offer"
	SignalAnswer       SignalKind = "answer"
	SignalICECandidate SignalKind = "ice-candidate"
	SignalHangup       SignalKind = "hangup"
)

// SignalingEnvelope is the transient message exchanged over the signaling bus.
// Never persisted; the bus delivers at-least-once with no ordering guarantee,
// so receivers dedupe on CallID + Seq + payload hash.
type SignalingEnvelope struct {
	CallID    uuid.UUID  `json:"call_id"`
	FromID    uuid.UUID  `json:"from_id"`
	ToID      uuid.UUID  `json:"to_id"`
	Kind      SignalKind `json:"kind"`
	Seq       uint64     `json:"seq"`
	Payload   []byte     `json:"payload,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// SessionDescription carries an SDP offer or answer payload.
type SessionDescription struct {
	Type string `json:"type"` // offer, answer
	SDP  string `json:"sdp"`
}

// ICECandidate carries one network-reachability option.
type ICECandidate struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdp_mid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdp_mline_index,omitempty"`
}

// HangupInfo carries the reason a peer terminated the call.
type HangupInfo struct {
	Reason EndReason `json:"reason"`
}
