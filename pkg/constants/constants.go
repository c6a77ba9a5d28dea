// Package constants defines application-wide constants for timeouts, limits, and durations.
package constants

import "time"

// Presence constants
const (
	// PresenceHeartbeatInterval is how often the local heartbeat is published
	PresenceHeartbeatInterval = 15 * time.Second

	// PresenceStaleTimeout is the age past which a peer heartbeat is presented
	// as offline. Must stay above 2x the heartbeat interval to avoid flapping.
	PresenceStaleTimeout = 40 * time.Second

	// MaxTrackedPeers bounds the in-memory presence map
	MaxTrackedPeers = 512
)

// Typing indicator constants
const (
	// TypingRebroadcastInterval is the minimum gap between "started typing"
	// broadcasts while input keeps changing
	TypingRebroadcastInterval = 3 * time.Second

	// TypingExpiry is how long an indicator survives without a fresh signal
	TypingExpiry = 6 * time.Second
)

// Call signaling constants
const (
	// MaxBufferedCandidates caps ICE candidates held before the remote
	// description arrives; oldest are dropped past the cap
	MaxBufferedCandidates = 32

	// DedupeWindow is how many recent envelope hashes each adapter remembers
	DedupeWindow = 256

	// CallDurationTick drives the connected-call duration counter
	CallDurationTick = 1 * time.Second
)

// Attachment constants
const (
	// MaxAttachmentsPerMessage limits files attached to a single message
	MaxAttachmentsPerMessage = 10

	// MaxAttachmentBytes is the per-file size ceiling (50 MiB)
	MaxAttachmentBytes = 50 * 1024 * 1024

	// PreviewMaxBytes caps how much of a file is read for preview generation
	PreviewMaxBytes = 512 * 1024
)

// WebSocket constants
const (
	// WebSocketPingInterval is the interval for WebSocket ping/pong
	WebSocketPingInterval = 60 * time.Second

	// WebSocketWriteDeadline bounds a single frame write
	WebSocketWriteDeadline = 10 * time.Second
)

// Server constants
const (
	// DefaultTimeout is the default timeout for most operations
	DefaultTimeout = 30 * time.Second

	// GracefulShutdownTimeout is the timeout for graceful server shutdown
	GracefulShutdownTimeout = 30 * time.Second
)
