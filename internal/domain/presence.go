package domain

import (
	"time"

	"github.com/google/uuid"
)

// PresenceStatus is a participant's self-reported availability
type PresenceStatus string

const (
	PresenceOnline  PresenceStatus = "online"
	PresenceAway    PresenceStatus = "away"
	PresenceBusy    PresenceStatus = "busy"
	PresenceOffline PresenceStatus = "offline"
	// PresenceUnknown is presented when the local device cannot
	// judge remote freshness (local network down).
	PresenceUnknown PresenceStatus = "unknown"
)

// PresenceRecord is the last heartbeat seen from a participant.
// Derived, not authoritative: effective status also depends on local
// connectivity and heartbeat age.
type PresenceRecord struct {
	UserID     uuid.UUID      `json:"user_id"`
	Status     PresenceStatus `json:"status"`
	LastSeenAt time.Time      `json:"last_seen_at"`
}

// Heartbeat is the periodic liveness signal published on the bus.
type Heartbeat struct {
	UserID    uuid.UUID      `json:"user_id"`
	Status    PresenceStatus `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
}
