package domain

import (
	"time"

	"github.com/google/uuid"
)

// TypingSignal is broadcast when a participant starts or stops typing.
type TypingSignal struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	UserID         uuid.UUID `json:"user_id"`
	Typing         bool      `json:"typing"`
	Timestamp      time.Time `json:"timestamp"`
}

// TypingEntry is one participant currently typing in a conversation,
// with the deadline after which the indicator expires on its own.
type TypingEntry struct {
	UserID    uuid.UUID `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}
