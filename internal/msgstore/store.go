// Package msgstore persists chat messages and fans live ones out on the
// bus. Calls and typing indicators never touch it; only finished messages
// (text plus uploaded attachment URLs) are durable.
package msgstore

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"callcore/internal/domain"
)

// MessageStore is the durable message log behind conversations.
type MessageStore interface {
	// Append persists one message
	Append(ctx context.Context, msg *domain.Message) error

	// Recent returns up to limit messages of a conversation, newest first
	Recent(ctx context.Context, conversationID uuid.UUID, limit int) ([]*domain.Message, error)
}

// MemoryStore is an in-process MessageStore for tests and local development.
type MemoryStore struct {
	mu       sync.Mutex
	messages map[uuid.UUID][]*domain.Message
}

// NewMemoryStore creates an empty in-process message store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{messages: make(map[uuid.UUID][]*domain.Message)}
}

// Append implements MessageStore
func (s *MemoryStore) Append(_ context.Context, msg *domain.Message) error {
	stored := *msg
	s.mu.Lock()
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], &stored)
	s.mu.Unlock()
	return nil
}

// Recent implements MessageStore
func (s *MemoryStore) Recent(_ context.Context, conversationID uuid.UUID, limit int) ([]*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.messages[conversationID]
	out := make([]*domain.Message, len(msgs))
	copy(out, msgs)
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
