package msgstore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callcore/internal/bus"
	"callcore/internal/domain"
)

func TestSendPersistsAndFansOut(t *testing.T) {
	b := bus.NewMemoryBus()
	store := NewMemoryStore()
	senderID, receiverID := uuid.New(), uuid.New()

	sender := NewFeed(senderID, store, b, nil)
	receiver := NewFeed(receiverID, NewMemoryStore(), b, nil)

	var mu sync.Mutex
	var received []*domain.Message
	require.NoError(t, receiver.Start(context.Background(), func(msg *domain.Message) {
		mu.Lock()
		received = append(received, msg)
		mu.Unlock()
	}))
	t.Cleanup(receiver.Stop)
	require.NoError(t, sender.Start(context.Background(), nil))
	t.Cleanup(sender.Stop)

	conv := uuid.New()
	msg := &domain.Message{
		ConversationID: conv,
		Content:        "hello",
		AttachmentURLs: []string{"memory://attachments/a/photo.png"},
		CreatedAt:      time.Now().UTC(),
	}
	require.NoError(t, sender.Send(context.Background(), msg))

	// Durable
	stored, err := store.Recent(context.Background(), conv, 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "hello", stored[0].Content)
	assert.Equal(t, senderID, stored[0].SenderID)
	assert.NotEqual(t, uuid.Nil, stored[0].MessageID)

	// Live
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, "hello", received[0].Content)
	assert.Equal(t, msg.AttachmentURLs, received[0].AttachmentURLs)
}

func TestOwnBroadcastsNotRedelivered(t *testing.T) {
	b := bus.NewMemoryBus()
	selfID := uuid.New()
	feed := NewFeed(selfID, NewMemoryStore(), b, nil)

	var mu sync.Mutex
	count := 0
	require.NoError(t, feed.Start(context.Background(), func(*domain.Message) {
		mu.Lock()
		count++
		mu.Unlock()
	}))
	t.Cleanup(feed.Stop)

	require.NoError(t, feed.Send(context.Background(), &domain.Message{ConversationID: uuid.New(), Content: "x"}))

	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, count, "a device never re-consumes its own sends")
}

func TestRecentNewestFirstWithLimit(t *testing.T) {
	store := NewMemoryStore()
	conv := uuid.New()
	base := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		require.NoError(t, store.Append(context.Background(), &domain.Message{
			ConversationID: conv,
			SenderID:       uuid.New(),
			Content:        string(rune('a' + i)),
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		}))
	}

	msgs, err := store.Recent(context.Background(), conv, 3)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "e", msgs[0].Content)
	assert.Equal(t, "c", msgs[2].Content)
}
