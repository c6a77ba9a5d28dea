package msgstore

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"callcore/internal/bus"
	"callcore/internal/domain"
	"callcore/pkg/sanitize"
)

// MessageFunc observes one live message delivered over the bus
type MessageFunc func(msg *domain.Message)

// Feed couples the durable store with live delivery: Send persists the
// message then broadcasts it, subscribers see every peer's sends as they
// happen. Persist-first, so a bus hiccup never loses a message.
type Feed struct {
	selfID uuid.UUID
	store  MessageStore
	bus    bus.Bus
	log    *zap.Logger

	mu          sync.Mutex
	onMessage   MessageFunc
	cancelTopic func()
}

// NewFeed creates a message feed over the given store and bus
func NewFeed(selfID uuid.UUID, store MessageStore, b bus.Bus, log *zap.Logger) *Feed {
	if log == nil {
		log = zap.NewNop()
	}
	return &Feed{selfID: selfID, store: store, bus: b, log: log}
}

// Start subscribes to the live message topic
func (f *Feed) Start(ctx context.Context, onMessage MessageFunc) error {
	f.mu.Lock()
	f.onMessage = onMessage
	f.mu.Unlock()

	cancel, err := f.bus.SubscribeTopic(ctx, bus.TopicMessages, f.handleMessage)
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.cancelTopic = cancel
	f.mu.Unlock()
	return nil
}

// Stop detaches from the bus. Idempotent.
func (f *Feed) Stop() {
	f.mu.Lock()
	cancel := f.cancelTopic
	f.cancelTopic = nil
	f.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// Send persists a message and broadcasts it to live subscribers
func (f *Feed) Send(ctx context.Context, msg *domain.Message) error {
	if msg.SenderID == uuid.Nil {
		msg.SenderID = f.selfID
	}
	if msg.MessageID == uuid.Nil {
		msg.MessageID = uuid.New()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	msg.Content = sanitize.StripControlCharacters(msg.Content)

	if err := f.store.Append(ctx, msg); err != nil {
		return err
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if err := f.bus.Broadcast(ctx, bus.TopicMessages, data); err != nil {
		// Persisted but not fanned out; receivers catch up from the store
		f.log.Warn("live message broadcast failed", zap.Error(err))
	}
	return nil
}

// Recent proxies to the durable store
func (f *Feed) Recent(ctx context.Context, conversationID uuid.UUID, limit int) ([]*domain.Message, error) {
	return f.store.Recent(ctx, conversationID, limit)
}

func (f *Feed) handleMessage(payload []byte) {
	var msg domain.Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		f.log.Warn("undecodable message dropped", zap.Error(err))
		return
	}
	if msg.SenderID == f.selfID {
		return
	}

	f.mu.Lock()
	fn := f.onMessage
	f.mu.Unlock()
	if fn != nil {
		fn(&msg)
	}
}
