package bus

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryBus is an in-process bus used by tests and local development.
// Delivery is synchronous and in order, which is stricter than the contract;
// tests that need reordering or duplication inject those themselves.
type MemoryBus struct {
	mu     sync.RWMutex
	inbox  map[uuid.UUID][]Handler
	topics map[string][]Handler
	closed bool
}

// NewMemoryBus creates an empty in-process bus
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		inbox:  make(map[uuid.UUID][]Handler),
		topics: make(map[string][]Handler),
	}
}

// Publish delivers payload to every handler subscribed to toID's inbox
func (b *MemoryBus) Publish(_ context.Context, toID uuid.UUID, payload []byte) error {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.inbox[toID]...)
	b.mu.RUnlock()

	for _, h := range handlers {
		if h != nil {
			h(payload)
		}
	}
	return nil
}

// Broadcast delivers payload to every topic subscriber
func (b *MemoryBus) Broadcast(_ context.Context, topic string, payload []byte) error {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.topics[topic]...)
	b.mu.RUnlock()

	for _, h := range handlers {
		if h != nil {
			h(payload)
		}
	}
	return nil
}

// Subscribe attaches a handler to an inbox
func (b *MemoryBus) Subscribe(_ context.Context, selfID uuid.UUID, handler Handler) (func(), error) {
	b.mu.Lock()
	b.inbox[selfID] = append(b.inbox[selfID], handler)
	idx := len(b.inbox[selfID]) - 1
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		if hs, ok := b.inbox[selfID]; ok && idx < len(hs) {
			hs[idx] = nil
		}
		b.mu.Unlock()
	}, nil
}

// SubscribeTopic attaches a handler to a topic
func (b *MemoryBus) SubscribeTopic(_ context.Context, topic string, handler Handler) (func(), error) {
	b.mu.Lock()
	b.topics[topic] = append(b.topics[topic], handler)
	idx := len(b.topics[topic]) - 1
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		if hs, ok := b.topics[topic]; ok && idx < len(hs) {
			hs[idx] = nil
		}
		b.mu.Unlock()
	}, nil
}

// Close marks the bus closed
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}
