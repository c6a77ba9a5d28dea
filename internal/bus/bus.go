// Package bus abstracts the real-time publish/subscribe channel used for
// call signaling, presence heartbeats, and typing events. Delivery is
// at-least-once with no ordering guarantee; consumers dedupe.
package bus

import (
	"context"

	"github.com/google/uuid"
)

// Topic names for broadcast fan-out (not addressed to a single peer)
const (
	TopicPresence = "presence"
	TopicTyping   = "typing"
	TopicMessages = "messages"
)

// Handler consumes one raw payload from the bus
type Handler func(payload []byte)

// Bus is the transport contract. Publish addresses one recipient's inbox;
// Broadcast fans out to every subscriber of a topic.
type Bus interface {
	// Publish delivers payload to the inbox of toID
	Publish(ctx context.Context, toID uuid.UUID, payload []byte) error

	// Subscribe attaches a handler to the inbox of selfID. The returned
	// cancel func detaches the handler and releases the subscription.
	Subscribe(ctx context.Context, selfID uuid.UUID, handler Handler) (cancel func(), err error)

	// Broadcast publishes payload on a named topic
	Broadcast(ctx context.Context, topic string, payload []byte) error

	// SubscribeTopic attaches a handler to a named topic
	SubscribeTopic(ctx context.Context, topic string, handler Handler) (cancel func(), err error)

	// Close releases all underlying connections
	Close() error
}
