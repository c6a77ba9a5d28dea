package bus

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"callcore/pkg/errors"
	"callcore/pkg/logger"
)

// RedisBus delivers payloads over Redis Pub/Sub. Inboxes live on
// "signal:<user-id>" channels, broadcast topics on "topic:<name>".
type RedisBus struct {
	client *redis.Client
	log    *zap.Logger
}

// NewRedisBus creates a bus backed by the given Redis client
func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{
		client: client,
		log:    logger.Component("redis-bus"),
	}
}

func inboxChannel(userID uuid.UUID) string {
	return fmt.Sprintf("signal:%s", userID)
}

func topicChannel(topic string) string {
	return fmt.Sprintf("topic:%s", topic)
}

// Publish delivers payload to the inbox of toID
func (b *RedisBus) Publish(ctx context.Context, toID uuid.UUID, payload []byte) error {
	if err := b.client.Publish(ctx, inboxChannel(toID), payload).Err(); err != nil {
		return errors.SignalingUnreachableError(err)
	}
	return nil
}

// Broadcast publishes payload on a named topic
func (b *RedisBus) Broadcast(ctx context.Context, topic string, payload []byte) error {
	if err := b.client.Publish(ctx, topicChannel(topic), payload).Err(); err != nil {
		return errors.SignalingUnreachableError(err)
	}
	return nil
}

// Subscribe attaches a handler to the inbox of selfID
func (b *RedisBus) Subscribe(ctx context.Context, selfID uuid.UUID, handler Handler) (func(), error) {
	return b.subscribe(ctx, inboxChannel(selfID), handler)
}

// SubscribeTopic attaches a handler to a named topic
func (b *RedisBus) SubscribeTopic(ctx context.Context, topic string, handler Handler) (func(), error) {
	return b.subscribe(ctx, topicChannel(topic), handler)
}

func (b *RedisBus) subscribe(ctx context.Context, channel string, handler Handler) (func(), error) {
	subCtx, cancel := context.WithCancel(ctx)

	pubsub := b.client.Subscribe(subCtx, channel)
	if _, err := pubsub.Receive(subCtx); err != nil {
		cancel()
		pubsub.Close()
		return nil, errors.SignalingUnreachableError(err)
	}

	b.log.Debug("subscribed", zap.String("channel", channel))
	ch := pubsub.Channel()

	go func() {
		defer pubsub.Close()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if msg == nil {
					continue
				}
				handler([]byte(msg.Payload))
			}
		}
	}()

	return cancel, nil
}

// Close releases the Redis client
func (b *RedisBus) Close() error {
	return b.client.Close()
}
