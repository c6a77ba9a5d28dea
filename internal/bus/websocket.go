package bus

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"callcore/pkg/constants"
	"callcore/pkg/errors"
	"callcore/pkg/logger"
)

// wsFrame is the wire format spoken with the signaling relay. A frame
// carries either a directed payload (To set) or a topic broadcast.
type wsFrame struct {
	Op      string          `json:"op"` // publish, broadcast, subscribe
	To      string          `json:"to,omitempty"`
	Topic   string          `json:"topic,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// WebSocketBus is a bus client speaking to a remote signaling relay over
// a single gorilla/websocket connection.
type WebSocketBus struct {
	conn *websocket.Conn
	log  *zap.Logger

	mu            sync.RWMutex
	inboxHandlers []Handler
	topicHandlers map[string][]Handler

	send chan []byte
	done chan struct{}
	once sync.Once
}

// DialWebSocketBus connects to the relay at url, authenticating with token.
func DialWebSocketBus(ctx context.Context, url, token string) (*WebSocketBus, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, errors.SignalingUnreachableError(err)
	}

	b := &WebSocketBus{
		conn:          conn,
		log:           logger.Component("ws-bus"),
		topicHandlers: make(map[string][]Handler),
		send:          make(chan []byte, 256),
		done:          make(chan struct{}),
	}

	go b.readPump()
	go b.writePump()

	return b, nil
}

// Publish delivers payload to the inbox of toID
func (b *WebSocketBus) Publish(_ context.Context, toID uuid.UUID, payload []byte) error {
	return b.enqueue(&wsFrame{Op: "publish", To: toID.String(), Payload: payload})
}

// Broadcast publishes payload on a named topic
func (b *WebSocketBus) Broadcast(_ context.Context, topic string, payload []byte) error {
	return b.enqueue(&wsFrame{Op: "broadcast", Topic: topic, Payload: payload})
}

// Subscribe attaches a handler to the local inbox. The relay already scopes
// the connection to the authenticated user, so selfID is not re-sent.
func (b *WebSocketBus) Subscribe(_ context.Context, _ uuid.UUID, handler Handler) (func(), error) {
	b.mu.Lock()
	b.inboxHandlers = append(b.inboxHandlers, handler)
	idx := len(b.inboxHandlers) - 1
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		if idx < len(b.inboxHandlers) {
			b.inboxHandlers[idx] = nil
		}
		b.mu.Unlock()
	}, nil
}

// SubscribeTopic attaches a handler to a named topic
func (b *WebSocketBus) SubscribeTopic(_ context.Context, topic string, handler Handler) (func(), error) {
	b.mu.Lock()
	first := len(b.topicHandlers[topic]) == 0
	b.topicHandlers[topic] = append(b.topicHandlers[topic], handler)
	idx := len(b.topicHandlers[topic]) - 1
	b.mu.Unlock()

	if first {
		if err := b.enqueue(&wsFrame{Op: "subscribe", Topic: topic}); err != nil {
			return nil, err
		}
	}

	return func() {
		b.mu.Lock()
		if hs, ok := b.topicHandlers[topic]; ok && idx < len(hs) {
			hs[idx] = nil
		}
		b.mu.Unlock()
	}, nil
}

// Close tears down the connection
func (b *WebSocketBus) Close() error {
	b.once.Do(func() { close(b.done) })
	return b.conn.Close()
}

func (b *WebSocketBus) enqueue(frame *wsFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, "encode signaling frame", err)
	}

	select {
	case b.send <- data:
		return nil
	case <-b.done:
		return errors.SignalingUnreachableError(nil)
	default:
		// Send buffer full means the relay stopped draining us
		return errors.SignalingUnreachableError(nil)
	}
}

// readPump reads frames from the relay and dispatches them
func (b *WebSocketBus) readPump() {
	defer b.Close()

	b.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval))
	b.conn.SetPongHandler(func(string) error {
		b.conn.SetReadDeadline(time.Now().Add(constants.WebSocketPingInterval))
		return nil
	})

	for {
		_, message, err := b.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				b.log.Debug("relay connection closed", zap.Error(err))
			}
			return
		}

		var frame wsFrame
		if err := json.Unmarshal(message, &frame); err != nil {
			b.log.Warn("invalid frame from relay", zap.Error(err))
			continue
		}

		b.dispatch(&frame)
	}
}

func (b *WebSocketBus) dispatch(frame *wsFrame) {
	b.mu.RLock()
	var handlers []Handler
	if frame.Topic != "" {
		handlers = append(handlers, b.topicHandlers[frame.Topic]...)
	} else {
		handlers = append(handlers, b.inboxHandlers...)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		if h != nil {
			h(frame.Payload)
		}
	}
}

// writePump writes queued frames and keeps the connection alive
func (b *WebSocketBus) writePump() {
	ticker := time.NewTicker(constants.WebSocketPingInterval * 9 / 10)
	defer func() {
		ticker.Stop()
		b.conn.Close()
	}()

	for {
		select {
		case <-b.done:
			b.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteDeadline))
			b.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-b.send:
			b.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteDeadline))
			if err := b.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			b.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteDeadline))
			if err := b.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
