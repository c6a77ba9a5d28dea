package ws

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callcore/internal/domain"
	"callcore/internal/notify"
)

func startHub(t *testing.T) (*EventHub, *websocket.Conn) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := NewEventHub(nil)
	go hub.Run()
	t.Cleanup(hub.Stop)

	router := gin.New()
	router.GET("/v1/events", hub.Handler)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/v1/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	waitForClients(t, hub, 1)
	return hub, conn
}

// waitForClients blocks until the hub has registered n connections; the
// dial handshake returns before the server side finishes registering.
func waitForClients(t *testing.T, hub *EventHub, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		hub.mu.RLock()
		defer hub.mu.RUnlock()
		return len(hub.clients) >= n
	}, 2*time.Second, 5*time.Millisecond)
}

func TestHubDeliversEventsToClient(t *testing.T) {
	hub, conn := startHub(t)

	session := domain.CallSession{
		CallID:          uuid.New(),
		Direction:       domain.DirectionIncoming,
		MediaKind:       domain.MediaAudio,
		PeerID:          uuid.New(),
		PeerDisplayName: "alice",
		State:           domain.CallStateIncomingRinging,
	}
	prompt := notify.PromptFor(session, 0)
	hub.Deliver(notify.Event{
		Type:      notify.EventCallRinging,
		Session:   &session,
		Prompt:    &prompt,
		Timestamp: time.Now().UTC(),
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var event notify.Event
	require.NoError(t, json.Unmarshal(data, &event))
	assert.Equal(t, notify.EventCallRinging, event.Type)
	require.NotNil(t, event.Session)
	assert.Equal(t, session.CallID, event.Session.CallID)
	require.NotNil(t, event.Prompt)
	assert.True(t, event.Prompt.ShowAccept)
}

func TestHubFansOutToAllClients(t *testing.T) {
	hub, first := startHub(t)

	// Second client on the same hub
	router := gin.New()
	router.GET("/v1/events", hub.Handler)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/v1/events"
	second, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { second.Close() })
	waitForClients(t, hub, 2)

	hub.Deliver(notify.Event{Type: notify.EventPresenceChanged, Timestamp: time.Now().UTC()})

	for _, conn := range []*websocket.Conn{first, second} {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)

		var event notify.Event
		require.NoError(t, json.Unmarshal(data, &event))
		assert.Equal(t, notify.EventPresenceChanged, event.Type)
	}
}

func TestDeliverAfterStopDoesNotBlock(t *testing.T) {
	hub := NewEventHub(nil)
	go hub.Run()
	hub.Stop()

	done := make(chan struct{})
	go func() {
		hub.Deliver(notify.Event{Type: notify.EventCallEnded})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Deliver blocked after Stop")
	}
}
