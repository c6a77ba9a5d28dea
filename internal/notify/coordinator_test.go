package notify

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callcore/internal/domain"
)

type fakeRingtone struct {
	mu      sync.Mutex
	playing bool
	plays   int
	stops   int
}

func (r *fakeRingtone) Play() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.playing = true
	r.plays++
}

func (r *fakeRingtone) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.playing = false
	r.stops++
}

type fakeSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *fakeSink) Deliver(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *fakeSink) all() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

func session(state domain.CallState, direction domain.CallDirection) domain.CallSession {
	return domain.CallSession{
		CallID:          uuid.New(),
		Direction:       direction,
		MediaKind:       domain.MediaAudio,
		PeerID:          uuid.New(),
		PeerDisplayName: "alice",
		State:           state,
		StartedAt:       time.Now(),
	}
}

func TestRingtoneBoundToRinging(t *testing.T) {
	ring := &fakeRingtone{}
	c := NewCoordinator(ring, nil, nil)

	s := session(domain.CallStateIncomingRinging, domain.DirectionIncoming)
	c.CallRinging(s)
	assert.True(t, ring.playing)
	assert.Equal(t, 1, ring.plays)

	// Accepting moves to connecting; ringtone stops
	s.State = domain.CallStateConnecting
	c.CallProgress(s)
	assert.False(t, ring.playing)
	assert.Equal(t, 1, ring.stops)
}

func TestRingtoneStoppedOnEnd(t *testing.T) {
	ring := &fakeRingtone{}
	c := NewCoordinator(ring, nil, nil)

	s := session(domain.CallStateIncomingRinging, domain.DirectionIncoming)
	c.CallRinging(s)

	s.State = domain.CallStateEnded
	s.EndReason = domain.EndReasonRejected
	c.CallEnded(s)
	assert.False(t, ring.playing)

	// Idempotent: a second terminal notification never double-stops
	c.CallEnded(s)
	assert.Equal(t, 1, ring.stops)
}

func TestOutgoingCallNeverRings(t *testing.T) {
	ring := &fakeRingtone{}
	c := NewCoordinator(ring, nil, nil)

	s := session(domain.CallStateOutgoingCalling, domain.DirectionOutgoing)
	c.CallProgress(s)
	assert.Zero(t, ring.plays)
}

func TestEventsReachSink(t *testing.T) {
	sink := &fakeSink{}
	c := NewCoordinator(nil, sink, nil)

	s := session(domain.CallStateIncomingRinging, domain.DirectionIncoming)
	c.CallRinging(s)
	s.State = domain.CallStateConnected
	now := time.Now()
	s.ConnectedAt = &now
	c.CallProgress(s)
	c.CallTick(s, 65*time.Second)
	s.State = domain.CallStateEnded
	s.EndReason = domain.EndReasonHangup
	c.CallEnded(s)

	events := sink.all()
	require.Len(t, events, 4)
	assert.Equal(t, EventCallRinging, events[0].Type)
	assert.Equal(t, EventCallUpdated, events[1].Type)
	assert.Equal(t, EventCallTick, events[2].Type)
	assert.Equal(t, EventCallEnded, events[3].Type)
	assert.Equal(t, 65, events[2].Prompt.ElapsedSec)
}

func TestPromptDerivation(t *testing.T) {
	t.Run("incoming ringing offers accept and reject", func(t *testing.T) {
		p := PromptFor(session(domain.CallStateIncomingRinging, domain.DirectionIncoming), 0)
		assert.Equal(t, "incoming", p.Kind)
		assert.Equal(t, "Voice call from alice", p.Title)
		assert.True(t, p.ShowAccept)
		assert.True(t, p.ShowReject)
		assert.False(t, p.ShowHangup)
	})

	t.Run("video call named in title", func(t *testing.T) {
		s := session(domain.CallStateIncomingRinging, domain.DirectionIncoming)
		s.MediaKind = domain.MediaVideo
		p := PromptFor(s, 0)
		assert.Equal(t, "Video call from alice", p.Title)
	})

	t.Run("connected shows formatted duration", func(t *testing.T) {
		p := PromptFor(session(domain.CallStateConnected, domain.DirectionOutgoing), 61*time.Second)
		assert.Equal(t, "in-call", p.Kind)
		assert.Equal(t, "1:01", p.Body)

		p = PromptFor(session(domain.CallStateConnected, domain.DirectionOutgoing), 3661*time.Second)
		assert.Equal(t, "1:01:01", p.Body)
	})

	t.Run("terminal titles by reason", func(t *testing.T) {
		s := session(domain.CallStateEnded, domain.DirectionOutgoing)

		s.EndReason = domain.EndReasonBusy
		assert.Equal(t, "Busy", PromptFor(s, 0).Title)

		s.EndReason = domain.EndReasonRejected
		assert.Equal(t, "Call declined", PromptFor(s, 0).Title)

		s.EndReason = domain.EndReasonConnectionLost
		assert.Equal(t, "Connection lost", PromptFor(s, 0).Title)

		// Incoming, never connected, peer hung up: missed
		missed := session(domain.CallStateEnded, domain.DirectionIncoming)
		missed.EndReason = domain.EndReasonHangup
		assert.Equal(t, "Missed call", PromptFor(missed, 0).Title)
	})

	t.Run("unknown caller fallback", func(t *testing.T) {
		s := session(domain.CallStateIncomingRinging, domain.DirectionIncoming)
		s.PeerDisplayName = ""
		assert.Equal(t, "Voice call from Unknown caller", PromptFor(s, 0).Title)
	})
}
