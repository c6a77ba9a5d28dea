package presence

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callcore/internal/bus"
	"callcore/internal/domain"
)

type trackerFixture struct {
	bus     *bus.MemoryBus
	tracker *Tracker

	mu      sync.Mutex
	clock   time.Time
	changes []domain.PresenceStatus
}

func newTrackerFixture(t *testing.T, selfID uuid.UUID) *trackerFixture {
	t.Helper()
	f := &trackerFixture{
		bus:   bus.NewMemoryBus(),
		clock: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
	f.tracker = NewTracker(TrackerConfig{
		SelfID:            selfID,
		Bus:               f.bus,
		HeartbeatInterval: time.Hour, // ticker stays quiet; tests drive sweeps
		OnChange: func(_ uuid.UUID, status domain.PresenceStatus) {
			f.mu.Lock()
			f.changes = append(f.changes, status)
			f.mu.Unlock()
		},
	})
	f.tracker.now = f.now

	require.NoError(t, f.tracker.Start(context.Background()))
	t.Cleanup(f.tracker.Stop)
	return f
}

func (f *trackerFixture) now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clock
}

func (f *trackerFixture) advance(d time.Duration) {
	f.mu.Lock()
	f.clock = f.clock.Add(d)
	f.mu.Unlock()
}

func (f *trackerFixture) changeLog() []domain.PresenceStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.PresenceStatus(nil), f.changes...)
}

func (f *trackerFixture) beat(t *testing.T, userID uuid.UUID, status domain.PresenceStatus) {
	t.Helper()
	data, err := json.Marshal(domain.Heartbeat{UserID: userID, Status: status, Timestamp: f.now()})
	require.NoError(t, err)
	require.NoError(t, f.bus.Broadcast(context.Background(), bus.TopicPresence, data))
}

func TestStartPublishesImmediateHeartbeat(t *testing.T) {
	b := bus.NewMemoryBus()
	var mu sync.Mutex
	var beats []domain.Heartbeat
	_, err := b.SubscribeTopic(context.Background(), bus.TopicPresence, func(payload []byte) {
		var hb domain.Heartbeat
		require.NoError(t, json.Unmarshal(payload, &hb))
		mu.Lock()
		beats = append(beats, hb)
		mu.Unlock()
	})
	require.NoError(t, err)

	selfID := uuid.New()
	tracker := NewTracker(TrackerConfig{SelfID: selfID, Bus: b, HeartbeatInterval: time.Hour})
	require.NoError(t, tracker.Start(context.Background()))
	defer tracker.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, beats, 1)
	assert.Equal(t, selfID, beats[0].UserID)
	assert.Equal(t, domain.PresenceOnline, beats[0].Status)
}

func TestEffectiveStatusDerivation(t *testing.T) {
	f := newTrackerFixture(t, uuid.New())
	peer := uuid.New()

	// Never heard from: offline
	assert.Equal(t, domain.PresenceOffline, f.tracker.EffectiveStatus(peer))

	f.beat(t, peer, domain.PresenceAway)
	assert.Equal(t, domain.PresenceAway, f.tracker.EffectiveStatus(peer))

	// Within the stale window the last report stands
	f.advance(30 * time.Second)
	assert.Equal(t, domain.PresenceAway, f.tracker.EffectiveStatus(peer))

	// Past it the peer presents as offline regardless of what it said
	f.advance(15 * time.Second)
	assert.Equal(t, domain.PresenceOffline, f.tracker.EffectiveStatus(peer))
}

func TestLocalOfflineFreezesPeers(t *testing.T) {
	f := newTrackerFixture(t, uuid.New())
	peer := uuid.New()
	f.beat(t, peer, domain.PresenceOnline)

	f.tracker.SetNetworkOnline(context.Background(), false)
	assert.True(t, f.tracker.Degraded())
	assert.Equal(t, domain.PresenceUnknown, f.tracker.EffectiveStatus(peer))

	f.tracker.SetNetworkOnline(context.Background(), true)
	assert.False(t, f.tracker.Degraded())
	assert.Equal(t, domain.PresenceOnline, f.tracker.EffectiveStatus(peer))
}

func TestOwnHeartbeatIgnored(t *testing.T) {
	selfID := uuid.New()
	f := newTrackerFixture(t, selfID)

	f.beat(t, selfID, domain.PresenceBusy)
	assert.Empty(t, f.tracker.Peers())
}

func TestStatusChangeHeartbeatsImmediately(t *testing.T) {
	observer := newTrackerFixture(t, uuid.New())

	selfID := uuid.New()
	tracker := NewTracker(TrackerConfig{SelfID: selfID, Bus: observer.bus, HeartbeatInterval: time.Hour})
	tracker.now = observer.now
	require.NoError(t, tracker.Start(context.Background()))
	defer tracker.Stop()

	tracker.SetStatus(context.Background(), domain.PresenceBusy)

	assert.Equal(t, domain.PresenceBusy, tracker.Status())
	assert.Equal(t, domain.PresenceBusy, observer.tracker.EffectiveStatus(selfID))
}

func TestOnChangeFiresOncePerTransition(t *testing.T) {
	f := newTrackerFixture(t, uuid.New())
	peer := uuid.New()

	f.beat(t, peer, domain.PresenceOnline)
	f.beat(t, peer, domain.PresenceOnline) // refresh, no transition
	f.beat(t, peer, domain.PresenceAway)

	assert.Equal(t, []domain.PresenceStatus{domain.PresenceOnline, domain.PresenceAway}, f.changeLog())
}

func TestSweepFlipsStalePeersToOffline(t *testing.T) {
	f := newTrackerFixture(t, uuid.New())
	peer := uuid.New()
	f.beat(t, peer, domain.PresenceOnline)

	f.advance(45 * time.Second)
	f.tracker.sweep()

	log := f.changeLog()
	require.NotEmpty(t, log)
	assert.Equal(t, domain.PresenceOffline, log[len(log)-1])
}

func TestPeerMapIsBounded(t *testing.T) {
	f := newTrackerFixture(t, uuid.New())
	f.tracker.maxPeers = 3

	oldest := uuid.New()
	f.beat(t, oldest, domain.PresenceOnline)
	f.advance(time.Second)
	for i := 0; i < 3; i++ {
		f.beat(t, uuid.New(), domain.PresenceOnline)
		f.advance(time.Second)
	}

	peers := f.tracker.Peers()
	assert.Len(t, peers, 3)
	_, tracked := f.tracker.Record(oldest)
	assert.False(t, tracked, "oldest record is evicted first")
}

func TestStopAnnouncesOffline(t *testing.T) {
	selfID := uuid.New()
	observer := newTrackerFixture(t, uuid.New())

	tracker := NewTracker(TrackerConfig{SelfID: selfID, Bus: observer.bus, HeartbeatInterval: time.Hour})
	tracker.now = observer.now
	require.NoError(t, tracker.Start(context.Background()))
	require.Equal(t, domain.PresenceOnline, observer.tracker.EffectiveStatus(selfID))

	tracker.Stop()
	assert.Equal(t, domain.PresenceOffline, observer.tracker.EffectiveStatus(selfID))
}
