// Package presence keeps a local view of peer availability fed by periodic
// heartbeats on the bus. Presence is derived, never authoritative: what a
// peer reported is combined with heartbeat age and local connectivity
// before anything is presented.
package presence

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"callcore/internal/bus"
	"callcore/internal/domain"
	"callcore/pkg/constants"
	"callcore/pkg/metrics"
)

// ChangeFunc observes effective-status changes for one peer
type ChangeFunc func(userID uuid.UUID, status domain.PresenceStatus)

// TrackerConfig wires the tracker's collaborators and tunables
type TrackerConfig struct {
	SelfID uuid.UUID
	Bus    bus.Bus

	// HeartbeatInterval and StaleTimeout default to the package constants
	HeartbeatInterval time.Duration
	StaleTimeout      time.Duration
	MaxPeers          int

	OnChange ChangeFunc       // optional
	Metrics  *metrics.Metrics // optional
	Logger   *zap.Logger      // optional
}

// Tracker publishes the local heartbeat and tracks peer heartbeats.
type Tracker struct {
	selfID   uuid.UUID
	bus      bus.Bus
	interval time.Duration
	stale    time.Duration
	maxPeers int
	onChange ChangeFunc
	metrics  *metrics.Metrics
	log      *zap.Logger

	now func() time.Time

	mu          sync.Mutex
	selfStatus  domain.PresenceStatus
	netOnline   bool
	peers       map[uuid.UUID]domain.PresenceRecord
	effective   map[uuid.UUID]domain.PresenceStatus
	cancelTopic func()
	stop        chan struct{}
}

// NewTracker creates a presence tracker. Call Start to begin heartbeating.
func NewTracker(cfg TrackerConfig) *Tracker {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	interval := cfg.HeartbeatInterval
	if interval <= 0 {
		interval = constants.PresenceHeartbeatInterval
	}
	stale := cfg.StaleTimeout
	if stale <= 0 {
		stale = constants.PresenceStaleTimeout
	}
	maxPeers := cfg.MaxPeers
	if maxPeers <= 0 {
		maxPeers = constants.MaxTrackedPeers
	}

	return &Tracker{
		selfID:     cfg.SelfID,
		bus:        cfg.Bus,
		interval:   interval,
		stale:      stale,
		maxPeers:   maxPeers,
		onChange:   cfg.OnChange,
		metrics:    cfg.Metrics,
		log:        log,
		now:        time.Now,
		selfStatus: domain.PresenceOnline,
		netOnline:  true,
		peers:      make(map[uuid.UUID]domain.PresenceRecord),
		effective:  make(map[uuid.UUID]domain.PresenceStatus),
	}
}

// Start subscribes to the presence topic, publishes an immediate heartbeat,
// and keeps heartbeating until Stop.
func (t *Tracker) Start(ctx context.Context) error {
	cancel, err := t.bus.SubscribeTopic(ctx, bus.TopicPresence, t.handleHeartbeat)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.cancelTopic = cancel
	t.stop = make(chan struct{})
	stop := t.stop
	t.mu.Unlock()

	t.publishHeartbeat(ctx)
	go t.run(stop)
	return nil
}

// Stop detaches from the bus and announces offline. Idempotent.
func (t *Tracker) Stop() {
	t.mu.Lock()
	cancel := t.cancelTopic
	stop := t.stop
	t.cancelTopic = nil
	t.stop = nil
	t.selfStatus = domain.PresenceOffline
	t.mu.Unlock()

	if stop != nil {
		close(stop)
	}

	// Best-effort goodbye so peers flip immediately instead of waiting
	// for the stale timeout
	ctx, cancelCtx := context.WithTimeout(context.Background(), constants.DefaultTimeout)
	defer cancelCtx()
	t.publishHeartbeat(ctx)

	if cancel != nil {
		cancel()
	}
}

func (t *Tracker) run(stop chan struct{}) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.publishHeartbeat(context.Background())
			t.sweep()
		}
	}
}

// SetStatus changes the self-reported status and heartbeats immediately
func (t *Tracker) SetStatus(ctx context.Context, status domain.PresenceStatus) {
	t.mu.Lock()
	t.selfStatus = status
	t.mu.Unlock()
	t.publishHeartbeat(ctx)
}

// Status returns the current self-reported status
func (t *Tracker) Status() domain.PresenceStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.selfStatus
}

// SetNetworkOnline flips local connectivity. While offline, remote statuses
// freeze and present as unknown; heartbeating pauses. Coming back online
// heartbeats immediately and re-derives every peer.
func (t *Tracker) SetNetworkOnline(ctx context.Context, online bool) {
	t.mu.Lock()
	if t.netOnline == online {
		t.mu.Unlock()
		return
	}
	t.netOnline = online
	t.mu.Unlock()

	if online {
		t.publishHeartbeat(ctx)
	}
	t.sweep()
	t.log.Info("network connectivity changed", zap.Bool("online", online))
}

// Degraded reports whether presence data is currently untrustworthy
func (t *Tracker) Degraded() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.netOnline
}

// EffectiveStatus derives what to present for a peer right now
func (t *Tracker) EffectiveStatus(userID uuid.UUID) domain.PresenceStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.effectiveLocked(userID, t.now())
}

func (t *Tracker) effectiveLocked(userID uuid.UUID, now time.Time) domain.PresenceStatus {
	if !t.netOnline {
		// Local device cannot judge remote freshness
		return domain.PresenceUnknown
	}
	rec, ok := t.peers[userID]
	if !ok {
		return domain.PresenceOffline
	}
	if now.Sub(rec.LastSeenAt) > t.stale {
		return domain.PresenceOffline
	}
	return rec.Status
}

// Peers returns an effective-status snapshot of every tracked peer
func (t *Tracker) Peers() map[uuid.UUID]domain.PresenceStatus {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	out := make(map[uuid.UUID]domain.PresenceStatus, len(t.peers))
	for id := range t.peers {
		out[id] = t.effectiveLocked(id, now)
	}
	return out
}

// Record returns the raw last-seen record for a peer
func (t *Tracker) Record(userID uuid.UUID) (domain.PresenceRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.peers[userID]
	return rec, ok
}

func (t *Tracker) publishHeartbeat(ctx context.Context) {
	t.mu.Lock()
	online := t.netOnline
	hb := domain.Heartbeat{
		UserID:    t.selfID,
		Status:    t.selfStatus,
		Timestamp: t.now().UTC(),
	}
	t.mu.Unlock()

	// Offline goodbyes still go out; regular beats pause while the
	// network is down
	if !online && hb.Status != domain.PresenceOffline {
		return
	}

	data, err := json.Marshal(hb)
	if err != nil {
		t.log.Error("heartbeat encode failed", zap.Error(err))
		return
	}
	if err := t.bus.Broadcast(ctx, bus.TopicPresence, data); err != nil {
		t.log.Warn("heartbeat publish failed", zap.Error(err))
		return
	}
	if t.metrics != nil {
		t.metrics.HeartbeatSent()
	}
}

// handleHeartbeat ingests one peer heartbeat from the bus
func (t *Tracker) handleHeartbeat(payload []byte) {
	var hb domain.Heartbeat
	if err := json.Unmarshal(payload, &hb); err != nil {
		t.log.Warn("undecodable heartbeat dropped", zap.Error(err))
		return
	}
	if hb.UserID == t.selfID {
		return
	}

	t.mu.Lock()
	if _, known := t.peers[hb.UserID]; !known && len(t.peers) >= t.maxPeers {
		t.evictOldestLocked()
	}
	t.peers[hb.UserID] = domain.PresenceRecord{
		UserID:     hb.UserID,
		Status:     hb.Status,
		LastSeenAt: t.now(),
	}
	changed, status := t.rederiveLocked(hb.UserID)
	peerCount := len(t.peers)
	t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.PresencePeers(peerCount)
	}
	if changed && t.onChange != nil {
		t.onChange(hb.UserID, status)
	}
}

// sweep re-derives every peer so stale records flip to offline and
// connectivity changes propagate
func (t *Tracker) sweep() {
	t.mu.Lock()
	type change struct {
		id     uuid.UUID
		status domain.PresenceStatus
	}
	var changes []change
	for id := range t.peers {
		if changed, status := t.rederiveLocked(id); changed {
			changes = append(changes, change{id, status})
		}
	}
	t.mu.Unlock()

	if t.onChange != nil {
		for _, c := range changes {
			t.onChange(c.id, c.status)
		}
	}
}

func (t *Tracker) rederiveLocked(userID uuid.UUID) (bool, domain.PresenceStatus) {
	status := t.effectiveLocked(userID, t.now())
	if prev, ok := t.effective[userID]; ok && prev == status {
		return false, status
	}
	t.effective[userID] = status
	return true, status
}

func (t *Tracker) evictOldestLocked() {
	var oldest uuid.UUID
	var oldestAt time.Time
	first := true
	for id, rec := range t.peers {
		if first || rec.LastSeenAt.Before(oldestAt) {
			oldest, oldestAt, first = id, rec.LastSeenAt, false
		}
	}
	if !first {
		delete(t.peers, oldest)
		delete(t.effective, oldest)
	}
}
