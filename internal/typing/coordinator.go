// Package typing debounces outbound typing indicators and tracks inbound
// ones per conversation. Indicators are transient UI state: they expire on
// their own, an explicit stop just clears them sooner.
package typing

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
)

// ChangeFunc observes the typist set of one conversation after it changes
type ChangeFunc func(conversationID uuid.UUID, typists []domain.TypingEntry)

// CoordinatorConfig wires the coordinator's collaborators and tunables
type CoordinatorConfig struct {
	SelfID uuid.UUID
	Bus    bus.Bus

	// Debounce and Expiry default to the package constants
	Debounce time.Duration
	Expiry   time.Duration

	OnChange ChangeFunc  // optional
	Logger   *zap.Logger // optional
}

// Coordinator is the two-sided typing indicator engine for one device.
type Coordinator struct {
	selfID   uuid.UUID
	bus      bus.Bus
	debounce time.Duration
	expiry   time.Duration
	onChange ChangeFunc
	log      *zap.Logger

	now func() time.Time

	mu          sync.Mutex
	lastSent    map[uuid.UUID]time.Time
	sending     map[uuid.UUID]bool
	stopTimers  map[uuid.UUID]*time.Timer
	typists     map[uuid.UUID]map[uuid.UUID]time.Time
	sweepTimers map[uuid.UUID]*time.Timer
	cancelTopic func()
}

// NewCoordinator creates a typing coordinator. Call Start to begin consuming.
func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = constants.TypingRebroadcastInterval
	}
	expiry := cfg.Expiry
	if expiry <= 0 {
		expiry = constants.TypingExpiry
	}

	return &Coordinator{
		selfID:      cfg.SelfID,
		bus:         cfg.Bus,
		debounce:    debounce,
		expiry:      expiry,
		onChange:    cfg.OnChange,
		log:         log,
		now:         time.Now,
		lastSent:    make(map[uuid.UUID]time.Time),
		sending:     make(map[uuid.UUID]bool),
		stopTimers:  make(map[uuid.UUID]*time.Timer),
		typists:     make(map[uuid.UUID]map[uuid.UUID]time.Time),
		sweepTimers: make(map[uuid.UUID]*time.Timer),
	}
}

// Start subscribes to the typing topic
func (c *Coordinator) Start(ctx context.Context) error {
	cancel, err := c.bus.SubscribeTopic(ctx, bus.TopicTyping, c.handleSignal)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.cancelTopic = cancel
	c.mu.Unlock()
	return nil
}

// Stop detaches from the bus and drops all timers. Idempotent.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	cancel := c.cancelTopic
	c.cancelTopic = nil
	for id, timer := range c.stopTimers {
		timer.Stop()
		delete(c.stopTimers, id)
	}
	for id, timer := range c.sweepTimers {
		timer.Stop()
		delete(c.sweepTimers, id)
	}
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// NotifyTyping marks the local user as typing in a conversation. Repeated
// calls while input keeps changing collapse to one broadcast per debounce
// window; going idle broadcasts a stop on its own.
func (c *Coordinator) NotifyTyping(ctx context.Context, conversationID uuid.UUID) error {
	c.mu.Lock()
	now := c.now()
	shouldSend := !c.sending[conversationID] || now.Sub(c.lastSent[conversationID]) >= c.debounce
	if shouldSend {
		c.lastSent[conversationID] = now
		c.sending[conversationID] = true
	}
	c.armStopTimerLocked(conversationID)
	c.mu.Unlock()

	if !shouldSend {
		return nil
	}
	return c.broadcast(ctx, conversationID, true)
}

// StopTyping clears the local indicator immediately (message sent, input
// cleared). No-op when not currently advertised as typing.
func (c *Coordinator) StopTyping(ctx context.Context, conversationID uuid.UUID) error {
	c.mu.Lock()
	if !c.sending[conversationID] {
		c.mu.Unlock()
		return nil
	}
	delete(c.sending, conversationID)
	delete(c.lastSent, conversationID)
	if timer, ok := c.stopTimers[conversationID]; ok {
		timer.Stop()
		delete(c.stopTimers, conversationID)
	}
	c.mu.Unlock()

	return c.broadcast(ctx, conversationID, false)
}

// armStopTimerLocked (re)schedules the idle auto-stop for a conversation
func (c *Coordinator) armStopTimerLocked(conversationID uuid.UUID) {
	if timer, ok := c.stopTimers[conversationID]; ok {
		timer.Reset(c.expiry)
		return
	}
	c.stopTimers[conversationID] = time.AfterFunc(c.expiry, func() {
		c.mu.Lock()
		delete(c.stopTimers, conversationID)
		c.mu.Unlock()
		if err := c.StopTyping(context.Background(), conversationID); err != nil {
			c.log.Debug("typing auto-stop failed", zap.Error(err))
		}
	})
}

func (c *Coordinator) broadcast(ctx context.Context, conversationID uuid.UUID, typing bool) error {
	data, err := json.Marshal(domain.TypingSignal{
		ConversationID: conversationID,
		UserID:         c.selfID,
		Typing:         typing,
		Timestamp:      c.now().UTC(),
	})
	if err != nil {
		return err
	}
	return c.bus.Broadcast(ctx, bus.TopicTyping, data)
}

// Typists returns who is currently typing in a conversation
func (c *Coordinator) Typists(conversationID uuid.UUID) []domain.TypingEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.typistsLocked(conversationID, c.now())
}

func (c *Coordinator) typistsLocked(conversationID uuid.UUID, now time.Time) []domain.TypingEntry {
	var out []domain.TypingEntry
	for userID, expiresAt := range c.typists[conversationID] {
		if expiresAt.After(now) {
			out = append(out, domain.TypingEntry{UserID: userID, ExpiresAt: expiresAt})
		}
	}
	return out
}

// handleSignal ingests one typing signal from the bus
func (c *Coordinator) handleSignal(payload []byte) {
	var sig domain.TypingSignal
	if err := json.Unmarshal(payload, &sig); err != nil {
		c.log.Warn("undecodable typing signal dropped", zap.Error(err))
		return
	}
	if sig.UserID == c.selfID {
		return
	}

	c.mu.Lock()
	conv := c.typists[sig.ConversationID]
	if sig.Typing {
		if conv == nil {
			conv = make(map[uuid.UUID]time.Time)
			c.typists[sig.ConversationID] = conv
		}
		conv[sig.UserID] = c.now().Add(c.expiry)
		c.armSweepLocked(sig.ConversationID)
	} else {
		delete(conv, sig.UserID)
		if len(conv) == 0 {
			delete(c.typists, sig.ConversationID)
		}
	}
	snapshot := c.typistsLocked(sig.ConversationID, c.now())
	c.mu.Unlock()

	if c.onChange != nil {
		c.onChange(sig.ConversationID, snapshot)
	}
}

// armSweepLocked (re)schedules expiry cleanup for a conversation
func (c *Coordinator) armSweepLocked(conversationID uuid.UUID) {
	if timer, ok := c.sweepTimers[conversationID]; ok {
		timer.Reset(c.expiry)
		return
	}
	c.sweepTimers[conversationID] = time.AfterFunc(c.expiry, func() {
		c.sweepConversation(conversationID)
	})
}

// sweepConversation removes expired entries and reschedules while any remain
func (c *Coordinator) sweepConversation(conversationID uuid.UUID) {
	c.mu.Lock()
	now := c.now()
	conv := c.typists[conversationID]
	changed := false
	for userID, expiresAt := range conv {
		if !expiresAt.After(now) {
			delete(conv, userID)
			changed = true
		}
	}
	if len(conv) == 0 {
		delete(c.typists, conversationID)
		if timer, ok := c.sweepTimers[conversationID]; ok {
			timer.Stop()
			delete(c.sweepTimers, conversationID)
		}
	} else if timer, ok := c.sweepTimers[conversationID]; ok {
		timer.Reset(c.expiry)
	}
	snapshot := c.typistsLocked(conversationID, now)
	c.mu.Unlock()

	if changed && c.onChange != nil {
		c.onChange(conversationID, snapshot)
	}
}
