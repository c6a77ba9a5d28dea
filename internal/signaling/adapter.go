// Package signaling translates call-session intents into signaling envelopes
// on the bus and dispatches inbound envelopes back into the session store.
// The adapter owns per-call sequence counters and the duplicate-suppression
// window; the state machine behind Dispatcher never sees the wire format.
package signaling

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"callcore/internal/bus"
	"callcore/internal/domain"
	"callcore/pkg/constants"
	"callcore/pkg/errors"
	"callcore/pkg/metrics"
)

// Dispatcher is the inbound side of the call session store
type Dispatcher interface {
	ReceiveOffer(env *domain.SignalingEnvelope, desc domain.SessionDescription, peerName string) error
	ApplyRemoteDescription(env *domain.SignalingEnvelope, desc domain.SessionDescription) error
	ApplyIceCandidate(env *domain.SignalingEnvelope, cand domain.ICECandidate) error
	HandleRemoteHangup(env *domain.SignalingEnvelope, reason domain.EndReason)
	Owns(callID uuid.UUID) bool
}

// NameResolver maps a peer ID to a display name for incoming calls
type NameResolver func(peerID uuid.UUID) string

// AdapterConfig wires the adapter's collaborators
type AdapterConfig struct {
	SelfID     uuid.UUID
	Bus        bus.Bus
	Dispatcher Dispatcher
	Resolve    NameResolver     // optional
	Metrics    *metrics.Metrics // optional
	Logger     *zap.Logger      // optional
}

// Adapter is the signaling endpoint for one device. It implements the
// session store's SignalSender on the outbound side and feeds the
// Dispatcher on the inbound side.
type Adapter struct {
	selfID     uuid.UUID
	bus        bus.Bus
	dispatcher Dispatcher
	resolve    NameResolver
	metrics    *metrics.Metrics
	log        *zap.Logger

	mu     sync.Mutex
	seq    map[uuid.UUID]uint64
	seen   map[string]struct{}
	order  []string
	cancel func()
}

// NewAdapter creates a signaling adapter. Call Start to begin consuming.
func NewAdapter(cfg AdapterConfig) *Adapter {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Adapter{
		selfID:     cfg.SelfID,
		bus:        cfg.Bus,
		dispatcher: cfg.Dispatcher,
		resolve:    cfg.Resolve,
		metrics:    cfg.Metrics,
		log:        log,
		seq:        make(map[uuid.UUID]uint64),
		seen:       make(map[string]struct{}),
	}
}

// Start subscribes to the local inbox and dispatches until Stop
func (a *Adapter) Start(ctx context.Context) error {
	cancel, err := a.bus.Subscribe(ctx, a.selfID, a.handleInbound)
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()
	return nil
}

// Stop detaches from the bus. Idempotent.
func (a *Adapter) Stop() {
	a.mu.Lock()
	cancel := a.cancel
	a.cancel = nil
	a.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// SendOffer publishes the SDP offer that opens a call
func (a *Adapter) SendOffer(ctx context.Context, callID, peerID uuid.UUID, desc domain.SessionDescription) error {
	return a.send(ctx, callID, peerID, domain.SignalOffer, desc)
}

// SendAnswer publishes the SDP answer accepting a call
func (a *Adapter) SendAnswer(ctx context.Context, callID, peerID uuid.UUID, desc domain.SessionDescription) error {
	return a.send(ctx, callID, peerID, domain.SignalAnswer, desc)
}

// SendCandidate publishes one locally gathered ICE candidate
func (a *Adapter) SendCandidate(ctx context.Context, callID, peerID uuid.UUID, cand domain.ICECandidate) error {
	return a.send(ctx, callID, peerID, domain.SignalICECandidate, cand)
}

// SendHangup publishes the terminal envelope and retires the call's counter
func (a *Adapter) SendHangup(ctx context.Context, callID, peerID uuid.UUID, reason domain.EndReason) error {
	err := a.send(ctx, callID, peerID, domain.SignalHangup, domain.HangupInfo{Reason: reason})

	a.mu.Lock()
	delete(a.seq, callID)
	a.mu.Unlock()
	return err
}

func (a *Adapter) send(ctx context.Context, callID, peerID uuid.UUID, kind domain.SignalKind, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, "encode signal payload", err)
	}

	a.mu.Lock()
	a.seq[callID]++
	seq := a.seq[callID]
	a.mu.Unlock()

	env := domain.SignalingEnvelope{
		CallID:    callID,
		FromID:    a.selfID,
		ToID:      peerID,
		Kind:      kind,
		Seq:       seq,
		Payload:   body,
		Timestamp: time.Now().UTC(),
	}
	data, err := json.Marshal(env)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, "encode signal envelope", err)
	}

	if err := a.bus.Publish(ctx, peerID, data); err != nil {
		return err
	}

	if a.metrics != nil {
		a.metrics.EnvelopePublished(string(kind))
	}
	a.log.Debug("envelope published",
		zap.String("call_id", callID.String()),
		zap.String("kind", string(kind)),
		zap.Uint64("seq", seq))
	return nil
}

// handleInbound decodes, dedupes, and dispatches one envelope. Unknown and
// already-ended call IDs are dropped without error; the bus redelivers, so
// anything else would turn stale traffic into failures.
func (a *Adapter) handleInbound(payload []byte) {
	var env domain.SignalingEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		if a.metrics != nil {
			a.metrics.EnvelopeDropped("decode")
		}
		a.log.Warn("undecodable envelope dropped", zap.Error(err))
		return
	}

	if a.metrics != nil {
		a.metrics.EnvelopeReceived(string(env.Kind))
	}

	if a.isDuplicate(&env) {
		if a.metrics != nil {
			a.metrics.EnvelopeDuplicate()
		}
		a.log.Debug("duplicate envelope ignored",
			zap.String("call_id", env.CallID.String()),
			zap.Uint64("seq", env.Seq))
		return
	}

	switch env.Kind {
	case domain.SignalOffer:
		a.dispatchOffer(&env)
	case domain.SignalAnswer:
		a.dispatchAnswer(&env)
	case domain.SignalICECandidate:
		a.dispatchCandidate(&env)
	case domain.SignalHangup:
		a.dispatchHangup(&env)
	default:
		if a.metrics != nil {
			a.metrics.EnvelopeDropped("unknown_kind")
		}
		a.log.Warn("envelope with unknown kind dropped", zap.String("kind", string(env.Kind)))
	}
}

func (a *Adapter) dispatchOffer(env *domain.SignalingEnvelope) {
	var desc domain.SessionDescription
	if err := json.Unmarshal(env.Payload, &desc); err != nil {
		a.dropPayload(env, err)
		return
	}

	name := ""
	if a.resolve != nil {
		name = a.resolve(env.FromID)
	}

	if err := a.dispatcher.ReceiveOffer(env, desc, name); err != nil {
		// Busy is the expected auto-reject outcome, not a fault
		if errors.IsCode(err, errors.ErrCodeBusy) {
			a.log.Info("offer auto-rejected busy", zap.String("call_id", env.CallID.String()))
			return
		}
		a.log.Warn("offer dispatch failed", zap.Error(err))
	}
}

func (a *Adapter) dispatchAnswer(env *domain.SignalingEnvelope) {
	if !a.dispatcher.Owns(env.CallID) {
		a.dropStale(env)
		return
	}

	var desc domain.SessionDescription
	if err := json.Unmarshal(env.Payload, &desc); err != nil {
		a.dropPayload(env, err)
		return
	}

	if err := a.dispatcher.ApplyRemoteDescription(env, desc); err != nil {
		a.log.Warn("answer dispatch failed", zap.Error(err))
	}
}

func (a *Adapter) dispatchCandidate(env *domain.SignalingEnvelope) {
	if !a.dispatcher.Owns(env.CallID) {
		a.dropStale(env)
		return
	}

	var cand domain.ICECandidate
	if err := json.Unmarshal(env.Payload, &cand); err != nil {
		a.dropPayload(env, err)
		return
	}

	if err := a.dispatcher.ApplyIceCandidate(env, cand); err != nil {
		a.log.Debug("candidate not applied", zap.Error(err))
	}
}

func (a *Adapter) dispatchHangup(env *domain.SignalingEnvelope) {
	if !a.dispatcher.Owns(env.CallID) {
		a.dropStale(env)
		return
	}

	var info domain.HangupInfo
	if err := json.Unmarshal(env.Payload, &info); err != nil {
		// A hangup with a broken payload still ends the call
		info.Reason = domain.EndReasonHangup
	}

	a.dispatcher.HandleRemoteHangup(env, info.Reason)
}

func (a *Adapter) dropStale(env *domain.SignalingEnvelope) {
	if a.metrics != nil {
		a.metrics.EnvelopeDropped("unknown_call")
	}
	a.log.Debug("envelope for unknown call dropped",
		zap.String("call_id", env.CallID.String()),
		zap.String("kind", string(env.Kind)))
}

func (a *Adapter) dropPayload(env *domain.SignalingEnvelope, err error) {
	if a.metrics != nil {
		a.metrics.EnvelopeDropped("decode")
	}
	a.log.Warn("envelope payload undecodable",
		zap.String("call_id", env.CallID.String()),
		zap.String("kind", string(env.Kind)),
		zap.Error(err))
}

// isDuplicate records the envelope in a bounded window keyed on call ID,
// kind, sequence, and payload hash. The bus is at-least-once; the window
// makes redelivery invisible to the state machine.
func (a *Adapter) isDuplicate(env *domain.SignalingEnvelope) bool {
	sum := sha256.Sum256(env.Payload)
	key := fmt.Sprintf("%s|%s|%d|%x", env.CallID, env.Kind, env.Seq, sum[:8])

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.seen[key]; ok {
		return true
	}

	a.seen[key] = struct{}{}
	a.order = append(a.order, key)
	if len(a.order) > constants.DedupeWindow {
		oldest := a.order[0]
		a.order = a.order[1:]
		delete(a.seen, oldest)
	}
	return false
}
