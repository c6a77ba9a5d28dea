package call

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"callcore/internal/domain"
	"callcore/internal/media"
	"callcore/pkg/constants"
	"callcore/pkg/errors"
	"callcore/pkg/metrics"
)

// SignalSender is the outbound half of the signaling adapter
type SignalSender interface {
	SendOffer(ctx context.Context, callID, peerID uuid.UUID, desc domain.SessionDescription) error
	SendAnswer(ctx context.Context, callID, peerID uuid.UUID, desc domain.SessionDescription) error
	SendCandidate(ctx context.Context, callID, peerID uuid.UUID, cand domain.ICECandidate) error
	SendHangup(ctx context.Context, callID, peerID uuid.UUID, reason domain.EndReason) error
}

// Notifier receives presentation-relevant session changes. Implemented by
// the notification coordinator; every method must be cheap and non-blocking.
type Notifier interface {
	// CallRinging fires once when an incoming call surfaces
	CallRinging(session domain.CallSession)
	// CallProgress fires on outgoing/connecting/connected transitions and flag changes
	CallProgress(session domain.CallSession)
	// CallTick fires once per second while connected
	CallTick(session domain.CallSession, elapsed time.Duration)
	// CallEnded fires exactly once when the session terminates
	CallEnded(session domain.CallSession)
}

// CallRecorder persists finished call attempts
type CallRecorder interface {
	Record(ctx context.Context, rec *domain.CallRecord) error
}

// StoreConfig wires the session store's collaborators
type StoreConfig struct {
	SelfID    uuid.UUID
	Devices   media.Devices
	Sender    SignalSender
	Transport TransportFactory
	Notifier  Notifier         // optional
	Records   CallRecorder     // optional
	Metrics   *metrics.Metrics // optional
	Logger    *zap.Logger      // optional
}

// Store owns the single active call session and drives its state machine.
// All transitions are serialized on one mutex, so events apply strictly in
// the order they arrive. The at-most-one-active-session invariant lives
// here, never in ambient globals.
type Store struct {
	selfID       uuid.UUID
	devices      media.Devices
	sender       SignalSender
	newTransport TransportFactory
	notifier     Notifier
	records      CallRecorder
	metrics      *metrics.Metrics
	log          *zap.Logger

	mu     sync.Mutex
	active *activeCall
}

// activeCall bundles the session snapshot with the resources it owns
type activeCall struct {
	session domain.CallSession

	local     *media.Stream
	remote    *media.Stream
	transport Transport

	// pendingOffer is the remote offer held while incoming-ringing
	pendingOffer *domain.SessionDescription

	// candidates buffers remote ICE received before the remote
	// description is applied; flushed in arrival order
	remoteDescSet bool
	candidates    []domain.ICECandidate

	tickStop chan struct{}
}

// NewStore creates a session store
func NewStore(cfg StoreConfig) *Store {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		selfID:       cfg.SelfID,
		devices:      cfg.Devices,
		sender:       cfg.Sender,
		newTransport: cfg.Transport,
		notifier:     cfg.Notifier,
		records:      cfg.Records,
		metrics:      cfg.Metrics,
		log:          log,
	}
}

// BindSender attaches the signaling sender. Called once during wiring,
// before any call activity; the adapter and the store reference each other.
func (s *Store) BindSender(sender SignalSender) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sender = sender
}

// Current returns a snapshot of the active session, or nil when idle
func (s *Store) Current() *domain.CallSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return nil
	}
	snapshot := s.active.session
	return &snapshot
}

// StartCall acquires local media, creates an outgoing session, and hands the
// offer to the signaling adapter. The session never leaves idle when device
// acquisition fails; on signaling failure the attempt ends immediately.
func (s *Store) StartCall(ctx context.Context, peerID uuid.UUID, peerName string, kind domain.MediaKind) (*domain.CallSession, error) {
	s.mu.Lock()

	if s.active != nil && s.active.session.Active() {
		s.mu.Unlock()
		return nil, errors.BusyError()
	}

	stream, err := s.devices.AcquireStream(ctx, kind)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}

	transport, offer, err := s.negotiateLocked(ctx, stream, nil)
	if err != nil {
		stream.Stop()
		s.mu.Unlock()
		return nil, err
	}

	now := time.Now()
	s.active = &activeCall{
		session: domain.CallSession{
			CallID:          uuid.New(),
			Direction:       domain.DirectionOutgoing,
			MediaKind:       kind,
			PeerID:          peerID,
			PeerDisplayName: peerName,
			State:           domain.CallStateOutgoingCalling,
			StartedAt:       now,
			IsVideoEnabled:  kind == domain.MediaVideo,
		},
		local:     stream,
		transport: transport,
	}
	snapshot := s.active.session
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.CallStarted(string(snapshot.Direction), string(kind))
	}
	s.notifyProgress(snapshot)
	s.log.Info("call started",
		zap.String("call_id", snapshot.CallID.String()),
		zap.String("peer_id", peerID.String()),
		zap.String("media", string(kind)))

	if err := s.sender.SendOffer(ctx, snapshot.CallID, peerID, offer); err != nil {
		s.end(snapshot.CallID, domain.EndReasonFailed, false)
		return nil, err
	}

	return &snapshot, nil
}

// negotiateLocked builds a transport over the local stream. When remoteOffer
// is nil it produces an offer, otherwise an answer.
func (s *Store) negotiateLocked(ctx context.Context, stream *media.Stream, remoteOffer *domain.SessionDescription) (Transport, domain.SessionDescription, error) {
	// The call ID is not known yet when dialing; events resolve the
	// session by checking the active transport instead.
	var transport Transport
	events := TransportEvents{
		OnLocalCandidate: func(c domain.ICECandidate) { s.handleLocalCandidate(transport, c) },
		OnStateChange:    func(st TransportState) { s.handleTransportState(transport, st) },
		OnRemoteTrack:    func(k media.TrackKind) { s.handleRemoteTrack(transport, k) },
	}

	transport, err := s.newTransport(events)
	if err != nil {
		return nil, domain.SessionDescription{}, err
	}

	if err := transport.AttachLocalStream(stream); err != nil {
		transport.Close()
		return nil, domain.SessionDescription{}, err
	}

	var desc domain.SessionDescription
	if remoteOffer == nil {
		desc, err = transport.CreateOffer(ctx)
	} else {
		if err = transport.SetRemoteDescription(*remoteOffer); err == nil {
			desc, err = transport.CreateAnswer(ctx)
		}
	}
	if err != nil {
		transport.Close()
		return nil, domain.SessionDescription{}, err
	}

	return transport, desc, nil
}

// ReceiveOffer surfaces an incoming call, or auto-rejects it as busy when a
// session is already active.
func (s *Store) ReceiveOffer(env *domain.SignalingEnvelope, desc domain.SessionDescription, peerName string) error {
	s.mu.Lock()

	if s.active != nil && s.active.session.Active() {
		if s.active.session.CallID == env.CallID {
			// Re-delivered offer for the session we already track
			s.mu.Unlock()
			return nil
		}
		s.mu.Unlock()

		// Busy: auto-reject without disturbing the active call.
		// Fire-and-forget; the caller's side maps this to ended(busy).
		go func() {
			if err := s.sender.SendHangup(context.Background(), env.CallID, env.FromID, domain.EndReasonBusy); err != nil {
				s.log.Warn("busy reject failed", zap.Error(err))
			}
		}()
		return errors.BusyError()
	}

	offer := desc
	s.active = &activeCall{
		session: domain.CallSession{
			CallID:          env.CallID,
			Direction:       domain.DirectionIncoming,
			MediaKind:       mediaKindFromSDP(desc),
			PeerID:          env.FromID,
			PeerDisplayName: peerName,
			State:           domain.CallStateIncomingRinging,
			StartedAt:       time.Now(),
		},
		pendingOffer: &offer,
	}
	snapshot := s.active.session
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.CallStarted(string(snapshot.Direction), string(snapshot.MediaKind))
	}
	if s.notifier != nil {
		s.notifier.CallRinging(snapshot)
	}
	s.log.Info("incoming call",
		zap.String("call_id", snapshot.CallID.String()),
		zap.String("peer_id", snapshot.PeerID.String()))
	return nil
}

// AcceptCall answers the ringing session. Device failures leave the session
// in incoming-ringing so the user can retry or reject.
func (s *Store) AcceptCall(ctx context.Context) (*domain.CallSession, error) {
	s.mu.Lock()

	if s.active == nil || s.active.session.State != domain.CallStateIncomingRinging {
		s.mu.Unlock()
		return nil, errors.InvalidStateError("no ringing call to accept")
	}

	stream, err := s.devices.AcquireStream(ctx, s.active.session.MediaKind)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}

	transport, answer, err := s.negotiateLocked(ctx, stream, s.active.pendingOffer)
	if err != nil {
		stream.Stop()
		s.mu.Unlock()
		return nil, err
	}

	s.active.local = stream
	s.active.transport = transport
	s.active.remoteDescSet = true
	s.active.pendingOffer = nil
	s.active.session.State = domain.CallStateConnecting
	s.active.session.IsVideoEnabled = s.active.session.MediaKind == domain.MediaVideo
	s.flushCandidatesLocked()

	snapshot := s.active.session
	peerID := snapshot.PeerID
	callID := snapshot.CallID
	s.mu.Unlock()

	// Leaving incoming-ringing stops the ringtone in the coordinator
	s.notifyProgress(snapshot)

	if err := s.sender.SendAnswer(ctx, callID, peerID, answer); err != nil {
		s.end(callID, domain.EndReasonFailed, false)
		return nil, err
	}

	return &snapshot, nil
}

// RejectCall declines the session from any non-terminal state
func (s *Store) RejectCall() error {
	return s.endCurrent(domain.EndReasonRejected, true)
}

// EndCall hangs up the session from any non-terminal state
func (s *Store) EndCall() error {
	return s.endCurrent(domain.EndReasonHangup, true)
}

func (s *Store) endCurrent(reason domain.EndReason, sendHangup bool) error {
	s.mu.Lock()
	if s.active == nil || !s.active.session.Active() {
		s.mu.Unlock()
		return nil // safe no-op from idle/ended
	}
	callID := s.active.session.CallID
	s.mu.Unlock()

	s.end(callID, reason, sendHangup)
	return nil
}

// ApplyRemoteDescription consumes the peer's answer while outgoing-calling
func (s *Store) ApplyRemoteDescription(env *domain.SignalingEnvelope, desc domain.SessionDescription) error {
	s.mu.Lock()

	if !s.ownsLocked(env.CallID) {
		s.mu.Unlock()
		return errors.CallNotFoundError()
	}
	if s.active.session.State != domain.CallStateOutgoingCalling {
		s.mu.Unlock()
		return errors.InvalidStateError("answer outside outgoing-calling")
	}

	if err := s.active.transport.SetRemoteDescription(desc); err != nil {
		s.mu.Unlock()
		s.end(env.CallID, domain.EndReasonFailed, true)
		return err
	}
	s.active.remoteDescSet = true
	s.active.session.State = domain.CallStateConnecting
	s.flushCandidatesLocked()
	snapshot := s.active.session
	s.mu.Unlock()

	s.notifyProgress(snapshot)
	return nil
}

// ApplyIceCandidate feeds a remote candidate, buffering it when the remote
// description has not arrived yet. The buffer is bounded; oldest entries are
// dropped past the cap.
func (s *Store) ApplyIceCandidate(env *domain.SignalingEnvelope, cand domain.ICECandidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ownsLocked(env.CallID) {
		return errors.CallNotFoundError()
	}

	switch s.active.session.State {
	case domain.CallStateOutgoingCalling, domain.CallStateIncomingRinging, domain.CallStateConnecting:
	default:
		return errors.InvalidStateError("candidate outside negotiation")
	}

	if !s.active.remoteDescSet {
		if len(s.active.candidates) >= constants.MaxBufferedCandidates {
			s.active.candidates = s.active.candidates[1:]
		}
		s.active.candidates = append(s.active.candidates, cand)
		if s.metrics != nil {
			s.metrics.CandidatesBuffered(len(s.active.candidates))
		}
		return nil
	}

	if err := s.active.transport.AddICECandidate(cand); err != nil {
		s.log.Warn("ice candidate rejected", zap.Error(err))
	}
	return nil
}

// HandleRemoteHangup terminates the session on the peer's request
func (s *Store) HandleRemoteHangup(env *domain.SignalingEnvelope, reason domain.EndReason) {
	s.mu.Lock()
	if !s.ownsLocked(env.CallID) {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	if reason == "" {
		reason = domain.EndReasonHangup
	}
	s.end(env.CallID, reason, false)
}

// ToggleMute flips the audio flag; no-op without a local stream
func (s *Store) ToggleMute() (*domain.CallSession, error) {
	return s.toggle(func(c *activeCall) {
		c.session.IsMuted = !c.session.IsMuted
		if c.local != nil {
			c.local.SetEnabled(media.TrackAudio, !c.session.IsMuted)
		}
	})
}

// ToggleVideo flips the video flag; no-op without a local stream
func (s *Store) ToggleVideo() (*domain.CallSession, error) {
	return s.toggle(func(c *activeCall) {
		c.session.IsVideoEnabled = !c.session.IsVideoEnabled
		if c.local != nil {
			c.local.SetEnabled(media.TrackVideo, c.session.IsVideoEnabled)
		}
	})
}

// ToggleSpeaker flips the speaker flag; audio routing is platform glue
func (s *Store) ToggleSpeaker() (*domain.CallSession, error) {
	return s.toggle(func(c *activeCall) {
		c.session.IsSpeakerOn = !c.session.IsSpeakerOn
	})
}

func (s *Store) toggle(apply func(*activeCall)) (*domain.CallSession, error) {
	s.mu.Lock()

	if s.active == nil {
		s.mu.Unlock()
		return nil, errors.InvalidStateError("no active call")
	}
	switch s.active.session.State {
	case domain.CallStateConnected, domain.CallStateConnecting:
	default:
		s.mu.Unlock()
		return nil, errors.InvalidStateError("media controls need an established call")
	}

	apply(s.active)
	snapshot := s.active.session
	s.mu.Unlock()

	s.notifyProgress(snapshot)
	return &snapshot, nil
}

// ownsLocked reports whether callID is the live session. Envelopes for
// unknown or ended sessions are dropped by the adapter based on this.
func (s *Store) ownsLocked(callID uuid.UUID) bool {
	return s.active != nil && s.active.session.Active() && s.active.session.CallID == callID
}

// Owns is the adapter-facing view of ownsLocked
func (s *Store) Owns(callID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ownsLocked(callID)
}

func (s *Store) flushCandidatesLocked() {
	for _, cand := range s.active.candidates {
		if err := s.active.transport.AddICECandidate(cand); err != nil {
			s.log.Warn("buffered ice candidate rejected", zap.Error(err))
		}
	}
	s.active.candidates = nil
	if s.metrics != nil {
		s.metrics.CandidatesBuffered(0)
	}
}

// handleLocalCandidate forwards a gathered candidate to the peer
func (s *Store) handleLocalCandidate(from Transport, cand domain.ICECandidate) {
	s.mu.Lock()
	if s.active == nil || s.active.transport != from || !s.active.session.Active() {
		s.mu.Unlock()
		return
	}
	callID := s.active.session.CallID
	peerID := s.active.session.PeerID
	s.mu.Unlock()

	if err := s.sender.SendCandidate(context.Background(), callID, peerID, cand); err != nil {
		s.log.Warn("candidate send failed", zap.Error(err))
	}
}

// handleTransportState reacts to connection establishment and loss
func (s *Store) handleTransportState(from Transport, state TransportState) {
	s.mu.Lock()
	if s.active == nil || s.active.transport != from || !s.active.session.Active() {
		s.mu.Unlock()
		return
	}
	callID := s.active.session.CallID

	switch state {
	case TransportConnected:
		if s.active.session.State == domain.CallStateConnected {
			s.mu.Unlock()
			return
		}
		now := time.Now()
		s.active.session.State = domain.CallStateConnected
		s.active.session.ConnectedAt = &now
		s.active.tickStop = make(chan struct{})
		go s.runDurationTicker(callID, s.active.tickStop)
		snapshot := s.active.session
		sinceStart := now.Sub(snapshot.StartedAt)
		s.mu.Unlock()

		if s.metrics != nil {
			s.metrics.CallConnected(sinceStart)
		}
		s.notifyProgress(snapshot)
		s.log.Info("call connected", zap.String("call_id", callID.String()))

	case TransportFailed, TransportDisconnected:
		s.mu.Unlock()
		// Surfaced as a dropped call, never silently redialed
		s.end(callID, domain.EndReasonConnectionLost, false)

	default:
		s.mu.Unlock()
	}
}

// handleRemoteTrack records the remote media handle for release on end
func (s *Store) handleRemoteTrack(from Transport, kind media.TrackKind) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil || s.active.transport != from || !s.active.session.Active() {
		return
	}
	if s.active.remote == nil {
		s.active.remote = media.NewStream()
	}
	s.active.remote.AddTrack(media.NewTrack(kind))
}

// runDurationTicker drives the once-per-second duration updates
func (s *Store) runDurationTicker(callID uuid.UUID, stop chan struct{}) {
	ticker := time.NewTicker(constants.CallDurationTick)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			s.mu.Lock()
			if !s.ownsLocked(callID) || s.active.session.State != domain.CallStateConnected {
				s.mu.Unlock()
				return
			}
			snapshot := s.active.session
			s.mu.Unlock()

			if s.notifier != nil {
				s.notifier.CallTick(snapshot, snapshot.Duration(now))
			}
		}
	}
}

// end drives the session to its terminal state. Ringtone stop and media
// release happen synchronously; the hangup envelope is fire-and-forget.
func (s *Store) end(callID uuid.UUID, reason domain.EndReason, sendHangup bool) {
	s.mu.Lock()
	if !s.ownsLocked(callID) {
		s.mu.Unlock()
		return
	}

	c := s.active
	if c.tickStop != nil {
		close(c.tickStop)
		c.tickStop = nil
	}
	if c.local != nil {
		c.local.Stop()
	}
	if c.remote != nil {
		c.remote.Stop()
	}
	if c.transport != nil {
		c.transport.Close()
	}
	c.candidates = nil
	c.pendingOffer = nil

	now := time.Now()
	c.session.State = domain.CallStateEnded
	c.session.EndedAt = &now
	c.session.EndReason = reason
	snapshot := c.session
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.CallEnded(string(reason))
	}
	if s.notifier != nil {
		s.notifier.CallEnded(snapshot)
	}
	s.log.Info("call ended",
		zap.String("call_id", callID.String()),
		zap.String("reason", string(reason)))

	if sendHangup {
		go func() {
			if err := s.sender.SendHangup(context.Background(), snapshot.CallID, snapshot.PeerID, reason); err != nil {
				s.log.Debug("hangup send failed", zap.Error(err))
			}
		}()
	}

	if s.records != nil {
		rec := &domain.CallRecord{
			CallID:      snapshot.CallID,
			PeerID:      snapshot.PeerID,
			Direction:   snapshot.Direction,
			MediaKind:   snapshot.MediaKind,
			StartedAt:   snapshot.StartedAt,
			ConnectedAt: snapshot.ConnectedAt,
			EndedAt:     now,
			EndReason:   reason,
		}
		if snapshot.ConnectedAt != nil {
			rec.Duration = int(now.Sub(*snapshot.ConnectedAt).Seconds())
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), constants.DefaultTimeout)
			defer cancel()
			if err := s.records.Record(ctx, rec); err != nil {
				s.log.Warn("call record persist failed", zap.Error(err))
			}
		}()
	}
}

func (s *Store) notifyProgress(snapshot domain.CallSession) {
	if s.notifier != nil {
		s.notifier.CallProgress(snapshot)
	}
}

// mediaKindFromSDP infers audio/video from the offered description
func mediaKindFromSDP(desc domain.SessionDescription) domain.MediaKind {
	if strings.Contains(desc.SDP, "m=video") {
		return domain.MediaVideo
	}
	return domain.MediaAudio
}
