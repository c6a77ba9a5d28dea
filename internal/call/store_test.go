package call

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callcore/internal/domain"
	"callcore/internal/media"
	"callcore/pkg/constants"
	apperrors "callcore/pkg/errors"
)

type sentSignal struct {
	kind   domain.SignalKind
	callID uuid.UUID
	peerID uuid.UUID
	reason domain.EndReason
	desc   domain.SessionDescription
	cand   domain.ICECandidate
}

type fakeSender struct {
	mu         sync.Mutex
	sent       []sentSignal
	failOffer  bool
	failAnswer bool
}

func (f *fakeSender) record(sig sentSignal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sig)
}

func (f *fakeSender) SendOffer(_ context.Context, callID, peerID uuid.UUID, desc domain.SessionDescription) error {
	if f.failOffer {
		return apperrors.SignalingUnreachableError(assert.AnError)
	}
	f.record(sentSignal{kind: domain.SignalOffer, callID: callID, peerID: peerID, desc: desc})
	return nil
}

func (f *fakeSender) SendAnswer(_ context.Context, callID, peerID uuid.UUID, desc domain.SessionDescription) error {
	if f.failAnswer {
		return apperrors.SignalingUnreachableError(assert.AnError)
	}
	f.record(sentSignal{kind: domain.SignalAnswer, callID: callID, peerID: peerID, desc: desc})
	return nil
}

func (f *fakeSender) SendCandidate(_ context.Context, callID, peerID uuid.UUID, cand domain.ICECandidate) error {
	f.record(sentSignal{kind: domain.SignalICECandidate, callID: callID, peerID: peerID, cand: cand})
	return nil
}

func (f *fakeSender) SendHangup(_ context.Context, callID, peerID uuid.UUID, reason domain.EndReason) error {
	f.record(sentSignal{kind: domain.SignalHangup, callID: callID, peerID: peerID, reason: reason})
	return nil
}

func (f *fakeSender) ofKind(kind domain.SignalKind) []sentSignal {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentSignal
	for _, s := range f.sent {
		if s.kind == kind {
			out = append(out, s)
		}
	}
	return out
}

type fakeTransport struct {
	mu         sync.Mutex
	attached   *media.Stream
	remoteDesc *domain.SessionDescription
	candidates []domain.ICECandidate
	closed     bool
}

func (t *fakeTransport) AttachLocalStream(stream *media.Stream) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attached = stream
	return nil
}

func (t *fakeTransport) CreateOffer(context.Context) (domain.SessionDescription, error) {
	return domain.SessionDescription{Type: "offer", SDP: "v=0\r\nm=audio 9 UDP/TLS/RTP/SAVPF 111\r\n"}, nil
}

func (t *fakeTransport) SetRemoteDescription(desc domain.SessionDescription) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.remoteDesc = &desc
	return nil
}

func (t *fakeTransport) CreateAnswer(context.Context) (domain.SessionDescription, error) {
	return domain.SessionDescription{Type: "answer", SDP: "v=0\r\nm=audio 9 UDP/TLS/RTP/SAVPF 111\r\n"}, nil
}

func (t *fakeTransport) AddICECandidate(cand domain.ICECandidate) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.candidates = append(t.candidates, cand)
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTransport) receivedCandidates() []domain.ICECandidate {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]domain.ICECandidate(nil), t.candidates...)
}

// fakeTransports builds transports and keeps their event hooks so tests can
// drive connection state changes.
type fakeTransports struct {
	mu     sync.Mutex
	built  []*fakeTransport
	events []TransportEvents
}

func (f *fakeTransports) factory() TransportFactory {
	return func(events TransportEvents) (Transport, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		t := &fakeTransport{}
		f.built = append(f.built, t)
		f.events = append(f.events, events)
		return t, nil
	}
}

func (f *fakeTransports) last() (*fakeTransport, TransportEvents) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.built) == 0 {
		return nil, TransportEvents{}
	}
	return f.built[len(f.built)-1], f.events[len(f.events)-1]
}

type fakeNotifier struct {
	mu       sync.Mutex
	ringing  []domain.CallSession
	progress []domain.CallSession
	ended    []domain.CallSession
	ticks    int
}

func (n *fakeNotifier) CallRinging(s domain.CallSession) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ringing = append(n.ringing, s)
}

func (n *fakeNotifier) CallProgress(s domain.CallSession) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.progress = append(n.progress, s)
}

func (n *fakeNotifier) CallTick(domain.CallSession, time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ticks++
}

func (n *fakeNotifier) CallEnded(s domain.CallSession) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.ended = append(n.ended, s)
}

func (n *fakeNotifier) endedCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.ended)
}

type fakeRecorder struct {
	mu   sync.Mutex
	recs []*domain.CallRecord
}

func (r *fakeRecorder) Record(_ context.Context, rec *domain.CallRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, rec)
	return nil
}

func (r *fakeRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.recs)
}

type storeFixture struct {
	store      *Store
	devices    *media.MockDevices
	sender     *fakeSender
	transports *fakeTransports
	notifier   *fakeNotifier
	recorder   *fakeRecorder
}

func newStoreFixture(t *testing.T) *storeFixture {
	t.Helper()
	f := &storeFixture{
		devices:    &media.MockDevices{},
		sender:     &fakeSender{},
		transports: &fakeTransports{},
		notifier:   &fakeNotifier{},
		recorder:   &fakeRecorder{},
	}
	f.store = NewStore(StoreConfig{
		SelfID:    uuid.New(),
		Devices:   f.devices,
		Sender:    f.sender,
		Transport: f.transports.factory(),
		Notifier:  f.notifier,
		Records:   f.recorder,
	})
	return f
}

func incomingOffer(callID, fromID uuid.UUID) (*domain.SignalingEnvelope, domain.SessionDescription) {
	env := &domain.SignalingEnvelope{
		CallID:    callID,
		FromID:    fromID,
		Kind:      domain.SignalOffer,
		Timestamp: time.Now(),
	}
	return env, domain.SessionDescription{Type: "offer", SDP: "v=0\r\nm=audio 9 UDP/TLS/RTP/SAVPF 111\r\n"}
}

func TestStartCallOutgoingLifecycle(t *testing.T) {
	f := newStoreFixture(t)
	peerID := uuid.New()

	session, err := f.store.StartCall(context.Background(), peerID, "alice", domain.MediaAudio)
	require.NoError(t, err)
	require.Equal(t, domain.CallStateOutgoingCalling, session.State)
	require.Equal(t, domain.DirectionOutgoing, session.Direction)

	offers := f.sender.ofKind(domain.SignalOffer)
	require.Len(t, offers, 1)
	assert.Equal(t, session.CallID, offers[0].callID)
	assert.Equal(t, peerID, offers[0].peerID)

	// Peer answers
	env := &domain.SignalingEnvelope{CallID: session.CallID, FromID: peerID, Kind: domain.SignalAnswer}
	require.NoError(t, f.store.ApplyRemoteDescription(env, domain.SessionDescription{Type: "answer", SDP: "v=0\r\n"}))
	require.Equal(t, domain.CallStateConnecting, f.store.Current().State)

	// Transport establishes
	_, events := f.transports.last()
	events.OnStateChange(TransportConnected)

	current := f.store.Current()
	require.Equal(t, domain.CallStateConnected, current.State)
	require.NotNil(t, current.ConnectedAt)

	require.NoError(t, f.store.EndCall())
	current = f.store.Current()
	require.Equal(t, domain.CallStateEnded, current.State)
	assert.Equal(t, domain.EndReasonHangup, current.EndReason)

	// Media and transport released, hangup reached the peer
	require.Len(t, f.devices.Acquired, 1)
	assert.True(t, f.devices.Acquired[0].Stopped())
	tr, _ := f.transports.last()
	assert.True(t, tr.closed)
	require.Eventually(t, func() bool {
		return len(f.sender.ofKind(domain.SignalHangup)) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestStartCallDeviceFailuresStayIdle(t *testing.T) {
	t.Run("permission refused", func(t *testing.T) {
		f := newStoreFixture(t)
		f.devices.DenyPermission = true

		_, err := f.store.StartCall(context.Background(), uuid.New(), "bob", domain.MediaAudio)
		require.Error(t, err)
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodePermissionDenied))
		assert.Nil(t, f.store.Current())
		assert.Empty(t, f.sender.ofKind(domain.SignalOffer))
	})

	t.Run("no camera", func(t *testing.T) {
		f := newStoreFixture(t)
		f.devices.MissingCamera = true

		_, err := f.store.StartCall(context.Background(), uuid.New(), "bob", domain.MediaVideo)
		require.Error(t, err)
		assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeDeviceUnavailable))
		assert.Nil(t, f.store.Current())
	})
}

func TestStartCallWhileActiveIsBusy(t *testing.T) {
	f := newStoreFixture(t)

	_, err := f.store.StartCall(context.Background(), uuid.New(), "alice", domain.MediaAudio)
	require.NoError(t, err)

	_, err = f.store.StartCall(context.Background(), uuid.New(), "carol", domain.MediaAudio)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeBusy))
}

func TestStartCallSignalingFailureEndsAttempt(t *testing.T) {
	f := newStoreFixture(t)
	f.sender.failOffer = true

	_, err := f.store.StartCall(context.Background(), uuid.New(), "alice", domain.MediaAudio)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeSignalingUnreachable))

	current := f.store.Current()
	require.NotNil(t, current)
	assert.Equal(t, domain.CallStateEnded, current.State)
	assert.Equal(t, domain.EndReasonFailed, current.EndReason)

	require.Len(t, f.devices.Acquired, 1)
	assert.True(t, f.devices.Acquired[0].Stopped())
}

func TestReceiveOfferRingsAndAcceptConnects(t *testing.T) {
	f := newStoreFixture(t)
	callID, fromID := uuid.New(), uuid.New()
	env, desc := incomingOffer(callID, fromID)

	require.NoError(t, f.store.ReceiveOffer(env, desc, "alice"))

	current := f.store.Current()
	require.Equal(t, domain.CallStateIncomingRinging, current.State)
	assert.Equal(t, domain.DirectionIncoming, current.Direction)
	assert.Equal(t, domain.MediaAudio, current.MediaKind)
	require.Len(t, f.notifier.ringing, 1)
	// Ringing must not grab devices yet
	assert.Empty(t, f.devices.Acquired)

	session, err := f.store.AcceptCall(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.CallStateConnecting, session.State)

	answers := f.sender.ofKind(domain.SignalAnswer)
	require.Len(t, answers, 1)
	assert.Equal(t, callID, answers[0].callID)
	assert.Equal(t, fromID, answers[0].peerID)

	tr, _ := f.transports.last()
	require.NotNil(t, tr.remoteDesc)
	assert.Equal(t, "offer", tr.remoteDesc.Type)
}

func TestReceiveOfferVideoKindDetected(t *testing.T) {
	f := newStoreFixture(t)
	env, desc := incomingOffer(uuid.New(), uuid.New())
	desc.SDP += "m=video 9 UDP/TLS/RTP/SAVPF 96\r\n"

	require.NoError(t, f.store.ReceiveOffer(env, desc, "alice"))
	assert.Equal(t, domain.MediaVideo, f.store.Current().MediaKind)
}

func TestReceiveOfferWhileActiveAutoRejectsBusy(t *testing.T) {
	f := newStoreFixture(t)

	first, err := f.store.StartCall(context.Background(), uuid.New(), "alice", domain.MediaAudio)
	require.NoError(t, err)

	secondID, caller := uuid.New(), uuid.New()
	env, desc := incomingOffer(secondID, caller)
	err = f.store.ReceiveOffer(env, desc, "carol")
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeBusy))

	// Active session untouched, busy hangup reached the second caller
	assert.Equal(t, first.CallID, f.store.Current().CallID)
	require.Eventually(t, func() bool {
		hangups := f.sender.ofKind(domain.SignalHangup)
		return len(hangups) == 1 && hangups[0].callID == secondID &&
			hangups[0].peerID == caller && hangups[0].reason == domain.EndReasonBusy
	}, time.Second, 10*time.Millisecond)
}

func TestRejectCallNeverTouchesDevices(t *testing.T) {
	f := newStoreFixture(t)
	env, desc := incomingOffer(uuid.New(), uuid.New())
	require.NoError(t, f.store.ReceiveOffer(env, desc, "alice"))

	require.NoError(t, f.store.RejectCall())

	current := f.store.Current()
	assert.Equal(t, domain.CallStateEnded, current.State)
	assert.Equal(t, domain.EndReasonRejected, current.EndReason)
	assert.Empty(t, f.devices.Acquired)
	require.Eventually(t, func() bool {
		hangups := f.sender.ofKind(domain.SignalHangup)
		return len(hangups) == 1 && hangups[0].reason == domain.EndReasonRejected
	}, time.Second, 10*time.Millisecond)
}

func TestAcceptDeviceFailureKeepsRinging(t *testing.T) {
	f := newStoreFixture(t)
	f.devices.DenyPermission = true
	env, desc := incomingOffer(uuid.New(), uuid.New())
	require.NoError(t, f.store.ReceiveOffer(env, desc, "alice"))

	_, err := f.store.AcceptCall(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodePermissionDenied))
	// Session survives so the user can retry or reject
	assert.Equal(t, domain.CallStateIncomingRinging, f.store.Current().State)
}

func TestCandidatesBufferUntilRemoteDescription(t *testing.T) {
	f := newStoreFixture(t)
	session, err := f.store.StartCall(context.Background(), uuid.New(), "alice", domain.MediaAudio)
	require.NoError(t, err)

	env := &domain.SignalingEnvelope{CallID: session.CallID, FromID: session.PeerID, Kind: domain.SignalICECandidate}
	for i := 0; i < 3; i++ {
		require.NoError(t, f.store.ApplyIceCandidate(env, domain.ICECandidate{Candidate: candidateLine(i)}))
	}

	tr, _ := f.transports.last()
	assert.Empty(t, tr.receivedCandidates())

	answerEnv := &domain.SignalingEnvelope{CallID: session.CallID, FromID: session.PeerID, Kind: domain.SignalAnswer}
	require.NoError(t, f.store.ApplyRemoteDescription(answerEnv, domain.SessionDescription{Type: "answer", SDP: "v=0\r\n"}))

	// Flushed in arrival order; later candidates apply directly
	got := tr.receivedCandidates()
	require.Len(t, got, 3)
	for i, cand := range got {
		assert.Equal(t, candidateLine(i), cand.Candidate)
	}

	require.NoError(t, f.store.ApplyIceCandidate(env, domain.ICECandidate{Candidate: candidateLine(99)}))
	assert.Len(t, tr.receivedCandidates(), 4)
}

func TestCandidateBufferDropsOldestPastCap(t *testing.T) {
	f := newStoreFixture(t)
	session, err := f.store.StartCall(context.Background(), uuid.New(), "alice", domain.MediaAudio)
	require.NoError(t, err)

	env := &domain.SignalingEnvelope{CallID: session.CallID, FromID: session.PeerID, Kind: domain.SignalICECandidate}
	total := constants.MaxBufferedCandidates + 5
	for i := 0; i < total; i++ {
		require.NoError(t, f.store.ApplyIceCandidate(env, domain.ICECandidate{Candidate: candidateLine(i)}))
	}

	answerEnv := &domain.SignalingEnvelope{CallID: session.CallID, FromID: session.PeerID, Kind: domain.SignalAnswer}
	require.NoError(t, f.store.ApplyRemoteDescription(answerEnv, domain.SessionDescription{Type: "answer", SDP: "v=0\r\n"}))

	tr, _ := f.transports.last()
	got := tr.receivedCandidates()
	require.Len(t, got, constants.MaxBufferedCandidates)
	assert.Equal(t, candidateLine(5), got[0].Candidate)
	assert.Equal(t, candidateLine(total-1), got[len(got)-1].Candidate)
}

func TestCandidateForUnknownCallDropped(t *testing.T) {
	f := newStoreFixture(t)
	env := &domain.SignalingEnvelope{CallID: uuid.New(), FromID: uuid.New(), Kind: domain.SignalICECandidate}

	err := f.store.ApplyIceCandidate(env, domain.ICECandidate{Candidate: candidateLine(0)})
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeCallNotFound))
}

func TestTogglesFlipFlagsAndTracks(t *testing.T) {
	f := newStoreFixture(t)
	connectCall(t, f)

	toggled, err := f.store.ToggleMute()
	require.NoError(t, err)
	assert.True(t, toggled.IsMuted)
	for _, track := range f.devices.Acquired[0].TracksOf(media.TrackAudio) {
		assert.False(t, track.Enabled())
	}

	toggled, err = f.store.ToggleMute()
	require.NoError(t, err)
	assert.False(t, toggled.IsMuted)

	toggled, err = f.store.ToggleVideo()
	require.NoError(t, err)
	assert.True(t, toggled.IsVideoEnabled) // audio call: flag flips, no video track exists

	toggled, err = f.store.ToggleSpeaker()
	require.NoError(t, err)
	assert.True(t, toggled.IsSpeakerOn)
}

func TestTogglesRequireEstablishedCall(t *testing.T) {
	f := newStoreFixture(t)
	env, desc := incomingOffer(uuid.New(), uuid.New())
	require.NoError(t, f.store.ReceiveOffer(env, desc, "alice"))

	_, err := f.store.ToggleMute()
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidState))
}

func TestTransportLossEndsAsConnectionLost(t *testing.T) {
	f := newStoreFixture(t)
	connectCall(t, f)

	_, events := f.transports.last()
	events.OnStateChange(TransportFailed)

	current := f.store.Current()
	assert.Equal(t, domain.CallStateEnded, current.State)
	assert.Equal(t, domain.EndReasonConnectionLost, current.EndReason)
	assert.True(t, f.devices.Acquired[0].Stopped())
	// Peer is unreachable; no hangup envelope goes out
	assert.Empty(t, f.sender.ofKind(domain.SignalHangup))
}

func TestRemoteHangupEndsWithPeerReason(t *testing.T) {
	f := newStoreFixture(t)
	session, err := f.store.StartCall(context.Background(), uuid.New(), "alice", domain.MediaAudio)
	require.NoError(t, err)

	env := &domain.SignalingEnvelope{CallID: session.CallID, FromID: session.PeerID, Kind: domain.SignalHangup}
	f.store.HandleRemoteHangup(env, domain.EndReasonBusy)

	current := f.store.Current()
	assert.Equal(t, domain.CallStateEnded, current.State)
	assert.Equal(t, domain.EndReasonBusy, current.EndReason)
	assert.Empty(t, f.sender.ofKind(domain.SignalHangup))
}

func TestEndCallIdempotent(t *testing.T) {
	f := newStoreFixture(t)
	connectCall(t, f)

	require.NoError(t, f.store.EndCall())
	endedAt := f.store.Current().EndedAt
	require.NotNil(t, endedAt)

	require.NoError(t, f.store.EndCall())
	require.NoError(t, f.store.RejectCall())
	assert.Equal(t, endedAt, f.store.Current().EndedAt)
	assert.Equal(t, 1, f.notifier.endedCount())
}

func TestCallEndedNotifiedExactlyOnce(t *testing.T) {
	f := newStoreFixture(t)
	session := connectCall(t, f)

	// Remote hangup and transport loss racing the local hangup collapse
	// into one terminal notification
	env := &domain.SignalingEnvelope{CallID: session.CallID, FromID: session.PeerID, Kind: domain.SignalHangup}
	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); _ = f.store.EndCall() }()
	go func() { defer wg.Done(); f.store.HandleRemoteHangup(env, domain.EndReasonHangup) }()
	go func() {
		defer wg.Done()
		_, events := f.transports.last()
		events.OnStateChange(TransportDisconnected)
	}()
	wg.Wait()

	assert.Equal(t, 1, f.notifier.endedCount())
	assert.Equal(t, domain.CallStateEnded, f.store.Current().State)
}

func TestFinishedCallIsRecorded(t *testing.T) {
	f := newStoreFixture(t)
	connectCall(t, f)
	require.NoError(t, f.store.EndCall())

	require.Eventually(t, func() bool { return f.recorder.count() == 1 }, time.Second, 10*time.Millisecond)
	f.recorder.mu.Lock()
	rec := f.recorder.recs[0]
	f.recorder.mu.Unlock()
	assert.Equal(t, domain.EndReasonHangup, rec.EndReason)
	assert.NotNil(t, rec.ConnectedAt)
}

func TestNewCallAllowedAfterEnded(t *testing.T) {
	f := newStoreFixture(t)
	connectCall(t, f)
	require.NoError(t, f.store.EndCall())

	session, err := f.store.StartCall(context.Background(), uuid.New(), "carol", domain.MediaAudio)
	require.NoError(t, err)
	assert.Equal(t, domain.CallStateOutgoingCalling, session.State)
}

// connectCall drives a fresh outgoing call to connected
func connectCall(t *testing.T, f *storeFixture) *domain.CallSession {
	t.Helper()
	session, err := f.store.StartCall(context.Background(), uuid.New(), "alice", domain.MediaAudio)
	require.NoError(t, err)

	env := &domain.SignalingEnvelope{CallID: session.CallID, FromID: session.PeerID, Kind: domain.SignalAnswer}
	require.NoError(t, f.store.ApplyRemoteDescription(env, domain.SessionDescription{Type: "answer", SDP: "v=0\r\n"}))

	_, events := f.transports.last()
	events.OnStateChange(TransportConnected)

	current := f.store.Current()
	require.Equal(t, domain.CallStateConnected, current.State)
	return current
}

func candidateLine(i int) string {
	return fmt.Sprintf("candidate:%d 1 udp 2130706431 192.0.2.1 3478 typ host", i)
}
