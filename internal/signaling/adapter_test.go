package signaling

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callcore/internal/bus"
	"callcore/internal/domain"
	"callcore/pkg/constants"
)

type dispatched struct {
	kind   domain.SignalKind
	env    domain.SignalingEnvelope
	desc   domain.SessionDescription
	cand   domain.ICECandidate
	reason domain.EndReason
	name   string
}

type fakeDispatcher struct {
	mu    sync.Mutex
	calls []dispatched
	owned map[uuid.UUID]bool
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{owned: make(map[uuid.UUID]bool)}
}

func (d *fakeDispatcher) record(c dispatched) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, c)
}

func (d *fakeDispatcher) ReceiveOffer(env *domain.SignalingEnvelope, desc domain.SessionDescription, name string) error {
	d.record(dispatched{kind: domain.SignalOffer, env: *env, desc: desc, name: name})
	d.mu.Lock()
	d.owned[env.CallID] = true
	d.mu.Unlock()
	return nil
}

func (d *fakeDispatcher) ApplyRemoteDescription(env *domain.SignalingEnvelope, desc domain.SessionDescription) error {
	d.record(dispatched{kind: domain.SignalAnswer, env: *env, desc: desc})
	return nil
}

func (d *fakeDispatcher) ApplyIceCandidate(env *domain.SignalingEnvelope, cand domain.ICECandidate) error {
	d.record(dispatched{kind: domain.SignalICECandidate, env: *env, cand: cand})
	return nil
}

func (d *fakeDispatcher) HandleRemoteHangup(env *domain.SignalingEnvelope, reason domain.EndReason) {
	d.record(dispatched{kind: domain.SignalHangup, env: *env, reason: reason})
	d.mu.Lock()
	d.owned[env.CallID] = false
	d.mu.Unlock()
}

func (d *fakeDispatcher) Owns(callID uuid.UUID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.owned[callID]
}

func (d *fakeDispatcher) dispatchedCalls() []dispatched {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]dispatched(nil), d.calls...)
}

type adapterPair struct {
	bus    *bus.MemoryBus
	caller *Adapter
	callee *Adapter
	sink   *fakeDispatcher // callee side
}

func newAdapterPair(t *testing.T) (*adapterPair, uuid.UUID, uuid.UUID) {
	t.Helper()
	b := bus.NewMemoryBus()
	callerID, calleeID := uuid.New(), uuid.New()

	sink := newFakeDispatcher()
	caller := NewAdapter(AdapterConfig{SelfID: callerID, Bus: b, Dispatcher: newFakeDispatcher()})
	callee := NewAdapter(AdapterConfig{
		SelfID:     calleeID,
		Bus:        b,
		Dispatcher: sink,
		Resolve:    func(uuid.UUID) string { return "alice" },
	})

	require.NoError(t, caller.Start(context.Background()))
	require.NoError(t, callee.Start(context.Background()))
	t.Cleanup(caller.Stop)
	t.Cleanup(callee.Stop)

	return &adapterPair{bus: b, caller: caller, callee: callee, sink: sink}, callerID, calleeID
}

func TestOfferRoundTrip(t *testing.T) {
	pair, callerID, calleeID := newAdapterPair(t)
	callID := uuid.New()
	offer := domain.SessionDescription{Type: "offer", SDP: "v=0\r\nm=audio 9\r\n"}

	require.NoError(t, pair.caller.SendOffer(context.Background(), callID, calleeID, offer))

	calls := pair.sink.dispatchedCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, domain.SignalOffer, calls[0].kind)
	assert.Equal(t, callID, calls[0].env.CallID)
	assert.Equal(t, callerID, calls[0].env.FromID)
	assert.Equal(t, offer, calls[0].desc)
	assert.Equal(t, "alice", calls[0].name)
	assert.Equal(t, uint64(1), calls[0].env.Seq)
}

func TestSequenceNumbersIncreasePerCall(t *testing.T) {
	pair, _, calleeID := newAdapterPair(t)
	callID := uuid.New()

	require.NoError(t, pair.caller.SendOffer(context.Background(), callID, calleeID, domain.SessionDescription{Type: "offer"}))
	for i := 0; i < 3; i++ {
		require.NoError(t, pair.caller.SendCandidate(context.Background(), callID, calleeID, domain.ICECandidate{Candidate: "candidate:1"}))
	}

	otherCall := uuid.New()
	require.NoError(t, pair.caller.SendOffer(context.Background(), otherCall, calleeID, domain.SessionDescription{Type: "offer"}))

	var seqs []uint64
	var otherSeq uint64
	for _, c := range pair.sink.dispatchedCalls() {
		if c.env.CallID == callID {
			seqs = append(seqs, c.env.Seq)
		} else {
			otherSeq = c.env.Seq
		}
	}
	assert.Equal(t, []uint64{1, 2, 3, 4}, seqs)
	assert.Equal(t, uint64(1), otherSeq, "counters are per call")
}

func TestDuplicateEnvelopesIgnored(t *testing.T) {
	pair, callerID, calleeID := newAdapterPair(t)
	callID := uuid.New()

	body, err := json.Marshal(domain.SessionDescription{Type: "offer", SDP: "v=0\r\n"})
	require.NoError(t, err)
	env := domain.SignalingEnvelope{
		CallID:  callID,
		FromID:  callerID,
		ToID:    calleeID,
		Kind:    domain.SignalOffer,
		Seq:     1,
		Payload: body,
	}
	raw, err := json.Marshal(env)
	require.NoError(t, err)

	// At-least-once delivery: the same envelope lands three times
	for i := 0; i < 3; i++ {
		require.NoError(t, pair.bus.Publish(context.Background(), calleeID, raw))
	}

	assert.Len(t, pair.sink.dispatchedCalls(), 1)
}

func TestDedupeWindowIsBounded(t *testing.T) {
	pair, callerID, calleeID := newAdapterPair(t)
	callID := uuid.New()

	publish := func(seq uint64) {
		env := domain.SignalingEnvelope{
			CallID:  callID,
			FromID:  callerID,
			ToID:    calleeID,
			Kind:    domain.SignalICECandidate,
			Seq:     seq,
			Payload: []byte(`{"candidate":"candidate:1"}`),
		}
		raw, err := json.Marshal(env)
		require.NoError(t, err)
		require.NoError(t, pair.bus.Publish(context.Background(), calleeID, raw))
	}

	// Mark the call as live so candidates dispatch
	pair.sink.owned[callID] = true

	publish(1)
	for seq := uint64(2); seq <= uint64(constants.DedupeWindow)+2; seq++ {
		publish(seq)
	}
	// Seq 1 has been evicted from the window and dispatches again
	publish(1)

	calls := pair.sink.dispatchedCalls()
	assert.Len(t, calls, constants.DedupeWindow+3)
}

func TestEnvelopesForUnknownCallsDropped(t *testing.T) {
	pair, callerID, calleeID := newAdapterPair(t)

	for _, kind := range []domain.SignalKind{domain.SignalAnswer, domain.SignalICECandidate, domain.SignalHangup} {
		env := domain.SignalingEnvelope{
			CallID:  uuid.New(),
			FromID:  callerID,
			ToID:    calleeID,
			Kind:    kind,
			Seq:     1,
			Payload: []byte(`{}`),
		}
		raw, err := json.Marshal(env)
		require.NoError(t, err)
		require.NoError(t, pair.bus.Publish(context.Background(), calleeID, raw))
	}

	assert.Empty(t, pair.sink.dispatchedCalls())
}

func TestUndecodablePayloadDropped(t *testing.T) {
	pair, _, calleeID := newAdapterPair(t)

	require.NoError(t, pair.bus.Publish(context.Background(), calleeID, []byte("not json")))
	assert.Empty(t, pair.sink.dispatchedCalls())
}

func TestHangupCarriesReason(t *testing.T) {
	pair, _, calleeID := newAdapterPair(t)
	callID := uuid.New()

	// Offer first so the callee owns the call
	require.NoError(t, pair.caller.SendOffer(context.Background(), callID, calleeID, domain.SessionDescription{Type: "offer"}))
	require.NoError(t, pair.caller.SendHangup(context.Background(), callID, calleeID, domain.EndReasonRejected))

	calls := pair.sink.dispatchedCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, domain.SignalHangup, calls[1].kind)
	assert.Equal(t, domain.EndReasonRejected, calls[1].reason)
}

func TestHangupRetiresSequenceCounter(t *testing.T) {
	pair, _, calleeID := newAdapterPair(t)
	callID := uuid.New()

	require.NoError(t, pair.caller.SendOffer(context.Background(), callID, calleeID, domain.SessionDescription{Type: "offer"}))
	require.NoError(t, pair.caller.SendHangup(context.Background(), callID, calleeID, domain.EndReasonHangup))

	pair.caller.mu.Lock()
	_, ok := pair.caller.seq[callID]
	pair.caller.mu.Unlock()
	assert.False(t, ok)
}

func TestStopDetachesFromBus(t *testing.T) {
	pair, _, calleeID := newAdapterPair(t)
	callID := uuid.New()

	pair.callee.Stop()
	require.NoError(t, pair.caller.SendOffer(context.Background(), callID, calleeID, domain.SessionDescription{Type: "offer"}))
	assert.Empty(t, pair.sink.dispatchedCalls())
}
