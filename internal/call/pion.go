package call

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"

	"callcore/internal/domain"
	"callcore/internal/media"
	"callcore/pkg/errors"
)

// PionTransport implements Transport on a Pion WebRTC PeerConnection.
type PionTransport struct {
	pc     *webrtc.PeerConnection
	events TransportEvents

	mu     sync.Mutex
	closed bool
}

// NewPionTransportFactory returns a TransportFactory dialing through the
// given STUN/TURN servers.
func NewPionTransportFactory(iceServers []string) TransportFactory {
	return func(events TransportEvents) (Transport, error) {
		return NewPionTransport(iceServers, events)
	}
}

// NewPionTransport creates a PeerConnection wired to the given events
func NewPionTransport(iceServers []string, events TransportEvents) (*PionTransport, error) {
	cfg := webrtc.Configuration{}
	if len(iceServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
	}

	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInternal, "create peer connection", err)
	}

	t := &PionTransport{pc: pc, events: events}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil || t.events.OnLocalCandidate == nil {
			return
		}
		init := c.ToJSON()
		t.events.OnLocalCandidate(domain.ICECandidate{
			Candidate:     init.Candidate,
			SDPMid:        init.SDPMid,
			SDPMLineIndex: init.SDPMLineIndex,
		})
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if t.events.OnStateChange == nil {
			return
		}
		t.events.OnStateChange(mapPeerState(state))
	})

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if t.events.OnRemoteTrack == nil {
			return
		}
		kind := media.TrackAudio
		if remote.Kind() == webrtc.RTPCodecTypeVideo {
			kind = media.TrackVideo
		}
		t.events.OnRemoteTrack(kind)
	})

	return t, nil
}

func mapPeerState(state webrtc.PeerConnectionState) TransportState {
	switch state {
	case webrtc.PeerConnectionStateNew:
		return TransportNew
	case webrtc.PeerConnectionStateConnecting:
		return TransportConnecting
	case webrtc.PeerConnectionStateConnected:
		return TransportConnected
	case webrtc.PeerConnectionStateDisconnected:
		return TransportDisconnected
	case webrtc.PeerConnectionStateFailed:
		return TransportFailed
	default:
		return TransportClosed
	}
}

// AttachLocalStream publishes local capture tracks on the connection
func (t *PionTransport) AttachLocalStream(stream *media.Stream) error {
	for _, track := range stream.Tracks() {
		var capability webrtc.RTPCodecCapability
		var id string
		if track.Kind() == media.TrackVideo {
			capability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}
			id = "video"
		} else {
			capability = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}
			id = "audio"
		}

		local, err := webrtc.NewTrackLocalStaticSample(capability, id, "callcore")
		if err != nil {
			return errors.Wrap(errors.ErrCodeInternal, "create local track", err)
		}
		if _, err := t.pc.AddTrack(local); err != nil {
			return errors.Wrap(errors.ErrCodeInternal, "add local track", err)
		}
	}
	return nil
}

// CreateOffer produces and locally applies an SDP offer
func (t *PionTransport) CreateOffer(_ context.Context) (domain.SessionDescription, error) {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return domain.SessionDescription{}, errors.Wrap(errors.ErrCodeInternal, "create offer", err)
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return domain.SessionDescription{}, errors.Wrap(errors.ErrCodeInternal, "apply local offer", err)
	}
	return domain.SessionDescription{Type: offer.Type.String(), SDP: offer.SDP}, nil
}

// SetRemoteDescription applies the peer's offer or answer
func (t *PionTransport) SetRemoteDescription(desc domain.SessionDescription) error {
	sd := webrtc.SessionDescription{
		Type: webrtc.NewSDPType(desc.Type),
		SDP:  desc.SDP,
	}
	if err := t.pc.SetRemoteDescription(sd); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, "apply remote description", err)
	}
	return nil
}

// CreateAnswer produces and locally applies an SDP answer
func (t *PionTransport) CreateAnswer(_ context.Context) (domain.SessionDescription, error) {
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SessionDescription{}, errors.Wrap(errors.ErrCodeInternal, "create answer", err)
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return domain.SessionDescription{}, errors.Wrap(errors.ErrCodeInternal, "apply local answer", err)
	}
	return domain.SessionDescription{Type: answer.Type.String(), SDP: answer.SDP}, nil
}

// AddICECandidate feeds one remote candidate into the connection
func (t *PionTransport) AddICECandidate(cand domain.ICECandidate) error {
	init := webrtc.ICECandidateInit{
		Candidate:     cand.Candidate,
		SDPMid:        cand.SDPMid,
		SDPMLineIndex: cand.SDPMLineIndex,
	}
	if err := t.pc.AddICECandidate(init); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, "add ice candidate", err)
	}
	return nil
}

// Close tears down the connection. Idempotent.
func (t *PionTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	return t.pc.Close()
}
