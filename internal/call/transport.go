package call

import (
	"context"

	"callcore/internal/domain"
	"callcore/internal/media"
)

// TransportState mirrors the connection state of the underlying peer link
type TransportState string

const (
	TransportNew          TransportState = "new"
	TransportConnecting   TransportState = "connecting"
	TransportConnected    TransportState = "connected"
	TransportDisconnected TransportState = "disconnected"
	TransportFailed       TransportState = "failed"
	TransportClosed       TransportState = "closed"
)

// TransportEvents are callbacks the transport fires into the session store.
// All callbacks may be invoked from transport-owned goroutines.
type TransportEvents struct {
	// OnLocalCandidate fires for each locally gathered ICE candidate
	OnLocalCandidate func(domain.ICECandidate)
	// OnStateChange fires on every connection state transition
	OnStateChange func(TransportState)
	// OnRemoteTrack fires when a remote media track starts arriving
	OnRemoteTrack func(media.TrackKind)
}

// Transport is the peer-to-peer media link behind a call session. The
// session store drives negotiation through it and reacts to its events;
// it never touches the media path directly.
type Transport interface {
	// AttachLocalStream publishes the local capture tracks on the link.
	// Must be called before CreateOffer/CreateAnswer.
	AttachLocalStream(stream *media.Stream) error

	// CreateOffer produces and locally applies a session description offer
	CreateOffer(ctx context.Context) (domain.SessionDescription, error)

	// SetRemoteDescription applies the peer's offer or answer
	SetRemoteDescription(desc domain.SessionDescription) error

	// CreateAnswer produces and locally applies an answer. The remote
	// offer must have been applied first.
	CreateAnswer(ctx context.Context) (domain.SessionDescription, error)

	// AddICECandidate feeds one remote candidate into the link
	AddICECandidate(cand domain.ICECandidate) error

	// Close tears the link down. Idempotent.
	Close() error
}

// TransportFactory builds a fresh transport for one call attempt
type TransportFactory func(events TransportEvents) (Transport, error)
