package core

import (
	"context"

	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/pion/webrtc/v4"
)

// RemoteTrack is satisfied by *webrtc.TrackRemote.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
}

// PeerConnection is the per-remote-user media connection.
type PeerConnection interface {
	AddTrack(track webrtc.TrackLocal) error
	// CreateOffer and CreateAnswer only build descriptions; callers set them.
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	HasRemoteDescription() bool
	AddICECandidate(webrtc.ICECandidateInit) error

	OnICECandidate(func(webrtc.ICECandidateInit))
	OnConnectionStateChange(func(webrtc.PeerConnectionState))
	OnTrack(func(RemoteTrack))

	Close() error
}

type PeerConnectionFactory interface {
	NewPeerConnection(remote domain.UserID) (PeerConnection, error)
}

type MediaConstraints struct {
	Audio bool
	Video bool
}

// LocalStream is the set of locally captured tracks shared by all peers.
type LocalStream interface {
	Tracks() []webrtc.TrackLocal
	SetMuted(muted bool)
	// Stop ends capture on every track. Safe to call more than once.
	Stop()
	LiveTracks() int
}

type MediaSource interface {
	// Acquire fails with domain.ErrPermissionDenied when capture is refused.
	Acquire(ctx context.Context, c MediaConstraints) (LocalStream, error)
}
