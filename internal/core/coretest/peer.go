// Package coretest provides in-memory fakes of the core ports for tests.
package coretest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/pion/webrtc/v4"
)

var ErrClosed = errors.New("peer connection closed")

// PeerConnection records every call made through core.PeerConnection.
type PeerConnection struct {
	Remote domain.UserID

	// RejectCandidate makes AddICECandidate fail for matching candidates.
	RejectCandidate func(webrtc.ICECandidateInit) bool

	mu         sync.Mutex
	tracks     []webrtc.TrackLocal
	local      *webrtc.SessionDescription
	remote     *webrtc.SessionDescription
	applied    []webrtc.ICECandidateInit
	closed     bool
	closeCalls int
	onICE      func(webrtc.ICECandidateInit)
	onState    func(webrtc.PeerConnectionState)
	onTrack    func(core.RemoteTrack)
}

func (p *PeerConnection) AddTrack(track webrtc.TrackLocal) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.tracks = append(p.tracks, track)
	return nil
}

func (p *PeerConnection) CreateOffer() (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return webrtc.SessionDescription{}, ErrClosed
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer-to-%s", p.Remote)}, nil
}

func (p *PeerConnection) CreateAnswer() (webrtc.SessionDescription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return webrtc.SessionDescription{}, ErrClosed
	}
	if p.remote == nil {
		return webrtc.SessionDescription{}, errors.New("answer without remote offer")
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: fmt.Sprintf("answer-to-%s", p.Remote)}, nil
}

func (p *PeerConnection) SetLocalDescription(sd webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.local = &sd
	return nil
}

func (p *PeerConnection) SetRemoteDescription(sd webrtc.SessionDescription) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.remote = &sd
	return nil
}

func (p *PeerConnection) HasRemoteDescription() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remote != nil
}

func (p *PeerConnection) AddICECandidate(c webrtc.ICECandidateInit) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if p.remote == nil {
		return errors.New("candidate before remote description")
	}
	if p.RejectCandidate != nil && p.RejectCandidate(c) {
		return errors.New("malformed candidate")
	}
	p.applied = append(p.applied, c)
	return nil
}

func (p *PeerConnection) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onICE = fn
}

func (p *PeerConnection) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onState = fn
}

func (p *PeerConnection) OnTrack(fn func(core.RemoteTrack)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onTrack = fn
}

func (p *PeerConnection) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeCalls++
	p.closed = true
	return nil
}

// EmitCandidate simulates a locally gathered candidate.
func (p *PeerConnection) EmitCandidate(c webrtc.ICECandidateInit) {
	p.mu.Lock()
	fn := p.onICE
	p.mu.Unlock()
	if fn != nil {
		fn(c)
	}
}

func (p *PeerConnection) EmitState(s webrtc.PeerConnectionState) {
	p.mu.Lock()
	fn := p.onState
	p.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func (p *PeerConnection) EmitTrack(t core.RemoteTrack) {
	p.mu.Lock()
	fn := p.onTrack
	p.mu.Unlock()
	if fn != nil {
		fn(t)
	}
}

func (p *PeerConnection) Applied() []webrtc.ICECandidateInit {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), p.applied...)
}

func (p *PeerConnection) Tracks() []webrtc.TrackLocal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]webrtc.TrackLocal(nil), p.tracks...)
}

func (p *PeerConnection) LocalDescription() *webrtc.SessionDescription {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.local
}

func (p *PeerConnection) RemoteDescription() *webrtc.SessionDescription {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remote
}

func (p *PeerConnection) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Factory hands out fake connections and remembers them per remote user.
type Factory struct {
	Err error

	mu      sync.Mutex
	created map[domain.UserID][]*PeerConnection
}

func NewFactory() *Factory {
	return &Factory{created: make(map[domain.UserID][]*PeerConnection)}
}

func (f *Factory) NewPeerConnection(remote domain.UserID) (core.PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	pc := &PeerConnection{Remote: remote}
	f.created[remote] = append(f.created[remote], pc)
	return pc, nil
}

func (f *Factory) Created(remote domain.UserID) []*PeerConnection {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*PeerConnection(nil), f.created[remote]...)
}

// Last is the most recent connection built for remote, or nil.
func (f *Factory) Last(remote domain.UserID) *PeerConnection {
	all := f.Created(remote)
	if len(all) == 0 {
		return nil
	}
	return all[len(all)-1]
}

// Open counts connections that were built and not closed yet.
func (f *Factory) Open() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, list := range f.created {
		for _, pc := range list {
			if !pc.Closed() {
				n++
			}
		}
	}
	return n
}

type RemoteTrack struct {
	TrackID string
	Stream  string
	Codec   webrtc.RTPCodecType
}

func (t RemoteTrack) ID() string                { return t.TrackID }
func (t RemoteTrack) StreamID() string          { return t.Stream }
func (t RemoteTrack) Kind() webrtc.RTPCodecType { return t.Codec }
