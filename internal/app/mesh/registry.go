package mesh

import (
	"fmt"
	"sort"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// Hooks connect the registry to its owning session.
type Hooks struct {
	// Dispatch runs fn on the owner's goroutine. Connection callbacks are
	// always routed through it.
	Dispatch func(fn func())
	// SendCandidate publishes a local candidate targeted at peer.
	SendCandidate func(peer domain.UserID, cand webrtc.ICECandidateInit)
	// ParticipantsChanged is called after every participant upsert or removal.
	ParticipantsChanged func()
}

// Registry keeps one peer connection per remote user plus what we know of
// their inbound media. Not safe for concurrent use.
type Registry struct {
	factory core.PeerConnectionFactory
	hooks   Hooks
	log     zerolog.Logger

	conns        map[domain.UserID]core.PeerConnection
	participants map[domain.UserID]*domain.Participant
	ice          *ICEBuffer
}

func NewRegistry(factory core.PeerConnectionFactory, hooks Hooks, logger zerolog.Logger) *Registry {
	if hooks.Dispatch == nil {
		hooks.Dispatch = func(fn func()) { fn() }
	}
	r := &Registry{
		factory:      factory,
		hooks:        hooks,
		log:          logger,
		conns:        make(map[domain.UserID]core.PeerConnection),
		participants: make(map[domain.UserID]*domain.Participant),
	}
	r.ice = NewICEBuffer(r.Get, logger)
	return r
}

func (r *Registry) ICE() *ICEBuffer { return r.ice }

func (r *Registry) Get(peer domain.UserID) (core.PeerConnection, bool) {
	pc, ok := r.conns[peer]
	return pc, ok
}

// GetOrCreate returns the connection to peer, building it on first use with
// every track of stream attached.
func (r *Registry) GetOrCreate(peer domain.UserID, stream core.LocalStream) (core.PeerConnection, error) {
	if pc, ok := r.conns[peer]; ok {
		return pc, nil
	}
	pc, err := r.factory.NewPeerConnection(peer)
	if err != nil {
		return nil, fmt.Errorf("new peer connection %s: %w", peer, err)
	}
	if stream != nil {
		for _, track := range stream.Tracks() {
			if err := pc.AddTrack(track); err != nil {
				_ = pc.Close()
				return nil, fmt.Errorf("add track %s to %s: %w", track.ID(), peer, err)
			}
		}
	}
	r.observe(peer, pc)
	r.conns[peer] = pc
	r.log.Info().Str("peer", string(peer)).Int("conns", len(r.conns)).Msg("peer connection created")
	return pc, nil
}

func (r *Registry) observe(peer domain.UserID, pc core.PeerConnection) {
	pc.OnICECandidate(func(cand webrtc.ICECandidateInit) {
		r.hooks.Dispatch(func() {
			if !r.current(peer, pc) || r.hooks.SendCandidate == nil {
				return
			}
			r.hooks.SendCandidate(peer, cand)
		})
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateDisconnected:
			// Left in place: the room relies on an explicit leave to prune it.
			r.log.Warn().Str("peer", string(peer)).Str("state", state.String()).Msg("peer connection degraded")
		default:
			r.log.Debug().Str("peer", string(peer)).Str("state", state.String()).Msg("peer connection state")
		}
	})
	pc.OnTrack(func(track core.RemoteTrack) {
		info := domain.RemoteTrack{ID: track.ID(), Kind: track.Kind().String()}
		streamID := track.StreamID()
		r.hooks.Dispatch(func() {
			if !r.current(peer, pc) {
				return
			}
			r.upsertTrack(peer, streamID, info)
		})
	})
}

func (r *Registry) current(peer domain.UserID, pc core.PeerConnection) bool {
	cur, ok := r.conns[peer]
	return ok && cur == pc
}

// upsertTrack adds track to the participant's stream. The stream keeps the id
// of the first track seen, whatever stream the later tracks name.
func (r *Registry) upsertTrack(peer domain.UserID, streamID string, track domain.RemoteTrack) {
	p, ok := r.participants[peer]
	if !ok {
		p = &domain.Participant{UserID: peer}
		r.participants[peer] = p
	}
	if p.Stream == nil {
		p.Stream = &domain.RemoteStream{ID: streamID}
	}
	for _, t := range p.Stream.Tracks {
		if t.ID == track.ID {
			return
		}
	}
	p.Stream.Tracks = append(p.Stream.Tracks, track)
	r.log.Info().Str("peer", string(peer)).Str("stream", streamID).Str("track", track.ID).Str("kind", track.Kind).Msg("remote track")
	r.changed()
}

// Close drops the connection and pending candidates of peer. Unknown peers
// are ignored.
func (r *Registry) Close(peer domain.UserID) {
	r.ice.Clear(peer)
	pc, ok := r.conns[peer]
	if !ok {
		return
	}
	delete(r.conns, peer)
	if err := pc.Close(); err != nil {
		r.log.Warn().Err(err).Str("peer", string(peer)).Msg("close peer connection")
	}
	r.log.Info().Str("peer", string(peer)).Msg("peer connection closed")
}

func (r *Registry) CloseAll() {
	for peer := range r.conns {
		r.Close(peer)
	}
	r.ice.ClearAll()
}

func (r *Registry) Len() int { return len(r.conns) }

func (r *Registry) RemoveParticipant(peer domain.UserID) {
	if _, ok := r.participants[peer]; !ok {
		return
	}
	delete(r.participants, peer)
	r.changed()
}

func (r *Registry) ClearParticipants() {
	if len(r.participants) == 0 {
		return
	}
	clear(r.participants)
	r.changed()
}

// Participants returns a copy ordered by user id.
func (r *Registry) Participants() []domain.Participant {
	out := make([]domain.Participant, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (r *Registry) changed() {
	if r.hooks.ParticipantsChanged != nil {
		r.hooks.ParticipantsChanged()
	}
}
