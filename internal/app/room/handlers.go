package room

import (
	"encoding/json"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/dkeye/voicemesh/internal/signaling"
	"github.com/pion/webrtc/v4"
)

const (
	joinRequestEvent  = signaling.EventJoinRequest
	offerEvent        = signaling.EventOffer
	answerEvent       = signaling.EventAnswer
	iceCandidateEvent = signaling.EventICECandidate
	leaveEvent        = signaling.EventLeave
)

func joinRequest(self domain.UserID) signaling.JoinRequest {
	return signaling.JoinRequest{Sender: self}
}

func leave(self domain.UserID) signaling.Leave {
	return signaling.Leave{Sender: self}
}

func iceCandidate(self, peer domain.UserID, c webrtc.ICECandidateInit) signaling.ICECandidate {
	return signaling.ICECandidate{Target: peer, Sender: self, Candidate: c}
}

func (s *Session) bind(ch core.Channel, gen uint64) {
	for _, ev := range signaling.MeshEvents {
		ev := ev
		ch.On(string(ev), func(raw json.RawMessage) {
			s.loop.Post(func() { s.handle(gen, ev, raw) })
		})
	}
}

func (s *Session) handle(gen uint64, ev signaling.Event, raw json.RawMessage) {
	if gen != s.gen || s.state != Active {
		return
	}
	msg, err := signaling.Decode(ev, raw)
	if err != nil {
		s.log.Warn().Err(err).Msg("bad signaling payload")
		return
	}
	if !signaling.Accept(s.cfg.Self, msg) {
		return
	}
	switch m := msg.(type) {
	case signaling.JoinRequest:
		s.onJoinRequest(m.Sender)
	case signaling.Offer:
		s.onOffer(m.Sender, m.Offer)
	case signaling.Answer:
		s.onAnswer(m.Sender, m.Answer)
	case signaling.ICECandidate:
		s.peers.ICE().EnqueueOrApply(m.Sender, m.Candidate)
	case signaling.Leave:
		s.onLeave(m.Sender)
	}
}

// onJoinRequest makes us the offering side towards a newcomer.
func (s *Session) onJoinRequest(peer domain.UserID) {
	if s.stream == nil {
		return
	}
	pc, err := s.peers.GetOrCreate(peer, s.stream)
	if err != nil {
		s.log.Error().Err(err).Str("peer", string(peer)).Msg("peer connection")
		return
	}
	offer, err := pc.CreateOffer()
	if err != nil {
		s.log.Warn().Err(err).Str("peer", string(peer)).Msg("create offer")
		return
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		s.log.Warn().Err(err).Str("peer", string(peer)).Msg("set local offer")
		return
	}
	s.send(string(offerEvent), signaling.Offer{Target: peer, Sender: s.cfg.Self, Offer: offer})
}

func (s *Session) onOffer(peer domain.UserID, offer webrtc.SessionDescription) {
	pc, err := s.peers.GetOrCreate(peer, s.stream)
	if err != nil {
		s.log.Error().Err(err).Str("peer", string(peer)).Msg("peer connection")
		return
	}
	if err := pc.SetRemoteDescription(offer); err != nil {
		s.log.Warn().Err(err).Str("peer", string(peer)).Msg("set remote offer")
		return
	}
	s.peers.ICE().Drain(peer)
	answer, err := pc.CreateAnswer()
	if err != nil {
		s.log.Warn().Err(err).Str("peer", string(peer)).Msg("create answer")
		return
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		s.log.Warn().Err(err).Str("peer", string(peer)).Msg("set local answer")
		return
	}
	s.send(string(answerEvent), signaling.Answer{Target: peer, Sender: s.cfg.Self, Answer: answer})
}

func (s *Session) onAnswer(peer domain.UserID, answer webrtc.SessionDescription) {
	pc, ok := s.peers.Get(peer)
	if !ok {
		s.log.Debug().Str("peer", string(peer)).Msg("answer without connection")
		return
	}
	if err := pc.SetRemoteDescription(answer); err != nil {
		s.log.Warn().Err(err).Str("peer", string(peer)).Msg("set remote answer")
		return
	}
	s.peers.ICE().Drain(peer)
}

func (s *Session) onLeave(peer domain.UserID) {
	s.peers.Close(peer)
	s.peers.RemoveParticipant(peer)
	s.log.Info().Str("peer", string(peer)).Msg("peer left")
}
