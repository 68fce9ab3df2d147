package mesh

import (
	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// MaxPendingCandidates bounds the queue of a single peer. Candidates past it
// are dropped.
const MaxPendingCandidates = 64

// ICEBuffer holds remote candidates that arrive before the remote
// description of their connection. Owned by a single session goroutine.
type ICEBuffer struct {
	lookup func(peer domain.UserID) (core.PeerConnection, bool)
	queues map[domain.UserID][]webrtc.ICECandidateInit
	log    zerolog.Logger
}

func NewICEBuffer(lookup func(domain.UserID) (core.PeerConnection, bool), logger zerolog.Logger) *ICEBuffer {
	return &ICEBuffer{
		lookup: lookup,
		queues: make(map[domain.UserID][]webrtc.ICECandidateInit),
		log:    logger,
	}
}

// EnqueueOrApply applies cand right away when the connection to peer has a
// remote description, otherwise queues it. Apply errors are only logged.
func (b *ICEBuffer) EnqueueOrApply(peer domain.UserID, cand webrtc.ICECandidateInit) {
	pc, ok := b.lookup(peer)
	if ok && pc.HasRemoteDescription() {
		b.apply(peer, pc, cand)
		return
	}
	if len(b.queues[peer]) >= MaxPendingCandidates {
		b.log.Warn().Str("peer", string(peer)).Int("pending", len(b.queues[peer])).Msg("candidate queue full, dropped")
		return
	}
	b.queues[peer] = append(b.queues[peer], cand)
	b.log.Debug().Str("peer", string(peer)).Int("pending", len(b.queues[peer])).Msg("candidate queued")
}

// Drain applies every queued candidate for peer in arrival order and empties
// the queue. Call once after each remote description is set.
func (b *ICEBuffer) Drain(peer domain.UserID) int {
	queued := b.queues[peer]
	delete(b.queues, peer)
	if len(queued) == 0 {
		return 0
	}
	pc, ok := b.lookup(peer)
	if !ok {
		b.log.Warn().Str("peer", string(peer)).Int("dropped", len(queued)).Msg("drain without connection")
		return 0
	}
	for _, cand := range queued {
		b.apply(peer, pc, cand)
	}
	b.log.Debug().Str("peer", string(peer)).Int("applied", len(queued)).Msg("candidates drained")
	return len(queued)
}

func (b *ICEBuffer) Clear(peer domain.UserID) {
	delete(b.queues, peer)
}

func (b *ICEBuffer) ClearAll() {
	clear(b.queues)
}

func (b *ICEBuffer) Pending(peer domain.UserID) int {
	return len(b.queues[peer])
}

// Len is the number of peers with a non-empty queue.
func (b *ICEBuffer) Len() int {
	return len(b.queues)
}

func (b *ICEBuffer) apply(peer domain.UserID, pc core.PeerConnection, cand webrtc.ICECandidateInit) {
	if err := pc.AddICECandidate(cand); err != nil {
		b.log.Warn().Err(err).Str("peer", string(peer)).Str("candidate", cand.Candidate).Msg("add ice candidate")
	}
}
