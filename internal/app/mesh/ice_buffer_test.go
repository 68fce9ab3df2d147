package mesh

import (
	"fmt"
	"strings"
	"testing"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/core/coretest"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cand(i int) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{Candidate: fmt.Sprintf("candidate:%d 1 udp 1 10.0.0.%d 5000 typ host", i, i)}
}

func lookupOf(conns map[domain.UserID]core.PeerConnection) func(domain.UserID) (core.PeerConnection, bool) {
	return func(id domain.UserID) (core.PeerConnection, bool) {
		pc, ok := conns[id]
		return pc, ok
	}
}

func TestBufferQueuesUntilRemoteDescription(t *testing.T) {
	pc := &coretest.PeerConnection{Remote: "bob"}
	conns := map[domain.UserID]core.PeerConnection{"bob": pc}
	buf := NewICEBuffer(lookupOf(conns), zerolog.Nop())

	const n = 5
	for i := 0; i < n; i++ {
		buf.EnqueueOrApply("bob", cand(i))
	}
	assert.Equal(t, n, buf.Pending("bob"))
	assert.Empty(t, pc.Applied())

	require.NoError(t, pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "x"}))
	assert.Equal(t, n, buf.Drain("bob"))

	applied := pc.Applied()
	require.Len(t, applied, n)
	for i, c := range applied {
		assert.Equal(t, cand(i), c, "candidate %d out of order", i)
	}
	assert.Zero(t, buf.Pending("bob"))
	assert.Zero(t, buf.Len())
}

func TestBufferQueuesWithoutConnection(t *testing.T) {
	conns := map[domain.UserID]core.PeerConnection{}
	buf := NewICEBuffer(lookupOf(conns), zerolog.Nop())

	buf.EnqueueOrApply("bob", cand(1))
	buf.EnqueueOrApply("bob", cand(2))
	assert.Equal(t, 2, buf.Pending("bob"))

	pc := &coretest.PeerConnection{Remote: "bob"}
	conns["bob"] = pc
	require.NoError(t, pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "x"}))
	buf.Drain("bob")
	assert.Equal(t, []webrtc.ICECandidateInit{cand(1), cand(2)}, pc.Applied())
}

func TestBufferAppliesDirectlyOnceDescribed(t *testing.T) {
	pc := &coretest.PeerConnection{Remote: "bob"}
	require.NoError(t, pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "x"}))
	buf := NewICEBuffer(lookupOf(map[domain.UserID]core.PeerConnection{"bob": pc}), zerolog.Nop())

	buf.EnqueueOrApply("bob", cand(7))
	assert.Equal(t, []webrtc.ICECandidateInit{cand(7)}, pc.Applied())
	assert.Zero(t, buf.Pending("bob"))
}

func TestBufferSurvivesBadCandidate(t *testing.T) {
	pc := &coretest.PeerConnection{
		Remote:          "bob",
		RejectCandidate: func(c webrtc.ICECandidateInit) bool { return strings.Contains(c.Candidate, "10.0.0.2 ") },
	}
	buf := NewICEBuffer(lookupOf(map[domain.UserID]core.PeerConnection{"bob": pc}), zerolog.Nop())
	for i := 1; i <= 3; i++ {
		buf.EnqueueOrApply("bob", cand(i))
	}
	require.NoError(t, pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "x"}))
	buf.Drain("bob")

	assert.Equal(t, []webrtc.ICECandidateInit{cand(1), cand(3)}, pc.Applied())
	assert.Zero(t, buf.Pending("bob"))
}

func TestBufferQueuesArePerPeer(t *testing.T) {
	buf := NewICEBuffer(lookupOf(map[domain.UserID]core.PeerConnection{}), zerolog.Nop())
	buf.EnqueueOrApply("bob", cand(1))
	buf.EnqueueOrApply("carol", cand(2))
	buf.EnqueueOrApply("carol", cand(3))
	assert.Equal(t, 2, buf.Len())

	buf.Clear("carol")
	assert.Equal(t, 1, buf.Pending("bob"))
	assert.Zero(t, buf.Pending("carol"))

	buf.ClearAll()
	assert.Zero(t, buf.Len())
}

func TestBufferCapsQueuePerPeer(t *testing.T) {
	buf := NewICEBuffer(lookupOf(nil), zerolog.Nop())

	for i := 0; i < MaxPendingCandidates+10; i++ {
		buf.EnqueueOrApply("ghost", cand(i))
	}
	assert.Equal(t, MaxPendingCandidates, buf.Pending("ghost"))

	buf.EnqueueOrApply("bob", cand(1))
	assert.Equal(t, 1, buf.Pending("bob"))
}
