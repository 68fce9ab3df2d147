package mesh

import (
	"errors"
	"testing"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/core/coretest"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentCandidate struct {
	peer domain.UserID
	cand webrtc.ICECandidateInit
}

func newTestRegistry(t *testing.T) (*Registry, *coretest.Factory, *[]sentCandidate, *int) {
	t.Helper()
	factory := coretest.NewFactory()
	var sent []sentCandidate
	changes := 0
	reg := NewRegistry(factory, Hooks{
		SendCandidate: func(peer domain.UserID, c webrtc.ICECandidateInit) {
			sent = append(sent, sentCandidate{peer, c})
		},
		ParticipantsChanged: func() { changes++ },
	}, zerolog.Nop())
	return reg, factory, &sent, &changes
}

func localStream(t *testing.T) core.LocalStream {
	t.Helper()
	s, err := coretest.NewStream(core.MediaConstraints{Audio: true, Video: true})
	require.NoError(t, err)
	return s
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	reg, factory, _, _ := newTestRegistry(t)
	stream := localStream(t)

	first, err := reg.GetOrCreate("bob", stream)
	require.NoError(t, err)
	second, err := reg.GetOrCreate("bob", stream)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Len(t, factory.Created("bob"), 1)
	assert.Equal(t, 1, reg.Len())
	assert.Len(t, factory.Last("bob").Tracks(), 2)
}

func TestGetOrCreateFactoryError(t *testing.T) {
	reg, factory, _, _ := newTestRegistry(t)
	factory.Err = errors.New("no api")

	_, err := reg.GetOrCreate("bob", nil)
	require.Error(t, err)
	assert.Zero(t, reg.Len())
}

func TestLocalCandidateIsTargeted(t *testing.T) {
	reg, factory, sent, _ := newTestRegistry(t)
	_, err := reg.GetOrCreate("bob", nil)
	require.NoError(t, err)

	factory.Last("bob").EmitCandidate(cand(1))
	require.Len(t, *sent, 1)
	assert.Equal(t, domain.UserID("bob"), (*sent)[0].peer)
	assert.Equal(t, cand(1), (*sent)[0].cand)
}

func TestCallbacksFromClosedConnectionAreIgnored(t *testing.T) {
	reg, factory, sent, _ := newTestRegistry(t)
	_, err := reg.GetOrCreate("bob", nil)
	require.NoError(t, err)
	old := factory.Last("bob")
	reg.Close("bob")

	old.EmitCandidate(cand(1))
	old.EmitTrack(coretest.RemoteTrack{TrackID: "a", Stream: "s", Codec: webrtc.RTPCodecTypeAudio})
	assert.Empty(t, *sent)
	assert.Empty(t, reg.Participants())
}

func TestRemoteTracksGroupIntoStream(t *testing.T) {
	reg, factory, _, changes := newTestRegistry(t)
	_, err := reg.GetOrCreate("bob", nil)
	require.NoError(t, err)
	pc := factory.Last("bob")

	pc.EmitTrack(coretest.RemoteTrack{TrackID: "a1", Stream: "s1", Codec: webrtc.RTPCodecTypeAudio})
	pc.EmitTrack(coretest.RemoteTrack{TrackID: "v1", Stream: "s1", Codec: webrtc.RTPCodecTypeVideo})
	pc.EmitTrack(coretest.RemoteTrack{TrackID: "v1", Stream: "s1", Codec: webrtc.RTPCodecTypeVideo})

	parts := reg.Participants()
	require.Len(t, parts, 1)
	assert.Equal(t, domain.UserID("bob"), parts[0].UserID)
	require.NotNil(t, parts[0].Stream)
	assert.Equal(t, "s1", parts[0].Stream.ID)
	assert.Len(t, parts[0].Stream.Tracks, 2)
	assert.True(t, parts[0].Stream.HasKind("video"))
	assert.Equal(t, 2, *changes)

	pc.EmitTrack(coretest.RemoteTrack{TrackID: "a2", Stream: "s2", Codec: webrtc.RTPCodecTypeAudio})
	parts = reg.Participants()
	assert.Equal(t, "s1", parts[0].Stream.ID)
	require.Len(t, parts[0].Stream.Tracks, 3)
	assert.Equal(t, []string{"a1", "v1", "a2"}, trackIDs(parts[0].Stream))
	assert.Equal(t, 3, *changes)
}

func trackIDs(s *domain.RemoteStream) []string {
	ids := make([]string, 0, len(s.Tracks))
	for _, t := range s.Tracks {
		ids = append(ids, t.ID)
	}
	return ids
}

func TestDegradedConnectionStaysRegistered(t *testing.T) {
	reg, factory, _, _ := newTestRegistry(t)
	_, err := reg.GetOrCreate("bob", nil)
	require.NoError(t, err)

	factory.Last("bob").EmitState(webrtc.PeerConnectionStateFailed)
	factory.Last("bob").EmitState(webrtc.PeerConnectionStateDisconnected)

	// Only an explicit leave prunes a peer; the state observer just logs.
	_, ok := reg.Get("bob")
	assert.True(t, ok)
	assert.False(t, factory.Last("bob").Closed())
}

func TestCloseUnknownPeerIsNoop(t *testing.T) {
	reg, _, _, _ := newTestRegistry(t)
	assert.NotPanics(t, func() { reg.Close("ghost") })
	assert.Zero(t, reg.Len())
}

func TestCloseDropsQueueOfPeerWithoutConnection(t *testing.T) {
	reg, factory, _, _ := newTestRegistry(t)
	reg.ICE().EnqueueOrApply("ghost", cand(1))
	reg.ICE().EnqueueOrApply("ghost", cand(2))
	require.Equal(t, 2, reg.ICE().Pending("ghost"))

	reg.Close("ghost")
	assert.Zero(t, reg.ICE().Pending("ghost"))
	assert.Zero(t, reg.ICE().Len())
	assert.Zero(t, factory.Open())
}

func TestCloseDropsQueueAndConnection(t *testing.T) {
	reg, factory, _, _ := newTestRegistry(t)
	_, err := reg.GetOrCreate("bob", nil)
	require.NoError(t, err)
	reg.ICE().EnqueueOrApply("bob", cand(1))

	reg.Close("bob")
	assert.True(t, factory.Last("bob").Closed())
	assert.Zero(t, reg.ICE().Pending("bob"))
	_, ok := reg.Get("bob")
	assert.False(t, ok)
}

func TestCloseAll(t *testing.T) {
	reg, factory, _, _ := newTestRegistry(t)
	for _, id := range []domain.UserID{"bob", "carol", "dave"} {
		_, err := reg.GetOrCreate(id, nil)
		require.NoError(t, err)
	}
	reg.ICE().EnqueueOrApply("erin", cand(1))
	factory.Last("bob").EmitTrack(coretest.RemoteTrack{TrackID: "a", Stream: "s", Codec: webrtc.RTPCodecTypeAudio})

	reg.CloseAll()
	reg.ClearParticipants()
	assert.Zero(t, reg.Len())
	assert.Zero(t, factory.Open())
	assert.Zero(t, reg.ICE().Len())
	assert.Empty(t, reg.Participants())
}
