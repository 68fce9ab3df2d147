package orch

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/voicemesh/internal/app/call"
	"github.com/dkeye/voicemesh/internal/app/room"
	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/core/coretest"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type client struct {
	transport *coretest.Transport
	factory   *coretest.Factory
	media     *coretest.MediaSource
	orch      *Orchestrator
}

func newClient(t *testing.T, self domain.UserID, hub *coretest.Hub) *client {
	t.Helper()
	c := &client{
		transport: hub.Transport(false),
		factory:   coretest.NewFactory(),
		media:     &coretest.MediaSource{},
	}
	clk := clock.NewMock()
	rs := room.NewSession(room.Config{Self: self, Transport: c.transport, Peers: c.factory, Media: c.media, Clock: clk})
	c.orch = New(c.media, rs)
	c.orch.Calls = call.NewSession(call.Config{
		Self:      self,
		Transport: c.transport,
		Ringer:    &coretest.Ringer{},
		CallLog:   &coretest.CallLog{},
		Clock:     clk,
		OnChange:  c.orch.OnCallChange,
	})
	require.NoError(t, c.orch.Calls.Start())
	t.Cleanup(func() { _ = c.orch.Close(context.Background()) })
	return c
}

func TestConnectedCallJoinsMediaRoom(t *testing.T) {
	hub := coretest.NewHub()
	alice := newClient(t, "alice", hub)
	bob := newClient(t, "bob", hub)
	ctx := context.Background()

	out, err := alice.orch.PlaceCall(ctx, "c1", "bob", domain.CallVideo)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return bob.orch.Calls.State() == domain.CallIncoming }, time.Second, 5*time.Millisecond)
	assert.Equal(t, room.Idle, alice.orch.Room.State(), "no media room before the call connects")

	_, err = bob.orch.AnswerCall(ctx)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return alice.orch.Room.PeerCount() == 1 && bob.orch.Room.PeerCount() == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, out.RoomID, alice.orch.Room.Room())
	assert.Equal(t, out.RoomID, bob.orch.Room.Room())
	assert.Equal(t, []core.MediaConstraints{{Audio: true, Video: true}}, alice.media.Asked())
	assert.Equal(t, []core.MediaConstraints{{Audio: true, Video: true}}, bob.media.Asked())
	assert.Len(t, alice.factory.Last("bob").Tracks(), 2)

	require.NoError(t, alice.orch.Hangup(ctx))
	alice.orch.Sync()
	assert.Equal(t, room.Idle, alice.orch.Room.State())
	assert.Zero(t, alice.media.LiveTracks())
	assert.Zero(t, alice.factory.Open())

	require.Eventually(t, func() bool {
		bob.orch.Sync()
		return bob.orch.Calls.State() == domain.CallIdle && bob.orch.Room.State() == room.Idle
	}, time.Second, 5*time.Millisecond)
	assert.Zero(t, bob.media.LiveTracks())
	assert.Zero(t, bob.factory.Open())
}

func TestDeniedMediaNeverRings(t *testing.T) {
	hub := coretest.NewHub()
	alice := newClient(t, "alice", hub)
	bob := newClient(t, "bob", hub)
	alice.media.Deny = true

	_, err := alice.orch.PlaceCall(context.Background(), "c1", "bob", domain.CallAudio)
	require.ErrorIs(t, err, domain.ErrPermissionDenied)
	assert.Equal(t, domain.CallIdle, alice.orch.Calls.State())
	assert.Equal(t, domain.CallIdle, bob.orch.Calls.State())
	assert.Empty(t, alice.transport.Channels(domain.InboxTopic("bob")))
}

func TestDeclinedCallReleasesMedia(t *testing.T) {
	hub := coretest.NewHub()
	alice := newClient(t, "alice", hub)
	bob := newClient(t, "bob", hub)
	ctx := context.Background()

	_, err := alice.orch.PlaceCall(ctx, "c1", "bob", domain.CallAudio)
	require.NoError(t, err)
	require.Equal(t, 1, alice.media.LiveTracks())
	require.Eventually(t, func() bool { return bob.orch.Calls.State() == domain.CallIncoming }, time.Second, 5*time.Millisecond)

	require.NoError(t, bob.orch.Calls.DeclineCall(ctx))
	require.Eventually(t, func() bool {
		alice.orch.Sync()
		return alice.media.LiveTracks() == 0
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, room.Idle, alice.orch.Room.State())
}

func TestVoiceRoomIsAudioOnly(t *testing.T) {
	c := newClient(t, "alice", coretest.NewHub())
	require.NoError(t, c.orch.JoinRoom(context.Background(), "lobby"))
	assert.Equal(t, room.Active, c.orch.Room.State())
	assert.Equal(t, []core.MediaConstraints{{Audio: true}}, c.media.Asked())

	require.NoError(t, c.orch.LeaveRoom(context.Background()))
	assert.Zero(t, c.media.LiveTracks())
}
