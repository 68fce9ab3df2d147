package room

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/core/coretest"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/dkeye/voicemesh/internal/signaling"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRoom = domain.RoomID("r1")

var (
	topic = domain.VoiceTopic(testRoom)
	audio = core.MediaConstraints{Audio: true}
)

type harness struct {
	self      domain.UserID
	transport *coretest.Transport
	factory   *coretest.Factory
	media     *coretest.MediaSource
	clock     *clock.Mock
	session   *Session

	mu       sync.Mutex
	failures []error
	states   []State
}

func newHarness(t *testing.T, self domain.UserID, hub *coretest.Hub, manual bool) *harness {
	t.Helper()
	if hub == nil {
		hub = coretest.NewHub()
	}
	h := &harness{
		self:      self,
		transport: hub.Transport(manual),
		factory:   coretest.NewFactory(),
		media:     &coretest.MediaSource{},
		clock:     clock.NewMock(),
	}
	h.session = NewSession(Config{
		Self:      self,
		Transport: h.transport,
		Peers:     h.factory,
		Media:     h.media,
		Clock:     h.clock,
		Hooks: Hooks{
			OnState: func(s State) {
				h.mu.Lock()
				h.states = append(h.states, s)
				h.mu.Unlock()
			},
			OnFailure: func(err error) {
				h.mu.Lock()
				h.failures = append(h.failures, err)
				h.mu.Unlock()
			},
		},
	})
	t.Cleanup(func() { _ = h.session.Close() })
	return h
}

func (h *harness) Failures() []error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]error(nil), h.failures...)
}

func (h *harness) States() []State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]State(nil), h.states...)
}

func (h *harness) join(t *testing.T) {
	t.Helper()
	require.NoError(t, h.session.Join(context.Background(), testRoom, audio))
}

func (h *harness) channel(t *testing.T) *coretest.Channel {
	t.Helper()
	ch := h.transport.Last(topic)
	require.NotNil(t, ch)
	return ch
}

func decodeSent[T any](t *testing.T, s coretest.Sent) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(s.Payload, &v))
	return v
}

func offerFrom(sender, target domain.UserID) signaling.Offer {
	return signaling.Offer{Sender: sender, Target: target, Offer: webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "remote-offer"}}
}

func candidateFrom(sender, target domain.UserID, n string) signaling.ICECandidate {
	return signaling.ICECandidate{Sender: sender, Target: target, Candidate: webrtc.ICECandidateInit{Candidate: "candidate:" + n}}
}

func TestJoinBroadcastsJoinRequest(t *testing.T) {
	h := newHarness(t, "alice", nil, false)
	h.join(t)

	assert.Equal(t, Active, h.session.State())
	assert.Equal(t, testRoom, h.session.Room())
	reqs := h.channel(t).SentEvents("join-request")
	require.Len(t, reqs, 1)
	assert.Equal(t, domain.UserID("alice"), decodeSent[signaling.JoinRequest](t, reqs[0]).Sender)
	assert.Equal(t, []core.MediaConstraints{audio}, h.media.Asked())
}

func TestJoinStaysJoiningUntilSubscribed(t *testing.T) {
	h := newHarness(t, "alice", nil, true)
	h.join(t)
	assert.Equal(t, Joining, h.session.State())
	assert.Empty(t, h.channel(t).Sent())

	h.channel(t).SetStatus(core.StatusSubscribed, nil)
	assert.Equal(t, Active, h.session.State())
	assert.Len(t, h.channel(t).SentEvents("join-request"), 1)
}

func TestPermissionDeniedLeavesSessionIdle(t *testing.T) {
	h := newHarness(t, "alice", nil, false)
	h.media.Deny = true

	err := h.session.Join(context.Background(), testRoom, audio)
	require.ErrorIs(t, err, domain.ErrPermissionDenied)
	assert.Equal(t, Idle, h.session.State())
	assert.Empty(t, h.transport.Channels(topic))
	assert.NotContains(t, h.States(), Joining)
}

func TestJoinTwiceFails(t *testing.T) {
	h := newHarness(t, "alice", nil, false)
	h.join(t)
	err := h.session.Join(context.Background(), testRoom, audio)
	assert.ErrorIs(t, err, ErrAlreadyJoined)
	assert.Len(t, h.media.Streams(), 1)
}

func TestOwnEventsAreIgnored(t *testing.T) {
	h := newHarness(t, "alice", nil, false)
	h.join(t)
	ch := h.channel(t)

	ch.Emit("join-request", signaling.JoinRequest{Sender: "alice"})
	ch.Emit("offer", offerFrom("alice", "alice"))
	ch.Emit("leave", signaling.Leave{Sender: "alice"})

	assert.Zero(t, h.session.PeerCount())
	assert.Empty(t, h.factory.Created("alice"))
	assert.Empty(t, ch.SentEvents("offer"))
	assert.Empty(t, ch.SentEvents("answer"))
	assert.Equal(t, Active, h.session.State())
}

func TestEventsForOtherTargetsAreIgnored(t *testing.T) {
	h := newHarness(t, "carol", nil, false)
	h.join(t)
	ch := h.channel(t)

	ch.Emit("offer", offerFrom("alice", "bob"))
	ch.Emit("answer", signaling.Answer{Sender: "alice", Target: "bob", Answer: webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "x"}})
	ch.Emit("ice-candidate", candidateFrom("alice", "bob", "1"))

	assert.Zero(t, h.session.PeerCount())
	assert.Empty(t, ch.SentEvents("answer"))
	pending := 0
	require.NoError(t, h.session.loop.Do(func() { pending = h.session.peers.ICE().Len() }))
	assert.Zero(t, pending)
}

func TestExistingMemberOffersToNewcomer(t *testing.T) {
	hub := coretest.NewHub()
	a := newHarness(t, "alice", hub, false)
	b := newHarness(t, "bob", hub, false)

	a.join(t)
	b.join(t)

	require.Eventually(t, func() bool {
		pc := a.factory.Last("bob")
		return pc != nil && pc.RemoteDescription() != nil
	}, time.Second, 5*time.Millisecond)

	offers := a.channel(t).SentEvents("offer")
	require.Len(t, offers, 1)
	offer := decodeSent[signaling.Offer](t, offers[0])
	assert.Equal(t, domain.UserID("bob"), offer.Target)
	assert.Equal(t, domain.UserID("alice"), offer.Sender)

	assert.Empty(t, b.channel(t).SentEvents("offer"), "newcomer must never offer")
	answers := b.channel(t).SentEvents("answer")
	require.Len(t, answers, 1)
	assert.Equal(t, domain.UserID("alice"), decodeSent[signaling.Answer](t, answers[0]).Target)

	assert.Equal(t, webrtc.SDPTypeAnswer, a.factory.Last("bob").RemoteDescription().Type)
	bpc := b.factory.Last("alice")
	require.NotNil(t, bpc)
	assert.Equal(t, webrtc.SDPTypeOffer, bpc.RemoteDescription().Type)
	assert.Equal(t, webrtc.SDPTypeAnswer, bpc.LocalDescription().Type)
	assert.Len(t, bpc.Tracks(), 1)
	assert.Len(t, a.factory.Created("bob"), 1)
	assert.Len(t, b.factory.Created("alice"), 1)
}

func TestCandidatesBufferedUntilOffer(t *testing.T) {
	h := newHarness(t, "bob", nil, false)
	h.join(t)
	ch := h.channel(t)

	for _, n := range []string{"1", "2", "3"} {
		ch.Emit("ice-candidate", candidateFrom("alice", "bob", n))
	}
	pending := 0
	require.NoError(t, h.session.loop.Do(func() { pending = h.session.peers.ICE().Pending("alice") }))
	assert.Equal(t, 3, pending)

	ch.Emit("offer", offerFrom("alice", "bob"))
	ch.Emit("ice-candidate", candidateFrom("alice", "bob", "4"))
	require.Equal(t, 1, h.session.PeerCount())

	var got []string
	for _, c := range h.factory.Last("alice").Applied() {
		got = append(got, c.Candidate)
	}
	assert.Equal(t, []string{"candidate:1", "candidate:2", "candidate:3", "candidate:4"}, got)
	require.NoError(t, h.session.loop.Do(func() { pending = h.session.peers.ICE().Len() }))
	assert.Zero(t, pending)
}

func TestAnswerWithoutConnectionIsDiscarded(t *testing.T) {
	h := newHarness(t, "bob", nil, false)
	h.join(t)
	h.channel(t).Emit("answer", signaling.Answer{Sender: "alice", Target: "bob", Answer: webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "x"}})

	assert.Zero(t, h.session.PeerCount())
	assert.Equal(t, Active, h.session.State())
}

func TestRepeatedJoinRequestReusesConnection(t *testing.T) {
	h := newHarness(t, "alice", nil, false)
	h.join(t)
	ch := h.channel(t)

	ch.Emit("join-request", signaling.JoinRequest{Sender: "bob"})
	ch.Emit("join-request", signaling.JoinRequest{Sender: "bob"})

	assert.Equal(t, 1, h.session.PeerCount())
	assert.Len(t, h.factory.Created("bob"), 1)
	assert.Len(t, ch.SentEvents("offer"), 2)
}

func TestLocalCandidatesAreTargeted(t *testing.T) {
	h := newHarness(t, "bob", nil, false)
	h.join(t)
	ch := h.channel(t)
	ch.Emit("offer", offerFrom("alice", "bob"))
	require.Equal(t, 1, h.session.PeerCount())

	h.factory.Last("alice").EmitCandidate(webrtc.ICECandidateInit{Candidate: "candidate:local"})
	require.Eventually(t, func() bool { return len(ch.SentEvents("ice-candidate")) == 1 }, time.Second, 5*time.Millisecond)
	c := decodeSent[signaling.ICECandidate](t, ch.SentEvents("ice-candidate")[0])
	assert.Equal(t, domain.UserID("alice"), c.Target)
	assert.Equal(t, domain.UserID("bob"), c.Sender)
	assert.Equal(t, "candidate:local", c.Candidate.Candidate)
}

func TestPeerLeaveRemovesParticipant(t *testing.T) {
	h := newHarness(t, "bob", nil, false)
	h.join(t)
	ch := h.channel(t)
	ch.Emit("offer", offerFrom("alice", "bob"))
	require.Equal(t, 1, h.session.PeerCount())

	pc := h.factory.Last("alice")
	pc.EmitTrack(coretest.RemoteTrack{TrackID: "a", Stream: "s", Codec: webrtc.RTPCodecTypeAudio})
	require.Eventually(t, func() bool { return len(h.session.Participants()) == 1 }, time.Second, 5*time.Millisecond)

	ch.Emit("leave", signaling.Leave{Sender: "alice"})
	assert.Empty(t, h.session.Participants())
	assert.Zero(t, h.session.PeerCount())
	assert.True(t, pc.Closed())
}

func TestReconnectBackoffIsBounded(t *testing.T) {
	h := newHarness(t, "alice", nil, true)
	h.join(t)
	h.channel(t).SetStatus(core.StatusSubscribed, nil)
	require.Equal(t, Active, h.session.State())

	for attempt, delay := range []time.Duration{1500 * time.Millisecond, 3000 * time.Millisecond, 4500 * time.Millisecond} {
		channels := len(h.transport.Channels(topic))
		h.channel(t).SetStatus(core.StatusClosed, nil)
		require.Equal(t, Reconnecting, h.session.State())
		assert.Equal(t, attempt+1, h.session.ReconnectAttempts())

		h.clock.Add(delay - time.Millisecond)
		time.Sleep(10 * time.Millisecond)
		assert.Len(t, h.transport.Channels(topic), channels, "rejoined before %v", delay)

		h.clock.Add(time.Millisecond)
		require.Eventually(t, func() bool {
			return len(h.transport.Channels(topic)) == channels+1
		}, time.Second, 5*time.Millisecond, "no rejoin after %v", delay)
	}

	h.channel(t).SetStatus(core.StatusClosed, nil)
	assert.Equal(t, Disconnected, h.session.State())
	require.Len(t, h.Failures(), 1)
	assert.ErrorIs(t, h.Failures()[0], domain.ErrReconnectExhausted)
	assert.ErrorIs(t, h.session.Err(), domain.ErrReconnectExhausted)

	h.channel(t).SetStatus(core.StatusClosed, nil)
	h.clock.Add(time.Hour)
	time.Sleep(10 * time.Millisecond)
	assert.Len(t, h.transport.Channels(topic), 4)
	assert.Equal(t, 3, h.session.ReconnectAttempts())
	assert.Len(t, h.Failures(), 1)
}

func TestSuccessfulRejoinResetsAttempts(t *testing.T) {
	h := newHarness(t, "alice", nil, true)
	h.join(t)
	h.channel(t).SetStatus(core.StatusSubscribed, nil)

	h.channel(t).SetStatus(core.StatusClosed, nil)
	require.Equal(t, Reconnecting, h.session.State())
	h.clock.Add(1500 * time.Millisecond)
	require.Eventually(t, func() bool { return len(h.transport.Channels(topic)) == 2 }, time.Second, 5*time.Millisecond)

	h.channel(t).SetStatus(core.StatusSubscribed, nil)
	assert.Equal(t, Active, h.session.State())
	assert.Zero(t, h.session.ReconnectAttempts())
	assert.Len(t, h.channel(t).SentEvents("join-request"), 1)
	assert.Len(t, h.media.Streams(), 1, "rejoin must reuse the local stream")
}

func TestTeardownFromEveryState(t *testing.T) {
	type setup func(t *testing.T, h *harness)
	withPeers := func(t *testing.T, h *harness) {
		ch := h.channel(t)
		ch.SetStatus(core.StatusSubscribed, nil)
		ch.Emit("join-request", signaling.JoinRequest{Sender: "bob"})
		ch.Emit("offer", offerFrom("carol", "alice"))
		ch.Emit("ice-candidate", candidateFrom("dave", "alice", "1"))
		require.Equal(t, 2, h.session.PeerCount())
	}
	cases := map[string]struct {
		setup setup
		state State
	}{
		"joining": {
			setup: func(t *testing.T, h *harness) {},
			state: Joining,
		},
		"active": {
			setup: withPeers,
			state: Active,
		},
		"reconnecting": {
			setup: func(t *testing.T, h *harness) {
				withPeers(t, h)
				h.channel(t).SetStatus(core.StatusClosed, nil)
			},
			state: Reconnecting,
		},
		"disconnected": {
			setup: func(t *testing.T, h *harness) {
				withPeers(t, h)
				for i := 1; i <= 3; i++ {
					n := len(h.transport.Channels(topic))
					h.channel(t).SetStatus(core.StatusClosed, nil)
					require.Equal(t, Reconnecting, h.session.State())
					h.clock.Add(time.Duration(i) * 1500 * time.Millisecond)
					require.Eventually(t, func() bool { return len(h.transport.Channels(topic)) == n+1 }, time.Second, 5*time.Millisecond)
				}
				h.channel(t).SetStatus(core.StatusClosed, nil)
			},
			state: Disconnected,
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, "alice", nil, true)
			h.join(t)
			tc.setup(t, h)
			require.Equal(t, tc.state, h.session.State())

			require.NoError(t, h.session.Leave(context.Background()))

			assert.Equal(t, Idle, h.session.State())
			assert.Zero(t, h.factory.Open(), "open peer connections")
			assert.Zero(t, h.media.LiveTracks(), "live local tracks")
			assert.Zero(t, h.transport.Active(), "subscribed channels")
			assert.Empty(t, h.session.Participants())
			pending := 0
			require.NoError(t, h.session.loop.Do(func() { pending = h.session.peers.ICE().Len() }))
			assert.Zero(t, pending)

			channels := len(h.transport.Channels(topic))
			h.clock.Add(time.Hour)
			time.Sleep(10 * time.Millisecond)
			assert.Len(t, h.transport.Channels(topic), channels, "timer fired after leave")

			require.NoError(t, h.session.Leave(context.Background()))
			assert.Equal(t, Idle, h.session.State())
		})
	}
}

func TestLeaveAnnouncesDeparture(t *testing.T) {
	hub := coretest.NewHub()
	a := newHarness(t, "alice", hub, false)
	b := newHarness(t, "bob", hub, false)
	a.join(t)
	b.join(t)
	require.Eventually(t, func() bool { return b.session.PeerCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, b.session.Leave(context.Background()))
	leaves := b.channel(t).SentEvents("leave")
	require.Len(t, leaves, 1)
	assert.Equal(t, domain.UserID("bob"), decodeSent[signaling.Leave](t, leaves[0]).Sender)

	require.Eventually(t, func() bool { return a.session.PeerCount() == 0 }, time.Second, 5*time.Millisecond)
	assert.True(t, a.factory.Last("bob").Closed())
	assert.Equal(t, Active, a.session.State())
}

type gatedMedia struct {
	inner   *coretest.MediaSource
	started chan struct{}
	release chan struct{}
}

func (g *gatedMedia) Acquire(ctx context.Context, c core.MediaConstraints) (core.LocalStream, error) {
	close(g.started)
	<-g.release
	return g.inner.Acquire(ctx, c)
}

func TestLeaveDuringMediaAcquisition(t *testing.T) {
	transport := coretest.NewTransport(false)
	inner := &coretest.MediaSource{}
	gate := &gatedMedia{inner: inner, started: make(chan struct{}), release: make(chan struct{})}
	s := NewSession(Config{Self: "alice", Transport: transport, Peers: coretest.NewFactory(), Media: gate, Clock: clock.NewMock()})
	t.Cleanup(func() { _ = s.Close() })

	errc := make(chan error, 1)
	go func() { errc <- s.Join(context.Background(), testRoom, audio) }()
	<-gate.started

	require.NoError(t, s.Leave(context.Background()))
	close(gate.release)

	assert.ErrorIs(t, <-errc, ErrJoinAborted)
	assert.Equal(t, Idle, s.State())
	assert.Zero(t, inner.LiveTracks())
	assert.Empty(t, transport.Channels(topic))
}

func TestSetMuted(t *testing.T) {
	h := newHarness(t, "alice", nil, false)
	h.join(t)
	h.session.SetMuted(true)
	assert.True(t, h.media.Streams()[0].Muted())
}
