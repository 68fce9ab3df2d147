// Package room implements a full-mesh voice room on top of a broadcast
// channel: every member keeps one peer connection to every other member.
package room

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/voicemesh/internal/app/loop"
	"github.com/dkeye/voicemesh/internal/app/mesh"
	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultMaxReconnects = 3
	DefaultBackoffBase   = 1500 * time.Millisecond
)

var (
	ErrAlreadyJoined = errors.New("room session already joined")
	ErrJoinAborted   = errors.New("join aborted by leave")
)

// Hooks are invoked on the session goroutine. They must not call back into
// blocking Session methods.
type Hooks struct {
	OnState        func(State)
	OnParticipants func([]domain.Participant)
	OnFailure      func(error)
}

type Config struct {
	Self      domain.UserID
	Transport core.Transport
	Peers     core.PeerConnectionFactory
	Media     core.MediaSource
	Clock     clock.Clock

	MaxReconnects int
	BackoffBase   time.Duration

	Hooks Hooks
}

// Session is one local user's membership in one room at a time. All fields
// below loop are owned by the loop goroutine.
type Session struct {
	cfg  Config
	loop *loop.Loop
	base zerolog.Logger

	log      zerolog.Logger
	state    State
	room     domain.RoomID
	stream   core.LocalStream
	channel  core.Channel
	gen      uint64
	pending  uint64
	attempts int
	timer    *clock.Timer
	peers    *mesh.Registry
	err      error
}

func NewSession(cfg Config) *Session {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.MaxReconnects <= 0 {
		cfg.MaxReconnects = DefaultMaxReconnects
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}
	base := log.With().Str("module", "room").Str("user", string(cfg.Self)).Logger()
	s := &Session{
		cfg:  cfg,
		loop: loop.New("room:" + string(cfg.Self)),
		base: base,
		log:  base,
	}
	s.peers = mesh.NewRegistry(cfg.Peers, mesh.Hooks{
		Dispatch:            func(fn func()) { s.loop.Post(fn) },
		SendCandidate:       s.sendCandidate,
		ParticipantsChanged: s.participantsChanged,
	}, base.With().Str("component", "mesh").Logger())
	return s
}

// Join acquires local media and subscribes to the room topic. A media
// error leaves the session idle and is returned as is.
func (s *Session) Join(ctx context.Context, room domain.RoomID, c core.MediaConstraints) error {
	return s.join(room, func() (core.LocalStream, error) {
		return s.cfg.Media.Acquire(ctx, c)
	})
}

// JoinWithStream joins with media the caller already acquired. The session
// owns stream from here on and stops it on leave or on error.
func (s *Session) JoinWithStream(ctx context.Context, room domain.RoomID, stream core.LocalStream) error {
	err := s.join(room, func() (core.LocalStream, error) {
		return stream, ctx.Err()
	})
	if err != nil {
		stream.Stop()
	}
	return err
}

func (s *Session) join(room domain.RoomID, acquire func() (core.LocalStream, error)) error {
	var (
		token uint64
		err   error
	)
	if derr := s.loop.Do(func() {
		if s.state != Idle || s.pending != 0 {
			err = ErrAlreadyJoined
			return
		}
		s.gen++
		s.pending = s.gen
		token = s.pending
	}); derr != nil {
		return domain.ErrSessionClosed
	}
	if err != nil {
		return err
	}

	stream, aerr := acquire()

	if derr := s.loop.Do(func() {
		if s.pending != token {
			err = ErrJoinAborted
			return
		}
		s.pending = 0
		if aerr != nil {
			err = fmt.Errorf("join %s: %w", room, aerr)
			return
		}
		s.room = room
		s.stream = stream
		s.attempts = 0
		s.err = nil
		s.log = s.base.With().Str("room", string(room)).Logger()
		s.setState(Joining)
		s.subscribe()
	}); derr != nil {
		err = domain.ErrSessionClosed
	}
	if err != nil && stream != nil {
		stream.Stop()
	}
	if aerr != nil {
		s.base.Error().Err(aerr).Str("room", string(room)).Msg("media acquisition failed")
	}
	return err
}

// Leave tears everything down. It is idempotent and safe in every state.
func (s *Session) Leave(ctx context.Context) error {
	if err := s.loop.Do(s.teardown); err != nil && !errors.Is(err, loop.ErrStopped) {
		return err
	}
	return nil
}

// Close leaves the room and stops the session goroutine.
func (s *Session) Close() error {
	err := s.Leave(context.Background())
	s.loop.Stop()
	return err
}

func (s *Session) SetMuted(muted bool) {
	_ = s.loop.Do(func() {
		if s.stream != nil {
			s.stream.SetMuted(muted)
		}
	})
}

func (s *Session) State() State {
	st := Idle
	_ = s.loop.Do(func() { st = s.state })
	return st
}

func (s *Session) Room() domain.RoomID {
	var r domain.RoomID
	_ = s.loop.Do(func() { r = s.room })
	return r
}

// Err is the terminal failure, if the session gave up reconnecting.
func (s *Session) Err() error {
	var err error
	_ = s.loop.Do(func() { err = s.err })
	return err
}

func (s *Session) Participants() []domain.Participant {
	var out []domain.Participant
	_ = s.loop.Do(func() { out = s.peers.Participants() })
	return out
}

func (s *Session) PeerCount() int {
	n := 0
	_ = s.loop.Do(func() { n = s.peers.Len() })
	return n
}

func (s *Session) ReconnectAttempts() int {
	n := 0
	_ = s.loop.Do(func() { n = s.attempts })
	return n
}

func (s *Session) setState(st State) {
	if s.state == st {
		return
	}
	s.log.Info().Str("from", s.state.String()).Str("to", st.String()).Msg("state")
	s.state = st
	if s.cfg.Hooks.OnState != nil {
		s.cfg.Hooks.OnState(st)
	}
}

func (s *Session) participantsChanged() {
	if s.cfg.Hooks.OnParticipants != nil {
		s.cfg.Hooks.OnParticipants(s.peers.Participants())
	}
}

func (s *Session) subscribe() {
	s.gen++
	gen := s.gen
	ch := s.cfg.Transport.Channel(domain.VoiceTopic(s.room), core.ChannelOptions{})
	s.bind(ch, gen)
	s.channel = ch
	ch.Subscribe(func(st core.ChannelStatus, err error) {
		s.loop.Post(func() { s.onStatus(gen, st, err) })
	})
}

func (s *Session) onStatus(gen uint64, st core.ChannelStatus, err error) {
	if gen != s.gen {
		s.log.Debug().Str("status", string(st)).Msg("stale channel status")
		return
	}
	if st == core.StatusSubscribed {
		if s.state != Joining && s.state != Reconnecting {
			return
		}
		s.attempts = 0
		s.setState(Active)
		s.send(string(joinRequestEvent), joinRequest(s.cfg.Self))
		return
	}
	switch s.state {
	case Joining, Active, Reconnecting:
		s.log.Warn().Err(err).Str("status", string(st)).Msg("channel lost")
		s.reconnect()
	}
}

// reconnect drops the dead channel and schedules a rejoin with linear
// backoff, or gives up once the attempt budget is spent.
func (s *Session) reconnect() {
	s.dropChannel()
	if s.attempts >= s.cfg.MaxReconnects {
		s.err = fmt.Errorf("room %s: %w after %d attempts", s.room, domain.ErrReconnectExhausted, s.attempts)
		s.log.Error().Err(s.err).Msg("giving up")
		s.setState(Disconnected)
		if s.cfg.Hooks.OnFailure != nil {
			s.cfg.Hooks.OnFailure(s.err)
		}
		return
	}
	s.attempts++
	delay := s.cfg.BackoffBase * time.Duration(s.attempts)
	s.setState(Reconnecting)
	token := s.gen
	s.stopTimer()
	s.timer = s.cfg.Clock.AfterFunc(delay, func() {
		s.loop.Post(func() { s.rejoin(token) })
	})
	s.log.Info().Int("attempt", s.attempts).Dur("delay", delay).Msg("rejoin scheduled")
}

func (s *Session) rejoin(token uint64) {
	if token != s.gen || s.state != Reconnecting {
		return
	}
	s.timer = nil
	s.subscribe()
}

func (s *Session) dropChannel() {
	s.gen++
	if s.channel == nil {
		return
	}
	ch := s.channel
	s.channel = nil
	if err := s.cfg.Transport.RemoveChannel(ch); err != nil {
		s.log.Warn().Err(err).Msg("remove channel")
	}
}

func (s *Session) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Session) teardown() {
	s.pending = 0
	if s.state == Idle {
		return
	}
	s.setState(Leaving)
	if s.channel != nil {
		s.send(string(leaveEvent), leave(s.cfg.Self))
	}
	s.stopTimer()
	s.peers.CloseAll()
	s.peers.ClearParticipants()
	if s.stream != nil {
		s.stream.Stop()
		s.stream = nil
	}
	s.dropChannel()
	s.attempts = 0
	s.err = nil
	s.room = ""
	s.setState(Idle)
	s.log = s.base
}

func (s *Session) send(event string, payload any) {
	if s.channel == nil {
		s.log.Debug().Str("event", event).Msg("send without channel")
		return
	}
	if err := s.channel.Send(context.Background(), event, payload); err != nil {
		s.log.Warn().Err(err).Str("event", event).Msg("send failed")
	}
}

func (s *Session) sendCandidate(peer domain.UserID, cand webrtc.ICECandidateInit) {
	if s.state != Active {
		s.log.Debug().Str("peer", string(peer)).Msg("candidate dropped while not active")
		return
	}
	s.send(string(iceCandidateEvent), iceCandidate(s.cfg.Self, peer, cand))
}
