// Package call runs the 1:1 ringing state machine. It only decides who is
// talking to whom in which room; media is handled by a room session.
package call

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/voicemesh/internal/app/loop"
	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultSendTimeout     = 10 * time.Second
	DefaultResubscribeWait = 1500 * time.Millisecond
	profileTimeout         = 5 * time.Second
)

type Config struct {
	Self      domain.UserID
	Transport core.Transport
	Profiles  core.ProfileDirectory
	CallLog   core.CallLog
	Ringer    core.Ringer
	Clock     clock.Clock

	// NewRoomID mints the room of an outgoing call.
	NewRoomID func() domain.RoomID
	// SendTimeout bounds the wait for a transient inbox subscription.
	SendTimeout     time.Duration
	ResubscribeWait time.Duration

	// OnChange runs on the session goroutine after every transition.
	OnChange func(domain.CallData)
}

// Session is the call state of one local user. Fields below log are owned
// by the loop goroutine.
type Session struct {
	cfg  Config
	loop *loop.Loop
	log  zerolog.Logger

	data    domain.CallData
	inbox   core.Channel
	gen     uint64
	timer   *clock.Timer
	closing bool
}

func NewSession(cfg Config) *Session {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.NewRoomID == nil {
		cfg.NewRoomID = domain.NewRoomID
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	if cfg.ResubscribeWait <= 0 {
		cfg.ResubscribeWait = DefaultResubscribeWait
	}
	return &Session{
		cfg:  cfg,
		loop: loop.New("call:" + string(cfg.Self)),
		log:  log.With().Str("module", "call").Str("user", string(cfg.Self)).Logger(),
		data: domain.CallData{State: domain.CallIdle},
	}
}

// Start subscribes to the local inbox. It stays subscribed until Close.
func (s *Session) Start() error {
	return s.loop.Do(func() {
		if s.inbox != nil || s.closing {
			return
		}
		s.subscribeInbox()
	})
}

// Close hangs up whatever call is live and releases the inbox.
func (s *Session) Close(ctx context.Context) error {
	err := s.EndCall(ctx)
	_ = s.loop.Do(func() {
		s.closing = true
		s.gen++
		if s.timer != nil {
			s.timer.Stop()
			s.timer = nil
		}
		if s.inbox != nil {
			if rerr := s.cfg.Transport.RemoveChannel(s.inbox); rerr != nil {
				s.log.Warn().Err(rerr).Msg("remove inbox")
			}
			s.inbox = nil
		}
	})
	s.loop.Stop()
	return err
}

func (s *Session) Data() domain.CallData {
	d := domain.CallData{State: domain.CallIdle}
	_ = s.loop.Do(func() { d = s.data.Clone() })
	return d
}

func (s *Session) State() domain.CallState {
	return s.Data().State
}

func (s *Session) subscribeInbox() {
	s.gen++
	gen := s.gen
	ch := s.cfg.Transport.Channel(domain.InboxTopic(s.cfg.Self), core.ChannelOptions{})
	s.bindInbox(ch)
	s.inbox = ch
	ch.Subscribe(func(st core.ChannelStatus, err error) {
		s.loop.Post(func() { s.onInboxStatus(gen, st, err) })
	})
}

func (s *Session) onInboxStatus(gen uint64, st core.ChannelStatus, err error) {
	if gen != s.gen || s.closing {
		return
	}
	if st == core.StatusSubscribed {
		s.log.Info().Msg("inbox subscribed")
		return
	}
	s.log.Warn().Err(err).Str("status", string(st)).Dur("retry_in", s.cfg.ResubscribeWait).Msg("inbox lost")
	if s.inbox != nil {
		_ = s.cfg.Transport.RemoveChannel(s.inbox)
		s.inbox = nil
	}
	s.gen++
	token := s.gen
	s.timer = s.cfg.Clock.AfterFunc(s.cfg.ResubscribeWait, func() {
		s.loop.Post(func() {
			if token != s.gen || s.closing {
				return
			}
			s.timer = nil
			s.subscribeInbox()
		})
	})
}

func (s *Session) setData(d domain.CallData) {
	if d.State != s.data.State {
		s.log.Info().Str("from", s.data.State.String()).Str("to", d.State.String()).Str("room", string(d.RoomID)).Msg("call state")
	}
	s.data = d
	if s.cfg.OnChange != nil {
		s.cfg.OnChange(d.Clone())
	}
}

func (s *Session) reset() {
	s.setData(domain.CallData{State: domain.CallIdle})
}

func (s *Session) fetchProfile(ctx context.Context, id domain.UserID) *domain.Profile {
	if s.cfg.Profiles != nil {
		ctx, cancel := context.WithTimeout(ctx, profileTimeout)
		defer cancel()
		p, err := s.cfg.Profiles.FetchProfile(ctx, id)
		if err == nil {
			return p
		}
		s.log.Warn().Err(err).Str("peer", string(id)).Msg("fetch profile")
	}
	return &domain.Profile{ID: id}
}

func (s *Session) record(ctx context.Context, conv domain.ConversationID, rec domain.CallRecord) {
	if s.cfg.CallLog == nil {
		return
	}
	if err := s.cfg.CallLog.LogCall(ctx, conv, rec); err != nil {
		s.log.Error().Err(err).Str("room", string(rec.RoomID)).Str("status", string(rec.Status)).Msg("log call")
		return
	}
	s.log.Info().Str("room", string(rec.RoomID)).Str("status", string(rec.Status)).Str("duration", rec.Duration).Msg("call logged")
}

func (s *Session) ring(c core.Cue) {
	if s.cfg.Ringer != nil {
		s.cfg.Ringer.Start(c)
	}
}

func (s *Session) silence() {
	if s.cfg.Ringer != nil {
		s.cfg.Ringer.Stop()
	}
}
