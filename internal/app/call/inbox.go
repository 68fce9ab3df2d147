package call

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/dkeye/voicemesh/internal/signaling"
)

func (s *Session) bindInbox(ch core.Channel) {
	for _, ev := range signaling.CallEvents {
		ev := ev
		ch.On(string(ev), func(raw json.RawMessage) {
			s.loop.Post(func() { s.handle(ev, raw) })
		})
	}
}

func (s *Session) handle(ev signaling.Event, raw json.RawMessage) {
	env, err := signaling.DecodeCall(ev, raw)
	if err != nil {
		s.log.Warn().Err(err).Msg("bad call event")
		return
	}
	if env.Sender() == s.cfg.Self {
		return
	}
	if ev == signaling.EventInvite {
		s.onInvite(env)
		return
	}
	if !s.data.Matches(env.ConversationID, env.RoomID) || env.Sender() != s.data.RemoteID() {
		s.log.Debug().Str("event", ev.String()).Str("room", string(env.RoomID)).Msg("stale call event")
		return
	}
	switch {
	case ev == signaling.EventAccept && s.data.State == domain.CallOutgoing:
		s.silence()
		d := s.data
		d.State = domain.CallConnected
		d.StartedAt = s.cfg.Clock.Now()
		s.setData(d)
	case ev == signaling.EventReject && s.data.State == domain.CallOutgoing:
		s.finish(domain.CallDeclined)
	case ev == signaling.EventCancel && s.data.State == domain.CallIncoming:
		s.finish(domain.CallMissed)
	case ev == signaling.EventCancel && s.data.State == domain.CallConnected && !s.data.Initiator:
		// The caller gave up before our accept reached it.
		s.finish(domain.CallMissed)
	case ev == signaling.EventEnd && s.data.State == domain.CallConnected:
		s.finish(domain.CallEnded)
	default:
		s.log.Debug().Str("event", ev.String()).Str("state", s.data.State.String()).Msg("call event ignored")
	}
}

// onInvite starts ringing, unless another call is live: then the invite is
// dropped without telling the caller.
func (s *Session) onInvite(env signaling.CallEnvelope) {
	if s.data.State != domain.CallIdle {
		s.log.Info().Str("caller", string(env.CallerID)).Str("room", string(env.RoomID)).Msg("busy, invite dropped")
		return
	}
	kind := env.CallType
	if kind == "" {
		kind = domain.CallAudio
	}
	s.setData(domain.CallData{
		State:          domain.CallIncoming,
		ConversationID: env.ConversationID,
		RoomID:         env.RoomID,
		Type:           kind,
		Remote:         s.fetchProfile(context.Background(), env.CallerID),
	})
	s.ring(core.CueRinging)
}

// finish ends the call because the remote side did.
func (s *Session) finish(status domain.CallStatus) {
	s.silence()
	rec := domain.CallRecord{RoomID: s.data.RoomID, Status: status}
	if status == domain.CallEnded {
		rec.Duration = domain.FormatDuration(s.cfg.Clock.Since(s.data.StartedAt))
	}
	s.record(context.Background(), s.data.ConversationID, rec)
	s.reset()
}

// sendTo publishes one event on target's inbox through a short-lived
// channel that is always released, even when sending fails.
func (s *Session) sendTo(ctx context.Context, target domain.UserID, ev signaling.Event, env signaling.CallEnvelope) error {
	if target == "" {
		return fmt.Errorf("send %s: no recipient", ev)
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	defer cancel()

	ch := s.cfg.Transport.Channel(domain.InboxTopic(target), core.ChannelOptions{})
	defer func() {
		if err := s.cfg.Transport.RemoveChannel(ch); err != nil {
			s.log.Warn().Err(err).Str("target", string(target)).Msg("release inbox channel")
		}
	}()

	ready := make(chan error, 1)
	ch.Subscribe(func(st core.ChannelStatus, err error) {
		var res error
		if st != core.StatusSubscribed {
			res = fmt.Errorf("inbox %s: %s: %v", target, st, err)
		}
		select {
		case ready <- res:
		default:
		}
	})
	select {
	case err := <-ready:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		return fmt.Errorf("send %s: %w", ev, ctx.Err())
	}
	if err := ch.Send(ctx, string(ev), env); err != nil {
		return fmt.Errorf("send %s: %w", ev, err)
	}
	s.log.Debug().Str("event", ev.String()).Str("target", string(target)).Str("room", string(env.RoomID)).Msg("call event sent")
	return nil
}
