package call

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/dkeye/voicemesh/internal/signaling"
)

// InitiateCall rings target in a fresh room. If the invite cannot be
// delivered the call is rolled back to idle and the error returned.
func (s *Session) InitiateCall(ctx context.Context, conv domain.ConversationID, target domain.UserID, kind domain.CallType) (domain.CallData, error) {
	if target == s.cfg.Self {
		return domain.CallData{}, domain.ErrSelfCall
	}
	if kind == "" {
		kind = domain.CallAudio
	}
	remote := s.fetchProfile(ctx, target)

	var (
		d   domain.CallData
		err error
	)
	if derr := s.loop.Do(func() {
		if s.data.State != domain.CallIdle {
			err = domain.ErrCallBusy
			return
		}
		d = domain.CallData{
			State:          domain.CallOutgoing,
			ConversationID: conv,
			RoomID:         s.cfg.NewRoomID(),
			Type:           kind,
			Remote:         remote,
			Initiator:      true,
		}
		s.setData(d)
		s.ring(core.CueRingback)
	}); derr != nil {
		return domain.CallData{}, domain.ErrSessionClosed
	}
	if err != nil {
		return domain.CallData{}, err
	}

	if err := s.sendTo(ctx, target, signaling.EventInvite, envelope(s.cfg.Self, d)); err != nil {
		_ = s.loop.Do(func() {
			if s.data.State == domain.CallOutgoing && s.data.RoomID == d.RoomID {
				s.silence()
				s.reset()
			}
		})
		return domain.CallData{}, fmt.Errorf("invite %s: %w", target, err)
	}
	return d.Clone(), nil
}

// AcceptCall answers the ringing incoming call.
func (s *Session) AcceptCall(ctx context.Context) (domain.CallData, error) {
	var (
		d   domain.CallData
		err error
	)
	if derr := s.loop.Do(func() {
		switch s.data.State {
		case domain.CallIncoming:
		case domain.CallIdle:
			err = domain.ErrNoActiveCall
			return
		default:
			err = fmt.Errorf("%w: accept from %s", domain.ErrInvalidTransition, s.data.State)
			return
		}
		s.silence()
		d = s.data
		d.State = domain.CallConnected
		d.StartedAt = s.cfg.Clock.Now()
		s.setData(d)
	}); derr != nil {
		return domain.CallData{}, domain.ErrSessionClosed
	}
	if err != nil {
		return domain.CallData{}, err
	}
	if err := s.sendTo(ctx, d.RemoteID(), signaling.EventAccept, envelope(s.cfg.Self, d)); err != nil {
		s.log.Warn().Err(err).Str("room", string(d.RoomID)).Msg("send accept")
	}
	return d.Clone(), nil
}

// DeclineCall rejects the ringing incoming call.
func (s *Session) DeclineCall(ctx context.Context) error {
	return s.hangup(ctx, domain.CallIncoming)
}

// CancelCall withdraws our outgoing invite.
func (s *Session) CancelCall(ctx context.Context) error {
	return s.hangup(ctx, domain.CallOutgoing)
}

// EndCall finishes the call from whatever state it is in. Idle is a no-op.
func (s *Session) EndCall(ctx context.Context) error {
	err := s.hangup(ctx, domain.CallOutgoing, domain.CallIncoming, domain.CallConnected)
	if errors.Is(err, domain.ErrNoActiveCall) {
		return nil
	}
	return err
}

type hangupPlan struct {
	data   domain.CallData
	event  signaling.Event
	record domain.CallRecord
}

func (s *Session) hangup(ctx context.Context, allowed ...domain.CallState) error {
	var (
		plan hangupPlan
		err  error
	)
	if derr := s.loop.Do(func() {
		st := s.data.State
		if st == domain.CallIdle || st == domain.CallEnding {
			err = domain.ErrNoActiveCall
			return
		}
		ok := false
		for _, a := range allowed {
			ok = ok || a == st
		}
		if !ok {
			err = fmt.Errorf("%w: hang up from %s", domain.ErrInvalidTransition, st)
			return
		}
		plan = s.planHangup()
		s.silence()
		d := s.data
		d.State = domain.CallEnding
		s.setData(d)
	}); derr != nil {
		return nil
	}
	if err != nil {
		return err
	}

	s.record(ctx, plan.data.ConversationID, plan.record)
	if err := s.sendTo(ctx, plan.data.RemoteID(), plan.event, envelope(s.cfg.Self, plan.data)); err != nil {
		s.log.Warn().Err(err).Str("event", plan.event.String()).Str("room", string(plan.data.RoomID)).Msg("hang up not delivered")
	}

	_ = s.loop.Do(func() {
		if s.data.State == domain.CallEnding && s.data.RoomID == plan.data.RoomID {
			s.reset()
		}
	})
	return nil
}

func (s *Session) planHangup() hangupPlan {
	d := s.data
	p := hangupPlan{data: d, record: domain.CallRecord{RoomID: d.RoomID}}
	switch d.State {
	case domain.CallOutgoing:
		p.event = signaling.EventCancel
		p.record.Status = domain.CallMissed
	case domain.CallIncoming:
		p.event = signaling.EventReject
		p.record.Status = domain.CallDeclined
	case domain.CallConnected:
		p.event = signaling.EventEnd
		p.record.Status = domain.CallEnded
		p.record.Duration = domain.FormatDuration(s.cfg.Clock.Since(d.StartedAt))
	}
	return p
}
