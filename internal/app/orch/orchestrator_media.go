package orch

import (
	"context"
	"fmt"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
)

func constraintsFor(kind domain.CallType) core.MediaConstraints {
	return core.MediaConstraints{Audio: true, Video: kind == domain.CallVideo}
}

// PlaceCall checks media access before ringing target, so a refused
// permission never produces an outgoing call.
func (o *Orchestrator) PlaceCall(ctx context.Context, conv domain.ConversationID, target domain.UserID, kind domain.CallType) (domain.CallData, error) {
	if err := o.acquire(ctx, kind); err != nil {
		return domain.CallData{}, err
	}
	d, err := o.Calls.InitiateCall(ctx, conv, target, kind)
	if err != nil {
		_ = o.loop.Do(o.dropPending)
		return domain.CallData{}, err
	}
	return d, nil
}

// AnswerCall acquires media for the ringing call and accepts it.
func (o *Orchestrator) AnswerCall(ctx context.Context) (domain.CallData, error) {
	cur := o.Calls.Data()
	if cur.State != domain.CallIncoming {
		return domain.CallData{}, fmt.Errorf("answer: %w", domain.ErrNoActiveCall)
	}
	if err := o.acquire(ctx, cur.Type); err != nil {
		return domain.CallData{}, err
	}
	d, err := o.Calls.AcceptCall(ctx)
	if err != nil {
		_ = o.loop.Do(o.dropPending)
		return domain.CallData{}, err
	}
	return d, nil
}

func (o *Orchestrator) Hangup(ctx context.Context) error {
	return o.Calls.EndCall(ctx)
}

func (o *Orchestrator) acquire(ctx context.Context, kind domain.CallType) error {
	stream, err := o.Media.Acquire(ctx, constraintsFor(kind))
	if err != nil {
		o.log.Error().Err(err).Str("call_type", string(kind)).Msg("call media")
		return fmt.Errorf("call media: %w", err)
	}
	if derr := o.loop.Do(func() {
		o.dropPending()
		o.pending = stream
	}); derr != nil {
		stream.Stop()
		return domain.ErrSessionClosed
	}
	return nil
}

func (o *Orchestrator) dropPending() {
	if o.pending != nil {
		o.pending.Stop()
		o.pending = nil
	}
}
