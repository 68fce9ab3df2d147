package orch

import (
	"context"

	"github.com/dkeye/voicemesh/internal/app/room"
	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
)

// JoinRoom enters a plain voice room with audio only.
func (o *Orchestrator) JoinRoom(ctx context.Context, id domain.RoomID) error {
	return o.Room.Join(ctx, id, core.MediaConstraints{Audio: true})
}

func (o *Orchestrator) LeaveRoom(ctx context.Context) error {
	return o.Room.Leave(ctx)
}

func (o *Orchestrator) joinCallRoom(d domain.CallData) {
	if o.callRoom == d.RoomID {
		return
	}
	if o.pending == nil {
		o.log.Warn().Str("room", string(d.RoomID)).Msg("call connected without media")
		return
	}
	ctx := context.Background()
	if o.Room.State() != room.Idle {
		o.log.Info().Str("room", string(o.Room.Room())).Msg("leaving voice room for call")
		_ = o.Room.Leave(ctx)
	}
	stream := o.pending
	o.pending = nil
	if err := o.Room.JoinWithStream(ctx, d.RoomID, stream); err != nil {
		o.log.Error().Err(err).Str("room", string(d.RoomID)).Msg("join call room")
		if err := o.Calls.EndCall(ctx); err != nil {
			o.log.Warn().Err(err).Msg("end call after failed join")
		}
		return
	}
	o.callRoom = d.RoomID
	o.log.Info().Str("room", string(d.RoomID)).Str("call_type", string(d.Type)).Msg("call media joined")
}

func (o *Orchestrator) leaveCallRoom() {
	if o.callRoom == "" {
		return
	}
	if err := o.Room.Leave(context.Background()); err != nil {
		o.log.Warn().Err(err).Str("room", string(o.callRoom)).Msg("leave call room")
	}
	o.log.Info().Str("room", string(o.callRoom)).Msg("call media left")
	o.callRoom = ""
}
