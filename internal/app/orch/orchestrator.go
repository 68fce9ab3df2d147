// Package orch ties a call session to the room session that carries its
// media: a connected call joins the call's room, a finished call leaves it.
package orch

import (
	"context"

	"github.com/dkeye/voicemesh/internal/app/call"
	"github.com/dkeye/voicemesh/internal/app/loop"
	"github.com/dkeye/voicemesh/internal/app/room"
	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Orchestrator struct {
	Calls *call.Session
	Room  *room.Session
	Media core.MediaSource

	loop *loop.Loop
	log  zerolog.Logger

	// owned by loop
	pending  core.LocalStream
	callRoom domain.RoomID
}

// New builds an orchestrator for rs. Calls is set afterwards because the
// call session takes OnCallChange as its hook.
func New(media core.MediaSource, rs *room.Session) *Orchestrator {
	return &Orchestrator{
		Room:  rs,
		Media: media,
		loop:  loop.New("orch"),
		log:   log.With().Str("module", "orch").Logger(),
	}
}

// OnCallChange is the call session hook. It never blocks the call session.
func (o *Orchestrator) OnCallChange(d domain.CallData) {
	o.loop.Post(func() { o.applyCall(d) })
}

func (o *Orchestrator) applyCall(d domain.CallData) {
	switch d.State {
	case domain.CallConnected:
		o.joinCallRoom(d)
	case domain.CallEnding, domain.CallIdle:
		o.leaveCallRoom()
		o.dropPending()
	}
}

// Close hangs up, leaves any room and stops every session.
func (o *Orchestrator) Close(ctx context.Context) error {
	var err error
	if o.Calls != nil {
		err = o.Calls.Close(ctx)
	}
	_ = o.loop.Do(func() {
		o.leaveCallRoom()
		o.dropPending()
	})
	o.loop.Stop()
	if rerr := o.Room.Close(); err == nil {
		err = rerr
	}
	return err
}

// Sync waits until every call change posted so far has been applied.
func (o *Orchestrator) Sync() {
	_ = o.loop.Do(func() {})
}
