package main

import (
	"context"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/voicemesh/internal/adapters/cue"
	"github.com/dkeye/voicemesh/internal/adapters/store"
	"github.com/dkeye/voicemesh/internal/app/call"
	"github.com/dkeye/voicemesh/internal/app/orch"
	"github.com/dkeye/voicemesh/internal/app/room"
	"github.com/dkeye/voicemesh/internal/config"
	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
)

type clientDeps struct {
	Self       domain.UserID
	Config     *config.Config
	Transport  core.Transport
	Peers      core.PeerConnectionFactory
	Media      core.MediaSource
	Store      *store.Store
	Ringer     *cue.Ringer
	Clock      clock.Clock
	AutoAnswer bool
}

type client struct {
	orch     *orch.Orchestrator
	failures chan error
}

func newClient(d clientDeps) *client {
	c := &client{failures: make(chan error, 1)}
	rs := room.NewSession(room.Config{
		Self:          d.Self,
		Transport:     d.Transport,
		Peers:         d.Peers,
		Media:         d.Media,
		Clock:         d.Clock,
		MaxReconnects: d.Config.Reconnect.MaxAttempts,
		BackoffBase:   d.Config.Reconnect.BackoffBase,
		Hooks: room.Hooks{
			OnState: func(s room.State) {
				log.Info().Str("module", "main").Str("room_state", s.String()).Msg("room state")
			},
			OnParticipants: func(ps []domain.Participant) {
				ids := make([]string, 0, len(ps))
				for _, p := range ps {
					ids = append(ids, string(p.UserID))
				}
				log.Info().Str("module", "main").Strs("participants", ids).Msg("participants")
			},
			OnFailure: func(err error) {
				select {
				case c.failures <- err:
				default:
				}
			},
		},
	})
	c.orch = orch.New(d.Media, rs)
	c.orch.Calls = call.NewSession(call.Config{
		Self:      d.Self,
		Transport: d.Transport,
		Profiles:  d.Store,
		CallLog:   d.Store,
		Ringer:    d.Ringer,
		Clock:     d.Clock,
		OnChange: func(data domain.CallData) {
			c.orch.OnCallChange(data)
			ev := log.Info().Str("module", "main").Str("call_state", data.State.String())
			if data.Remote != nil {
				ev = ev.Str("remote", data.Remote.Name())
			}
			ev.Msg("call state")
			if d.AutoAnswer && data.State == domain.CallIncoming {
				go func() {
					if _, err := c.orch.AnswerCall(context.Background()); err != nil {
						log.Error().Err(err).Str("module", "main").Msg("auto answer")
					}
				}()
			}
		},
	})
	return c
}

// run keeps the client alive until ctx ends or the room gives up.
func (c *client) run(ctx context.Context) error {
	defer func() {
		if err := c.orch.Close(context.Background()); err != nil {
			log.Warn().Err(err).Str("module", "main").Msg("close")
		}
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-c.failures:
		return fmt.Errorf("room: %w", err)
	}
}
