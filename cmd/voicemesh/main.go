package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/voicemesh/internal/adapters/cue"
	"github.com/dkeye/voicemesh/internal/adapters/media"
	"github.com/dkeye/voicemesh/internal/adapters/realtime"
	"github.com/dkeye/voicemesh/internal/adapters/rtc"
	"github.com/dkeye/voicemesh/internal/adapters/store"
	"github.com/dkeye/voicemesh/internal/config"
	"github.com/dkeye/voicemesh/internal/domain"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if err := run(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("voicemesh")
	}
}

func bindFlags(v *viper.Viper) error {
	fs := pflag.NewFlagSet("voicemesh", pflag.ContinueOnError)
	fs.String("user", "", "local user id")
	fs.String("room", "", "voice room to join")
	fs.String("call", "", "user id to call")
	fs.String("conversation", "", "conversation the call belongs to")
	fs.Bool("video", false, "place a video call")
	fs.Bool("answer", false, "accept incoming calls automatically")
	fs.String("relay", "", "relay websocket url")
	fs.String("history", "", "print the call log of a conversation and exit")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return err
	}
	for key, flag := range map[string]string{
		"user_id":      "user",
		"room":         "room",
		"call":         "call",
		"conversation": "conversation",
		"video":        "video",
		"answer":       "answer",
		"history":      "history",
	} {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return err
		}
	}
	if fs.Changed("relay") {
		relay, _ := fs.GetString("relay")
		v.Set("relay_url", relay)
	}
	return nil
}

func run() error {
	v := viper.New()
	if err := bindFlags(v); err != nil {
		return err
	}
	cfg, err := config.LoadWith(v)
	if err != nil {
		return err
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	self, err := domain.ParseUserID(cfg.UserID)
	if err != nil {
		return fmt.Errorf("--user: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	clk := clock.New()
	db, err := store.Open(cfg.DBPath, clk)
	if err != nil {
		return err
	}
	defer db.Close()
	if conv := v.GetString("history"); conv != "" {
		return printHistory(ctx, db, domain.ConversationID(conv), os.Stdout)
	}
	if err := db.UpsertProfile(ctx, domain.Profile{ID: self, Username: string(self)}); err != nil {
		log.Warn().Err(err).Msg("seed own profile")
	}

	peers, err := rtc.NewFactory(cfg.STUNServers)
	if err != nil {
		return err
	}
	socket := realtime.NewSocket(realtime.Options{
		URL:              cfg.RelayURL,
		SubscribeTimeout: cfg.SubscribeTimeout,
		HeartbeatPeriod:  cfg.HeartbeatPeriod,
		SendBuffer:       cfg.SendBuffer,
		Clock:            clk,
	})
	defer socket.Close()

	c := newClient(clientDeps{
		Self:       self,
		Config:     cfg,
		Transport:  socket,
		Peers:      peers,
		Media:      media.NewSource(clk),
		Store:      db,
		Ringer:     cue.NewRinger(clk, cfg.RingInterval),
		Clock:      clk,
		AutoAnswer: v.GetBool("answer"),
	})

	if err := c.orch.Calls.Start(); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.run(ctx) })
	g.Go(func() error {
		room := domain.RoomID(v.GetString("room"))
		if room == "" {
			return nil
		}
		return c.orch.JoinRoom(ctx, room)
	})
	g.Go(func() error {
		target := domain.UserID(v.GetString("call"))
		if target == "" {
			return nil
		}
		kind := domain.CallAudio
		if v.GetBool("video") {
			kind = domain.CallVideo
		}
		conv := domain.ConversationID(v.GetString("conversation"))
		if conv == "" {
			conv = domain.ConversationID(string(self) + ":" + string(target))
		}
		_, err := c.orch.PlaceCall(ctx, conv, target, kind)
		return err
	})
	return g.Wait()
}
