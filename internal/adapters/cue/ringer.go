// Package cue plays the looping call cues as log lines on a ticker.
package cue

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/voicemesh/internal/core"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const DefaultInterval = 3 * time.Second

type Ringer struct {
	clock    clock.Clock
	interval time.Duration
	log      zerolog.Logger

	mu      sync.Mutex
	playing *playback
	rings   int
}

type playback struct {
	cue  core.Cue
	stop chan struct{}
	done chan struct{}
}

func NewRinger(clk clock.Clock, interval time.Duration) *Ringer {
	if clk == nil {
		clk = clock.New()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Ringer{
		clock:    clk,
		interval: interval,
		log:      log.With().Str("module", "cue").Logger(),
	}
}

// Start replaces whatever cue is playing with c.
func (r *Ringer) Start(c core.Cue) {
	r.Stop()
	p := &playback{cue: c, stop: make(chan struct{}), done: make(chan struct{})}
	ticker := r.clock.Ticker(r.interval)

	r.mu.Lock()
	r.playing = p
	r.mu.Unlock()

	r.ring(c)
	go func() {
		defer close(p.done)
		defer ticker.Stop()
		for {
			select {
			case <-p.stop:
				return
			case <-ticker.C:
				r.ring(c)
			}
		}
	}()
}

func (r *Ringer) Stop() {
	r.mu.Lock()
	p := r.playing
	r.playing = nil
	r.mu.Unlock()
	if p == nil {
		return
	}
	close(p.stop)
	<-p.done
	r.log.Debug().Str("cue", p.cue.String()).Msg("cue stopped")
}

// Playing returns the cue currently looping.
func (r *Ringer) Playing() (core.Cue, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.playing == nil {
		return 0, false
	}
	return r.playing.cue, true
}

// Rings counts every cue repetition so far.
func (r *Ringer) Rings() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rings
}

func (r *Ringer) ring(c core.Cue) {
	r.mu.Lock()
	r.rings++
	r.mu.Unlock()
	r.log.Info().Str("cue", c.String()).Msg("ring")
}
