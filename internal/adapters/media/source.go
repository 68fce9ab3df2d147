// Package media produces synthetic local tracks for headless peers.
package media

import (
	"context"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// Source hands out streams of silent audio and a placeholder video track.
type Source struct {
	// Deny refuses every acquisition, like a rejected permission prompt.
	Deny  bool
	Clock clock.Clock
}

// NewSource paces synthetic frames with clk, or the wall clock when nil.
func NewSource(clk clock.Clock) *Source {
	if clk == nil {
		clk = clock.New()
	}
	return &Source{Clock: clk}
}

func (s *Source) Acquire(ctx context.Context, c core.MediaConstraints) (core.LocalStream, error) {
	if s.Deny || ctx.Err() != nil {
		log.Error().Str("module", "media").Bool("audio", c.Audio).Bool("video", c.Video).Msg("media access refused")
		return nil, fmt.Errorf("acquire media: %w", domain.ErrPermissionDenied)
	}
	clk := s.Clock
	if clk == nil {
		clk = clock.New()
	}
	streamID := uuid.NewString()
	st := &Stream{id: streamID, clock: clk, done: make(chan struct{})}
	if c.Audio {
		t, err := newLocalTrack(webrtc.MimeTypeOpus, "audio-"+streamID, streamID)
		if err != nil {
			return nil, fmt.Errorf("audio track: %w", err)
		}
		st.tracks = append(st.tracks, t)
		st.audio = t
	}
	if c.Video {
		t, err := newLocalTrack(webrtc.MimeTypeVP8, "video-"+streamID, streamID)
		if err != nil {
			return nil, fmt.Errorf("video track: %w", err)
		}
		st.tracks = append(st.tracks, t)
	}
	st.start()
	log.Info().Str("module", "media").Str("stream_id", streamID).Int("tracks", len(st.tracks)).Msg("local stream acquired")
	return st, nil
}
