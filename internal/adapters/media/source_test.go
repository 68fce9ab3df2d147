package media

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func acquire(t *testing.T, src *Source, c core.MediaConstraints) *Stream {
	t.Helper()
	ls, err := src.Acquire(context.Background(), c)
	require.NoError(t, err)
	t.Cleanup(ls.Stop)
	return ls.(*Stream)
}

func TestAcquireTracks(t *testing.T) {
	src := &Source{Clock: clock.NewMock()}

	audio := acquire(t, src, core.MediaConstraints{Audio: true})
	require.Len(t, audio.Tracks(), 1)
	assert.Equal(t, webrtc.RTPCodecTypeAudio, audio.Tracks()[0].Kind())

	av := acquire(t, src, core.MediaConstraints{Audio: true, Video: true})
	require.Len(t, av.Tracks(), 2)
	assert.Equal(t, webrtc.RTPCodecTypeVideo, av.Tracks()[1].Kind())
	assert.Equal(t, av.ID(), av.Tracks()[0].StreamID())
	assert.Equal(t, av.ID(), av.Tracks()[1].StreamID())
}

func TestAcquireRefused(t *testing.T) {
	_, err := (&Source{Deny: true}).Acquire(context.Background(), core.MediaConstraints{Audio: true})
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewSource(nil).Acquire(ctx, core.MediaConstraints{Audio: true})
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)
}

func TestStopReleasesEveryTrack(t *testing.T) {
	s := acquire(t, &Source{Clock: clock.NewMock()}, core.MediaConstraints{Audio: true, Video: true})
	assert.Equal(t, 2, s.LiveTracks())
	s.Stop()
	s.Stop()
	assert.Zero(t, s.LiveTracks())
}

func TestSilenceFramesFollowMute(t *testing.T) {
	clk := clock.NewMock()
	s := acquire(t, &Source{Clock: clk}, core.MediaConstraints{Audio: true})

	require.Eventually(t, func() bool {
		clk.Add(FrameInterval)
		return s.Frames() >= 3
	}, time.Second, time.Millisecond)

	s.SetMuted(true)
	assert.Equal(t, 1, s.LiveTracks(), "muted tracks are still live")
	// let an in-flight tick finish before sampling
	clk.Add(FrameInterval)
	time.Sleep(10 * time.Millisecond)
	muted := s.Frames()
	for range 5 {
		clk.Add(FrameInterval)
	}
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, muted, s.Frames())

	s.SetMuted(false)
	require.Eventually(t, func() bool {
		clk.Add(FrameInterval)
		return s.Frames() > muted
	}, time.Second, time.Millisecond)
}

func TestMuteAfterStopKeepsStopped(t *testing.T) {
	s := acquire(t, &Source{Clock: clock.NewMock()}, core.MediaConstraints{Audio: true})
	s.Stop()
	s.SetMuted(false)
	s.SetMuted(true)
	assert.Zero(t, s.LiveTracks())
}
