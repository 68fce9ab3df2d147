package media

import (
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const (
	FrameInterval   = 20 * time.Millisecond
	opusPayloadType = 111
	// 48kHz clock, 20ms per frame
	opusSamplesPerFrame = 960
)

// opusSilence is a single Opus frame of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// Stream implements core.LocalStream over synthetic tracks.
type Stream struct {
	id     string
	clock  clock.Clock
	tracks []*LocalTrack
	audio  *LocalTrack

	frames   atomic.Uint64
	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

func (s *Stream) ID() string { return s.id }

func (s *Stream) Tracks() []webrtc.TrackLocal {
	out := make([]webrtc.TrackLocal, 0, len(s.tracks))
	for _, t := range s.tracks {
		out = append(out, t.Track)
	}
	return out
}

func (s *Stream) SetMuted(muted bool) {
	if s.audio != nil {
		s.audio.SetMuted(muted)
	}
}

func (s *Stream) Stop() {
	s.stopOnce.Do(func() {
		for _, t := range s.tracks {
			t.Stop()
		}
		close(s.done)
		s.wg.Wait()
		log.Info().Str("module", "media").Str("stream_id", s.id).Msg("local stream stopped")
	})
}

func (s *Stream) LiveTracks() int {
	n := 0
	for _, t := range s.tracks {
		if t.GetState() != TrackStateStopped {
			n++
		}
	}
	return n
}

// Frames counts audio frames written since the stream started.
func (s *Stream) Frames() uint64 {
	return s.frames.Load()
}

func (s *Stream) start() {
	if s.audio == nil {
		return
	}
	s.wg.Add(1)
	go s.pumpAudio()
}

func (s *Stream) pumpAudio() {
	defer s.wg.Done()
	ticker := s.clock.Ticker(FrameInterval)
	defer ticker.Stop()

	pkt := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    opusPayloadType,
			SequenceNumber: uint16(rand.Uint32()),
			Timestamp:      rand.Uint32(),
			SSRC:           rand.Uint32(),
		},
		Payload: opusSilence,
	}
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}
		if s.audio.GetState() != TrackStateLive {
			continue
		}
		if err := s.audio.Track.WriteRTP(pkt); err != nil {
			log.Debug().Err(err).Str("module", "media").Str("stream_id", s.id).Msg("write silence")
		}
		s.frames.Add(1)
		pkt.SequenceNumber++
		pkt.Timestamp += opusSamplesPerFrame
	}
}
