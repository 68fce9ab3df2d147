package coretest

import (
	"context"
	"fmt"
	"sync"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/pion/webrtc/v4"
)

type Stream struct {
	mu      sync.Mutex
	tracks  []webrtc.TrackLocal
	stopped bool
	muted   bool
	stops   int
}

func NewStream(c core.MediaConstraints) (*Stream, error) {
	s := &Stream{}
	if c.Audio {
		t, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "local")
		if err != nil {
			return nil, err
		}
		s.tracks = append(s.tracks, t)
	}
	if c.Video {
		t, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "local")
		if err != nil {
			return nil, err
		}
		s.tracks = append(s.tracks, t)
	}
	return s, nil
}

func (s *Stream) Tracks() []webrtc.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]webrtc.TrackLocal(nil), s.tracks...)
}

func (s *Stream) SetMuted(m bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.muted = m
}

func (s *Stream) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

func (s *Stream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	s.stops++
}

func (s *Stream) LiveTracks() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return 0
	}
	return len(s.tracks)
}

// MediaSource records every acquisition. Deny makes it refuse like a
// rejected permission prompt.
type MediaSource struct {
	Deny bool

	mu       sync.Mutex
	acquired []*Stream
	asked    []core.MediaConstraints
}

func (m *MediaSource) Acquire(ctx context.Context, c core.MediaConstraints) (core.LocalStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.asked = append(m.asked, c)
	if m.Deny {
		return nil, fmt.Errorf("acquire: %w", domain.ErrPermissionDenied)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s, err := NewStream(c)
	if err != nil {
		return nil, err
	}
	m.acquired = append(m.acquired, s)
	return s, nil
}

func (m *MediaSource) Streams() []*Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Stream(nil), m.acquired...)
}

func (m *MediaSource) Asked() []core.MediaConstraints {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.MediaConstraints(nil), m.asked...)
}

// LiveTracks sums live tracks over every stream handed out.
func (m *MediaSource) LiveTracks() int {
	n := 0
	for _, s := range m.Streams() {
		n += s.LiveTracks()
	}
	return n
}
