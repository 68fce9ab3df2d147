package media

import (
	"sync/atomic"

	"github.com/pion/webrtc/v4"
)

type TrackState int32

const (
	TrackStateLive TrackState = iota
	TrackStateMuted
	TrackStateStopped
)

// LocalTrack is one captured track shared by every peer connection.
type LocalTrack struct {
	Track *webrtc.TrackLocalStaticRTP
	state atomic.Int32 // Zero by default (TrackStateLive)
}

func newLocalTrack(mime, id, streamID string) (*LocalTrack, error) {
	t, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: mime}, id, streamID)
	if err != nil {
		return nil, err
	}
	return &LocalTrack{Track: t}, nil
}

func (lt *LocalTrack) GetState() TrackState {
	return TrackState(lt.state.Load())
}

// SetMuted flips between live and muted. A stopped track stays stopped.
func (lt *LocalTrack) SetMuted(muted bool) {
	from, to := TrackStateLive, TrackStateMuted
	if !muted {
		from, to = to, from
	}
	lt.state.CompareAndSwap(int32(from), int32(to))
}

func (lt *LocalTrack) Stop() {
	lt.state.Store(int32(TrackStateStopped))
}

func (lt *LocalTrack) Kind() webrtc.RTPCodecType {
	return lt.Track.Kind()
}
