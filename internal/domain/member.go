package domain

// RemoteTrack describes one inbound media track of a remote stream.
type RemoteTrack struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
}

// RemoteStream groups remote tracks sharing a stream id.
type RemoteStream struct {
	ID     string        `json:"id"`
	Tracks []RemoteTrack `json:"tracks"`
}

// HasKind reports whether the stream carries at least one track of kind.
func (s *RemoteStream) HasKind(kind string) bool {
	if s == nil {
		return false
	}
	for _, t := range s.Tracks {
		if t.Kind == kind {
			return true
		}
	}
	return false
}

// Participant is one remote member of a voice room as seen locally.
// Stream is nil until the first remote track arrives.
type Participant struct {
	UserID UserID        `json:"user_id"`
	Stream *RemoteStream `json:"stream,omitempty"`
}

// Clone returns a deep copy safe to hand out of the session loop.
func (p Participant) Clone() Participant {
	if p.Stream == nil {
		return p
	}
	s := &RemoteStream{ID: p.Stream.ID, Tracks: append([]RemoteTrack(nil), p.Stream.Tracks...)}
	p.Stream = s
	return p
}
