package core

import (
	"context"

	"github.com/dkeye/voicemesh/internal/domain"
)

// CallLog persists call outcomes into the conversation history.
type CallLog interface {
	LogCall(ctx context.Context, conv domain.ConversationID, rec domain.CallRecord) error
}

type ProfileDirectory interface {
	FetchProfile(ctx context.Context, id domain.UserID) (*domain.Profile, error)
}

type Cue int

const (
	CueRingback Cue = iota
	CueRinging
)

func (c Cue) String() string {
	if c == CueRinging {
		return "ringing"
	}
	return "ringback"
}

// Ringer plays the looping ringing cues. Stop with nothing playing is a no-op.
type Ringer interface {
	Start(c Cue)
	Stop()
}
