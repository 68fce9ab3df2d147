package signaling

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dkeye/voicemesh/internal/domain"
)

var (
	ErrUnknownEvent  = errors.New("unknown signaling event")
	ErrMissingSender = errors.New("signaling payload without sender")
	ErrMissingTarget = errors.New("targeted payload without target")
	ErrMissingCallID = errors.New("call envelope without conversation or room id")
)

// Decode parses a mesh payload for ev and validates its addressing.
func Decode(ev Event, raw json.RawMessage) (Addressed, error) {
	var (
		msg Addressed
		err error
	)
	switch ev {
	case EventJoinRequest:
		var p JoinRequest
		err = json.Unmarshal(raw, &p)
		msg = p
	case EventOffer:
		var p Offer
		err = json.Unmarshal(raw, &p)
		msg = p
	case EventAnswer:
		var p Answer
		err = json.Unmarshal(raw, &p)
		msg = p
	case EventICECandidate:
		var p ICECandidate
		err = json.Unmarshal(raw, &p)
		msg = p
	case EventLeave:
		var p Leave
		err = json.Unmarshal(raw, &p)
		msg = p
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, ev)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", ev, err)
	}
	if msg.From() == "" {
		return nil, fmt.Errorf("decode %s: %w", ev, ErrMissingSender)
	}
	if ev.Targeted() && msg.To() == "" {
		return nil, fmt.Errorf("decode %s: %w", ev, ErrMissingTarget)
	}
	return msg, nil
}

func DecodeCall(ev Event, raw json.RawMessage) (CallEnvelope, error) {
	switch ev {
	case EventInvite, EventAccept, EventReject, EventCancel, EventEnd:
	default:
		return CallEnvelope{}, fmt.Errorf("%w: %q", ErrUnknownEvent, ev)
	}
	var env CallEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return CallEnvelope{}, fmt.Errorf("decode %s: %w", ev, err)
	}
	if env.ConversationID == "" || env.RoomID == "" {
		return CallEnvelope{}, fmt.Errorf("decode %s: %w", ev, ErrMissingCallID)
	}
	if env.Sender() == "" {
		return CallEnvelope{}, fmt.Errorf("decode %s: %w", ev, ErrMissingSender)
	}
	return env, nil
}

// Accept applies the receiver rules: drop our own echoes, and drop targeted
// events addressed to someone else.
func Accept(self domain.UserID, msg Addressed) bool {
	if msg.From() == self {
		return false
	}
	if to := msg.To(); to != "" && to != self {
		return false
	}
	return true
}
