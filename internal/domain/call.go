package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrCallBusy          = errors.New("call already in progress")
	ErrNoActiveCall      = errors.New("no active call")
	ErrInvalidTransition = errors.New("invalid call state transition")
	ErrSelfCall          = errors.New("cannot call yourself")
)

type CallState int

const (
	CallIdle CallState = iota
	CallOutgoing
	CallIncoming
	CallConnected
	CallEnding
)

func (s CallState) String() string {
	switch s {
	case CallIdle:
		return "idle"
	case CallOutgoing:
		return "outgoing"
	case CallIncoming:
		return "incoming"
	case CallConnected:
		return "connected"
	case CallEnding:
		return "ending"
	default:
		return fmt.Sprintf("CallState(%d)", int(s))
	}
}

type CallType string

const (
	CallAudio CallType = "audio"
	CallVideo CallType = "video"
)

// CallData is the full observable state of a 1:1 call.
// Everything but State is zero while idle.
type CallData struct {
	State          CallState      `json:"state"`
	ConversationID ConversationID `json:"conversation_id,omitempty"`
	RoomID         RoomID         `json:"room_id,omitempty"`
	Type           CallType       `json:"call_type,omitempty"`
	Remote         *Profile       `json:"remote,omitempty"`
	Initiator      bool           `json:"initiator"`
	StartedAt      time.Time      `json:"started_at,omitempty"`
}

// Clone copies d including the remote profile.
func (d CallData) Clone() CallData {
	if d.Remote != nil {
		p := *d.Remote
		d.Remote = &p
	}
	return d
}

// RemoteID is the other party of the call, or empty while idle.
func (d CallData) RemoteID() UserID {
	if d.Remote == nil {
		return ""
	}
	return d.Remote.ID
}

// Matches reports whether an incoming control event refers to this call.
func (d CallData) Matches(conv ConversationID, room RoomID) bool {
	return d.ConversationID == conv && d.RoomID == room
}

type CallStatus string

const (
	CallEnded    CallStatus = "ended"
	CallMissed   CallStatus = "missed"
	CallDeclined CallStatus = "declined"
)

// CallRecord is the durable outcome of a call written into its conversation.
type CallRecord struct {
	RoomID   RoomID     `json:"room_id"`
	Status   CallStatus `json:"status"`
	Duration string     `json:"duration,omitempty"`
}

// FormatDuration renders whole seconds as m:ss, or h:mm:ss from one hour.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
