// Package signaling defines the events exchanged over broadcast channels:
// mesh negotiation inside a voice room and call control over user inboxes.
package signaling

import (
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/pion/webrtc/v4"
)

type Event string

// Mesh events, published on a room topic.
const (
	EventJoinRequest  Event = "join-request"
	EventOffer        Event = "offer"
	EventAnswer       Event = "answer"
	EventICECandidate Event = "ice-candidate"
	EventLeave        Event = "leave"
)

// Call events, published on the callee's or caller's inbox topic.
const (
	EventInvite Event = "invite"
	EventAccept Event = "accept"
	EventReject Event = "reject"
	EventCancel Event = "cancel"
	EventEnd    Event = "end"
)

var (
	MeshEvents = []Event{EventJoinRequest, EventOffer, EventAnswer, EventICECandidate, EventLeave}
	CallEvents = []Event{EventInvite, EventAccept, EventReject, EventCancel, EventEnd}
)

// Targeted reports whether receivers must also check the target field.
func (e Event) Targeted() bool {
	switch e {
	case EventOffer, EventAnswer, EventICECandidate:
		return true
	}
	return false
}

func (e Event) String() string { return string(e) }

// Addressed is implemented by every mesh payload.
type Addressed interface {
	From() domain.UserID
	To() domain.UserID
}

type JoinRequest struct {
	Sender domain.UserID `json:"sender"`
}

type Offer struct {
	Target domain.UserID             `json:"target"`
	Sender domain.UserID             `json:"sender"`
	Offer  webrtc.SessionDescription `json:"offer"`
}

type Answer struct {
	Target domain.UserID             `json:"target"`
	Sender domain.UserID             `json:"sender"`
	Answer webrtc.SessionDescription `json:"answer"`
}

type ICECandidate struct {
	Target    domain.UserID           `json:"target"`
	Sender    domain.UserID           `json:"sender"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

type Leave struct {
	Sender domain.UserID `json:"sender"`
}

func (p JoinRequest) From() domain.UserID  { return p.Sender }
func (p JoinRequest) To() domain.UserID    { return "" }
func (p Offer) From() domain.UserID        { return p.Sender }
func (p Offer) To() domain.UserID          { return p.Target }
func (p Answer) From() domain.UserID       { return p.Sender }
func (p Answer) To() domain.UserID         { return p.Target }
func (p ICECandidate) From() domain.UserID { return p.Sender }
func (p ICECandidate) To() domain.UserID   { return p.Target }
func (p Leave) From() domain.UserID        { return p.Sender }
func (p Leave) To() domain.UserID          { return "" }

// CallEnvelope is the payload of every call event. The conversation and
// room ids let a receiver discard events for a call it no longer tracks.
type CallEnvelope struct {
	ConversationID domain.ConversationID `json:"conversationId"`
	RoomID         domain.RoomID         `json:"roomId"`
	CallerID       domain.UserID         `json:"callerId,omitempty"`
	ResponderID    domain.UserID         `json:"responderId,omitempty"`
	CallType       domain.CallType       `json:"callType,omitempty"`
}

// Sender is whoever published the envelope.
func (e CallEnvelope) Sender() domain.UserID {
	if e.ResponderID != "" {
		return e.ResponderID
	}
	return e.CallerID
}
