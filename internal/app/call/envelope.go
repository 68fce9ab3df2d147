package call

import (
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/dkeye/voicemesh/internal/signaling"
)

// envelope describes call d as published by self. Caller and responder are
// filled from the side self is on.
func envelope(self domain.UserID, d domain.CallData) signaling.CallEnvelope {
	env := signaling.CallEnvelope{
		ConversationID: d.ConversationID,
		RoomID:         d.RoomID,
	}
	if d.Initiator {
		env.CallerID = self
		env.CallType = d.Type
	} else {
		env.CallerID = d.RemoteID()
		env.ResponderID = self
	}
	return env
}
