package domain

import "github.com/google/uuid"

type (
	RoomID         string
	ConversationID string
)

const (
	VoiceTopicPrefix = "voice:"
	InboxTopicPrefix = "call-inbox:"
)

// NewRoomID returns a fresh unique room id for a call.
func NewRoomID() RoomID {
	return RoomID(uuid.NewString())
}

// VoiceTopic is the broadcast topic carrying mesh signaling for a room.
func VoiceTopic(id RoomID) string {
	return VoiceTopicPrefix + string(id)
}

// InboxTopic is the per-user channel that receives call control events.
func InboxTopic(id UserID) string {
	return InboxTopicPrefix + string(id)
}
