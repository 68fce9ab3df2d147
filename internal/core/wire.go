package core

import "encoding/json"

// Relay wire events.
const (
	EventJoin      = "join"
	EventLeave     = "leave"
	EventBroadcast = "broadcast"
	EventHeartbeat = "heartbeat"
	EventReply     = "reply"
	EventClose     = "close"
	EventError     = "error"
)

// RelayTopic addresses control frames that belong to no channel.
const RelayTopic = "relay"

const (
	ReplyOK    = "ok"
	ReplyError = "error"
)

// Message is the single frame shape exchanged between clients and the relay.
type Message struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Ref     string          `json:"ref,omitempty"`
}

const BroadcastType = "broadcast"

type JoinPayload struct {
	Config JoinConfig `json:"config"`
}

type JoinConfig struct {
	Broadcast BroadcastConfig `json:"broadcast"`
}

type BroadcastConfig struct {
	// Self echoes the member's own broadcasts back to it.
	Self bool `json:"self"`
}

func NewJoinPayload(selfEcho bool) JoinPayload {
	return JoinPayload{Config: JoinConfig{Broadcast: BroadcastConfig{Self: selfEcho}}}
}

// BroadcastPayload wraps an application event published on a topic.
type BroadcastPayload struct {
	Type    string          `json:"type"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}

type ReplyPayload struct {
	Status   string `json:"status"`
	Response string `json:"response,omitempty"`
}

func EncodeMessage(topic, event, ref string, payload any) (Frame, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return json.Marshal(Message{Topic: topic, Event: event, Payload: raw, Ref: ref})
}
