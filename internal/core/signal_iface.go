package core

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	ErrBackpressure  = errors.New("backpressure")
	ErrChannelClosed = errors.New("channel closed")
)

// ChannelStatus is reported to a channel's subscribe callback.
type ChannelStatus string

const (
	StatusSubscribed   ChannelStatus = "SUBSCRIBED"
	StatusClosed       ChannelStatus = "CLOSED"
	StatusTimedOut     ChannelStatus = "TIMED_OUT"
	StatusChannelError ChannelStatus = "CHANNEL_ERROR"
)

type ChannelOptions struct {
	// SelfEcho asks the backend to deliver our own broadcasts back to us.
	SelfEcho bool
}

// Channel is one named broadcast topic joined through a Transport.
// Handlers and status callbacks run on the transport's goroutines.
type Channel interface {
	Topic() string
	// On registers a handler for broadcasts carrying event.
	On(event string, fn func(payload json.RawMessage))
	// Subscribe starts joining; fn receives every status change until removal.
	Subscribe(fn func(status ChannelStatus, err error))
	// Send enqueues a broadcast and never waits for the network.
	Send(ctx context.Context, event string, payload any) error
}

// Transport is the ephemeral pub/sub backend. Delivery is at-most-once.
type Transport interface {
	Channel(topic string, opts ChannelOptions) Channel
	// RemoveChannel leaves the topic; the channel reports CLOSED afterwards.
	RemoveChannel(ch Channel) error
}
