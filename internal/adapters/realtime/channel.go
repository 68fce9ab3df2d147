package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/voicemesh/internal/core"
)

type channelState int

const (
	stateIdle channelState = iota
	stateJoining
	stateJoined
	stateClosed
)

// Channel is one topic subscription on a Socket.
type Channel struct {
	s     *Socket
	topic string
	opts  core.ChannelOptions

	// guarded by s.mu
	state    channelState
	conn     *wsConn
	ref      string
	timer    *clock.Timer
	statusFn func(core.ChannelStatus, error)

	hmu      sync.RWMutex
	handlers map[string][]func(json.RawMessage)
}

func (c *Channel) Topic() string { return c.topic }

func (c *Channel) On(event string, fn func(json.RawMessage)) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.handlers[event] = append(c.handlers[event], fn)
}

// Subscribe starts the join in the background. A channel subscribes once;
// later calls are ignored.
func (c *Channel) Subscribe(fn func(core.ChannelStatus, error)) {
	c.s.mu.Lock()
	if c.state != stateIdle {
		c.s.mu.Unlock()
		return
	}
	c.state = stateJoining
	c.statusFn = fn
	c.s.channels[c] = struct{}{}
	c.s.mu.Unlock()

	go c.s.join(c)
}

func (c *Channel) Send(ctx context.Context, event string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.s.mu.Lock()
	if c.state != stateJoined {
		c.s.mu.Unlock()
		return core.ErrChannelClosed
	}
	conn := c.conn
	c.s.mu.Unlock()

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	frame, err := core.EncodeMessage(c.topic, core.EventBroadcast, "", core.BroadcastPayload{
		Type:    core.BroadcastType,
		Event:   event,
		Payload: raw,
	})
	if err != nil {
		return err
	}
	return conn.trySend(frame)
}

func (c *Channel) dispatch(event string, payload json.RawMessage) {
	c.hmu.RLock()
	fns := append(([]func(json.RawMessage))(nil), c.handlers[event]...)
	c.hmu.RUnlock()
	for _, fn := range fns {
		fn(payload)
	}
}
