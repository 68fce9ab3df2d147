package coretest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/dkeye/voicemesh/internal/core"
)

type Sent struct {
	Event   string
	Payload json.RawMessage
}

// Hub is an in-memory broadcast backend shared by fake transports.
// Delivery is synchronous and only reaches subscribed channels.
type Hub struct {
	mu       sync.Mutex
	channels []*Channel
}

func NewHub() *Hub { return &Hub{} }

// Transport returns a new client of the hub. With manual set, channels
// wait for SetStatus instead of subscribing immediately.
func (h *Hub) Transport(manual bool) *Transport {
	return &Transport{hub: h, Manual: manual}
}

func (h *Hub) deliver(from *Channel, event string, payload json.RawMessage) {
	h.mu.Lock()
	var targets []*Channel
	for _, ch := range h.channels {
		if ch.topic != from.topic || !ch.isSubscribed() {
			continue
		}
		if ch == from && !ch.opts.SelfEcho {
			continue
		}
		targets = append(targets, ch)
	}
	h.mu.Unlock()
	for _, ch := range targets {
		ch.dispatch(event, payload)
	}
}

type Transport struct {
	Manual bool
	// SendErr makes every Send fail.
	SendErr error

	hub *Hub

	mu       sync.Mutex
	channels []*Channel
	removed  []string
}

func NewTransport(manual bool) *Transport {
	return NewHub().Transport(manual)
}

func (t *Transport) Channel(topic string, opts core.ChannelOptions) core.Channel {
	ch := &Channel{
		topic:     topic,
		opts:      opts,
		transport: t,
		handlers:  make(map[string]func(json.RawMessage)),
	}
	t.mu.Lock()
	t.channels = append(t.channels, ch)
	t.mu.Unlock()
	t.hub.mu.Lock()
	t.hub.channels = append(t.hub.channels, ch)
	t.hub.mu.Unlock()
	return ch
}

func (t *Transport) RemoveChannel(c core.Channel) error {
	ch, ok := c.(*Channel)
	if !ok {
		return nil
	}
	ch.mu.Lock()
	already := ch.removed
	ch.removed = true
	ch.subscribed = false
	ch.mu.Unlock()
	if already {
		return nil
	}
	t.mu.Lock()
	t.removed = append(t.removed, ch.topic)
	t.mu.Unlock()
	ch.report(core.StatusClosed, nil)
	return nil
}

// Channels lists every channel ever created for topic, oldest first.
func (t *Transport) Channels(topic string) []*Channel {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*Channel
	for _, ch := range t.channels {
		if ch.topic == topic {
			out = append(out, ch)
		}
	}
	return out
}

func (t *Transport) Last(topic string) *Channel {
	all := t.Channels(topic)
	if len(all) == 0 {
		return nil
	}
	return all[len(all)-1]
}

func (t *Transport) Removed() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.removed...)
}

// Active counts channels that were not removed.
func (t *Transport) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, ch := range t.channels {
		if !ch.Removed() {
			n++
		}
	}
	return n
}

type Channel struct {
	topic     string
	opts      core.ChannelOptions
	transport *Transport

	mu         sync.Mutex
	handlers   map[string]func(json.RawMessage)
	status     func(core.ChannelStatus, error)
	subscribed bool
	removed    bool
	sent       []Sent
}

func (c *Channel) Topic() string { return c.topic }

func (c *Channel) Options() core.ChannelOptions { return c.opts }

func (c *Channel) On(event string, fn func(json.RawMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = fn
}

func (c *Channel) Subscribe(fn func(core.ChannelStatus, error)) {
	c.mu.Lock()
	c.status = fn
	c.mu.Unlock()
	if !c.transport.Manual {
		c.SetStatus(core.StatusSubscribed, nil)
	}
}

func (c *Channel) Send(_ context.Context, event string, payload any) error {
	if err := c.transport.SendErr; err != nil {
		return err
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	if c.removed || !c.subscribed {
		c.mu.Unlock()
		return core.ErrChannelClosed
	}
	c.sent = append(c.sent, Sent{Event: event, Payload: b})
	c.mu.Unlock()
	c.transport.hub.deliver(c, event, b)
	return nil
}

// SetStatus simulates the backend reporting a lifecycle change.
func (c *Channel) SetStatus(s core.ChannelStatus, err error) {
	c.mu.Lock()
	if c.removed {
		c.mu.Unlock()
		return
	}
	c.subscribed = s == core.StatusSubscribed
	c.mu.Unlock()
	c.report(s, err)
}

// Emit simulates an inbound broadcast from another client.
func (c *Channel) Emit(event string, payload any) {
	b, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	c.dispatch(event, b)
}

func (c *Channel) Sent() []Sent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Sent(nil), c.sent...)
}

func (c *Channel) SentEvents(event string) []Sent {
	var out []Sent
	for _, s := range c.Sent() {
		if s.Event == event {
			out = append(out, s)
		}
	}
	return out
}

func (c *Channel) Removed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removed
}

func (c *Channel) isSubscribed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subscribed && !c.removed
}

func (c *Channel) report(s core.ChannelStatus, err error) {
	c.mu.Lock()
	fn := c.status
	c.mu.Unlock()
	if fn != nil {
		fn(s, err)
	}
}

func (c *Channel) dispatch(event string, payload json.RawMessage) {
	c.mu.Lock()
	fn := c.handlers[event]
	removed := c.removed
	c.mu.Unlock()
	if fn != nil && !removed {
		fn(payload)
	}
}
