// Package realtime is the client side of the broadcast relay: one websocket
// multiplexing every joined topic.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/voicemesh/internal/core"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultSubscribeTimeout = 10 * time.Second
	DefaultHeartbeatPeriod  = 25 * time.Second
	defaultSendBuffer       = 64
	writeWait               = 5 * time.Second
)

var (
	ErrSocketClosed = errors.New("socket closed")
	ErrKicked       = errors.New("closed by relay")
	ErrForeignChan  = errors.New("channel belongs to another transport")
)

type Options struct {
	URL              string
	SubscribeTimeout time.Duration
	HeartbeatPeriod  time.Duration
	SendBuffer       int
	Clock            clock.Clock
	Dialer           *websocket.Dialer
}

// Socket implements core.Transport. It dials lazily on the first subscribe
// and redials on the next one after the connection is lost.
type Socket struct {
	opts Options
	log  zerolog.Logger

	dialMu sync.Mutex

	mu       sync.Mutex
	conn     *wsConn
	channels map[*Channel]struct{}
	pending  map[string]*Channel
	closed   bool
}

type wsConn struct {
	ws   *websocket.Conn
	send chan core.Frame
	done chan struct{}
	once sync.Once
}

func (c *wsConn) trySend(f core.Frame) error {
	select {
	case <-c.done:
		return core.ErrChannelClosed
	default:
	}
	select {
	case c.send <- f:
		return nil
	default:
		return core.ErrBackpressure
	}
}

func (c *wsConn) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

func NewSocket(opts Options) *Socket {
	if opts.SubscribeTimeout <= 0 {
		opts.SubscribeTimeout = DefaultSubscribeTimeout
	}
	if opts.HeartbeatPeriod <= 0 {
		opts.HeartbeatPeriod = DefaultHeartbeatPeriod
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	return &Socket{
		opts:     opts,
		log:      log.With().Str("module", "realtime").Logger(),
		channels: make(map[*Channel]struct{}),
		pending:  make(map[string]*Channel),
	}
}

func (s *Socket) Channel(topic string, opts core.ChannelOptions) core.Channel {
	return &Channel{
		s:        s,
		topic:    topic,
		opts:     opts,
		handlers: make(map[string][]func(json.RawMessage)),
	}
}

func (s *Socket) RemoveChannel(c core.Channel) error {
	ch, ok := c.(*Channel)
	if !ok || ch.s != s {
		return ErrForeignChan
	}
	s.mu.Lock()
	prev := ch.state
	if prev == stateClosed {
		s.mu.Unlock()
		return nil
	}
	conn := ch.conn
	report := s.closeLocked(ch)
	shared := s.topicInUseLocked(ch.topic, conn)
	s.mu.Unlock()

	if conn != nil && !shared && (prev == stateJoined || prev == stateJoining) {
		if f, err := core.EncodeMessage(ch.topic, core.EventLeave, "", nil); err == nil {
			_ = conn.trySend(f)
		}
	}
	s.log.Debug().Str("topic", ch.topic).Msg("channel removed")
	report(core.StatusClosed, nil)
	return nil
}

// Close drops the connection. Every live channel reports CLOSED.
func (s *Socket) Close() error {
	s.mu.Lock()
	s.closed = true
	c := s.conn
	s.mu.Unlock()
	if c != nil {
		s.drop(c, ErrSocketClosed)
	}
	return nil
}

// Connected reports whether a websocket is currently open.
func (s *Socket) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

func (s *Socket) connect() (*wsConn, error) {
	s.dialMu.Lock()
	defer s.dialMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSocketClosed
	}
	if s.conn != nil {
		c := s.conn
		s.mu.Unlock()
		return c, nil
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.SubscribeTimeout)
	defer cancel()
	ws, _, err := s.opts.Dialer.DialContext(ctx, s.opts.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", s.opts.URL, err)
	}
	c := &wsConn{
		ws:   ws,
		send: make(chan core.Frame, s.opts.SendBuffer),
		done: make(chan struct{}),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		c.close()
		return nil, ErrSocketClosed
	}
	s.conn = c
	s.mu.Unlock()

	s.log.Info().Str("url", s.opts.URL).Msg("connected")
	go s.writePump(c)
	go s.readPump(c)
	return c, nil
}

func (s *Socket) join(ch *Channel) {
	conn, err := s.connect()

	s.mu.Lock()
	if ch.state != stateJoining {
		// removed while dialing
		s.mu.Unlock()
		return
	}
	if err != nil {
		report := s.closeLocked(ch)
		s.mu.Unlock()
		s.log.Error().Err(err).Str("topic", ch.topic).Msg("join failed")
		report(core.StatusChannelError, err)
		return
	}
	ref := uuid.NewString()
	ch.ref = ref
	ch.conn = conn
	s.pending[ref] = ch
	ch.timer = s.opts.Clock.AfterFunc(s.opts.SubscribeTimeout, func() { s.joinTimedOut(ch, ref) })
	s.mu.Unlock()

	frame, err := core.EncodeMessage(ch.topic, core.EventJoin, ref, core.NewJoinPayload(ch.opts.SelfEcho))
	if err == nil {
		err = conn.trySend(frame)
	}
	if err != nil {
		s.fail(ch, ref, core.StatusChannelError, err)
	}
}

func (s *Socket) joinTimedOut(ch *Channel, ref string) {
	s.mu.Lock()
	conn := ch.conn
	s.mu.Unlock()
	if !s.fail(ch, ref, core.StatusTimedOut, nil) {
		return
	}
	s.log.Warn().Str("topic", ch.topic).Msg("join timed out")
	// the relay may still accept the late join
	if conn != nil {
		if f, err := core.EncodeMessage(ch.topic, core.EventLeave, "", nil); err == nil {
			_ = conn.trySend(f)
		}
	}
}

// fail ends a join attempt identified by ref. It reports whether the
// attempt was still pending.
func (s *Socket) fail(ch *Channel, ref string, st core.ChannelStatus, err error) bool {
	s.mu.Lock()
	if ch.state != stateJoining || ch.ref != ref {
		s.mu.Unlock()
		return false
	}
	report := s.closeLocked(ch)
	s.mu.Unlock()
	report(st, err)
	return true
}

// closeLocked retires ch and returns the status callback to run once the
// lock is released.
func (s *Socket) closeLocked(ch *Channel) func(core.ChannelStatus, error) {
	ch.state = stateClosed
	if ch.timer != nil {
		ch.timer.Stop()
		ch.timer = nil
	}
	if ch.ref != "" {
		delete(s.pending, ch.ref)
	}
	delete(s.channels, ch)
	fn := ch.statusFn
	return func(st core.ChannelStatus, err error) {
		if fn != nil {
			fn(st, err)
		}
	}
}

func (s *Socket) topicInUseLocked(topic string, conn *wsConn) bool {
	for other := range s.channels {
		if other.topic == topic && other.conn == conn && other.state == stateJoined {
			return true
		}
	}
	return false
}

func (s *Socket) drop(c *wsConn, cause error) {
	c.close()

	s.mu.Lock()
	if s.conn == c {
		s.conn = nil
	}
	var reports []func(core.ChannelStatus, error)
	for ch := range s.channels {
		if ch.conn == c {
			reports = append(reports, s.closeLocked(ch))
		}
	}
	s.mu.Unlock()

	if len(reports) > 0 {
		s.log.Warn().Err(cause).Int("channels", len(reports)).Msg("connection lost")
	}
	err := fmt.Errorf("%w: %v", ErrSocketClosed, cause)
	for _, report := range reports {
		report(core.StatusClosed, err)
	}
}
