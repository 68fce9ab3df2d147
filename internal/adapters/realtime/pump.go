package realtime

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

func (s *Socket) writePump(c *wsConn) {
	ticker := s.opts.Clock.Ticker(s.opts.HeartbeatPeriod)
	defer ticker.Stop()

	for {
		var data core.Frame
		select {
		case <-c.done:
			return
		case data = <-c.send:
		case <-ticker.C:
			hb, err := core.EncodeMessage(core.RelayTopic, core.EventHeartbeat, uuid.NewString(), nil)
			if err != nil {
				continue
			}
			data = hb
		}
		if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			s.drop(c, err)
			return
		}
		if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
			s.log.Error().Err(err).Msg("write error")
			s.drop(c, err)
			return
		}
	}
}

func (s *Socket) readPump(c *wsConn) {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			s.drop(c, err)
			return
		}
		s.dispatch(c, data)
	}
}

func (s *Socket) dispatch(c *wsConn, data []byte) {
	var msg core.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		s.log.Warn().Err(err).Msg("bad frame")
		return
	}
	switch msg.Event {
	case core.EventReply:
		s.onReply(msg)
	case core.EventBroadcast:
		s.onBroadcast(c, msg)
	case core.EventClose:
		s.onClose(c, msg)
	case core.EventError:
		var p core.ReplyPayload
		_ = json.Unmarshal(msg.Payload, &p)
		s.log.Warn().Str("topic", msg.Topic).Str("reason", p.Response).Msg("relay error")
	default:
		s.log.Debug().Str("event", msg.Event).Msg("unknown relay event")
	}
}

func (s *Socket) onReply(msg core.Message) {
	s.mu.Lock()
	ch, ok := s.pending[msg.Ref]
	if !ok || ch.state != stateJoining {
		s.mu.Unlock()
		return
	}
	delete(s.pending, msg.Ref)
	var p core.ReplyPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil || p.Status != core.ReplyOK {
		reason := p.Response
		if reason == "" {
			reason = "join rejected"
		}
		report := s.closeLocked(ch)
		s.mu.Unlock()
		s.log.Warn().Str("topic", ch.topic).Str("reason", reason).Msg("join rejected")
		report(core.StatusChannelError, errors.New(reason))
		return
	}
	ch.state = stateJoined
	if ch.timer != nil {
		ch.timer.Stop()
		ch.timer = nil
	}
	fn := ch.statusFn
	s.mu.Unlock()

	s.log.Debug().Str("topic", ch.topic).Msg("subscribed")
	if fn != nil {
		fn(core.StatusSubscribed, nil)
	}
}

func (s *Socket) onBroadcast(c *wsConn, msg core.Message) {
	var p core.BroadcastPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil {
		s.log.Warn().Err(err).Str("topic", msg.Topic).Msg("bad broadcast")
		return
	}
	s.mu.Lock()
	var targets []*Channel
	for ch := range s.channels {
		if ch.topic == msg.Topic && ch.conn == c && ch.state == stateJoined {
			targets = append(targets, ch)
		}
	}
	s.mu.Unlock()

	for _, ch := range targets {
		ch.dispatch(p.Event, p.Payload)
	}
}

func (s *Socket) onClose(c *wsConn, msg core.Message) {
	s.mu.Lock()
	var reports []func(core.ChannelStatus, error)
	for ch := range s.channels {
		if ch.topic == msg.Topic && ch.conn == c {
			reports = append(reports, s.closeLocked(ch))
		}
	}
	s.mu.Unlock()

	if len(reports) > 0 {
		s.log.Warn().Str("topic", msg.Topic).Msg("topic closed by relay")
	}
	for _, report := range reports {
		report(core.StatusClosed, ErrKicked)
	}
}
