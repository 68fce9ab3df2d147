package signal

import (
	"encoding/json"
	"strings"

	"github.com/dkeye/voicemesh/internal/core"
	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/rs/zerolog/log"
)

const maxTopicLen = 128

func validTopic(name string) bool {
	if name == "" || len(name) > maxTopicLen {
		return false
	}
	return strings.HasPrefix(name, domain.VoiceTopicPrefix) || strings.HasPrefix(name, domain.InboxTopicPrefix)
}

func (ctl *SignalWSController) handleJoin(sid core.SessionID, conn *WsSignalConn, msg core.Message) {
	if !validTopic(msg.Topic) {
		ctl.reply(conn, msg, core.ReplyError, "bad_topic")
		return
	}
	var p core.JoinPayload
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			log.Error().Err(err).Str("module", "signal").Msg("bad join payload")
			ctl.reply(conn, msg, core.ReplyError, "bad_payload")
			return
		}
	}
	if !ctl.Orch.Join(sid, msg.Topic, p.Config.Broadcast.Self) {
		ctl.reply(conn, msg, core.ReplyError, "not_connected")
		return
	}
	ctl.reply(conn, msg, core.ReplyOK, "")
}

func (ctl *SignalWSController) handleLeave(sid core.SessionID, conn *WsSignalConn, msg core.Message) {
	ctl.Orch.Leave(sid, msg.Topic)
	ctl.reply(conn, msg, core.ReplyOK, "")
}

func (ctl *SignalWSController) handleBroadcast(sid core.SessionID, conn *WsSignalConn, msg core.Message) {
	if ctl.Limiter != nil && !ctl.Limiter.Allow(sid) {
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Str("topic", msg.Topic).Msg("rate limited")
		ctl.sendError(conn, msg.Topic, msg.Ref, "rate_limited")
		return
	}
	var p core.BroadcastPayload
	if err := json.Unmarshal(msg.Payload, &p); err != nil || p.Event == "" {
		ctl.sendError(conn, msg.Topic, msg.Ref, "bad_payload")
		return
	}
	p.Type = core.BroadcastType
	frame, err := core.EncodeMessage(msg.Topic, core.EventBroadcast, "", p)
	if err != nil {
		return
	}
	if _, ok := ctl.Orch.Publish(sid, msg.Topic, frame); !ok {
		ctl.sendError(conn, msg.Topic, msg.Ref, "not_joined")
		return
	}
	ctl.reply(conn, msg, core.ReplyOK, "")
}
