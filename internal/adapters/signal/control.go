package signal

import "github.com/dkeye/voicemesh/internal/core"

func (ctl *SignalWSController) handleHeartbeat(conn *WsSignalConn, msg core.Message) {
	ctl.reply(conn, msg, core.ReplyOK, "")
}
