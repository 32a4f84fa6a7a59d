package signal

import (
	"encoding/json"

	"github.com/dkeye/Presence/internal/core"
	"github.com/dkeye/Presence/internal/domain"
	"github.com/dkeye/Presence/internal/protocol"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleUserOnline(
	sid core.SessionID,
	conn *WsSignalConn,
	data []byte,
) {
	var p protocol.UserOnline
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad user_online payload")
		ctl.sendError(conn, "bad_payload")
		return
	}
	user, err := domain.NewUser(string(p.UserID), p.Name, p.Email)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("rejected user_online")
		ctl.sendError(conn, err.Error())
		return
	}
	ctl.Orch.Announce(sid, *user)
}

func (ctl *SignalWSController) handleGetOnlineUsers(conn *WsSignalConn) {
	ctl.sendJSON(conn, protocol.OnlineUsers{
		Type:  protocol.TypeOnlineUsersList,
		Users: ctl.Orch.OnlineUsers(),
	})
}
