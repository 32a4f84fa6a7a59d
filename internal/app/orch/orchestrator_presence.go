package orch

import (
	"github.com/dkeye/Presence/internal/core"
	"github.com/dkeye/Presence/internal/domain"
	"github.com/dkeye/Presence/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Announce binds u to sid and pushes the new online set to everyone.
func (o *Orchestrator) Announce(sid core.SessionID, u domain.User) bool {
	prev, hadPrev := o.Registry.UserOf(sid)
	first, ok := o.Registry.Announce(sid, u)
	if !ok {
		return false
	}
	log.Info().Str("module", "app.orch").Str("sid", string(sid)).Str("user", string(u.ID)).Bool("first_session", first).Msg("user online")
	if hadPrev && prev.ID != u.ID {
		log.Info().Str("module", "app.orch").Str("sid", string(sid)).Str("from", string(prev.ID)).Str("to", string(u.ID)).Msg("session switched identity")
	}
	o.BroadcastPresence()
	return true
}

func (o *Orchestrator) OnlineUsers() []domain.User {
	return o.Registry.OnlineUsers()
}

// BroadcastPresence sends online_users_updated to every session.
func (o *Orchestrator) BroadcastPresence() {
	msg := protocol.OnlineUsers{
		Type:  protocol.TypeOnlineUsersUpdated,
		Users: o.Registry.OnlineUsers(),
	}
	res := o.deliver(o.Registry.SessionIDs(), msg)
	log.Debug().Str("module", "app.orch").Int("online", len(msg.Users)).Int("sent_to", res.SentTo).Msg("presence broadcast")
}

// OnDisconnect forgets sid. Peers hear about it only when the user's last
// session is gone.
func (o *Orchestrator) OnDisconnect(sid core.SessionID) {
	u, last := o.Registry.Unbind(sid)
	if !last {
		return
	}
	log.Info().Str("module", "app.orch").Str("user", string(u.ID)).Msg("user offline")
	o.BroadcastPresence()
}
