package orch

import (
	"encoding/json"

	"github.com/dkeye/Presence/internal/app"
	"github.com/dkeye/Presence/internal/core"
	"github.com/rs/zerolog/log"
)

type Orchestrator struct {
	Registry *app.Registry
	Collabs  *app.CollabStore
	Policy   app.Policy
}

// SendTo encodes v once and queues it on sid.
func (o *Orchestrator) SendTo(sid core.SessionID, v any) bool {
	res := o.deliver([]core.SessionID{sid}, v)
	return res.SentTo == 1
}

func (o *Orchestrator) deliver(sids []core.SessionID, v any) core.PublishResult {
	var res core.PublishResult
	if len(sids) == 0 {
		return res
	}
	frame, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "app.orch").Msg("encode frame")
		return res
	}
	for _, sid := range sids {
		sess, ok := o.Registry.GetSession(sid)
		if !ok || sess.Signal() == nil {
			continue
		}
		if err := sess.Signal().TrySend(frame); err != nil {
			log.Warn().Err(err).Str("module", "app.orch").Str("sid", string(sid)).Msg("send failed")
			res.Dropped = append(res.Dropped, sid)
			continue
		}
		res.SentTo++
	}
	o.applyPolicy(res.Dropped)
	return res
}

func (o *Orchestrator) applyPolicy(dropped []core.SessionID) {
	if o.Policy == nil {
		return
	}
	for _, sid := range dropped {
		sess, ok := o.Registry.GetSession(sid)
		if !ok {
			continue
		}
		switch o.Policy.OnBackPressure(sess) {
		case app.KickSession:
			o.KickBySID(sid)
		case app.DropFrame, app.NoAction:
		}
	}
}

// KickBySID cancels the session; its pumps exit and OnDisconnect follows.
func (o *Orchestrator) KickBySID(sid core.SessionID) {
	if o.Registry.Cancel(sid) {
		log.Info().Str("module", "app.orch").Str("sid", string(sid)).Msg("kicked session")
	}
}
