package signal

import (
	"encoding/json"
	"errors"

	"github.com/dkeye/Presence/internal/app/orch"
	"github.com/dkeye/Presence/internal/core"
	"github.com/dkeye/Presence/internal/domain"
	"github.com/dkeye/Presence/internal/protocol"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleSendMeetingRequest(
	sid core.SessionID,
	conn *WsSignalConn,
	data []byte,
) {
	reject := func(msg string) {
		ctl.sendJSON(conn, protocol.MeetingRequestSent{
			Type:    protocol.TypeMeetingRequestSent,
			Success: false,
			Message: msg,
		})
	}

	var p protocol.SendMeetingRequest
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad send_meeting_request payload")
		reject("bad_payload")
		return
	}
	if p.ReceiverID == "" {
		reject("receiverId is required")
		return
	}

	sender, ok := ctl.Orch.Registry.UserOf(sid)
	if !ok {
		reject(orch.ErrNotAnnounced.Error())
		return
	}
	if !ctl.Limiter.Allow(sender.ID) {
		log.Warn().Str("module", "signal").Str("user", string(sender.ID)).Msg("meeting request rate limited")
		reject("too many meeting requests, try again later")
		return
	}

	req, err := ctl.Orch.RequestMeeting(sid, p.ReceiverID, p.MeetLink, p.Message)
	if err != nil {
		log.Info().Err(err).Str("module", "signal").Str("sid", string(sid)).Str("receiver", string(p.ReceiverID)).Msg("meeting request rejected")
		reject(err.Error())
		return
	}
	ctl.sendJSON(conn, protocol.MeetingRequestSent{
		Type:            protocol.TypeMeetingRequestSent,
		Success:         true,
		Message:         "Meeting request sent",
		CollaborationID: req.CollaborationID,
	})
}

func (ctl *SignalWSController) handleDecision(
	sid core.SessionID,
	conn *WsSignalConn,
	msgType string,
	data []byte,
) {
	status, _ := protocol.DecisionStatus(msgType)

	var p protocol.MeetingDecision
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Str("type", msgType).Msg("bad decision payload")
		ctl.sendJSON(conn, protocol.ResponseSent{Type: protocol.TypeResponseSent, Success: false, Message: "bad_payload"})
		return
	}

	req, err := ctl.Orch.Respond(sid, p.CollaborationID, status)
	if err != nil {
		log.Info().Err(err).Str("module", "signal").Str("collab", string(p.CollaborationID)).Msg("decision rejected")
		ctl.sendJSON(conn, protocol.ResponseSent{
			Type:            protocol.TypeResponseSent,
			Success:         false,
			Status:          req.Status,
			Message:         decisionError(err),
			CollaborationID: p.CollaborationID,
		})
		return
	}

	resp := protocol.ResponseSent{
		Type:            protocol.TypeResponseSent,
		Success:         true,
		Status:          req.Status,
		Message:         "Meeting request " + string(req.Status),
		CollaborationID: req.CollaborationID,
	}
	if req.Status == domain.StatusAccepted {
		resp.MeetLink = req.MeetLink
	}
	ctl.sendJSON(conn, resp)
}

func decisionError(err error) string {
	if errors.Is(err, domain.ErrStatusTransition) {
		return "meeting request already answered"
	}
	return err.Error()
}
