package orch

import (
	"errors"

	"github.com/dkeye/Presence/internal/core"
	"github.com/dkeye/Presence/internal/domain"
	"github.com/dkeye/Presence/internal/protocol"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotAnnounced    = errors.New("announce yourself with user_online first")
	ErrSelfRequest     = errors.New("cannot send a meeting request to yourself")
	ErrReceiverOffline = errors.New("user is offline")
	ErrNotDelivered    = errors.New("meeting request could not be delivered")
)

// RequestMeeting creates a pending request from the user on sid and delivers
// it to every session of the receiver.
func (o *Orchestrator) RequestMeeting(sid core.SessionID, receiver domain.UserID, meetLink, message string) (domain.MeetingRequest, error) {
	sender, ok := o.Registry.UserOf(sid)
	if !ok {
		return domain.MeetingRequest{}, ErrNotAnnounced
	}
	if receiver == sender.ID {
		return domain.MeetingRequest{}, ErrSelfRequest
	}
	targets := o.Registry.SessionIDsOf(receiver)
	if len(targets) == 0 {
		return domain.MeetingRequest{}, ErrReceiverOffline
	}

	req := o.Collabs.Create(sender, receiver, meetLink, message)
	res := o.deliver(targets, protocol.MeetingRequestReceived{
		Type:            protocol.TypeMeetingRequestReceived,
		CollaborationID: req.CollaborationID,
		SenderID:        req.SenderID,
		SenderName:      req.SenderName,
		ReceiverID:      req.ReceiverID,
		MeetLink:        req.MeetLink,
		Message:         req.Message,
		CreatedAt:       req.CreatedAt,
	})
	if res.SentTo == 0 {
		return req, ErrNotDelivered
	}
	log.Info().Str("module", "app.orch").Str("collab", string(req.CollaborationID)).Int("sent_to", res.SentTo).Msg("meeting request delivered")
	return req, nil
}

// Respond resolves a request on behalf of the user on sid and tells the
// sender. The sender being offline does not undo the resolution.
func (o *Orchestrator) Respond(sid core.SessionID, id domain.CollaborationID, status domain.MeetingStatus) (domain.MeetingRequest, error) {
	responder, ok := o.Registry.UserOf(sid)
	if !ok {
		return domain.MeetingRequest{}, ErrNotAnnounced
	}
	req, err := o.Collabs.Resolve(id, responder.ID, status)
	if err != nil {
		return req, err
	}

	resp := protocol.MeetingRequestResponse{
		Type:            protocol.TypeMeetingRequestResponse,
		CollaborationID: req.CollaborationID,
		Status:          req.Status,
		ResponderID:     responder.ID,
		ResponderName:   responder.DisplayName(),
	}
	if req.Status == domain.StatusAccepted {
		resp.MeetLink = req.MeetLink
	}
	res := o.deliver(o.Registry.SessionIDsOf(req.SenderID), resp)
	log.Info().Str("module", "app.orch").Str("collab", string(id)).Str("status", string(status)).Int("sent_to", res.SentTo).Msg("meeting response delivered")
	return req, nil
}

// History lists the meeting requests uid took part in, newest first.
func (o *Orchestrator) History(uid domain.UserID) []domain.MeetingRequest {
	return o.Collabs.History(uid)
}
