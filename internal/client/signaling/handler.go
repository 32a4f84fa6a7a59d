// Package signaling runs the meeting-request state machine on top of a
// transport session. Every method that touches handler state is executed on
// the transport loop; outcomes surface as notifications and bus events,
// never as returned errors.
package signaling

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dkeye/Presence/internal/client/eventbus"
	"github.com/dkeye/Presence/internal/client/notify"
	"github.com/dkeye/Presence/internal/client/presence"
	"github.com/dkeye/Presence/internal/domain"
	"github.com/dkeye/Presence/internal/protocol"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Transport is the part of transport.Session the handler needs.
type Transport interface {
	Post(fn func()) bool
	Send(v any) error
	IsConnected() bool
	OnConnected(fn func())
	OnMessage(fn func([]byte))
}

type Handler struct {
	self    domain.Identity
	tr      Transport
	tracker *presence.Tracker
	sink    *notify.Sink
	bus     *eventbus.Bus
	logger  zerolog.Logger

	mu       sync.RWMutex
	incoming []domain.MeetingRequest
	outgoing map[domain.CollaborationID]*domain.MeetingRequest

	// loop-owned
	awaitingAck []domain.MeetingRequest
	answered    map[domain.CollaborationID]struct{}
	concluded   map[domain.CollaborationID]struct{}
}

// New wires a handler to tr. It announces the identity on every connect.
func New(self domain.Identity, tr Transport, tracker *presence.Tracker, sink *notify.Sink, bus *eventbus.Bus) *Handler {
	h := &Handler{
		self:      self,
		tr:        tr,
		tracker:   tracker,
		sink:      sink,
		bus:       bus,
		logger:    log.With().Str("module", "client.signaling").Str("user", string(self.ID)).Logger(),
		outgoing:  make(map[domain.CollaborationID]*domain.MeetingRequest),
		answered:  make(map[domain.CollaborationID]struct{}),
		concluded: make(map[domain.CollaborationID]struct{}),
	}
	tr.OnConnected(h.onConnected)
	tr.OnMessage(h.onMessage)
	return h
}

func (h *Handler) Tracker() *presence.Tracker { return h.tracker }

// Incoming returns the pending requests addressed to the local user.
func (h *Handler) Incoming() []domain.MeetingRequest {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]domain.MeetingRequest, len(h.incoming))
	copy(out, h.incoming)
	return out
}

// Outgoing returns the acknowledged requests sent by the local user, in any
// status.
func (h *Handler) Outgoing() []domain.MeetingRequest {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]domain.MeetingRequest, 0, len(h.outgoing))
	for _, r := range h.outgoing {
		out = append(out, *r)
	}
	return out
}

func (h *Handler) onConnected() {
	// acks for sends on the previous connection will not arrive
	h.awaitingAck = nil

	if err := h.tr.Send(protocol.UserOnline{
		Type:   protocol.TypeUserOnline,
		UserID: h.self.ID,
		Name:   h.self.DisplayName(),
		Email:  h.self.Email,
	}); err != nil {
		h.logger.Error().Err(err).Msg("announce failed")
		return
	}
	if err := h.tr.Send(protocol.GetOnlineUsers{Type: protocol.TypeGetOnlineUsers}); err != nil {
		h.logger.Error().Err(err).Msg("snapshot request failed")
	}
}

// RefreshPresence asks the server for a fresh online snapshot.
func (h *Handler) RefreshPresence() {
	h.run(func() {
		if !h.tr.IsConnected() {
			h.logger.Debug().Msg("refresh presence: not connected")
			return
		}
		if err := h.tr.Send(protocol.GetOnlineUsers{Type: protocol.TypeGetOnlineUsers}); err != nil {
			h.logger.Warn().Err(err).Msg("refresh presence")
		}
	})
}

// SendMeetingRequest invites receiverID to the meeting at meetLink.
func (h *Handler) SendMeetingRequest(receiverID domain.UserID, meetLink, message string) {
	h.run(func() {
		switch {
		case receiverID == "":
			h.fail("Meeting request not sent: no receiver")
			return
		case receiverID == h.self.ID:
			h.fail("Meeting request not sent: cannot invite yourself")
			return
		case !h.tr.IsConnected():
			h.fail("Meeting request not sent: not connected")
			return
		}
		req := domain.MeetingRequest{
			SenderID:   h.self.ID,
			SenderName: h.self.DisplayName(),
			ReceiverID: receiverID,
			MeetLink:   meetLink,
			Message:    message,
		}
		err := h.tr.Send(protocol.SendMeetingRequest{
			Type:       protocol.TypeSendMeetingRequest,
			SenderID:   req.SenderID,
			SenderName: req.SenderName,
			ReceiverID: req.ReceiverID,
			MeetLink:   req.MeetLink,
			Message:    req.Message,
		})
		if err != nil {
			h.logger.Warn().Err(err).Str("receiver", string(receiverID)).Msg("send meeting request")
			h.fail("Meeting request not sent: " + err.Error())
			return
		}
		h.awaitingAck = append(h.awaitingAck, req)
	})
}

func (h *Handler) Accept(id domain.CollaborationID) { h.respond(id, domain.StatusAccepted) }

func (h *Handler) Decline(id domain.CollaborationID) { h.respond(id, domain.StatusDeclined) }

func (h *Handler) respond(id domain.CollaborationID, status domain.MeetingStatus) {
	msgType, _ := protocol.DecisionType(status)
	h.run(func() {
		if !h.tr.IsConnected() {
			h.fail(fmt.Sprintf("Could not %s meeting request: not connected", verb(status)))
			return
		}
		h.mu.RLock()
		idx := h.indexOf(id)
		h.mu.RUnlock()
		if idx < 0 {
			h.fail(fmt.Sprintf("Could not %s meeting request: unknown request", verb(status)))
			return
		}
		err := h.tr.Send(protocol.MeetingDecision{
			Type:            msgType,
			CollaborationID: id,
			ResponderID:     h.self.ID,
			ResponderName:   h.self.DisplayName(),
		})
		if err != nil {
			h.logger.Warn().Err(err).Str("collab", string(id)).Msg("send decision")
			h.fail(fmt.Sprintf("Could not %s meeting request: %v", verb(status), err))
			return
		}
		h.mu.Lock()
		if i := h.indexOf(id); i >= 0 {
			h.incoming = append(h.incoming[:i], h.incoming[i+1:]...)
		}
		h.mu.Unlock()
		h.answered[id] = struct{}{}
		h.logger.Info().Str("collab", string(id)).Str("status", string(status)).Msg("responded")
	})
}

// indexOf expects h.mu held.
func (h *Handler) indexOf(id domain.CollaborationID) int {
	for i, r := range h.incoming {
		if r.CollaborationID == id {
			return i
		}
	}
	return -1
}

// run executes fn on the loop. A torn-down transport can no longer run
// anything, so the action fails locally right here.
func (h *Handler) run(fn func()) {
	if !h.tr.Post(fn) {
		h.fail("Action failed: not connected")
	}
}

func (h *Handler) fail(text string) {
	h.sink.Push(domain.NewNotification(domain.KindError, "", text, nil))
}

func (h *Handler) onMessage(data []byte) {
	typ, err := protocol.PeekType(data)
	if err != nil {
		h.logger.Warn().Err(err).Int("len", len(data)).Msg("drop malformed frame")
		return
	}

	var decoded any
	switch typ {
	case protocol.TypeOnlineUsersUpdated, protocol.TypeOnlineUsersList:
		decoded, err = h.handlePresence(data)
	case protocol.TypeMeetingRequestReceived:
		decoded, err = decodeAnd(data, h.handleIncoming)
	case protocol.TypeMeetingRequestSent:
		decoded, err = decodeAnd(data, h.handleSent)
	case protocol.TypeMeetingRequestResponse:
		decoded, err = decodeAnd(data, h.handleResponse)
	case protocol.TypeResponseSent:
		decoded, err = decodeAnd(data, h.handleResponseSent)
	case protocol.TypeError:
		decoded, err = decodeAnd(data, h.handleError)
	case protocol.TypePong:
		decoded = protocol.Envelope{Type: typ}
	default:
		h.logger.Warn().Str("type", typ).Msg("drop unknown message type")
		return
	}
	if err != nil {
		h.logger.Warn().Err(err).Str("type", typ).Msg("drop malformed message")
		return
	}
	h.bus.Publish(typ, decoded)
}

func decodeAnd[T any](data []byte, fn func(T)) (T, error) {
	var m T
	if err := json.Unmarshal(data, &m); err != nil {
		return m, err
	}
	fn(m)
	return m, nil
}

func (h *Handler) handlePresence(data []byte) (any, error) {
	if err := h.tracker.ApplyRaw(data); err != nil {
		return nil, err
	}
	online := h.tracker.Online()
	h.bus.Publish(eventbus.PresenceChanged, online)
	return online, nil
}

func (h *Handler) handleIncoming(m protocol.MeetingRequestReceived) {
	if m.CollaborationID == "" {
		h.logger.Warn().Msg("incoming request without collaborationId")
		return
	}
	if _, done := h.answered[m.CollaborationID]; done {
		return
	}
	h.mu.Lock()
	if h.indexOf(m.CollaborationID) >= 0 {
		h.mu.Unlock()
		return
	}
	req := m.MeetingRequest()
	h.incoming = append(h.incoming, req)
	h.mu.Unlock()

	name := m.SenderName
	if name == "" {
		name = string(m.SenderID)
	}
	h.sink.Push(domain.NewNotification(domain.KindMeetingRequest, m.CollaborationID,
		fmt.Sprintf("%s wants to meet with you", name), req))
}

func (h *Handler) handleSent(m protocol.MeetingRequestSent) {
	var req domain.MeetingRequest
	if len(h.awaitingAck) > 0 {
		req = h.awaitingAck[0]
		h.awaitingAck = h.awaitingAck[1:]
	}

	if !m.Success {
		text := "Meeting request failed"
		if m.Message != "" {
			text += ": " + m.Message
		}
		h.sink.Push(domain.NewNotification(domain.KindRequestSent, "", text, m))
		return
	}

	if m.CollaborationID != "" && req.ReceiverID != "" {
		req.CollaborationID = m.CollaborationID
		req.Status = domain.StatusPending
		h.mu.Lock()
		h.outgoing[req.CollaborationID] = &req
		h.mu.Unlock()
	}
	text := m.Message
	if text == "" {
		text = "Meeting request sent"
	}
	h.sink.Push(domain.NewNotification(domain.KindRequestSent, m.CollaborationID, text, m))
}

func (h *Handler) handleResponse(m protocol.MeetingRequestResponse) {
	if !m.Status.Terminal() {
		h.logger.Warn().Str("collab", string(m.CollaborationID)).Str("status", string(m.Status)).Msg("response with non-terminal status")
		return
	}
	if _, seen := h.concluded[m.CollaborationID]; seen {
		h.logger.Debug().Str("collab", string(m.CollaborationID)).Msg("duplicate response")
		return
	}
	h.concluded[m.CollaborationID] = struct{}{}

	h.mu.Lock()
	if req, ok := h.outgoing[m.CollaborationID]; ok {
		if err := req.Resolve(m.Status); err != nil {
			h.logger.Warn().Err(err).Str("collab", string(m.CollaborationID)).Msg("resolve outgoing")
		}
	}
	h.mu.Unlock()

	name := m.ResponderName
	if name == "" {
		name = string(m.ResponderID)
	}
	h.sink.Push(domain.NewNotification(domain.KindRequestResponse, m.CollaborationID,
		fmt.Sprintf("%s %s your meeting request", name, m.Status), m))
	h.bus.Publish(eventbus.CollaborationUpdated, m)
}

func (h *Handler) handleResponseSent(m protocol.ResponseSent) {
	text := m.Message
	switch {
	case !m.Success && text == "":
		text = "Response failed"
	case !m.Success:
		text = "Response failed: " + text
	case text == "":
		text = fmt.Sprintf("Meeting request %s", m.Status)
	}
	h.sink.Push(domain.NewNotification(domain.KindResponseSent, m.CollaborationID, text, m))
}

func (h *Handler) handleError(m protocol.Error) {
	h.logger.Warn().Str("error", m.Error).Msg("server error")
	h.sink.Push(domain.NewNotification(domain.KindError, "", m.Error, m))
}

func verb(status domain.MeetingStatus) string {
	if status == domain.StatusAccepted {
		return "accept"
	}
	return "decline"
}
