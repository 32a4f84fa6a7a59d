// Package protocol holds the signaling wire contract shared by the server and
// the client core. Framing: one JSON object per WebSocket text message,
// discriminated by "type".
package protocol

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/dkeye/Presence/internal/domain"
)

// Message type names. These are the wire contract and must not be renamed.
const (
	TypeUserOnline             = "user_online"
	TypeGetOnlineUsers         = "get_online_users"
	TypeOnlineUsersUpdated     = "online_users_updated"
	TypeOnlineUsersList        = "online_users_list"
	TypeSendMeetingRequest     = "send_meeting_request"
	TypeMeetingRequestReceived = "meeting_request_received"
	TypeMeetingRequestSent     = "meeting_request_sent"
	TypeAcceptMeetingRequest   = "accept_meeting_request"
	TypeDeclineMeetingRequest  = "decline_meeting_request"
	TypeMeetingRequestResponse = "meeting_request_response"
	TypeResponseSent           = "response_sent"

	TypePing  = "ping"
	TypePong  = "pong"
	TypeError = "error"
)

var ErrNoType = errors.New("frame has no type")

// Envelope is decoded first to route a frame.
type Envelope struct {
	Type string `json:"type"`
}

// PeekType returns the discriminator of a raw frame.
func PeekType(data []byte) (string, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", err
	}
	if env.Type == "" {
		return "", ErrNoType
	}
	return env.Type, nil
}

// UserOnline announces the local identity on (re)connect.
type UserOnline struct {
	Type   string        `json:"type"`
	UserID domain.UserID `json:"userId"`
	Name   string        `json:"name"`
	Email  string        `json:"email,omitempty"`
}

type GetOnlineUsers struct {
	Type string `json:"type"`
}

// OnlineUsers is used for both online_users_updated and online_users_list.
type OnlineUsers struct {
	Type  string        `json:"type"`
	Users []domain.User `json:"users"`
}

type SendMeetingRequest struct {
	Type       string        `json:"type"`
	SenderID   domain.UserID `json:"senderId"`
	SenderName string        `json:"senderName"`
	ReceiverID domain.UserID `json:"receiverId"`
	MeetLink   string        `json:"meetLink"`
	Message    string        `json:"message,omitempty"`
}

type MeetingRequestReceived struct {
	Type            string                 `json:"type"`
	CollaborationID domain.CollaborationID `json:"collaborationId"`
	SenderID        domain.UserID          `json:"senderId"`
	SenderName      string                 `json:"senderName"`
	ReceiverID      domain.UserID          `json:"receiverId"`
	MeetLink        string                 `json:"meetLink"`
	Message         string                 `json:"message,omitempty"`
	CreatedAt       time.Time              `json:"createdAt"`
}

// MeetingRequest converts the frame into a pending domain request.
func (m MeetingRequestReceived) MeetingRequest() domain.MeetingRequest {
	return domain.MeetingRequest{
		CollaborationID: m.CollaborationID,
		SenderID:        m.SenderID,
		SenderName:      m.SenderName,
		ReceiverID:      m.ReceiverID,
		MeetLink:        m.MeetLink,
		Message:         m.Message,
		Status:          domain.StatusPending,
		CreatedAt:       m.CreatedAt,
	}
}

// MeetingRequestSent is the delivery ack for send_meeting_request.
type MeetingRequestSent struct {
	Type            string                 `json:"type"`
	Success         bool                   `json:"success"`
	Message         string                 `json:"message"`
	CollaborationID domain.CollaborationID `json:"collaborationId,omitempty"`
}

// MeetingDecision is used for both accept_meeting_request and decline_meeting_request.
type MeetingDecision struct {
	Type            string                 `json:"type"`
	CollaborationID domain.CollaborationID `json:"collaborationId"`
	ResponderID     domain.UserID          `json:"responderId"`
	ResponderName   string                 `json:"responderName,omitempty"`
}

type MeetingRequestResponse struct {
	Type            string                 `json:"type"`
	CollaborationID domain.CollaborationID `json:"collaborationId"`
	Status          domain.MeetingStatus   `json:"status"`
	ResponderID     domain.UserID          `json:"responderId"`
	ResponderName   string                 `json:"responderName,omitempty"`
	MeetLink        string                 `json:"meetLink,omitempty"`
}

// ResponseSent is the ack for accept/decline.
type ResponseSent struct {
	Type            string                 `json:"type"`
	Success         bool                   `json:"success"`
	Status          domain.MeetingStatus   `json:"status,omitempty"`
	Message         string                 `json:"message"`
	MeetLink        string                 `json:"meetLink,omitempty"`
	CollaborationID domain.CollaborationID `json:"collaborationId,omitempty"`
}

type Error struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

// DecisionType maps a terminal status to its outbound message type.
func DecisionType(st domain.MeetingStatus) (string, bool) {
	switch st {
	case domain.StatusAccepted:
		return TypeAcceptMeetingRequest, true
	case domain.StatusDeclined:
		return TypeDeclineMeetingRequest, true
	}
	return "", false
}

// DecisionStatus is the inverse of DecisionType.
func DecisionStatus(msgType string) (domain.MeetingStatus, bool) {
	switch msgType {
	case TypeAcceptMeetingRequest:
		return domain.StatusAccepted, true
	case TypeDeclineMeetingRequest:
		return domain.StatusDeclined, true
	}
	return "", false
}
