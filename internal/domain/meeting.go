package domain

import (
	"errors"
	"time"
)

type CollaborationID string

type MeetingStatus string

const (
	StatusPending  MeetingStatus = "pending"
	StatusAccepted MeetingStatus = "accepted"
	StatusDeclined MeetingStatus = "declined"
)

var (
	ErrInvalidStatus    = errors.New("invalid meeting status")
	ErrStatusTransition = errors.New("meeting request already resolved")
)

// MeetingRequest is one meeting invitation handshake between two users.
type MeetingRequest struct {
	CollaborationID CollaborationID `json:"collaborationId"`
	SenderID        UserID          `json:"senderId"`
	SenderName      string          `json:"senderName"`
	ReceiverID      UserID          `json:"receiverId"`
	MeetLink        string          `json:"meetLink"`
	Message         string          `json:"message,omitempty"`
	Status          MeetingStatus   `json:"status"`
	CreatedAt       time.Time       `json:"createdAt"`
}

func ParseStatus(s string) (MeetingStatus, error) {
	switch st := MeetingStatus(s); st {
	case StatusPending, StatusAccepted, StatusDeclined:
		return st, nil
	}
	return "", ErrInvalidStatus
}

func (s MeetingStatus) Terminal() bool {
	return s == StatusAccepted || s == StatusDeclined
}

// CanTransition allows only pending -> accepted|declined.
func (s MeetingStatus) CanTransition(next MeetingStatus) bool {
	return s == StatusPending && next.Terminal()
}

// Resolve moves the request to a terminal status exactly once.
func (m *MeetingRequest) Resolve(next MeetingStatus) error {
	if !next.Terminal() {
		return ErrInvalidStatus
	}
	if !m.Status.CanTransition(next) {
		return ErrStatusTransition
	}
	m.Status = next
	return nil
}
