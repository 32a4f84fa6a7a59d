package domain

import (
	"fmt"
	"sync/atomic"
	"time"
)

type NotificationKind string

const (
	KindMeetingRequest  NotificationKind = "meeting_request"
	KindRequestResponse NotificationKind = "request_response"
	KindRequestSent     NotificationKind = "request_sent"
	KindResponseSent    NotificationKind = "response_sent"
	KindError           NotificationKind = "error"
)

// Notification is a user-facing notice. It lives until dismissed.
type Notification struct {
	ID        string           `json:"id"`
	Kind      NotificationKind `json:"kind"`
	Text      string           `json:"text"`
	Payload   any              `json:"payload,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
}

var notificationSeq atomic.Uint64

// NewNotification derives the id from the collaboration id when one is known,
// otherwise from a process-wide monotonic counter.
func NewNotification(kind NotificationKind, collab CollaborationID, text string, payload any) Notification {
	var id string
	if collab != "" {
		id = fmt.Sprintf("%s:%s", kind, collab)
	} else {
		id = fmt.Sprintf("n-%d", notificationSeq.Add(1))
	}
	return Notification{
		ID:        id,
		Kind:      kind,
		Text:      text,
		Payload:   payload,
		CreatedAt: time.Now(),
	}
}
