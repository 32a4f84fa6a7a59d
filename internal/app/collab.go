package app

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/dkeye/Presence/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	ErrCollabNotFound = errors.New("meeting request not found")
	ErrNotReceiver    = errors.New("only the receiver can respond")
)

// CollabStore keeps every meeting request of the process lifetime in memory.
type CollabStore struct {
	mu    sync.RWMutex
	items map[domain.CollaborationID]*domain.MeetingRequest
}

func NewCollabStore() *CollabStore {
	return &CollabStore{items: make(map[domain.CollaborationID]*domain.MeetingRequest)}
}

// Create registers a pending request from sender to receiver.
func (s *CollabStore) Create(sender domain.User, receiver domain.UserID, meetLink, message string) domain.MeetingRequest {
	req := &domain.MeetingRequest{
		CollaborationID: domain.CollaborationID(uuid.NewString()),
		SenderID:        sender.ID,
		SenderName:      sender.DisplayName(),
		ReceiverID:      receiver,
		MeetLink:        meetLink,
		Message:         message,
		Status:          domain.StatusPending,
		CreatedAt:       time.Now().UTC(),
	}
	s.mu.Lock()
	s.items[req.CollaborationID] = req
	s.mu.Unlock()
	log.Info().Str("module", "app.collab").Str("collab", string(req.CollaborationID)).
		Str("from", string(sender.ID)).Str("to", string(receiver)).Msg("meeting request created")
	return *req
}

func (s *CollabStore) Get(id domain.CollaborationID) (domain.MeetingRequest, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.items[id]
	if !ok {
		return domain.MeetingRequest{}, false
	}
	return *req, true
}

// Resolve moves a pending request to status. Only the receiver may do it,
// and only once.
func (s *CollabStore) Resolve(id domain.CollaborationID, responder domain.UserID, status domain.MeetingStatus) (domain.MeetingRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.items[id]
	if !ok {
		return domain.MeetingRequest{}, ErrCollabNotFound
	}
	if req.ReceiverID != responder {
		return domain.MeetingRequest{}, ErrNotReceiver
	}
	if err := req.Resolve(status); err != nil {
		return *req, err
	}
	log.Info().Str("module", "app.collab").Str("collab", string(id)).Str("status", string(status)).Msg("meeting request resolved")
	return *req, nil
}

// History lists the requests uid sent or received, newest first.
func (s *CollabStore) History(uid domain.UserID) []domain.MeetingRequest {
	s.mu.RLock()
	out := make([]domain.MeetingRequest, 0)
	for _, req := range s.items {
		if req.SenderID == uid || req.ReceiverID == uid {
			out = append(out, *req)
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CollaborationID < out[j].CollaborationID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}
