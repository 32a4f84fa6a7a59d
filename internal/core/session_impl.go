package core

import (
	"sync"

	"github.com/dkeye/Presence/internal/domain"
)

type presenceSession struct {
	id     SessionID
	signal SignalConnection

	mu   sync.RWMutex
	user *domain.User
}

func NewPresenceSession(id SessionID, signal SignalConnection) PresenceSession {
	return &presenceSession{id: id, signal: signal}
}

func (s *presenceSession) ID() SessionID            { return s.id }
func (s *presenceSession) Signal() SignalConnection { return s.signal }

func (s *presenceSession) User() *domain.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return nil
	}
	u := *s.user
	return &u
}

func (s *presenceSession) Announce(u domain.User) {
	s.mu.Lock()
	s.user = &u
	s.mu.Unlock()
}
