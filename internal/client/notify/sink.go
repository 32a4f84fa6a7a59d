// Package notify is the app-scoped list of user-facing notices. Entries are
// removed only by explicit dismissal.
package notify

import (
	"fmt"
	"sync"

	"github.com/dkeye/Presence/internal/domain"
	"github.com/rs/zerolog/log"
)

type Sink struct {
	mu       sync.RWMutex
	items    []domain.Notification
	dups     uint64
	watchers map[chan domain.Notification]struct{}
}

func NewSink() *Sink {
	return &Sink{watchers: make(map[chan domain.Notification]struct{})}
}

// Push appends n. An id already on the list gets a sequence suffix so each
// entry stays individually dismissable.
func (s *Sink) Push(n domain.Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexLocked(n.ID) >= 0 {
		s.dups++
		n.ID = fmt.Sprintf("%s#%d", n.ID, s.dups)
	}
	s.items = append(s.items, n)
	log.Info().Str("module", "client.notify").Str("id", n.ID).Str("kind", string(n.Kind)).Str("text", n.Text).Msg("notification")
	for ch := range s.watchers {
		select {
		case ch <- n:
		default:
		}
	}
}

// Dismiss removes the entry with id. Unknown ids are ignored.
func (s *Sink) Dismiss(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return false
	}
	s.items = append(s.items[:i], s.items[i+1:]...)
	return true
}

func (s *Sink) indexLocked(id string) int {
	for i, n := range s.items {
		if n.ID == id {
			return i
		}
	}
	return -1
}

func (s *Sink) List() []domain.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Notification, len(s.items))
	copy(out, s.items)
	return out
}

func (s *Sink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Watch streams notifications pushed after the call. Slow watchers miss
// entries rather than block Push.
func (s *Sink) Watch(buffer int) (<-chan domain.Notification, func()) {
	ch := make(chan domain.Notification, buffer)
	s.mu.Lock()
	s.watchers[ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.watchers, ch)
			close(ch)
			s.mu.Unlock()
		})
	}
}
