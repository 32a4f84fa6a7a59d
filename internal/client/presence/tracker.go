package presence

import (
	"encoding/json"
	"errors"
	"sort"
	"sync"

	"github.com/dkeye/Presence/internal/domain"
	"github.com/rs/zerolog/log"
)

var ErrPartialSnapshot = errors.New("partial presence snapshot")

// Tracker holds the set of online peers. Every snapshot replaces the set
// wholesale; the local identity is never part of it.
type Tracker struct {
	self domain.UserID

	mu    sync.RWMutex
	peers map[domain.UserID]domain.PeerPresence
}

func NewTracker(self domain.UserID) *Tracker {
	return &Tracker{
		self:  self,
		peers: make(map[domain.UserID]domain.PeerPresence),
	}
}

// Replace installs users as the new online set.
func (t *Tracker) Replace(users []domain.PeerPresence) {
	next := make(map[domain.UserID]domain.PeerPresence, len(users))
	for _, u := range users {
		if u.ID == t.self {
			continue
		}
		next[u.ID] = u
	}
	t.mu.Lock()
	t.peers = next
	t.mu.Unlock()
	log.Debug().Str("module", "client.presence").Int("online", len(next)).Msg("presence replaced")
}

// ApplyRaw decodes an online_users_updated/online_users_list frame. Malformed
// or partial snapshots are rejected and the last-known-good set is kept.
func (t *Tracker) ApplyRaw(data []byte) error {
	var p struct {
		Users *[]domain.PeerPresence `json:"users"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if p.Users == nil {
		return ErrPartialSnapshot
	}
	for _, u := range *p.Users {
		if u.ID == "" {
			return ErrPartialSnapshot
		}
	}
	t.Replace(*p.Users)
	return nil
}

// Online returns a copy of the set sorted by user id.
func (t *Tracker) Online() []domain.PeerPresence {
	t.mu.RLock()
	out := make([]domain.PeerPresence, 0, len(t.peers))
	for _, p := range t.peers {
		out = append(out, p)
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (t *Tracker) IsOnline(id domain.UserID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.peers[id]
	return ok
}

func (t *Tracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.peers)
}
