package app

import (
	"context"
	"sort"
	"sync"

	"github.com/dkeye/Presence/internal/core"
	"github.com/dkeye/Presence/internal/domain"
	"github.com/rs/zerolog/log"
)

type sessionEntry struct {
	Session core.PresenceSession
	Cancel  context.CancelFunc
}

// Registry tracks every live signaling session and the user it announced.
// A user may hold several sessions at once.
type Registry struct {
	mu       sync.RWMutex
	sessions map[core.SessionID]*sessionEntry
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[core.SessionID]*sessionEntry),
	}
}

func (r *Registry) BindSignal(sess core.PresenceSession, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[sess.ID()] = &sessionEntry{Session: sess, Cancel: cancel}
	log.Info().Str("module", "app.registry").Str("sid", string(sess.ID())).Msg("bound signal")
}

func (r *Registry) GetSession(sid core.SessionID) (core.PresenceSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[sid]; ok {
		return e.Session, true
	}
	return nil, false
}

// Announce attaches u to the session. It reports whether u was offline
// before, i.e. this is the first session of u.
func (r *Registry) Announce(sid core.SessionID, u domain.User) (firstSession bool, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, found := r.sessions[sid]
	if !found {
		return false, false
	}
	firstSession = !r.onlineLocked(u.ID, sid)
	e.Session.Announce(u)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Str("user", string(u.ID)).Msg("announced")
	return firstSession, true
}

// UserOf returns the user announced on sid.
func (r *Registry) UserOf(sid core.SessionID) (domain.User, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[sid]
	if !ok {
		return domain.User{}, false
	}
	u := e.Session.User()
	if u == nil {
		return domain.User{}, false
	}
	return *u, true
}

// Unbind drops sid. lastSession is true when it was the final session of an
// announced user, so that user just went offline.
func (r *Registry) Unbind(sid core.SessionID) (u domain.User, lastSession bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[sid]
	if !ok {
		return domain.User{}, false
	}
	delete(r.sessions, sid)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("unbind session")
	if cur := e.Session.User(); cur != nil {
		return *cur, !r.onlineLocked(cur.ID, "")
	}
	return domain.User{}, false
}

// onlineLocked reports whether uid has a session other than except.
func (r *Registry) onlineLocked(uid domain.UserID, except core.SessionID) bool {
	for sid, e := range r.sessions {
		if sid == except {
			continue
		}
		if u := e.Session.User(); u != nil && u.ID == uid {
			return true
		}
	}
	return false
}

func (r *Registry) IsOnline(uid domain.UserID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.onlineLocked(uid, "")
}

// OnlineUsers lists each announced user once, sorted by id. The most
// recent announcement wins when sessions disagree on the name.
func (r *Registry) OnlineUsers() []domain.User {
	r.mu.RLock()
	byID := make(map[domain.UserID]domain.User, len(r.sessions))
	for _, e := range r.sessions {
		if u := e.Session.User(); u != nil {
			byID[u.ID] = *u
		}
	}
	r.mu.RUnlock()

	out := make([]domain.User, 0, len(byID))
	for _, u := range byID {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type regSnap struct {
	SID     core.SessionID
	Session core.PresenceSession
}

func (r *Registry) SessionsOf(uid domain.UserID) []regSnap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]regSnap, 0, 2)
	for sid, e := range r.sessions {
		if u := e.Session.User(); u != nil && u.ID == uid {
			out = append(out, regSnap{SID: sid, Session: e.Session})
		}
	}
	return out
}

func (r *Registry) All() []regSnap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]regSnap, 0, len(r.sessions))
	for sid, e := range r.sessions {
		out = append(out, regSnap{SID: sid, Session: e.Session})
	}
	return out
}

func sidsOf(snaps []regSnap) []core.SessionID {
	out := make([]core.SessionID, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, s.SID)
	}
	return out
}

func (r *Registry) SessionIDsOf(uid domain.UserID) []core.SessionID {
	return sidsOf(r.SessionsOf(uid))
}

func (r *Registry) SessionIDs() []core.SessionID {
	return sidsOf(r.All())
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) Cancel(sid core.SessionID) bool {
	r.mu.RLock()
	e, ok := r.sessions[sid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("canceled session")
	return true
}
