package core

import "github.com/dkeye/Presence/internal/domain"

// PresenceSession binds one live connection to the user it announced.
// User is nil until the connection sends user_online.
type PresenceSession interface {
	ID() SessionID
	User() *domain.User
	Announce(u domain.User)
	Signal() SignalConnection
}
