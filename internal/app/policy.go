package app

import "github.com/dkeye/Presence/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickSession
)

// Policy decides what happens to a session whose send buffer is full.
type Policy interface {
	OnBackPressure(sess core.PresenceSession) BackpressureAction
}

// SimplePolicy kicks slow sessions; the client reconnects and re-announces.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(core.PresenceSession) BackpressureAction {
	return KickSession
}
