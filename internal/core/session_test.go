package core

import (
	"testing"

	"github.com/dkeye/Presence/internal/domain"
)

func TestPresenceSessionAnnounce(t *testing.T) {
	s := NewPresenceSession("s1", nil)
	if s.User() != nil {
		t.Fatal("fresh session has a user")
	}
	s.Announce(domain.User{ID: "u1", Name: "Alice"})

	u := s.User()
	if u == nil || u.ID != "u1" {
		t.Fatalf("user = %v, want u1", u)
	}
	u.Name = "mutated"
	if s.User().Name != "Alice" {
		t.Fatal("User returned shared state")
	}
}
