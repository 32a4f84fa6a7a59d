package domain

import "testing"

func TestMeetingStatusTransitions(t *testing.T) {
	testCases := []struct {
		name string
		from MeetingStatus
		to   MeetingStatus
		want bool
	}{
		{name: "pending to accepted", from: StatusPending, to: StatusAccepted, want: true},
		{name: "pending to declined", from: StatusPending, to: StatusDeclined, want: true},
		{name: "pending to pending", from: StatusPending, to: StatusPending, want: false},
		{name: "accepted to declined", from: StatusAccepted, to: StatusDeclined, want: false},
		{name: "declined to accepted", from: StatusDeclined, to: StatusAccepted, want: false},
		{name: "declined to pending", from: StatusDeclined, to: StatusPending, want: false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.from.CanTransition(tc.to); got != tc.want {
				t.Fatalf("%s.CanTransition(%s) = %v, want %v", tc.from, tc.to, got, tc.want)
			}
		})
	}
}

func TestMeetingRequestResolveOnce(t *testing.T) {
	m := MeetingRequest{CollaborationID: "c1", Status: StatusPending}
	if err := m.Resolve(StatusDeclined); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if err := m.Resolve(StatusAccepted); err != ErrStatusTransition {
		t.Fatalf("second resolve err = %v, want %v", err, ErrStatusTransition)
	}
	if m.Status != StatusDeclined {
		t.Fatalf("status = %s, want declined", m.Status)
	}
	if err := m.Resolve(StatusPending); err != ErrInvalidStatus {
		t.Fatalf("resolve pending err = %v, want %v", err, ErrInvalidStatus)
	}
}

func TestParseStatus(t *testing.T) {
	if _, err := ParseStatus("maybe"); err == nil {
		t.Fatal("expected error for unknown status")
	}
	st, err := ParseStatus("accepted")
	if err != nil || st != StatusAccepted {
		t.Fatalf("ParseStatus(accepted) = %q, %v", st, err)
	}
}

func TestNewNotificationIDs(t *testing.T) {
	n := NewNotification(KindMeetingRequest, "abc", "hi", nil)
	if n.ID != "meeting_request:abc" {
		t.Fatalf("id = %q", n.ID)
	}
	a := NewNotification(KindError, "", "a", nil)
	b := NewNotification(KindError, "", "b", nil)
	if a.ID == b.ID {
		t.Fatalf("fallback ids collide: %q", a.ID)
	}
}

func TestNewUserValidation(t *testing.T) {
	if _, err := NewUser("  ", "x", ""); err != ErrUserIDEmpty {
		t.Fatalf("err = %v, want %v", err, ErrUserIDEmpty)
	}
	u, err := NewUser(" u1 ", " Alice ", "a@example.com")
	if err != nil {
		t.Fatalf("NewUser: %v", err)
	}
	if u.ID != "u1" || u.Name != "Alice" {
		t.Fatalf("unexpected user: %+v", u)
	}
	if (&User{ID: "u2"}).DisplayName() != "u2" {
		t.Fatal("DisplayName should fall back to id")
	}
}
