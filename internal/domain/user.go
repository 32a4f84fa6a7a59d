// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"
	"strings"
)

const (
	MaxUserIDLen   = 64
	MaxUsernameLen = 64
	MaxEmailLen    = 254
)

var (
	ErrUserIDEmpty     = errors.New("user id empty")
	ErrUserIDTooLong   = errors.New("user id too long")
	ErrUsernameTooLong = errors.New("username too long")
	ErrEmailTooLong    = errors.New("email too long")
)

type UserID string

// User is the wire shape of an online peer: {userId, name, email}.
type User struct {
	ID    UserID `json:"userId"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

// PeerPresence is one entry of the online set as seen by a client.
type PeerPresence = User

// Identity is supplied by the external identity provider. The core only reads it.
type Identity struct {
	User
	Token string `json:"-"`
}

// NewUser is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewUser(id, name, email string) (*User, error) {
	u := &User{
		ID:    UserID(strings.TrimSpace(id)),
		Name:  strings.TrimSpace(name),
		Email: strings.TrimSpace(email),
	}
	if err := u.Validate(); err != nil {
		return nil, err
	}
	return u, nil
}

func (u *User) Validate() error {
	if len(u.ID) == 0 {
		return ErrUserIDEmpty
	}
	if len(u.ID) > MaxUserIDLen {
		return ErrUserIDTooLong
	}
	if len(u.Name) > MaxUsernameLen {
		return ErrUsernameTooLong
	}
	if len(u.Email) > MaxEmailLen {
		return ErrEmailTooLong
	}
	return nil
}

// DisplayName falls back to the id when no name was announced.
func (u *User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return string(u.ID)
}

// SameAs reports whether both identities name the same user with the same token.
func (i *Identity) SameAs(other *Identity) bool {
	if i == nil || other == nil {
		return i == other
	}
	return i.ID == other.ID && i.Token == other.Token
}
