// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package emailpassword

import (
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/holomush/emailpassword/internal/core"
)

// Event types emitted by this package.
const (
	EventKeyGenerated         core.EventType = "keyGenerated"
	EventKeyProlonged         core.EventType = "keyProlonged"
	EventKeyUsed              core.EventType = "keyUsed"
	EventEmailPasswordCreated core.EventType = "EmailPasswordCreated"
	EventEmailPasswordUpdated core.EventType = "EmailPasswordUpdated"
	EventEmailPasswordDeleted core.EventType = "EmailPasswordDeleted"
	EventUserCreated          core.EventType = "UserCreated"
	EventUserDeleted          core.EventType = "UserDeleted"
	EventUserPasswordChanged  core.EventType = "userPasswordChanged"
	EventLoginMethodAdded     core.EventType = "loginMethodAdded"
	EventLoginMethodRemoved   core.EventType = "loginMethodRemoved"
	EventLoggedIn             core.EventType = "loggedIn"
	EventLoginFailed          core.EventType = "login-failed"
)

// SecurityStream collects security audit events.
const SecurityStream = "security"

// EmailStream returns the stream holding an email's identity and the keys
// whose subject is that email.
func EmailStream(email string) string {
	return "email:" + email
}

// UserStream returns the stream of a user aggregate.
func UserStream(user ulid.ULID) string {
	return "user:" + user.String()
}

// SessionStream returns the stream of a session.
func SessionStream(session string) string {
	return "session:" + session
}

// KeyGenerated records a new one-time key.
type KeyGenerated struct {
	Action       KeyAction      `json:"action"`
	Key          string         `json:"key"`
	User         ulid.ULID      `json:"user"`
	Email        string         `json:"email,omitempty"`
	OldEmail     string         `json:"oldEmail,omitempty"`
	NewEmail     string         `json:"newEmail,omitempty"`
	PasswordHash string         `json:"passwordHash,omitempty"`
	UserData     map[string]any `json:"userData,omitempty"`
	Expire       time.Time      `json:"expire"`
}

// KeyProlonged moves a key's deadline.
type KeyProlonged struct {
	Key    string    `json:"key"`
	Expire time.Time `json:"expire"`
}

// KeyUsed consumes a key.
type KeyUsed struct {
	Key string `json:"key"`
}

// EmailPasswordCreated binds an email.
type EmailPasswordCreated struct {
	Email        string    `json:"email"`
	User         ulid.ULID `json:"user"`
	PasswordHash string    `json:"passwordHash"`
}

// EmailPasswordUpdated replaces the password hash of a bound email.
type EmailPasswordUpdated struct {
	Email        string `json:"email"`
	PasswordHash string `json:"passwordHash"`
}

// EmailPasswordDeleted unbinds an email.
type EmailPasswordDeleted struct {
	Email string `json:"email"`
}

// UserCreated records a new user aggregate.
type UserCreated struct {
	User     ulid.ULID      `json:"user"`
	UserData map[string]any `json:"userData,omitempty"`
	Roles    []string       `json:"roles,omitempty"`
}

// UserDeleted records removal of a user aggregate.
type UserDeleted struct {
	User ulid.ULID `json:"user"`
}

// UserPasswordChanged marks a password change applied to every identity of a user.
type UserPasswordChanged struct {
	User ulid.ULID `json:"user"`
}

// LoginMethodChanged is the payload of loginMethodAdded and loginMethodRemoved.
type LoginMethodChanged struct {
	User   ulid.ULID   `json:"user"`
	Method LoginMethod `json:"method"`
}

// LoggedIn records a session login.
type LoggedIn struct {
	User    ulid.ULID  `json:"user"`
	Session string     `json:"session"`
	Expire  *time.Time `json:"expire"`
	Roles   []string   `json:"roles"`
}

// LoginFailed is the security audit record of a failed credential check.
type LoginFailed struct {
	Reason  string `json:"reason"`
	Email   string `json:"email,omitempty"`
	IP      string `json:"ip,omitempty"`
	Session string `json:"session,omitempty"`
	User    string `json:"user,omitempty"`
}

func emailPasswordMethod(email string) LoginMethod {
	return LoginMethod{Type: LoginMethodEmailPassword, ID: email, Email: email}
}

// DecodePayload returns the typed payload of an event emitted by this
// package, as a value of one of the payload types above. Events of other
// types decode to nil.
func DecodePayload(e core.Event) (any, error) {
	var payload any
	switch e.Type {
	case EventKeyGenerated:
		payload = &KeyGenerated{}
	case EventKeyProlonged:
		payload = &KeyProlonged{}
	case EventKeyUsed:
		payload = &KeyUsed{}
	case EventEmailPasswordCreated:
		payload = &EmailPasswordCreated{}
	case EventEmailPasswordUpdated:
		payload = &EmailPasswordUpdated{}
	case EventEmailPasswordDeleted:
		payload = &EmailPasswordDeleted{}
	case EventUserCreated:
		payload = &UserCreated{}
	case EventUserDeleted:
		payload = &UserDeleted{}
	case EventUserPasswordChanged:
		payload = &UserPasswordChanged{}
	case EventLoginMethodAdded, EventLoginMethodRemoved:
		payload = &LoginMethodChanged{}
	case EventLoggedIn:
		payload = &LoggedIn{}
	case EventLoginFailed:
		payload = &LoginFailed{}
	default:
		return nil, nil
	}
	if err := e.Decode(payload); err != nil {
		return nil, oops.With("operation", "decode payload").Wrap(err)
	}
	return payload, nil
}

// KeyFromEvent builds the projected Key for a keyGenerated payload.
func KeyFromEvent(p *KeyGenerated, at time.Time) *Key {
	k := &Key{
		Key:          p.Key,
		Action:       p.Action,
		Expire:       p.Expire,
		Email:        p.Email,
		OldEmail:     p.OldEmail,
		NewEmail:     p.NewEmail,
		User:         p.User,
		PasswordHash: p.PasswordHash,
		UserData:     p.UserData,
		CreatedAt:    at,
	}
	k.EmailHash = HashEmail(k.Subject())
	return k
}
