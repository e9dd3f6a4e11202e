// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package emailpassword

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// ErrNotFound is returned by repositories when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// KeyAction tags the workflow that owns a Key.
type KeyAction string

// Key actions.
const (
	ActionRegister      KeyAction = "register"
	ActionConnect       KeyAction = "connect"
	ActionEmailChange   KeyAction = "emailChange"
	ActionResetPassword KeyAction = "resetPassword"
)

// LoginMethodEmailPassword is the login method type recorded for identities.
const LoginMethodEmailPassword = "emailPassword"

// Identity binds one email to a password hash and an owning user.
type Identity struct {
	Email        string
	PasswordHash string
	User         ulid.ULID
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Key is a one-time verification key. Which fields are meaningful depends on
// Action: emailChange keys carry OldEmail/NewEmail, the others Email.
type Key struct {
	Key          string
	Action       KeyAction
	Used         bool
	Expire       time.Time
	Email        string
	OldEmail     string
	NewEmail     string
	EmailHash    string
	User         ulid.ULID
	PasswordHash string
	UserData     map[string]any
	CreatedAt    time.Time
}

// Subject returns the email whose stream records the key's lifecycle.
func (k *Key) Subject() string {
	if k.Action == ActionEmailChange {
		return k.NewEmail
	}
	return k.Email
}

// ExpiredAt reports whether the key is past its deadline at t.
// Keys are valid strictly before Expire.
func (k *Key) ExpiredAt(t time.Time) bool {
	return !t.Before(k.Expire)
}

// LiveAt reports whether the key is unused and unexpired at t.
func (k *Key) LiveAt(t time.Time) bool {
	return !k.Used && !k.ExpiredAt(t)
}

// LoginMethod is one way a user can authenticate.
type LoginMethod struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

// User is this package's view of the externally owned user aggregate.
type User struct {
	ID           ulid.ULID
	UserData     map[string]any
	Roles        []string
	LoginMethods []LoginMethod
	CreatedAt    time.Time
}

// Client describes the caller of a workflow step.
type Client struct {
	User    ulid.ULID // zero when anonymous
	Session string
	IP      string
}

// Authenticated reports whether the caller is logged in.
func (c Client) Authenticated() bool {
	return c.User.Compare(ulid.ULID{}) != 0
}

// NormalizeEmail returns the canonical, case-folded form of an email.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// HashEmail returns the hex sha256 of a normalized email, the key of the
// pending-key secondary index.
func HashEmail(email string) string {
	sum := sha256.Sum256([]byte(email))
	return hex.EncodeToString(sum[:])
}

// IdentityRepository reads the identity projection.
type IdentityRepository interface {
	// Get returns the identity bound to email or ErrNotFound.
	Get(ctx context.Context, email string) (*Identity, error)

	// ListByUser returns every identity owned by user, oldest first.
	ListByUser(ctx context.Context, user ulid.ULID) ([]*Identity, error)
}

// KeyRepository reads the key projection.
type KeyRepository interface {
	// Get returns the key for a token or ErrNotFound.
	Get(ctx context.Context, key string) (*Key, error)

	// FindLive returns the unused keys of the given action whose subject
	// email hashes to emailHash and that are unexpired at now, oldest first.
	FindLive(ctx context.Context, emailHash string, action KeyAction, now time.Time) ([]*Key, error)
}

// UserRepository reads the users view.
type UserRepository interface {
	// Get returns a user or ErrNotFound.
	Get(ctx context.Context, id ulid.ULID) (*User, error)

	// FindByLoginEmail returns the user owning a login method with the given
	// email, of any type, or ErrNotFound.
	FindByLoginEmail(ctx context.Context, email string) (*User, error)
}
